package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/shelter-registry/shelter-registry/internal/auth"
	"github.com/shelter-registry/shelter-registry/internal/db/models"
	"github.com/shelter-registry/shelter-registry/internal/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordReset_RoundTrip(t *testing.T) {
	f := newFixture(t)
	a := f.registerActive(t, "Shelter X")
	ctx := context.Background()

	token, holder, err := f.svc.RequestPasswordReset(ctx, "  CONTACT@example.com ")
	require.NoError(t, err)
	require.NotNil(t, holder)
	assert.Regexp(t, hex64, token)
	assert.Equal(t, a.ID, holder.ID)

	stored := f.store.Get(a.ID)
	require.NotNil(t, stored.PasswordResetExpiresAt)
	assert.Equal(t, f.clock.Now().Add(time.Hour), *stored.PasswordResetExpiresAt)

	ev := f.notifier.last()
	assert.Equal(t, notify.EventPasswordReset, ev.Kind)
	assert.Equal(t, "https://adopta.example.com/manage/reset-password/"+token+"/", ev.Links.ResetPassword)

	got, err := f.svc.ValidateResetToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)

	f.clock.Advance(30 * time.Minute)
	require.NoError(t, f.svc.ConsumePasswordReset(ctx, token, "a brand new secret"))

	stored = f.store.Get(a.ID)
	assert.Nil(t, stored.PasswordResetToken)
	assert.Nil(t, stored.PasswordResetExpiresAt)
	assert.True(t, auth.VerifyPassword(stored.PasswordHash, "a brand new secret"))

	_, err = f.svc.Authenticate(ctx, "Shelter X", "a brand new secret")
	assert.NoError(t, err)
	_, err = f.svc.Authenticate(ctx, "Shelter X", "correct horse")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestPasswordReset_TokenIsSingleUse(t *testing.T) {
	f := newFixture(t)
	f.registerActive(t, "Shelter X")
	ctx := context.Background()

	token, _, err := f.svc.RequestPasswordReset(ctx, "contact@example.com")
	require.NoError(t, err)
	require.NoError(t, f.svc.ConsumePasswordReset(ctx, token, "a brand new secret"))

	err = f.svc.ConsumePasswordReset(ctx, token, "another secret!")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.svc.ValidateResetToken(ctx, token)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPasswordReset_ExpiredAtExactInstant(t *testing.T) {
	f := newFixture(t)
	a := f.registerActive(t, "Shelter X")
	ctx := context.Background()
	oldHash := f.store.Get(a.ID).PasswordHash

	token, _, err := f.svc.RequestPasswordReset(ctx, "contact@example.com")
	require.NoError(t, err)
	f.clock.Advance(time.Hour)

	_, err = f.svc.ValidateResetToken(ctx, token)
	assert.ErrorIs(t, err, ErrTokenExpired)

	err = f.svc.ConsumePasswordReset(ctx, token, "a brand new secret")
	assert.ErrorIs(t, err, ErrTokenExpired)

	stored := f.store.Get(a.ID)
	assert.Nil(t, stored.PasswordResetToken, "expired token is cleared")
	assert.Equal(t, oldHash, stored.PasswordHash)

	err = f.svc.ConsumePasswordReset(ctx, token, "a brand new secret")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPasswordReset_NewRequestReplacesToken(t *testing.T) {
	f := newFixture(t)
	f.registerActive(t, "Shelter X")
	ctx := context.Background()

	first, _, err := f.svc.RequestPasswordReset(ctx, "contact@example.com")
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	second, _, err := f.svc.RequestPasswordReset(ctx, "contact@example.com")
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	_, err = f.svc.ValidateResetToken(ctx, first)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.svc.ValidateResetToken(ctx, second)
	assert.NoError(t, err)
}

func TestPasswordReset_UnknownEmailIsSilent(t *testing.T) {
	f := newFixture(t)
	events := len(f.notifier.kinds())

	for _, email := range []string{"", "nobody@example.com"} {
		token, holder, err := f.svc.RequestPasswordReset(context.Background(), email)
		assert.NoError(t, err)
		assert.Empty(t, token)
		assert.Nil(t, holder)
	}
	assert.Len(t, f.notifier.kinds(), events)
}

func TestPasswordReset_DeletedAssociationIsSilent(t *testing.T) {
	f := newFixture(t)
	a := f.registerActive(t, "Shelter X")
	_, err := f.svc.SoftDelete(context.Background(), ByID(a.ID), "admin")
	require.NoError(t, err)

	token, holder, err := f.svc.RequestPasswordReset(context.Background(), "contact@example.com")
	assert.NoError(t, err)
	assert.Empty(t, token)
	assert.Nil(t, holder)
}

func TestPasswordReset_WeakPasswordKeepsToken(t *testing.T) {
	f := newFixture(t)
	a := f.registerActive(t, "Shelter X")
	ctx := context.Background()
	token, _, err := f.svc.RequestPasswordReset(ctx, "contact@example.com")
	require.NoError(t, err)

	err = f.svc.ConsumePasswordReset(ctx, token, "short")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "password", verr.Field)
	assert.Equal(t, token, *f.store.Get(a.ID).PasswordResetToken)
}

func TestPasswordReset_EmptyToken(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.svc.ConsumePasswordReset(context.Background(), "", "whatever123"), ErrNotFound)
}

func TestAuthenticate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pending := f.register(t, "Pending Shelter")
	active := f.registerActive(t, "Active Shelter")
	suspended := f.registerActive(t, "Suspended Shelter")
	_, err := f.svc.Suspend(ctx, ByID(suspended.ID), "admin")
	require.NoError(t, err)

	got, err := f.svc.Authenticate(ctx, "Active Shelter", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, active.ID, got.ID)

	_, err = f.svc.Authenticate(ctx, "Active Shelter", "wrong password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = f.svc.Authenticate(ctx, "Nobody", "correct horse")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = f.svc.Authenticate(ctx, pending.Name, "correct horse")
	assert.ErrorIs(t, err, ErrPendingApproval)

	_, err = f.svc.Authenticate(ctx, "Suspended Shelter", "correct horse")
	assert.ErrorIs(t, err, ErrAccessDenied)

	assert.Equal(t, models.StateSuspended, f.store.Get(suspended.ID).State)
}
