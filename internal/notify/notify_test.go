package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shelter-registry/shelter-registry/internal/db/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// Multi / Nop
// ---------------------------------------------------------------------------

func TestMulti_CallsEveryNotifierAndJoinsErrors(t *testing.T) {
	errA := errors.New("smtp down")
	errB := errors.New("telegram down")
	var calls []string

	m := Multi{
		NotifierFunc(func(context.Context, Event) error { calls = append(calls, "a"); return errA }),
		nil,
		NotifierFunc(func(context.Context, Event) error { calls = append(calls, "b"); return nil }),
		NotifierFunc(func(context.Context, Event) error { calls = append(calls, "c"); return errB }),
	}

	err := m.Notify(context.Background(), Event{Kind: EventApproved})
	require.Error(t, err)
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
	assert.Equal(t, []string{"a", "b", "c"}, calls)
}

func TestMulti_NoErrors(t *testing.T) {
	m := Multi{Nop{}, Nop{}}
	assert.NoError(t, m.Notify(context.Background(), Event{Kind: EventDeleted}))
}

// ---------------------------------------------------------------------------
// LinkBuilder
// ---------------------------------------------------------------------------

func TestLinkBuilder(t *testing.T) {
	b := NewLinkBuilder("https://adopta.example.com/manage/")
	assert.Equal(t, "https://adopta.example.com/manage/approve/abc123/", b.Build(ActionApprove, "abc123"))
	assert.Empty(t, b.Build(ActionApprove, ""))

	links := b.ForAssociation(&models.Association{ApprovalToken: "appr", ManagementToken: "mgmt"})
	assert.Equal(t, "https://adopta.example.com/manage/info/appr/", links.Info)
	assert.Equal(t, "https://adopta.example.com/manage/reject/appr/", links.Reject)
	assert.Equal(t, "https://adopta.example.com/manage/suspend/mgmt/", links.Suspend)
	assert.Equal(t, "https://adopta.example.com/manage/reactivate/mgmt/", links.Reactivate)
	assert.Equal(t, "https://adopta.example.com/manage/delete/mgmt/", links.Delete)
	assert.Equal(t, "https://adopta.example.com/manage/reset-password/tok/", b.ResetPassword("tok"))
}

// ---------------------------------------------------------------------------
// EmailNotifier
// ---------------------------------------------------------------------------

type sentMail struct {
	to      []string
	subject string
	body    string
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (f *fakeMailer) Send(_ context.Context, to []string, subject, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMail{to: to, subject: subject, body: body})
	return nil
}

func publicShelter() models.PublicAssociation {
	return models.PublicAssociation{
		ID:           "a1",
		Name:         "Shelter X",
		Email:        "x@example.com",
		Phone:        "600000000",
		Address:      "Calle 1",
		City:         "Madrid",
		Region:       "Madrid",
		PostalCode:   "28001",
		RegisteredAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestEmailNotifier_RegisteredGoesToAdminWithLinks(t *testing.T) {
	mailer := &fakeMailer{}
	n := NewEmailNotifier(mailer, "admin@example.com")

	err := n.Notify(context.Background(), Event{
		Kind:        EventRegistered,
		Association: publicShelter(),
		Links:       Links{Approve: "https://x/manage/approve/t/", Reject: "https://x/manage/reject/t/"},
	})
	require.NoError(t, err)
	require.Len(t, mailer.sent, 1)

	m := mailer.sent[0]
	assert.Equal(t, []string{"admin@example.com"}, m.to)
	assert.Contains(t, m.subject, "Shelter X")
	assert.Contains(t, m.body, "https://x/manage/approve/t/")
	assert.Contains(t, m.body, "https://x/manage/reject/t/")
	assert.Contains(t, m.body, "Calle 1, Madrid, Madrid, 28001")
}

func TestEmailNotifier_RegisteredCarriesManagementLinks(t *testing.T) {
	mailer := &fakeMailer{}
	n := NewEmailNotifier(mailer, "admin@example.com")
	a := &models.Association{Name: "Shelter X", ApprovalToken: "appr", ManagementToken: "mgmt"}

	err := n.Notify(context.Background(), Event{
		Kind:        EventRegistered,
		Association: publicShelter(),
		Links:       NewLinkBuilder("https://x/manage").ForAssociation(a),
	})
	require.NoError(t, err)
	require.Len(t, mailer.sent, 1)

	body := mailer.sent[0].body
	assert.Contains(t, body, "Suspend: https://x/manage/suspend/mgmt/")
	assert.Contains(t, body, "Reactivate: https://x/manage/reactivate/mgmt/")
	assert.Contains(t, body, "Delete: https://x/manage/delete/mgmt/")
	assert.Less(t, strings.Index(body, "https://x/manage/reject/appr/"), strings.Index(body, "https://x/manage/suspend/mgmt/"))
}

func TestEmailNotifier_RegisteredWithoutAdminIsSkipped(t *testing.T) {
	mailer := &fakeMailer{}
	n := NewEmailNotifier(mailer, "")
	require.NoError(t, n.Notify(context.Background(), Event{Kind: EventRegistered, Association: publicShelter()}))
	assert.Empty(t, mailer.sent)
}

func TestEmailNotifier_RejectedCarriesReason(t *testing.T) {
	mailer := &fakeMailer{}
	n := NewEmailNotifier(mailer, "admin@example.com")

	require.NoError(t, n.Notify(context.Background(), Event{
		Kind:        EventRejected,
		Association: publicShelter(),
		Reason:      "incomplete data",
	}))
	require.Len(t, mailer.sent, 1)
	assert.Equal(t, []string{"x@example.com"}, mailer.sent[0].to)
	assert.Contains(t, mailer.sent[0].body, "Reason: incomplete data")
}

func TestEmailNotifier_AssociationFacingEvents(t *testing.T) {
	kinds := []EventKind{EventApproved, EventSuspended, EventReactivated, EventDeleted}
	for _, kind := range kinds {
		t.Run(string(kind), func(t *testing.T) {
			mailer := &fakeMailer{}
			n := NewEmailNotifier(mailer, "admin@example.com")
			require.NoError(t, n.Notify(context.Background(), Event{Kind: kind, Association: publicShelter()}))
			require.Len(t, mailer.sent, 1)
			assert.Equal(t, []string{"x@example.com"}, mailer.sent[0].to)
			assert.True(t, strings.HasPrefix(mailer.sent[0].body, "Hello Shelter X,"))
		})
	}
}

func TestEmailNotifier_PasswordResetNeedsLink(t *testing.T) {
	mailer := &fakeMailer{}
	n := NewEmailNotifier(mailer, "")

	require.NoError(t, n.Notify(context.Background(), Event{Kind: EventPasswordReset, Association: publicShelter()}))
	assert.Empty(t, mailer.sent)

	require.NoError(t, n.Notify(context.Background(), Event{
		Kind:        EventPasswordReset,
		Association: publicShelter(),
		Links:       Links{ResetPassword: "https://x/manage/reset-password/tok/"},
	}))
	require.Len(t, mailer.sent, 1)
	assert.Contains(t, mailer.sent[0].body, "https://x/manage/reset-password/tok/")
}

func TestEmailNotifier_SendFailureIsReturned(t *testing.T) {
	mailer := &fakeMailer{err: errors.New("connection refused")}
	n := NewEmailNotifier(mailer, "admin@example.com")

	err := n.Notify(context.Background(), Event{Kind: EventApproved, Association: publicShelter()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestEmailNotifier_UnknownKindIsSkipped(t *testing.T) {
	mailer := &fakeMailer{}
	n := NewEmailNotifier(mailer, "admin@example.com")
	require.NoError(t, n.Notify(context.Background(), Event{Kind: "archived", Association: publicShelter()}))
	assert.Empty(t, mailer.sent)
}
