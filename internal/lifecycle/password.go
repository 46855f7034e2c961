package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shelter-registry/shelter-registry/internal/auth"
	"github.com/shelter-registry/shelter-registry/internal/db/models"
	"github.com/shelter-registry/shelter-registry/internal/db/repositories"
	"github.com/shelter-registry/shelter-registry/internal/notify"
	"github.com/shelter-registry/shelter-registry/internal/telemetry"
)

// RequestPasswordReset issues a reset token for the association registered with
// email and mails the link. An unknown email returns ("", nil, nil) so callers
// cannot learn whether the address exists.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (string, *models.Association, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", nil, nil
	}

	a, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		return "", nil, fmt.Errorf("lookup by email: %w", err)
	}
	if a == nil || a.IsTerminal() {
		telemetry.PasswordResetsTotal.WithLabelValues("unknown").Inc()
		return "", nil, nil
	}

	token, expiresAt, err := s.tokens.IssueReset(ctx, a.Name, a.Email, s.resetTTL)
	if err != nil {
		return "", nil, err
	}

	next := a.Clone()
	next.PasswordResetToken = &token
	next.PasswordResetExpiresAt = &expiresAt
	if err := s.store.Update(ctx, next, a.Version); err != nil {
		if errors.Is(err, repositories.ErrStaleVersion) {
			return "", nil, ErrConflict
		}
		return "", nil, fmt.Errorf("store reset token: %w", err)
	}
	telemetry.PasswordResetsTotal.WithLabelValues("requested").Inc()

	s.notify(ctx, notify.Event{
		Kind:        notify.EventPasswordReset,
		Association: next.Public(),
		Links:       notify.Links{ResetPassword: s.links.ResetPassword(token)},
	})
	return token, next, nil
}

// ValidateResetToken returns the association that holds a live reset token.
// Unknown tokens yield ErrNotFound and expired ones ErrTokenExpired.
func (s *Service) ValidateResetToken(ctx context.Context, token string) (*models.Association, error) {
	a, err := s.resetHolder(ctx, token)
	if err != nil {
		return nil, err
	}
	if !ResetTokenValid(a.PasswordResetToken, a.PasswordResetExpiresAt, token, s.now()) {
		return nil, ErrTokenExpired
	}
	return a, nil
}

// ConsumePasswordReset sets a new password using a reset token and clears the
// token. An expired token is cleared and ErrTokenExpired returned; a consumed or
// unknown token yields ErrNotFound.
func (s *Service) ConsumePasswordReset(ctx context.Context, token, newPassword string) error {
	a, err := s.resetHolder(ctx, token)
	if err != nil {
		telemetry.PasswordResetsTotal.WithLabelValues("invalid").Inc()
		return err
	}

	next := a.Clone()
	next.PasswordResetToken = nil
	next.PasswordResetExpiresAt = nil

	if !ResetTokenValid(a.PasswordResetToken, a.PasswordResetExpiresAt, token, s.now()) {
		if err := s.store.Update(ctx, next, a.Version); err != nil && !errors.Is(err, repositories.ErrStaleVersion) {
			slog.Warn("failed to clear expired reset token", "association_id", a.ID, "error", err)
		}
		telemetry.PasswordResetsTotal.WithLabelValues("expired").Inc()
		return ErrTokenExpired
	}

	if err := auth.CheckPasswordPolicy(newPassword); err != nil {
		return &ValidationError{Field: "password", Message: err.Error()}
	}
	hash, err := auth.HashPassword(newPassword, s.cost)
	if err != nil {
		return err
	}
	next.PasswordHash = hash

	if err := s.store.Update(ctx, next, a.Version); err != nil {
		if errors.Is(err, repositories.ErrStaleVersion) {
			return ErrConflict
		}
		return fmt.Errorf("store new password: %w", err)
	}

	telemetry.PasswordResetsTotal.WithLabelValues("completed").Inc()
	slog.Info("password reset completed", "association_id", a.ID)
	return nil
}

func (s *Service) resetHolder(ctx context.Context, token string) (*models.Association, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	a, err := s.store.GetByToken(ctx, models.TokenPasswordReset, token)
	if err != nil {
		return nil, fmt.Errorf("lookup reset token: %w", err)
	}
	if a == nil || a.IsTerminal() {
		return nil, ErrNotFound
	}
	return a, nil
}

// Authenticate checks an association login. Only active associations may log in:
// pending ones get ErrPendingApproval, suspended or deleted ones ErrAccessDenied.
func (s *Service) Authenticate(ctx context.Context, name, password string) (*models.Association, error) {
	a, err := s.store.GetByName(ctx, strings.TrimSpace(name))
	if err != nil {
		return nil, fmt.Errorf("lookup by name: %w", err)
	}
	if a == nil || !auth.VerifyPassword(a.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}

	switch {
	case a.CanAccess():
		return a, nil
	case a.IsPending():
		return nil, ErrPendingApproval
	default:
		return nil, ErrAccessDenied
	}
}
