// Package lifecycle owns the association state machine: registration, the
// approve/reject/suspend/reactivate/soft-delete transitions, out-of-band tokens,
// password resets and association login.
//
// Every write is a single conditional UPDATE (or DELETE) keyed on the row's
// version column, so two moderators acting on the same association cannot both
// succeed: the loser receives ErrConflict. Notifications are sent only after the
// write commits and their failure is reported as Result.NotificationErr.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shelter-registry/shelter-registry/internal/auth"
	"github.com/shelter-registry/shelter-registry/internal/db/models"
	"github.com/shelter-registry/shelter-registry/internal/db/repositories"
	"github.com/shelter-registry/shelter-registry/internal/notify"
	"github.com/shelter-registry/shelter-registry/internal/telemetry"
)

// Store is the persistence the service needs. *repositories.AssociationRepository
// satisfies it. Getters return (nil, nil) when nothing matches; Update and
// DeletePending return repositories.ErrStaleVersion when the version check fails.
type Store interface {
	Create(ctx context.Context, a *models.Association) error
	GetByID(ctx context.Context, id string) (*models.Association, error)
	GetByName(ctx context.Context, name string) (*models.Association, error)
	GetByEmail(ctx context.Context, email string) (*models.Association, error)
	GetByToken(ctx context.Context, purpose models.TokenPurpose, token string) (*models.Association, error)
	NameExists(ctx context.Context, name string) (bool, error)
	TokenExists(ctx context.Context, purpose models.TokenPurpose, token string) (bool, error)
	Update(ctx context.Context, a *models.Association, expectedVersion int64) error
	DeletePending(ctx context.Context, id string, expectedVersion int64) error
}

// AnimalCounter reports how many listings an association owns.
type AnimalCounter interface {
	CountByAssociation(ctx context.Context, associationID string) (int, error)
}

// Options configures a Service.
type Options struct {
	// Links builds the URLs embedded in notifications.
	Links notify.LinkBuilder
	// ResetTTL is the password reset validity window (default 1h).
	ResetTTL time.Duration
	// BcryptCost overrides auth.BcryptCost; tests use bcrypt.MinCost.
	BcryptCost int
	// Animals, when set, fills Event.AnimalCount.
	Animals AnimalCounter
	// Now overrides the clock.
	Now func() time.Time
}

// Service implements association lifecycle operations.
type Service struct {
	store    Store
	notifier notify.Notifier
	tokens   *TokenIssuer
	links    notify.LinkBuilder
	resetTTL time.Duration
	cost     int
	animals  AnimalCounter
	now      func() time.Time
}

// NewService creates a Service. A nil notifier is replaced with notify.Nop.
func NewService(store Store, notifier notify.Notifier, opts Options) *Service {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if opts.ResetTTL <= 0 {
		opts.ResetTTL = time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	tokens := NewTokenIssuer(store.TokenExists)
	tokens.now = opts.Now

	return &Service{
		store:    store,
		notifier: notifier,
		tokens:   tokens,
		links:    opts.Links,
		resetTTL: opts.ResetTTL,
		cost:     opts.BcryptCost,
		animals:  opts.Animals,
		now:      opts.Now,
	}
}

// Ref identifies an association by id or by one of its tokens.
type Ref struct {
	ID      string
	Token   string
	Purpose models.TokenPurpose
}

// ByID references an association by primary key (admin panel, chat callbacks).
func ByID(id string) Ref { return Ref{ID: id} }

// ByApprovalToken references an association through its approval link token.
func ByApprovalToken(token string) Ref {
	return Ref{Token: token, Purpose: models.TokenApproval}
}

// ByManagementToken references an association through its management link token.
func ByManagementToken(token string) Ref {
	return Ref{Token: token, Purpose: models.TokenManagement}
}

func (r Ref) String() string {
	if r.ID != "" {
		return "id:" + r.ID
	}
	return string(r.Purpose) + " token"
}

func (s *Service) load(ctx context.Context, ref Ref) (*models.Association, error) {
	var (
		a   *models.Association
		err error
	)
	switch {
	case ref.ID != "":
		if _, perr := uuid.Parse(ref.ID); perr != nil {
			return nil, ErrNotFound
		}
		a, err = s.store.GetByID(ctx, ref.ID)
	case ref.Token != "" && ref.Purpose != "":
		a, err = s.store.GetByToken(ctx, ref.Purpose, ref.Token)
	default:
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load association: %w", err)
	}
	if a == nil {
		return nil, ErrNotFound
	}
	return a, nil
}

// Lookup returns the association behind ref, including deleted ones.
func (s *Service) Lookup(ctx context.Context, ref Ref) (*models.Association, error) {
	return s.load(ctx, ref)
}

// RegistrationInput holds the fields supplied at registration.
type RegistrationInput struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
	Address    string `json:"address"`
	City       string `json:"city"`
	Region     string `json:"region"`
	PostalCode string `json:"postal_code"`
	Password   string `json:"password"`
}

func (in *RegistrationInput) normalize() {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(in.Email)
	in.Phone = strings.TrimSpace(in.Phone)
	in.Address = strings.TrimSpace(in.Address)
	in.City = strings.TrimSpace(in.City)
	in.Region = strings.TrimSpace(in.Region)
	in.PostalCode = strings.TrimSpace(in.PostalCode)
}

// Validate checks required fields and formats.
func (in RegistrationInput) Validate() error {
	if in.Name == "" {
		return &ValidationError{Field: "name", Message: "is required"}
	}
	if len(in.Name) > 200 {
		return &ValidationError{Field: "name", Message: "must be at most 200 characters"}
	}
	if in.Email == "" {
		return &ValidationError{Field: "email", Message: "is required"}
	}
	if addr, err := mail.ParseAddress(in.Email); err != nil || addr.Address != in.Email {
		return &ValidationError{Field: "email", Message: "is not a valid address"}
	}
	if len(in.Phone) > 20 {
		return &ValidationError{Field: "phone", Message: "must be at most 20 characters"}
	}
	if len(in.PostalCode) > 10 {
		return &ValidationError{Field: "postal_code", Message: "must be at most 10 characters"}
	}
	if err := auth.CheckPasswordPolicy(in.Password); err != nil {
		return &ValidationError{Field: "password", Message: err.Error()}
	}
	return nil
}

// Register creates a pending association. Duplicate names (ignoring case) fail
// with ErrDuplicateName before anything is written.
func (s *Service) Register(ctx context.Context, in RegistrationInput) (*models.Association, error) {
	in.normalize()
	if err := in.Validate(); err != nil {
		return nil, err
	}

	exists, err := s.store.NameExists(ctx, in.Name)
	if err != nil {
		return nil, fmt.Errorf("check name: %w", err)
	}
	if exists {
		return nil, ErrDuplicateName
	}

	hash, err := auth.HashPassword(in.Password, s.cost)
	if err != nil {
		return nil, err
	}
	management, err := s.tokens.Issue(ctx, in.Name, in.Email, models.TokenManagement)
	if err != nil {
		return nil, err
	}
	approval, err := s.tokens.Issue(ctx, in.Name, in.Email, models.TokenApproval)
	if err != nil {
		return nil, err
	}

	now := s.now()
	a := &models.Association{
		ID:              uuid.NewString(),
		Name:            in.Name,
		PasswordHash:    hash,
		Email:           in.Email,
		Phone:           in.Phone,
		Address:         in.Address,
		City:            in.City,
		Region:          in.Region,
		PostalCode:      in.PostalCode,
		State:           models.StatePending,
		RegisteredAt:    now,
		StateChangedAt:  now,
		ManagementToken: management,
		ApprovalToken:   approval,
		Version:         1,
	}

	if err := s.store.Create(ctx, a); err != nil {
		if repositories.IsUniqueViolation(err) {
			return nil, ErrDuplicateName
		}
		return nil, fmt.Errorf("create association: %w", err)
	}

	slog.Info("association registered", "association_id", a.ID, "name", a.Name)
	s.notify(ctx, notify.Event{
		Kind:        notify.EventRegistered,
		Association: a.Public(),
		Links:       s.links.ForAssociation(a),
	})
	return a, nil
}

// Approve activates a pending (or suspended) association.
func (s *Service) Approve(ctx context.Context, ref Ref, actor, notes string) (Result, error) {
	return s.transition(ctx, ref, TransitionApprove, actor, strings.TrimSpace(notes))
}

// Suspend moves an active association to suspended.
func (s *Service) Suspend(ctx context.Context, ref Ref, actor string) (Result, error) {
	return s.transition(ctx, ref, TransitionSuspend, actor, "")
}

// Reactivate moves a suspended association back to active.
func (s *Service) Reactivate(ctx context.Context, ref Ref, actor string) (Result, error) {
	return s.transition(ctx, ref, TransitionReactivate, actor, "")
}

// SoftDelete marks an active or suspended association deleted. Listings stay in
// storage but leave public results.
func (s *Service) SoftDelete(ctx context.Context, ref Ref, actor string) (Result, error) {
	return s.transition(ctx, ref, TransitionSoftDelete, actor, "")
}

func (s *Service) transition(ctx context.Context, ref Ref, t Transition, actor, notes string) (res Result, err error) {
	defer func() { record(t, res, err) }()

	rule, _ := RuleFor(t)
	a, err := s.load(ctx, ref)
	if err != nil {
		return Result{}, err
	}
	if a.IsTerminal() {
		return Result{}, ErrNotFound
	}
	if a.State == rule.To {
		return Result{Outcome: OutcomeNoop, Transition: t, Association: a}, nil
	}
	if !rule.Allows(a.State) {
		return Result{}, &InvalidTransitionError{Transition: t, From: string(a.State)}
	}

	next := a.Clone()
	apply(next, rule, s.now(), actor, notes)
	if err := s.store.Update(ctx, next, a.Version); err != nil {
		if errors.Is(err, repositories.ErrStaleVersion) {
			return Result{}, ErrConflict
		}
		return Result{}, fmt.Errorf("%s association: %w", t, err)
	}

	slog.Info("association transition applied",
		"transition", t, "association_id", next.ID, "from", a.State, "to", next.State, "actor", actor)

	res = Result{Outcome: OutcomeApplied, Transition: t, Association: next}
	res.NotificationErr = s.notify(ctx, notify.Event{
		Kind:        rule.Event,
		Association: next.Public(),
		Actor:       actor,
		Notes:       notes,
		AnimalCount: s.animalCount(ctx, next.ID),
		Links:       s.links.ForAssociation(next),
	})
	return res, nil
}

// Reject hard-deletes a pending association and then notifies it with reason.
//
// The rejected state is never stored: the returned snapshot carries
// State=rejected, RejectedAt and RejectionReason only for the notification and
// the caller. A failed notification is reported on the Result after the purge.
func (s *Service) Reject(ctx context.Context, ref Ref, reason, actor string) (res Result, err error) {
	defer func() { record(TransitionReject, res, err) }()

	a, err := s.load(ctx, ref)
	if err != nil {
		return Result{}, err
	}
	if a.IsTerminal() {
		return Result{}, ErrNotFound
	}
	if !a.IsPending() {
		return Result{}, &InvalidTransitionError{Transition: TransitionReject, From: string(a.State)}
	}

	now := s.now()
	reason = strings.TrimSpace(reason)
	snapshot := a.Clone()
	snapshot.State = models.StateRejected
	snapshot.StateChangedAt = now
	snapshot.RejectedAt = &now
	if reason != "" {
		snapshot.RejectionReason = &reason
	}

	if err := s.store.DeletePending(ctx, a.ID, a.Version); err != nil {
		if errors.Is(err, repositories.ErrStaleVersion) {
			return Result{}, ErrConflict
		}
		return Result{}, fmt.Errorf("purge rejected association: %w", err)
	}

	notifyErr := s.notify(ctx, notify.Event{
		Kind:        notify.EventRejected,
		Association: snapshot.Public(),
		Reason:      reason,
		Actor:       actor,
	})

	slog.Info("association rejected and purged", "association_id", a.ID, "name", a.Name, "actor", actor)
	return Result{
		Outcome:         OutcomeRejectedAndPurged,
		Transition:      TransitionReject,
		Association:     snapshot,
		NotificationErr: notifyErr,
	}, nil
}

// SetLogo records the public URL of an uploaded logo.
func (s *Service) SetLogo(ctx context.Context, id, url string) (*models.Association, error) {
	a, err := s.load(ctx, ByID(id))
	if err != nil {
		return nil, err
	}
	if a.IsTerminal() {
		return nil, ErrNotFound
	}
	next := a.Clone()
	next.LogoURL = &url
	if err := s.store.Update(ctx, next, a.Version); err != nil {
		if errors.Is(err, repositories.ErrStaleVersion) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("update logo: %w", err)
	}
	return next, nil
}

func (s *Service) notify(ctx context.Context, ev notify.Event) error {
	err := s.notifier.Notify(ctx, ev)
	if err != nil {
		slog.Warn("notification delivery failed",
			"event", ev.Kind, "association_id", ev.Association.ID, "error", err)
	}
	return err
}

func (s *Service) animalCount(ctx context.Context, id string) int {
	if s.animals == nil {
		return 0
	}
	n, err := s.animals.CountByAssociation(ctx, id)
	if err != nil {
		slog.Debug("animal count unavailable", "association_id", id, "error", err)
		return 0
	}
	return n
}

// record increments the transition counter for one call.
func record(t Transition, res Result, err error) {
	outcome := "error"
	switch {
	case err == nil && res.Outcome == OutcomeApplied:
		outcome = "applied"
	case err == nil && res.Outcome == OutcomeNoop:
		outcome = "noop"
	case err == nil && res.Outcome == OutcomeRejectedAndPurged:
		outcome = "purged"
	case errors.Is(err, ErrNotFound):
		outcome = "not_found"
	case errors.Is(err, ErrInvalidTransition):
		outcome = "invalid"
	case errors.Is(err, ErrConflict):
		outcome = "conflict"
	}
	telemetry.AssociationTransitionsTotal.WithLabelValues(string(t), outcome).Inc()
}
