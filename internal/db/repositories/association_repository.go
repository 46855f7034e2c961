// Package repositories implements the data access layer for the shelter registry.
// Each repository type encapsulates all database queries for a domain entity;
// handlers and services never issue SQL directly.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shelter-registry/shelter-registry/internal/db/models"
)

// ErrStaleVersion is returned when a conditional write matched no row because the
// row's version changed (or the row disappeared) since it was read.
var ErrStaleVersion = errors.New("repositories: stale version")

// IsUniqueViolation reports whether err is a PostgreSQL unique_violation.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

const associationColumns = `
	id, name, password_hash, email, phone, address, city, region, postal_code, logo_url,
	state, registered_at, state_changed_at, approved_at, rejected_at,
	approved_by, admin_notes, rejection_reason,
	management_token, approval_token, password_reset_token, password_reset_expires_at,
	version`

// AssociationRepository handles association database operations
type AssociationRepository struct {
	db *sqlx.DB
}

// NewAssociationRepository creates a new AssociationRepository
func NewAssociationRepository(db *sqlx.DB) *AssociationRepository {
	return &AssociationRepository{db: db}
}

// Create inserts a new association. The caller supplies the id, tokens and timestamps.
func (r *AssociationRepository) Create(ctx context.Context, a *models.Association) error {
	query := `
		INSERT INTO associations (
			id, name, password_hash, email, phone, address, city, region, postal_code,
			state, registered_at, state_changed_at, management_token, approval_token, version
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err := r.db.ExecContext(ctx, query,
		a.ID, a.Name, a.PasswordHash, a.Email, a.Phone, a.Address, a.City, a.Region, a.PostalCode,
		a.State, a.RegisteredAt, a.StateChangedAt, a.ManagementToken, a.ApprovalToken, a.Version,
	)
	return err
}

func (r *AssociationRepository) getOne(ctx context.Context, where string, arg interface{}) (*models.Association, error) {
	var a models.Association
	query := `SELECT ` + associationColumns + ` FROM associations WHERE ` + where
	err := r.db.GetContext(ctx, &a, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// GetByID retrieves an association by id. Returns (nil, nil) when absent.
func (r *AssociationRepository) GetByID(ctx context.Context, id string) (*models.Association, error) {
	return r.getOne(ctx, `id = $1`, id)
}

// GetByEmail retrieves the oldest association registered with the email (case-insensitive).
func (r *AssociationRepository) GetByEmail(ctx context.Context, email string) (*models.Association, error) {
	return r.getOne(ctx, `LOWER(email) = LOWER($1) ORDER BY registered_at ASC LIMIT 1`, email)
}

// GetByName retrieves an association by exact name, used for login.
func (r *AssociationRepository) GetByName(ctx context.Context, name string) (*models.Association, error) {
	return r.getOne(ctx, `name = $1`, name)
}

// GetByToken retrieves an association by one of its tokens.
func (r *AssociationRepository) GetByToken(ctx context.Context, purpose models.TokenPurpose, token string) (*models.Association, error) {
	col, err := tokenColumn(purpose)
	if err != nil {
		return nil, err
	}
	return r.getOne(ctx, col+` = $1`, token)
}

// NameExists reports whether an association with the name exists, ignoring case.
func (r *AssociationRepository) NameExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS(SELECT 1 FROM associations WHERE LOWER(name) = LOWER($1))`, name)
	return exists, err
}

// TokenExists reports whether any association holds the token for the purpose.
func (r *AssociationRepository) TokenExists(ctx context.Context, purpose models.TokenPurpose, token string) (bool, error) {
	col, err := tokenColumn(purpose)
	if err != nil {
		return false, err
	}
	var exists bool
	err = r.db.GetContext(ctx, &exists,
		`SELECT EXISTS(SELECT 1 FROM associations WHERE `+col+` = $1)`, token)
	return exists, err
}

// Update writes every mutable column of a in one statement, conditioned on the row
// still carrying expectedVersion. On success a.Version is advanced.
func (r *AssociationRepository) Update(ctx context.Context, a *models.Association, expectedVersion int64) error {
	query := `
		UPDATE associations SET
			password_hash = $3,
			email = $4,
			phone = $5,
			address = $6,
			city = $7,
			region = $8,
			postal_code = $9,
			logo_url = $10,
			state = $11,
			state_changed_at = $12,
			approved_at = $13,
			rejected_at = $14,
			approved_by = $15,
			admin_notes = $16,
			rejection_reason = $17,
			password_reset_token = $18,
			password_reset_expires_at = $19,
			version = version + 1
		WHERE id = $1 AND version = $2`

	result, err := r.db.ExecContext(ctx, query,
		a.ID, expectedVersion,
		a.PasswordHash, a.Email, a.Phone, a.Address, a.City, a.Region, a.PostalCode, a.LogoURL,
		a.State, a.StateChangedAt, a.ApprovedAt, a.RejectedAt,
		a.ApprovedBy, a.AdminNotes, a.RejectionReason,
		a.PasswordResetToken, a.PasswordResetExpiresAt,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrStaleVersion
	}
	a.Version = expectedVersion + 1
	return nil
}

// DeletePending hard-deletes a pending association at expectedVersion.
// Owned animals are removed by the foreign key cascade.
func (r *AssociationRepository) DeletePending(ctx context.Context, id string, expectedVersion int64) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM associations WHERE id = $1 AND version = $2 AND state = $3`,
		id, expectedVersion, models.StatePending)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrStaleVersion
	}
	return nil
}

// List returns a page of associations, optionally filtered by state, newest first,
// together with the total number of matching rows.
func (r *AssociationRepository) List(ctx context.Context, state models.AssociationState, limit, offset int) ([]*models.Association, int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total,
		`SELECT COUNT(*) FROM associations WHERE ($1 = '' OR state = $1)`, state); err != nil {
		return nil, 0, err
	}

	associations := make([]*models.Association, 0)
	query := `SELECT ` + associationColumns + ` FROM associations
		WHERE ($1 = '' OR state = $1)
		ORDER BY registered_at DESC
		LIMIT $2 OFFSET $3`
	if err := r.db.SelectContext(ctx, &associations, query, state, limit, offset); err != nil {
		return nil, 0, err
	}
	return associations, total, nil
}

// CountByState returns the number of associations in each state that has any.
func (r *AssociationRepository) CountByState(ctx context.Context) ([]models.StateCount, error) {
	counts := make([]models.StateCount, 0)
	err := r.db.SelectContext(ctx, &counts,
		`SELECT state, COUNT(*) AS count FROM associations GROUP BY state ORDER BY state`)
	return counts, err
}

func tokenColumn(purpose models.TokenPurpose) (string, error) {
	switch purpose {
	case models.TokenManagement:
		return "management_token", nil
	case models.TokenApproval:
		return "approval_token", nil
	case models.TokenPasswordReset:
		return "password_reset_token", nil
	default:
		return "", fmt.Errorf("unknown token purpose %q", purpose)
	}
}
