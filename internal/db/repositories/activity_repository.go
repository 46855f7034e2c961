// activity_repository.go implements ActivityRepository, the aggregate counts behind the
// daily summary.
package repositories

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shelter-registry/shelter-registry/internal/db/models"
)

// ActivityRepository runs read-only aggregate queries across associations and animals.
type ActivityRepository struct {
	db *sqlx.DB
}

// NewActivityRepository creates a new ActivityRepository
func NewActivityRepository(db *sqlx.DB) *ActivityRepository {
	return &ActivityRepository{db: db}
}

// Between counts registrations, approvals and new listings in [from, to), together with
// the current number of active associations and available animals.
func (r *ActivityRepository) Between(ctx context.Context, from, to time.Time) (*models.Activity, error) {
	var act models.Activity
	err := r.db.GetContext(ctx, &act, `
		SELECT
			(SELECT COUNT(*) FROM associations WHERE registered_at >= $1 AND registered_at < $2) AS registrations,
			(SELECT COUNT(*) FROM associations WHERE approved_at >= $1 AND approved_at < $2) AS approvals,
			(SELECT COUNT(*) FROM animals WHERE created_at >= $1 AND created_at < $2) AS new_animals,
			(SELECT COUNT(*) FROM associations WHERE state = $3) AS active_associations,
			(SELECT COUNT(*) FROM animals an JOIN associations a ON a.id = an.association_id
			  WHERE an.adopted = FALSE AND a.state = ANY($4)) AS available_animals`,
		from, to, models.StateActive, visibleStates())
	if err != nil {
		return nil, err
	}
	act.From, act.To = from, to
	return &act, nil
}
