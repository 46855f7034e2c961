// animal_repository.go implements AnimalRepository, the read side of adoption listings.
package repositories

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shelter-registry/shelter-registry/internal/db/models"
)

// AnimalRepository handles animal listing queries
type AnimalRepository struct {
	db *sqlx.DB
}

// NewAnimalRepository creates a new AnimalRepository
func NewAnimalRepository(db *sqlx.DB) *AnimalRepository {
	return &AnimalRepository{db: db}
}

func visibleStates() pq.StringArray {
	states := make(pq.StringArray, len(models.VisibleStates))
	for i, s := range models.VisibleStates {
		states[i] = string(s)
	}
	return states
}

// ListVisible returns a page of publicly visible listings: not adopted and owned by an
// association whose state keeps listings visible.
func (r *AnimalRepository) ListVisible(ctx context.Context, limit, offset int) ([]*models.Animal, int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, `
		SELECT COUNT(*) FROM animals an
		JOIN associations a ON a.id = an.association_id
		WHERE an.adopted = FALSE AND a.state = ANY($1)`, visibleStates()); err != nil {
		return nil, 0, err
	}

	animals := make([]*models.Animal, 0)
	err := r.db.SelectContext(ctx, &animals, `
		SELECT an.id, an.association_id, an.name, an.species, an.breed, an.colour, an.size,
		       an.description, an.city, an.region, an.adopted, an.created_at
		FROM animals an
		JOIN associations a ON a.id = an.association_id
		WHERE an.adopted = FALSE AND a.state = ANY($1)
		ORDER BY an.created_at DESC
		LIMIT $2 OFFSET $3`, visibleStates(), limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return animals, total, nil
}

// CountByAssociation returns how many listings an association owns, adopted or not.
func (r *AnimalRepository) CountByAssociation(ctx context.Context, associationID string) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM animals WHERE association_id = $1`, associationID)
	return n, err
}
