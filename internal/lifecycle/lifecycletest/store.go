// Package lifecycletest provides an in-memory association store for tests of the
// lifecycle service and the surfaces built on it.
package lifecycletest

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/lib/pq"

	"github.com/shelter-registry/shelter-registry/internal/db/models"
	"github.com/shelter-registry/shelter-registry/internal/db/repositories"
)

// Store is an in-memory lifecycle.Store that enforces the same uniqueness and
// version rules as the associations table.
type Store struct {
	mu sync.Mutex
	// Rows is keyed by association id. Tests may read it directly between calls.
	Rows map[string]*models.Association

	// FailUpdate, when set, is returned by Update.
	FailUpdate error
	// BeforeWrite runs inside Update and DeletePending before the version check.
	BeforeWrite func(id string)
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{Rows: make(map[string]*models.Association)}
}

// Create inserts a, failing with a unique violation on a duplicate name or token.
func (m *Store) Create(_ context.Context, a *models.Association) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.Rows {
		if strings.EqualFold(r.Name, a.Name) || r.ManagementToken == a.ManagementToken || r.ApprovalToken == a.ApprovalToken {
			return &pq.Error{Code: "23505"}
		}
	}
	m.Rows[a.ID] = a.Clone()
	return nil
}

func (m *Store) find(match func(*models.Association) bool) *models.Association {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.Rows {
		if match(r) {
			return r.Clone()
		}
	}
	return nil
}

// GetByID returns a copy of the row or nil.
func (m *Store) GetByID(_ context.Context, id string) (*models.Association, error) {
	return m.Get(id), nil
}

// GetByName matches the exact name.
func (m *Store) GetByName(_ context.Context, name string) (*models.Association, error) {
	return m.find(func(a *models.Association) bool { return a.Name == name }), nil
}

// GetByEmail matches ignoring case.
func (m *Store) GetByEmail(_ context.Context, email string) (*models.Association, error) {
	return m.find(func(a *models.Association) bool { return strings.EqualFold(a.Email, email) }), nil
}

// GetByToken looks up the column for purpose.
func (m *Store) GetByToken(_ context.Context, purpose models.TokenPurpose, token string) (*models.Association, error) {
	return m.find(func(a *models.Association) bool { return tokenOf(a, purpose) == token }), nil
}

// NameExists matches ignoring case.
func (m *Store) NameExists(_ context.Context, name string) (bool, error) {
	return m.find(func(a *models.Association) bool { return strings.EqualFold(a.Name, name) }) != nil, nil
}

// TokenExists reports whether any row holds token for purpose.
func (m *Store) TokenExists(_ context.Context, purpose models.TokenPurpose, token string) (bool, error) {
	return m.find(func(a *models.Association) bool { return tokenOf(a, purpose) == token }) != nil, nil
}

// Update writes a when the stored version equals expected and advances the version.
func (m *Store) Update(_ context.Context, a *models.Association, expected int64) error {
	if m.BeforeWrite != nil {
		m.BeforeWrite(a.ID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailUpdate != nil {
		return m.FailUpdate
	}
	cur, ok := m.Rows[a.ID]
	if !ok || cur.Version != expected {
		return repositories.ErrStaleVersion
	}
	a.Version = expected + 1
	m.Rows[a.ID] = a.Clone()
	return nil
}

// DeletePending removes a pending row at the expected version.
func (m *Store) DeletePending(_ context.Context, id string, expected int64) error {
	if m.BeforeWrite != nil {
		m.BeforeWrite(id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.Rows[id]
	if !ok || cur.Version != expected || cur.State != models.StatePending {
		return repositories.ErrStaleVersion
	}
	delete(m.Rows, id)
	return nil
}

// CountByState aggregates rows per state.
func (m *Store) CountByState(context.Context) ([]models.StateCount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[models.AssociationState]int)
	for _, r := range m.Rows {
		counts[r.State]++
	}
	var out []models.StateCount
	for _, st := range models.AllStates {
		if n := counts[st]; n > 0 {
			out = append(out, models.StateCount{State: st, Count: n})
		}
	}
	return out, nil
}

// List pages through rows, newest first, optionally filtered by state.
func (m *Store) List(_ context.Context, state models.AssociationState, limit, offset int) ([]*models.Association, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	matched := make([]*models.Association, 0, len(m.Rows))
	for _, r := range m.Rows {
		if state == "" || r.State == state {
			matched = append(matched, r.Clone())
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].RegisteredAt.Equal(matched[j].RegisteredAt) {
			return matched[i].Name < matched[j].Name
		}
		return matched[i].RegisteredAt.After(matched[j].RegisteredAt)
	})
	total := len(matched)
	if offset >= total {
		return []*models.Association{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

// Bump advances the stored version, simulating a concurrent writer.
func (m *Store) Bump(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.Rows[id]; ok {
		r.Version++
	}
}

// Get returns a copy of the row or nil.
func (m *Store) Get(id string) *models.Association {
	return m.find(func(a *models.Association) bool { return a.ID == id })
}

// SetState overwrites the stored state, as an out-of-band writer would.
func (m *Store) SetState(id string, state models.AssociationState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Rows[id].State = state
	m.Rows[id].Version++
}

func tokenOf(a *models.Association, purpose models.TokenPurpose) string {
	switch purpose {
	case models.TokenManagement:
		return a.ManagementToken
	case models.TokenApproval:
		return a.ApprovalToken
	case models.TokenPasswordReset:
		if a.PasswordResetToken != nil {
			return *a.PasswordResetToken
		}
	}
	return ""
}
