package repositories

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shelter-registry/shelter-registry/internal/db/models"
)

var errDB = errors.New("db error")

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func newAssociationRepo(t *testing.T) (*AssociationRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewAssociationRepository(sqlx.NewDb(db, "sqlmock")), mock
}

var associationCols = []string{
	"id", "name", "password_hash", "email", "phone", "address", "city", "region", "postal_code", "logo_url",
	"state", "registered_at", "state_changed_at", "approved_at", "rejected_at",
	"approved_by", "admin_notes", "rejection_reason",
	"management_token", "approval_token", "password_reset_token", "password_reset_expires_at",
	"version",
}

func sampleAssociationRow(id string, state models.AssociationState) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(associationCols).AddRow(
		id, "Shelter X", "$2a$12$hash", "x@example.com", "600000000", "Calle 1", "Madrid", "Madrid", "28001", nil,
		string(state), now, now, nil, nil,
		nil, nil, nil,
		"mgmt", "appr", nil, nil,
		int64(3),
	)
}

func sampleAssociation() *models.Association {
	now := time.Now()
	return &models.Association{
		ID:              "11111111-1111-1111-1111-111111111111",
		Name:            "Shelter X",
		PasswordHash:    "$2a$12$hash",
		Email:           "x@example.com",
		State:           models.StatePending,
		RegisteredAt:    now,
		StateChangedAt:  now,
		ManagementToken: "mgmt",
		ApprovalToken:   "appr",
		Version:         1,
	}
}

// ---------------------------------------------------------------------------
// Create
// ---------------------------------------------------------------------------

func TestAssociationCreate_Success(t *testing.T) {
	repo, mock := newAssociationRepo(t)
	mock.ExpectExec("INSERT INTO associations").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Create(context.Background(), sampleAssociation()); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestAssociationCreate_UniqueViolation(t *testing.T) {
	repo, mock := newAssociationRepo(t)
	mock.ExpectExec("INSERT INTO associations").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "associations_name_lower_key"})

	err := repo.Create(context.Background(), sampleAssociation())
	if !IsUniqueViolation(err) {
		t.Errorf("IsUniqueViolation(%v) = false, want true", err)
	}
}

func TestIsUniqueViolation_OtherErrors(t *testing.T) {
	if IsUniqueViolation(errDB) {
		t.Error("plain error reported as unique violation")
	}
	if IsUniqueViolation(&pq.Error{Code: "23503"}) {
		t.Error("foreign key violation reported as unique violation")
	}
}

// ---------------------------------------------------------------------------
// Lookups
// ---------------------------------------------------------------------------

func TestAssociationGetByID_Found(t *testing.T) {
	repo, mock := newAssociationRepo(t)
	mock.ExpectQuery("SELECT.*FROM associations WHERE id").
		WithArgs("a1").
		WillReturnRows(sampleAssociationRow("a1", models.StateActive))

	a, err := repo.GetByID(context.Background(), "a1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if a == nil || a.ID != "a1" || a.State != models.StateActive || a.Version != 3 {
		t.Errorf("GetByID = %+v", a)
	}
	if a.ApprovedAt != nil || a.LogoURL != nil {
		t.Errorf("nullable columns should scan to nil")
	}
}

func TestAssociationGetByID_NotFound(t *testing.T) {
	repo, mock := newAssociationRepo(t)
	mock.ExpectQuery("SELECT.*FROM associations WHERE id").
		WillReturnRows(sqlmock.NewRows(associationCols))

	a, err := repo.GetByID(context.Background(), "missing")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if a != nil {
		t.Errorf("expected nil, got %+v", a)
	}
}

func TestAssociationGetByID_Error(t *testing.T) {
	repo, mock := newAssociationRepo(t)
	mock.ExpectQuery("SELECT.*FROM associations").WillReturnError(errDB)

	if _, err := repo.GetByID(context.Background(), "a1"); !errors.Is(err, errDB) {
		t.Errorf("err = %v, want errDB", err)
	}
}

func TestAssociationGetByToken_UsesPurposeColumn(t *testing.T) {
	tests := []struct {
		purpose models.TokenPurpose
		pattern string
	}{
		{models.TokenApproval, "WHERE approval_token = \\$1"},
		{models.TokenManagement, "WHERE management_token = \\$1"},
		{models.TokenPasswordReset, "WHERE password_reset_token = \\$1"},
	}
	for _, tt := range tests {
		t.Run(string(tt.purpose), func(t *testing.T) {
			repo, mock := newAssociationRepo(t)
			mock.ExpectQuery(tt.pattern).
				WithArgs("tok").
				WillReturnRows(sampleAssociationRow("a1", models.StatePending))

			a, err := repo.GetByToken(context.Background(), tt.purpose, "tok")
			if err != nil || a == nil {
				t.Fatalf("GetByToken = %v, %v", a, err)
			}
		})
	}
}

func TestAssociationGetByToken_UnknownPurpose(t *testing.T) {
	repo, _ := newAssociationRepo(t)
	if _, err := repo.GetByToken(context.Background(), "session", "tok"); err == nil {
		t.Error("expected error for unknown purpose")
	}
}

func TestAssociationGetByEmail_CaseInsensitive(t *testing.T) {
	repo, mock := newAssociationRepo(t)
	mock.ExpectQuery("WHERE LOWER\\(email\\) = LOWER\\(\\$1\\)").
		WithArgs("X@Example.com").
		WillReturnRows(sampleAssociationRow("a1", models.StateActive))

	a, err := repo.GetByEmail(context.Background(), "X@Example.com")
	if err != nil || a == nil {
		t.Fatalf("GetByEmail = %v, %v", a, err)
	}
}

func TestAssociationNameExists(t *testing.T) {
	repo, mock := newAssociationRepo(t)
	mock.ExpectQuery("SELECT EXISTS.*LOWER\\(name\\) = LOWER\\(\\$1\\)").
		WithArgs("shelter x").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := repo.NameExists(context.Background(), "shelter x")
	if err != nil {
		t.Fatalf("NameExists: %v", err)
	}
	if !exists {
		t.Error("NameExists = false, want true")
	}
}

func TestAssociationTokenExists(t *testing.T) {
	repo, mock := newAssociationRepo(t)
	mock.ExpectQuery("SELECT EXISTS.*WHERE management_token = \\$1").
		WithArgs("tok").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	exists, err := repo.TokenExists(context.Background(), models.TokenManagement, "tok")
	if err != nil {
		t.Fatalf("TokenExists: %v", err)
	}
	if exists {
		t.Error("TokenExists = true, want false")
	}
}

// ---------------------------------------------------------------------------
// Update / DeletePending
// ---------------------------------------------------------------------------

func TestAssociationUpdate_AdvancesVersion(t *testing.T) {
	repo, mock := newAssociationRepo(t)
	a := sampleAssociation()
	a.State = models.StateActive

	mock.ExpectExec("UPDATE associations SET.*version = version \\+ 1.*WHERE id = \\$1 AND version = \\$2").
		WithArgs(append([]driver.Value{a.ID, int64(1)}, anyArgs(17)...)...).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Update(context.Background(), a, 1); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if a.Version != 2 {
		t.Errorf("Version = %d, want 2", a.Version)
	}
}

func TestAssociationUpdate_StaleVersion(t *testing.T) {
	repo, mock := newAssociationRepo(t)
	a := sampleAssociation()

	mock.ExpectExec("UPDATE associations SET").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Update(context.Background(), a, 1)
	if !errors.Is(err, ErrStaleVersion) {
		t.Errorf("err = %v, want ErrStaleVersion", err)
	}
	if a.Version != 1 {
		t.Errorf("Version changed on failed update: %d", a.Version)
	}
}

func TestAssociationUpdate_Error(t *testing.T) {
	repo, mock := newAssociationRepo(t)
	mock.ExpectExec("UPDATE associations SET").WillReturnError(errDB)

	if err := repo.Update(context.Background(), sampleAssociation(), 1); !errors.Is(err, errDB) {
		t.Errorf("err = %v, want errDB", err)
	}
}

func TestAssociationDeletePending(t *testing.T) {
	repo, mock := newAssociationRepo(t)
	mock.ExpectExec("DELETE FROM associations WHERE id = \\$1 AND version = \\$2 AND state = \\$3").
		WithArgs("a1", int64(4), models.StatePending).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.DeletePending(context.Background(), "a1", 4); err != nil {
		t.Fatalf("DeletePending: %v", err)
	}
}

func TestAssociationDeletePending_Stale(t *testing.T) {
	repo, mock := newAssociationRepo(t)
	mock.ExpectExec("DELETE FROM associations").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repo.DeletePending(context.Background(), "a1", 4); !errors.Is(err, ErrStaleVersion) {
		t.Errorf("err = %v, want ErrStaleVersion", err)
	}
}

// ---------------------------------------------------------------------------
// List / CountByState
// ---------------------------------------------------------------------------

func TestAssociationList(t *testing.T) {
	repo, mock := newAssociationRepo(t)
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM associations").
		WithArgs(models.StatePending).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery("SELECT.*FROM associations.*ORDER BY registered_at DESC").
		WithArgs(models.StatePending, 20, 0).
		WillReturnRows(sampleAssociationRow("a1", models.StatePending))

	list, total, err := repo.List(context.Background(), models.StatePending, 20, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 1 || len(list) != 1 {
		t.Errorf("List = %d items, total %d", len(list), total)
	}
}

func TestAssociationList_CountError(t *testing.T) {
	repo, mock := newAssociationRepo(t)
	mock.ExpectQuery("SELECT COUNT").WillReturnError(errDB)

	if _, _, err := repo.List(context.Background(), "", 20, 0); !errors.Is(err, errDB) {
		t.Errorf("err = %v, want errDB", err)
	}
}

func TestAssociationCountByState(t *testing.T) {
	repo, mock := newAssociationRepo(t)
	mock.ExpectQuery("SELECT state, COUNT\\(\\*\\) AS count FROM associations GROUP BY state").
		WillReturnRows(sqlmock.NewRows([]string{"state", "count"}).
			AddRow("active", 4).
			AddRow("pending", 2))

	counts, err := repo.CountByState(context.Background())
	if err != nil {
		t.Fatalf("CountByState: %v", err)
	}
	if len(counts) != 2 || counts[0].State != models.StateActive || counts[0].Count != 4 {
		t.Errorf("CountByState = %+v", counts)
	}
}

func anyArgs(n int) []driver.Value {
	out := make([]driver.Value, n)
	for i := range out {
		out[i] = sqlmock.AnyArg()
	}
	return out
}
