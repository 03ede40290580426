package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"gitlab.com/orenda/api/leadflow-engine/internal/apperrors"
	"gitlab.com/orenda/api/leadflow-engine/internal/model"
	"gitlab.com/orenda/api/leadflow-engine/internal/tenant"
	"gitlab.com/orenda/api/leadflow-engine/pkg/logger"
)

func init() {
	logger.Log = zap.NewNop()
}

const testTenantID = "tenant-test-123"

// newMockDB creates a sqlmock-backed GORM instance. Regex matching keeps the
// expectations robust against minor GORM query variations.
func newMockDB(t *testing.T) (*PostgresRepo, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn:                 db,
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		SkipDefaultTransaction: true,
		TranslateError:         true,
	})
	require.NoError(t, err)

	teardown := func() {
		assert.NoError(t, mock.ExpectationsWereMet())
	}
	return NewPostgresRepoWithDB(gormDB), mock, teardown
}

func tenantCtx() context.Context {
	return tenant.WithTenantID(context.Background(), testTenantID)
}

func TestIsTransientError(t *testing.T) {
	testCases := []struct {
		name      string
		err       error
		transient bool
	}{
		{name: "Nil", err: nil, transient: false},
		{name: "ConnectionException", err: &pgconn.PgError{Code: "08006"}, transient: true},
		{name: "InsufficientResources", err: &pgconn.PgError{Code: "53300"}, transient: true},
		{name: "Deadlock", err: &pgconn.PgError{Code: "40P01"}, transient: true},
		{name: "SerializationFailure", err: &pgconn.PgError{Code: "40001"}, transient: true},
		{name: "UniqueViolation", err: &pgconn.PgError{Code: "23505"}, transient: false},
		{name: "ConnectionRefusedString", err: errors.New("dial tcp: connection refused"), transient: true},
		{name: "IOTimeoutString", err: errors.New("read tcp: i/o timeout"), transient: true},
		{name: "DeadlineExceeded", err: context.DeadlineExceeded, transient: true},
		{name: "PlainError", err: errors.New("syntax error"), transient: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.transient, isTransientError(tc.err))
		})
	}
}

func TestCheckConstraintViolation(t *testing.T) {
	dup := checkConstraintViolation(&pgconn.PgError{Code: "23505"})
	assert.ErrorIs(t, dup, apperrors.ErrDuplicate)

	fk := checkConstraintViolation(&pgconn.PgError{Code: "23503"})
	assert.ErrorIs(t, fk, apperrors.ErrConflict)

	other := checkConstraintViolation(errors.New("boom"))
	assert.ErrorIs(t, other, apperrors.ErrDatabase)

	assert.NoError(t, checkConstraintViolation(nil))
}

func TestFindByPhone_Found(t *testing.T) {
	repo, mock, teardown := newMockDB(t)
	defer teardown()

	rows := sqlmock.NewRows([]string{"id", "tenant_id", "phone_number", "name", "stage"}).
		AddRow("lead-1", testTenantID, "628123", "Alice", "interest")
	mock.ExpectQuery(`SELECT \* FROM "leads" WHERE tenant_id = \$1 AND phone_number = \$2`).
		WillReturnRows(rows)

	lead, err := repo.FindByPhone(tenantCtx(), "628123")

	require.NoError(t, err)
	assert.Equal(t, "lead-1", lead.ID)
	assert.Equal(t, "interest", lead.Stage)
}

func TestFindByPhone_NotFound(t *testing.T) {
	repo, mock, teardown := newMockDB(t)
	defer teardown()

	mock.ExpectQuery(`SELECT \* FROM "leads"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.FindByPhone(tenantCtx(), "628123")

	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestFindByPhone_MissingTenantContext(t *testing.T) {
	repo, _, teardown := newMockDB(t)
	defer teardown()

	_, err := repo.FindByPhone(context.Background(), "628123")

	assert.Error(t, err)
	assert.True(t, apperrors.IsFatal(err))
}

func TestUpdate_NotFound(t *testing.T) {
	repo, mock, teardown := newMockDB(t)
	defer teardown()

	mock.ExpectExec(`UPDATE "leads" SET`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Update(tenantCtx(), model.Lead{ID: "lead-missing"})

	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestListNeedingInitialMessage(t *testing.T) {
	repo, mock, teardown := newMockDB(t)
	defer teardown()

	rows := sqlmock.NewRows([]string{"id", "tenant_id", "phone_number", "initial_message_sent"}).
		AddRow("lead-2", testTenantID, "62222", false).
		AddRow("lead-1", testTenantID, "62111", false)
	mock.ExpectQuery(`SELECT \* FROM "leads" WHERE tenant_id = \$1 AND initial_message_sent = \$2 ORDER BY created_at DESC`).
		WillReturnRows(rows)

	leads, err := repo.ListNeedingInitialMessage(tenantCtx(), 5)

	require.NoError(t, err)
	require.Len(t, leads, 2)
	assert.Equal(t, "lead-2", leads[0].ID)
}

func TestGetConfig_NotFound(t *testing.T) {
	repo, mock, teardown := newMockDB(t)
	defer teardown()

	mock.ExpectQuery(`SELECT \* FROM "tenant_configs"`).
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id"}))

	_, err := repo.GetConfig(tenantCtx())

	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.Contains(t, err.Error(), testTenantID)
}

func TestListActiveTenantIDs(t *testing.T) {
	repo, mock, teardown := newMockDB(t)
	defer teardown()

	rows := sqlmock.NewRows([]string{"tenant_id"}).
		AddRow("tenant-a").
		AddRow("tenant-b")
	mock.ExpectQuery(`SELECT "tenant_id" FROM "tenant_configs" WHERE active = \$1 ORDER BY tenant_id ASC`).
		WithArgs(true).
		WillReturnRows(rows)

	ids, err := repo.ListActiveTenantIDs(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"tenant-a", "tenant-b"}, ids)
}
