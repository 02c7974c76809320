package postgres

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/sentinel-gateway/internal/audit"
	"github.com/xela07ax/sentinel-gateway/internal/domain"
	"go.uber.org/zap"
)

func newAuditRepo(t *testing.T) (*AuditRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	repo := NewAuditRepo(db, zap.NewNop())
	repo.delay = time.Millisecond
	return repo, mock
}

func anyArgs(n int) []driver.Value {
	args := make([]driver.Value, n)
	for i := range args {
		args[i] = sqlmock.AnyArg()
	}
	return args
}

func testEvents() []audit.AuditEvent {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return []audit.AuditEvent{
		{ID: "0b4e7a52-0000-4000-8000-000000000001", Timestamp: now, Type: audit.EventExecution, Tenant: "chc", Actor: audit.Actor{AgentID: "agent-1"}, Decision: audit.DecisionAllowed},
		{ID: "0b4e7a52-0000-4000-8000-000000000002", Timestamp: now, Type: audit.EventKillSwitch, Actor: audit.Actor{HumanID: "ops"}, Decision: audit.DecisionSuspended},
	}
}

func TestAuditRepo_WriteBatch(t *testing.T) {
	repo, mock := newAuditRepo(t)
	events := testEvents()

	args := anyArgs(2 * auditColumns)
	args[0] = events[0].ID
	args[2] = string(audit.EventExecution)
	args[6] = "agent-1"
	args[auditColumns] = events[1].ID
	args[auditColumns+7] = "ops"

	mock.ExpectExec(`INSERT INTO audit_events \(.+\) VALUES \(\$1, .+\$13\), \(\$14, .+\$26\) ON CONFLICT \(id\) DO NOTHING`).
		WithArgs(args...).
		WillReturnResult(sqlmock.NewResult(0, 2))

	require.NoError(t, repo.WriteBatch(context.Background(), events))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepo_EmptyBatch(t *testing.T) {
	repo, mock := newAuditRepo(t)
	require.NoError(t, repo.WriteBatch(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepo_RetriesTransientErrors(t *testing.T) {
	repo, mock := newAuditRepo(t)

	mock.ExpectExec("INSERT INTO audit_events").WillReturnError(errors.New("connection reset by peer"))
	mock.ExpectExec("INSERT INTO audit_events").WillReturnResult(sqlmock.NewResult(0, 2))

	require.NoError(t, repo.WriteBatch(context.Background(), testEvents()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepo_PermanentErrorIsNotRetried(t *testing.T) {
	repo, mock := newAuditRepo(t)

	mock.ExpectExec("INSERT INTO audit_events").WillReturnError(&pgconn.PgError{Code: "23502", Message: "null value in column"})

	err := repo.WriteBatch(context.Background(), testEvents())
	require.Error(t, err)
	var pgErr *pgconn.PgError
	require.True(t, errors.As(err, &pgErr))
	assert.Equal(t, "23502", pgErr.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIsPermanent(t *testing.T) {
	assert.True(t, isPermanent(&pgconn.PgError{Code: "42P01"}))
	assert.True(t, isPermanent(context.Canceled))
	assert.False(t, isPermanent(&pgconn.PgError{Code: "57P01"}))
	assert.False(t, isPermanent(errors.New("i/o timeout")))
}

func TestPermissionRepo_ListToolPermissions(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	rows := sqlmock.NewRows([]string{"tool_name", "required_scopes", "allowed_tenants", "description"}).
		AddRow("chc.reports.read", []byte(`["chc:access","reports:read"]`), []byte(`["chc"]`), "Read reports").
		AddRow("shared.ping", []byte(`[]`), []byte(`["shared","chc"]`), "")
	mock.ExpectQuery("SELECT tool_name, required_scopes, allowed_tenants, description FROM tool_permissions").WillReturnRows(rows)

	perms, err := NewPermissionRepo(db).ListToolPermissions(context.Background())
	require.NoError(t, err)
	require.Len(t, perms, 2)
	assert.Equal(t, domain.ToolPermission{
		ToolName:       "chc.reports.read",
		RequiredScopes: []string{"chc:access", "reports:read"},
		AllowedTenants: []string{"chc"},
		Description:    "Read reports",
	}, perms[0])
	assert.Empty(t, perms[1].RequiredScopes)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPermissionRepo_BadJSON(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	rows := sqlmock.NewRows([]string{"tool_name", "required_scopes", "allowed_tenants", "description"}).
		AddRow("chc.reports.read", []byte(`{`), []byte(`[]`), "")
	mock.ExpectQuery("FROM tool_permissions").WillReturnRows(rows)

	_, err = NewPermissionRepo(db).ListToolPermissions(context.Background())
	assert.ErrorContains(t, err, "chc.reports.read")
}

func TestPermissionRepo_ListScopeHierarchy(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	rows := sqlmock.NewRows([]string{"scope", "implies"}).
		AddRow("reports:write", []byte(`["reports:read"]`))
	mock.ExpectQuery("SELECT scope, implies FROM scope_hierarchy").WillReturnRows(rows)

	h, err := NewPermissionRepo(db).ListScopeHierarchy(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.ScopeHierarchy{"reports:write": {"reports:read"}}, h)
}

func TestPermissionRepo_Upsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec("INSERT INTO tool_permissions").
		WithArgs("chc.reports.read", []byte(`["chc:access"]`), []byte(`[]`), "Read").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = NewPermissionRepo(db).UpsertToolPermission(context.Background(), domain.ToolPermission{
		ToolName:       "chc.reports.read",
		RequiredScopes: []string{"chc:access"},
		Description:    "Read",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
