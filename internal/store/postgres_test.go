package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })
	return &PostgresStore{pool: mock}, mock
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS reports`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Save_Upsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	b := sampleBundle("STEM")

	mock.ExpectExec(`ON CONFLICT \(report_id\) DO UPDATE`).
		WithArgs(pgxmock.AnyArg(), "r-1", "STEM", b.Version, b.CreatedAt, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.Save(context.Background(), "r-1", b))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Save_NilBundle(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	assert.Error(t, s.Save(context.Background(), "r-1", nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Get(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	raw, err := sampleBundle("Arts").ToJSON()
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT bundle FROM reports WHERE report_id = \$1`).
		WithArgs("r-2").
		WillReturnRows(pgxmock.NewRows([]string{"bundle"}).AddRow(raw))

	got, err := s.Get(context.Background(), "r-2")
	require.NoError(t, err)
	assert.Equal(t, "Arts", got.Interview.ProgramArea)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Get_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT bundle FROM reports`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_List(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT id, report_id, program_area, version, created_at, archived_at\s+FROM reports ORDER BY archived_at DESC`).
		WithArgs(100).
		WillReturnRows(pgxmock.NewRows([]string{"id", "report_id", "program_area", "version", "created_at", "archived_at"}).
			AddRow("u-1", "r-1", "STEM", "1.0", "c1", now).
			AddRow("u-2", "r-2", "Arts", "1.0", "c2", now.Add(-time.Hour)))

	entries, err := s.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "r-1", entries[0].ReportID)
	assert.Equal(t, now, entries[0].ArchivedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Delete(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM reports WHERE report_id = \$1`).
		WithArgs("r-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(`DELETE FROM reports WHERE report_id = \$1`).
		WithArgs("r-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	require.NoError(t, s.Delete(context.Background(), "r-1"))
	err := s.Delete(context.Background(), "r-1")
	assert.True(t, eris.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}
