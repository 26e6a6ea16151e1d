package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/grantscope/advisor/internal/model"
)

// SQLiteStore implements Archive using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS reports (
	id           TEXT PRIMARY KEY,
	report_id    TEXT NOT NULL UNIQUE,
	program_area TEXT NOT NULL DEFAULT '',
	version      TEXT NOT NULL DEFAULT '',
	created_at   TEXT NOT NULL DEFAULT '',
	bundle       TEXT NOT NULL,
	archived_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_reports_archived_at ON reports(archived_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Save(ctx context.Context, reportID string, b *model.ReportBundle) error {
	raw, err := encodeBundle(b)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO reports (id, report_id, program_area, version, created_at, bundle, archived_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(report_id) DO UPDATE SET
		   program_area = excluded.program_area,
		   version      = excluded.version,
		   created_at   = excluded.created_at,
		   bundle       = excluded.bundle,
		   archived_at  = excluded.archived_at`,
		uuid.New().String(), reportID, b.Interview.ProgramArea, b.Version, b.CreatedAt, string(raw), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: save report %s", reportID)
}

func (s *SQLiteStore) Get(ctx context.Context, reportID string) (*model.ReportBundle, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT bundle FROM reports WHERE report_id = ?`, reportID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: get report %s", reportID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get report %s", reportID)
	}
	return model.FromJSON([]byte(raw))
}

func (s *SQLiteStore) List(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, report_id, program_area, version, created_at, archived_at
		 FROM reports ORDER BY archived_at DESC, report_id LIMIT ?`,
		clampLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list reports")
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.ReportID, &e.ProgramArea, &e.Version, &e.CreatedAt, &e.ArchivedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan report")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate reports")
}

func (s *SQLiteStore) Delete(ctx context.Context, reportID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM reports WHERE report_id = ?`, reportID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete report %s", reportID)
	}
	return checkRowsAffected(res, reportID)
}

func checkRowsAffected(res sql.Result, reportID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "sqlite: report %s", reportID)
	}
	return nil
}
