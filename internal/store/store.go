// Package store archives finished report bundles.
package store

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/grantscope/advisor/internal/model"
)

// ErrNotFound is returned when no archived report has the requested id.
var ErrNotFound = eris.New("store: report not found")

// Entry is one archived report's listing row.
type Entry struct {
	ID          string    `json:"id"`
	ReportID    string    `json:"report_id"`
	ProgramArea string    `json:"program_area"`
	Version     string    `json:"version"`
	CreatedAt   string    `json:"created_at"`
	ArchivedAt  time.Time `json:"archived_at"`
}

// Archive persists report bundles keyed by report id. Saving an existing
// report id replaces its bundle.
type Archive interface {
	Save(ctx context.Context, reportID string, b *model.ReportBundle) error
	Get(ctx context.Context, reportID string) (*model.ReportBundle, error)
	List(ctx context.Context, limit int) ([]Entry, error)
	Delete(ctx context.Context, reportID string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Config selects and configures an archive backend.
type Config struct {
	Driver      string      `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string      `yaml:"database_url" mapstructure:"database_url"`
	Pool        *PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// Open returns the archive named by cfg.Driver, migrated and ready. The
// "none" driver (or an empty one) returns a nil archive and no error.
func Open(ctx context.Context, cfg Config) (Archive, error) {
	var (
		a   Archive
		err error
	)
	switch strings.ToLower(cfg.Driver) {
	case "", "none":
		return nil, nil
	case "sqlite":
		dsn := cfg.DatabaseURL
		if dsn == "" {
			dsn = "grantscope.db"
		}
		a, err = NewSQLite(dsn)
	case "postgres", "postgresql":
		a, err = NewPostgres(ctx, cfg.DatabaseURL, cfg.Pool)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := a.Migrate(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func encodeBundle(b *model.ReportBundle) ([]byte, error) {
	if b == nil {
		return nil, eris.New("store: nil bundle")
	}
	raw, err := b.ToJSON()
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal bundle")
	}
	return raw, nil
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 100
	}
	return limit
}
