package dataset

import (
	"context"
	"database/sql"
	"strings"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLTable is the table name a frame is registered under for QuerySQL.
const SQLTable = "t"

var forbiddenSQL = []string{
	" insert ", " update ", " delete ", " create ", " alter ", " drop ",
	" attach ", " copy ", " replace ", " merge ", " vacuum ", " pragma ",
}

// ValidateSelect rejects anything other than a single read-only SELECT or
// WITH statement.
func ValidateSelect(query string) error {
	lower := strings.ToLower(strings.TrimSpace(query))
	if !strings.HasPrefix(lower, "select") && !strings.HasPrefix(lower, "with") {
		return eris.New("dataset: only SELECT/WITH queries are allowed")
	}
	if strings.Contains(lower, ";") {
		return eris.New("dataset: semicolons are not allowed")
	}
	padded := " " + lower + " "
	for _, kw := range forbiddenSQL {
		if strings.Contains(padded, kw) {
			return eris.Errorf("dataset: disallowed keyword %q", strings.TrimSpace(kw))
		}
	}
	return nil
}

// QuerySQL loads the frame into a throwaway in-memory SQLite database as
// table "t" and runs a read-only query against it, capped at limit rows.
func QuerySQL(ctx context.Context, f *Frame, query string, limit int) (*Frame, error) {
	if err := ValidateSelect(query); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	if f == nil || len(f.Columns) == 0 {
		return nil, eris.New("dataset: no columns to query")
	}

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, eris.Wrap(err, "dataset: open sqlite")
	}
	defer db.Close() //nolint:errcheck
	db.SetMaxOpenConns(1)

	if err := loadTable(ctx, db, f); err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, "SELECT * FROM ("+query+") AS sub LIMIT ?", limit)
	if err != nil {
		return nil, eris.Wrap(err, "dataset: run query")
	}
	defer rows.Close() //nolint:errcheck

	cols, err := rows.Columns()
	if err != nil {
		return nil, eris.Wrap(err, "dataset: result columns")
	}
	var out []Row
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, eris.Wrap(err, "dataset: scan row")
		}
		r := make(Row, len(cols))
		for i, c := range cols {
			r[c] = fromSQL(vals[i])
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "dataset: iterate rows")
	}
	return New(cols, out), nil
}

func loadTable(ctx context.Context, db *sql.DB, f *Frame) error {
	quoted := make([]string, len(f.Columns))
	marks := make([]string, len(f.Columns))
	for i, c := range f.Columns {
		quoted[i] = quoteIdent(c)
		marks[i] = "?"
	}
	ddl := "CREATE TABLE " + SQLTable + " (" + strings.Join(quoted, ", ") + ")"
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return eris.Wrap(err, "dataset: create table")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "dataset: begin load")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO "+SQLTable+" ("+strings.Join(quoted, ", ")+") VALUES ("+strings.Join(marks, ", ")+")")
	if err != nil {
		return eris.Wrap(err, "dataset: prepare insert")
	}
	defer stmt.Close() //nolint:errcheck

	args := make([]any, len(f.Columns))
	for _, r := range f.Rows {
		for i, c := range f.Columns {
			args[i] = toSQL(r[c])
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return eris.Wrap(err, "dataset: insert row")
		}
	}
	return eris.Wrap(tx.Commit(), "dataset: commit load")
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func toSQL(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case float64, int64, string:
		return x
	case int:
		return int64(x)
	default:
		if f, ok := ToFloat(x); ok {
			return f
		}
		return CellString(x)
	}
}

func fromSQL(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case int64:
		return float64(x)
	default:
		return x
	}
}
