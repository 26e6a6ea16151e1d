package dataset

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"
)

// Load reads a grants dataset from path. The format follows the extension:
// .json (an array of records or an object with a "grants" array), .csv with
// a header row, or .xlsx (first sheet, header row).
func Load(ctx context.Context, path string) (*Frame, error) {
	var (
		f   *Frame
		err error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		f, err = loadCSVFile(ctx, path)
	case ".xlsx":
		f, err = LoadXLSX(ctx, path)
	default:
		f, err = loadJSONFile(ctx, path)
	}
	if err != nil {
		return nil, err
	}
	zap.L().Info("dataset loaded",
		zap.String("path", path),
		zap.Int("rows", f.Len()),
		zap.Int("columns", len(f.Columns)),
	)
	return f, nil
}

func loadJSONFile(ctx context.Context, path string) (*Frame, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "dataset: open %s", path)
	}
	defer fh.Close() //nolint:errcheck
	return ReadJSON(ctx, fh)
}

func loadCSVFile(ctx context.Context, path string) (*Frame, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "dataset: open %s", path)
	}
	defer fh.Close() //nolint:errcheck
	return ReadCSV(ctx, fh)
}

// ReadJSON decodes records one at a time from either a top-level array or
// an object holding a "grants" array.
func ReadJSON(ctx context.Context, r io.Reader) (*Frame, error) {
	dec := json.NewDecoder(bufio.NewReader(r))

	tok, err := dec.Token()
	if err == io.EOF {
		return New(nil, nil), nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "dataset: read opening token")
	}

	if delim, ok := tok.(json.Delim); ok && delim == '{' {
		if err := seekKey(dec, "grants"); err != nil {
			return nil, err
		}
		if tok, err = dec.Token(); err != nil {
			return nil, eris.Wrap(err, "dataset: read grants array")
		}
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		return nil, eris.Errorf("dataset: expected '[', got %v", tok)
	}

	var rows []Row
	for dec.More() {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "dataset: context cancelled")
		}
		var rec map[string]any
		if err := dec.Decode(&rec); err != nil {
			return nil, eris.Wrapf(err, "dataset: decode record %d", len(rows))
		}
		rows = append(rows, normalizeRow(rec))
	}
	return New(nil, rows), nil
}

// seekKey advances the decoder inside an object until the value of key is next.
func seekKey(dec *json.Decoder, key string) error {
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return eris.Wrap(err, "dataset: read object key")
		}
		if k, ok := tok.(string); ok && k == key {
			return nil
		}
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return eris.Wrap(err, "dataset: skip object value")
		}
	}
	return eris.Errorf("dataset: object has no %q array", key)
}

// ReadCSV parses a header row followed by records. Short rows are padded
// with nulls; blank cells become null.
func ReadCSV(ctx context.Context, r io.Reader) (*Frame, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err == io.EOF {
		return New(nil, nil), nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "dataset: read csv header")
	}
	cols := normalizeHeader(header)

	var rows []Row
	for {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "dataset: context cancelled")
		}
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "dataset: read csv row %d", len(rows)+1)
		}
		rows = append(rows, recordToRow(cols, rec))
	}
	return New(cols, rows), nil
}

// LoadXLSX reads the first sheet of a workbook; the first row is the header.
func LoadXLSX(ctx context.Context, path string) (*Frame, error) {
	wb, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "dataset: open xlsx")
	}
	if len(wb.Sheets) == 0 {
		return New(nil, nil), nil
	}
	sheet := wb.Sheets[0]
	if len(sheet.Rows) == 0 {
		return New(nil, nil), nil
	}

	cols := normalizeHeader(cellStrings(sheet.Rows[0]))
	rows := make([]Row, 0, len(sheet.Rows)-1)
	for _, xr := range sheet.Rows[1:] {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "dataset: context cancelled")
		}
		cells := cellStrings(xr)
		if allBlank(cells) {
			continue
		}
		rows = append(rows, recordToRow(cols, cells))
	}
	return New(cols, rows), nil
}

func cellStrings(row *xlsx.Row) []string {
	if row == nil {
		return nil
	}
	out := make([]string, len(row.Cells))
	for i, c := range row.Cells {
		out[i] = c.String()
	}
	return out
}

func allBlank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func normalizeHeader(header []string) []string {
	cols := make([]string, len(header))
	for i, h := range header {
		cols[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}
	return cols
}

func recordToRow(cols, rec []string) Row {
	row := make(Row, len(cols))
	for i, c := range cols {
		if i >= len(rec) {
			row[c] = nil
			continue
		}
		v := strings.TrimSpace(rec[i])
		if v == "" {
			row[c] = nil
			continue
		}
		row[c] = v
	}
	coerceAmount(row)
	return row
}

func normalizeRow(rec map[string]any) Row {
	row := make(Row, len(rec))
	for k, v := range rec {
		row[strings.TrimSpace(k)] = v
	}
	coerceAmount(row)
	return row
}

// coerceAmount stores amount_usd as a float when it parses, so sums and sort
// order never depend on the source format.
func coerceAmount(row Row) {
	v, ok := row[ColAmountUSD]
	if !ok || v == nil {
		return
	}
	if f, ok := ToFloat(v); ok {
		row[ColAmountUSD] = f
	}
}
