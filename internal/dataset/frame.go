// Package dataset holds the in-memory tabular grants dataset and the
// aggregations the advisor runs against it.
package dataset

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats"
)

// Well-known grant columns.
const (
	ColFunderName     = "funder_name"
	ColAmountUSD      = "amount_usd"
	ColYearIssued     = "year_issued"
	ColSubjectTran    = "grant_subject_tran"
	ColPopulationTran = "grant_population_tran"
	ColGeoAreaTran    = "grant_geo_area_tran"
)

// Row is a single grant record keyed by column name.
type Row map[string]any

// Frame is an ordered set of rows sharing a column list. Frames are treated
// as immutable once built; every operation returns a new Frame.
type Frame struct {
	Columns []string
	Rows    []Row
}

// New builds a frame. When columns is empty, it is inferred from the rows in
// first-seen order.
func New(columns []string, rows []Row) *Frame {
	if len(columns) == 0 {
		seen := map[string]bool{}
		for _, r := range rows {
			for _, k := range sortedKeys(r) {
				if !seen[k] {
					seen[k] = true
					columns = append(columns, k)
				}
			}
		}
	}
	return &Frame{Columns: columns, Rows: rows}
}

// Len returns the row count. A nil frame has zero rows.
func (f *Frame) Len() int {
	if f == nil {
		return 0
	}
	return len(f.Rows)
}

// Empty reports whether the frame has no rows.
func (f *Frame) Empty() bool { return f.Len() == 0 }

// HasColumn reports whether the frame declares the column.
func (f *Frame) HasColumn(name string) bool {
	if f == nil {
		return false
	}
	for _, c := range f.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// HasColumns reports whether the frame declares every named column.
func (f *Frame) HasColumns(names ...string) bool {
	for _, n := range names {
		if !f.HasColumn(n) {
			return false
		}
	}
	return true
}

// Filter returns the rows for which keep returns true, in order.
func (f *Frame) Filter(keep func(Row) bool) *Frame {
	if f == nil {
		return New(nil, nil)
	}
	out := make([]Row, 0, len(f.Rows))
	for _, r := range f.Rows {
		if keep(r) {
			out = append(out, r)
		}
	}
	return &Frame{Columns: f.Columns, Rows: out}
}

// Head returns at most the first n rows.
func (f *Frame) Head(n int) *Frame {
	if f == nil {
		return New(nil, nil)
	}
	if n > len(f.Rows) {
		n = len(f.Rows)
	}
	if n < 0 {
		n = 0
	}
	return &Frame{Columns: f.Columns, Rows: f.Rows[:n]}
}

// DropColumn returns a frame without the named column.
func (f *Frame) DropColumn(name string) *Frame {
	if f == nil {
		return New(nil, nil)
	}
	cols := make([]string, 0, len(f.Columns))
	for _, c := range f.Columns {
		if c != name {
			cols = append(cols, c)
		}
	}
	rows := make([]Row, len(f.Rows))
	for i, r := range f.Rows {
		nr := make(Row, len(r))
		for k, v := range r {
			if k != name {
				nr[k] = v
			}
		}
		rows[i] = nr
	}
	return &Frame{Columns: cols, Rows: rows}
}

// Floats returns the numeric values of a column. Non-numeric cells are
// skipped.
func (f *Frame) Floats(col string) []float64 {
	if f == nil {
		return nil
	}
	out := make([]float64, 0, len(f.Rows))
	for _, r := range f.Rows {
		if v, ok := ToFloat(r[col]); ok {
			out = append(out, v)
		}
	}
	return out
}

// Sum adds the numeric values of a column; non-numeric cells count as 0.
func (f *Frame) Sum(col string) float64 {
	vals := f.Floats(col)
	if len(vals) == 0 {
		return 0
	}
	return floats.Sum(vals)
}

// Signature is the coarse content signature used in cache keys:
// "<rows>:<sum of amount_usd to 2 decimals>". It never fails; a missing
// amount column contributes 0.
func Signature(f *Frame) string {
	rows := f.Len()
	total := 0.0
	if f.HasColumn(ColAmountUSD) {
		total = f.Sum(ColAmountUSD)
	}
	if math.IsNaN(total) || math.IsInf(total, 0) {
		total = 0
	}
	return strconv.Itoa(rows) + ":" + strconv.FormatFloat(total, 'f', 2, 64)
}

// ToFloat coerces a cell to a float. Strings are parsed after stripping
// currency symbols and thousands separators. NaN is treated as missing.
func ToFloat(v any) (float64, bool) {
	var out float64
	switch x := v.(type) {
	case nil:
		return 0, false
	case float64:
		out = x
	case float32:
		out = float64(x)
	case int:
		out = float64(x)
	case int64:
		out = float64(x)
	case int32:
		out = float64(x)
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return 0, false
		}
		out = f
	case string:
		s := strings.TrimSpace(strings.NewReplacer("$", "", ",", "").Replace(x))
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		out = f
	case bool:
		return 0, false
	default:
		return 0, false
	}
	if math.IsNaN(out) || math.IsInf(out, 0) {
		return 0, false
	}
	return out, true
}

// IsNullish reports whether a value is missing or one of the null-ish
// sentinels "", "nan", "none", "null" (case-insensitive, trimmed).
func IsNullish(v any) bool {
	if v == nil {
		return true
	}
	if f, ok := v.(float64); ok && math.IsNaN(f) {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(CellString(v))) {
	case "", "nan", "none", "null":
		return true
	}
	return false
}

// CellString renders a cell as text. Whole floats print without a decimal.
func CellString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1e15 {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case json.Number:
		return x.String()
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	default:
		raw, err := json.Marshal(x)
		if err != nil {
			return ""
		}
		return string(raw)
	}
}

func sortedKeys(r Row) []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
