package dataset

import (
	"math"
	"sort"
	"strings"

	"github.com/montanaflynn/stats"
	"github.com/rotisserie/eris"
)

// Group is one bucket of a group-by: its key values plus the numeric sum,
// the row count, and how many rows had a numeric value.
type Group struct {
	Keys    []string
	Sum     float64
	Count   int
	Numeric int
}

// Mean returns Sum over the numeric row count.
func (g Group) Mean() float64 {
	if g.Numeric == 0 {
		return 0
	}
	return g.Sum / float64(g.Numeric)
}

// Value returns the aggregate named by agg: "count", "mean", or "sum"
// (the default for anything else).
func (g Group) Value(agg string) float64 {
	switch strings.ToLower(agg) {
	case "count":
		return float64(g.Count)
	case "mean":
		return g.Mean()
	default:
		return g.Sum
	}
}

// GroupBy buckets rows by the by columns and aggregates value. Rows whose
// key cells are null-ish are dropped. Groups come back in first-seen order.
// An empty value column name counts rows only.
func (f *Frame) GroupBy(by []string, value string) []Group {
	if f == nil || len(by) == 0 {
		return nil
	}
	index := map[string]int{}
	var groups []Group
	for _, r := range f.Rows {
		keys := make([]string, len(by))
		skip := false
		for i, col := range by {
			if IsNullish(r[col]) {
				skip = true
				break
			}
			keys[i] = strings.TrimSpace(CellString(r[col]))
		}
		if skip {
			continue
		}
		k := strings.Join(keys, "\x1f")
		pos, ok := index[k]
		if !ok {
			pos = len(groups)
			index[k] = pos
			groups = append(groups, Group{Keys: keys})
		}
		g := &groups[pos]
		g.Count++
		if value != "" {
			if v, ok := ToFloat(r[value]); ok {
				g.Sum += v
				g.Numeric++
			}
		}
	}
	return groups
}

// SortGroups orders groups by the aggregate descending. Ties fall back to
// row count descending, then to the keys alphabetically.
func SortGroups(groups []Group, agg string) {
	sort.SliceStable(groups, func(i, j int) bool {
		vi, vj := groups[i].Value(agg), groups[j].Value(agg)
		if vi != vj {
			return vi > vj
		}
		if groups[i].Count != groups[j].Count {
			return groups[i].Count > groups[j].Count
		}
		return strings.Join(groups[i].Keys, "\x1f") < strings.Join(groups[j].Keys, "\x1f")
	})
}

// TopGroups groups, sorts by agg, and keeps at most n groups (n <= 0 keeps all).
func (f *Frame) TopGroups(by []string, value, agg string, n int) []Group {
	groups := f.GroupBy(by, value)
	SortGroups(groups, agg)
	if n > 0 && len(groups) > n {
		groups = groups[:n]
	}
	return groups
}

// ValueCount is one distinct value and its frequency.
type ValueCount struct {
	Value string
	Count int
}

// ValueCounts counts non-null values of col, most frequent first; ties are
// ordered alphabetically. n <= 0 keeps every value.
func (f *Frame) ValueCounts(col string, n int) []ValueCount {
	groups := f.TopGroups([]string{col}, "", "count", n)
	out := make([]ValueCount, len(groups))
	for i, g := range groups {
		out[i] = ValueCount{Value: g.Keys[0], Count: g.Count}
	}
	return out
}

// Unique returns up to n distinct non-null values of col in first-seen order.
func (f *Frame) Unique(col string, n int) []string {
	if f == nil {
		return nil
	}
	seen := map[string]bool{}
	var out []string
	for _, r := range f.Rows {
		if r[col] == nil {
			continue
		}
		s := CellString(r[col])
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
		if n > 0 && len(out) == n {
			break
		}
	}
	return out
}

// SortBy returns the rows ordered by the numeric value of col. Rows without a
// numeric value sort last regardless of direction.
func (f *Frame) SortBy(col string, ascending bool) *Frame {
	if f == nil {
		return New(nil, nil)
	}
	rows := make([]Row, len(f.Rows))
	copy(rows, f.Rows)
	sort.SliceStable(rows, func(i, j int) bool {
		vi, oki := ToFloat(rows[i][col])
		vj, okj := ToFloat(rows[j][col])
		switch {
		case oki && !okj:
			return true
		case !oki:
			return false
		case ascending:
			return vi < vj
		default:
			return vi > vj
		}
	})
	return &Frame{Columns: f.Columns, Rows: rows}
}

// Summary is the descriptive statistics of a numeric column.
type Summary struct {
	Count  int
	Mean   float64
	Median float64
	Min    float64
	Max    float64
	Std    float64
	P90    float64
}

// Describe computes summary statistics over the numeric cells of col.
func (f *Frame) Describe(col string) (Summary, error) {
	return Describe(f.Floats(col))
}

// Describe computes summary statistics for a slice of values. The standard
// deviation is the sample deviation, zero for a single value.
func Describe(values []float64) (Summary, error) {
	if len(values) == 0 {
		return Summary{}, eris.New("dataset: describe empty series")
	}
	data := stats.Float64Data(values)
	s := Summary{Count: len(values)}
	var err error
	if s.Mean, err = stats.Mean(data); err != nil {
		return Summary{}, eris.Wrap(err, "dataset: mean")
	}
	if s.Median, err = stats.Median(data); err != nil {
		return Summary{}, eris.Wrap(err, "dataset: median")
	}
	if s.Min, err = stats.Min(data); err != nil {
		return Summary{}, eris.Wrap(err, "dataset: min")
	}
	if s.Max, err = stats.Max(data); err != nil {
		return Summary{}, eris.Wrap(err, "dataset: max")
	}
	if s.P90, err = stats.Percentile(data, 90); err != nil {
		return Summary{}, eris.Wrap(err, "dataset: p90")
	}
	if len(values) > 1 {
		if s.Std, err = stats.StandardDeviationSample(data); err != nil {
			return Summary{}, eris.Wrap(err, "dataset: std")
		}
	}
	return s, nil
}

// NumericColumns returns the columns whose non-null cells all coerce to
// numbers, with at least one numeric cell.
func (f *Frame) NumericColumns() []string {
	if f == nil {
		return nil
	}
	var out []string
	for _, col := range f.Columns {
		numeric := 0
		ok := true
		for _, r := range f.Rows {
			v := r[col]
			if v == nil {
				continue
			}
			if _, isNum := ToFloat(v); !isNum {
				if _, isStr := v.(string); isStr {
					ok = false
					break
				}
				continue
			}
			numeric++
		}
		if ok && numeric > 0 {
			out = append(out, col)
		}
	}
	return out
}

// Correlation is the Pearson correlation of one feature with a target.
type Correlation struct {
	Feature string
	Abs     float64
}

// CorrTop ranks numeric columns by absolute correlation with target.
func (f *Frame) CorrTop(target string, n int) ([]Correlation, error) {
	numeric := f.NumericColumns()
	found := false
	for _, c := range numeric {
		found = found || c == target
	}
	if !found {
		return nil, eris.Errorf("dataset: target is not numeric: %s", target)
	}
	var out []Correlation
	for _, col := range numeric {
		if col == target {
			continue
		}
		var xs, ys []float64
		for _, r := range f.Rows {
			x, okx := ToFloat(r[col])
			y, oky := ToFloat(r[target])
			if okx && oky {
				xs = append(xs, x)
				ys = append(ys, y)
			}
		}
		if len(xs) < 2 {
			continue
		}
		c, err := stats.Correlation(xs, ys)
		if err != nil || math.IsNaN(c) {
			continue
		}
		if c < 0 {
			c = -c
		}
		out = append(out, Correlation{Feature: col, Abs: c})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Abs != out[j].Abs {
			return out[i].Abs > out[j].Abs
		}
		return out[i].Feature < out[j].Feature
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out, nil
}

// FilterEquals keeps rows whose col renders exactly as value.
func (f *Frame) FilterEquals(col string, value any) *Frame {
	want := CellString(value)
	return f.Filter(func(r Row) bool { return r[col] != nil && CellString(r[col]) == want })
}

// FilterIn keeps rows whose col renders as any of values.
func (f *Frame) FilterIn(col string, values []any) *Frame {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[CellString(v)] = true
	}
	return f.Filter(func(r Row) bool { return r[col] != nil && set[CellString(r[col])] })
}

// FilterRange keeps rows whose numeric col lies within the optional bounds.
func (f *Frame) FilterRange(col string, lo, hi *float64) *Frame {
	return f.Filter(func(r Row) bool {
		v, ok := ToFloat(r[col])
		if !ok {
			return false
		}
		if lo != nil && v < *lo {
			return false
		}
		if hi != nil && v > *hi {
			return false
		}
		return true
	})
}

// PivotTable spreads value aggregated by agg across the index columns (rows)
// and the distinct values of the columns columns (one output column each).
// Missing cells are 0. Output rows are ordered by index keys.
func (f *Frame) PivotTable(index, columns []string, value, agg string) *Frame {
	if len(columns) == 0 {
		groups := f.GroupBy(index, value)
		sort.SliceStable(groups, func(i, j int) bool {
			return strings.Join(groups[i].Keys, "\x1f") < strings.Join(groups[j].Keys, "\x1f")
		})
		cols := append(append([]string{}, index...), value)
		rows := make([]Row, len(groups))
		for i, g := range groups {
			r := Row{}
			for k, col := range index {
				r[col] = g.Keys[k]
			}
			r[value] = g.Value(agg)
			rows[i] = r
		}
		return New(cols, rows)
	}

	all := append(append([]string{}, index...), columns...)
	groups := f.GroupBy(all, value)
	rowIndex := map[string]Row{}
	var rowOrder []string
	spread := map[string]bool{}
	for _, g := range groups {
		rk := strings.Join(g.Keys[:len(index)], "\x1f")
		ck := strings.Join(g.Keys[len(index):], " | ")
		spread[ck] = true
		r, ok := rowIndex[rk]
		if !ok {
			r = Row{}
			for k, col := range index {
				r[col] = g.Keys[k]
			}
			rowIndex[rk] = r
			rowOrder = append(rowOrder, rk)
		}
		r[ck] = g.Value(agg)
	}
	spreadCols := make([]string, 0, len(spread))
	for c := range spread {
		spreadCols = append(spreadCols, c)
	}
	sort.Strings(spreadCols)
	sort.Strings(rowOrder)

	rows := make([]Row, len(rowOrder))
	for i, rk := range rowOrder {
		r := rowIndex[rk]
		for _, c := range spreadCols {
			if _, ok := r[c]; !ok {
				r[c] = 0.0
			}
		}
		rows[i] = r
	}
	return New(append(append([]string{}, index...), spreadCols...), rows)
}
