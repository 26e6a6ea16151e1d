package dataset

import (
	"sort"
	"strings"

	"github.com/grantscope/advisor/internal/model"
)

// TermKind selects which synonym rules apply when expanding a token.
type TermKind string

const (
	KindSubject    TermKind = "subject"
	KindPopulation TermKind = "population"
	KindGeography  TermKind = "geography"
	KindGeneric    TermKind = "generic"
)

// FilterReport records which needs fields actually narrowed the frame and
// the expanded terms used for each.
type FilterReport struct {
	Applied     bool     `json:"filters_applied"`
	Subjects    []string `json:"subjects,omitempty"`
	Populations []string `json:"populations,omitempty"`
	Geographies []string `json:"geographies,omitempty"`
}

var domainSynonyms = []struct {
	match []string
	add   []string
}{
	{[]string{"low_income", "low income", "low-income"}, []string{"low income", "low-income", "low income people", "low-income people"}},
	{[]string{"after_school", "after school", "after-school"}, []string{"after school", "after-school", "out-of-school", "out of school"}},
	{[]string{"youth", "children and youth"}, []string{"youth", "children and youth", "young people"}},
	{[]string{"students"}, []string{"students", "student"}},
	{[]string{"stem"}, []string{"stem", "science technology engineering mathematics"}},
	{[]string{"technology"}, []string{"technology", "information and communications", "it"}},
	{[]string{"education", "youth_education", "youth education"}, []string{"education", "education services", "elementary and secondary education", "youth development"}},
}

var geoNames = map[string][]string{
	"us":            {"united states", "u.s.", "usa"},
	"tx":            {"texas", "austin", "dallas", "houston", "san antonio", "fort worth"},
	"ca":            {"california", "los angeles", "san francisco", "san diego", "sacramento", "oakland"},
	"ny":            {"new york", "new york city", "brooklyn", "queens", "manhattan", "albany"},
	"fl":            {"florida", "miami", "orlando", "tampa", "jacksonville", "tallahassee"},
	"il":            {"illinois", "chicago", "springfield", "rockford"},
	"wa":            {"washington", "seattle", "spokane", "tacoma", "olympia"},
	"ma":            {"massachusetts", "boston", "cambridge", "worcester", "springfield"},
	"austin":        {"texas", "tx"},
	"dallas":        {"texas", "tx"},
	"houston":       {"texas", "tx"},
	"los angeles":   {"california", "ca"},
	"san francisco": {"california", "ca"},
	"chicago":       {"illinois", "il"},
	"seattle":       {"washington", "wa"},
	"boston":        {"massachusetts", "ma"},
	"miami":         {"florida", "fl"},
	"new york city": {"new york", "ny"},
}

// TokensLower trims and lowercases tokens, dropping empties.
func TokensLower(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if s := strings.ToLower(strings.TrimSpace(t)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// ExpandTokenVariants expands a normalized token into textual variants:
// separator swaps, domain synonyms, and for geographies code-to-name
// expansion. Order is deterministic.
func ExpandTokenVariants(token string, kind TermKind) []string {
	t := strings.ToLower(strings.TrimSpace(token))
	if t == "" {
		return nil
	}
	out := newOrderedSet()
	out.add(t)
	out.add(strings.ReplaceAll(t, "_", " "))
	out.add(strings.ReplaceAll(t, "_", "-"))
	out.add(strings.ReplaceAll(t, "-", " "))
	out.add(strings.ReplaceAll(t, "-", "_"))

	if kind != KindGeography {
		for _, syn := range domainSynonyms {
			for _, m := range syn.match {
				if t == m {
					out.add(syn.add...)
					break
				}
			}
		}
		return out.items
	}

	out.add(geoNames[t]...)
	switch {
	case t == "tx" || strings.Contains(t, "texas"):
		out.add("austin", "texas", "tx")
	case t == "ca" || strings.Contains(t, "california"):
		out.add("california", "ca")
	case strings.Contains(t, "austin"):
		out.add("texas", "tx", "austin")
	case strings.Contains(t, "los angeles"), strings.Contains(t, "san francisco"):
		out.add("california", "ca")
	}
	return out.items
}

// ExpandTerms expands every term and deduplicates preserving order.
func ExpandTerms(terms []string, kind TermKind) []string {
	out := newOrderedSet()
	for _, t := range terms {
		out.add(ExpandTokenVariants(t, kind)...)
	}
	return out.items
}

// ContainsAny reports whether the cell, lowercased, contains any term.
// An empty term list matches everything.
func ContainsAny(cell any, terms []string) bool {
	if len(terms) == 0 {
		return true
	}
	s := strings.ToLower(CellString(cell))
	for _, t := range terms {
		if t != "" && strings.Contains(s, t) {
			return true
		}
	}
	return false
}

// ApplyNeedsFilters narrows the frame to rows matching the needs. A field
// whose filter would remove every row is skipped; if the combined filter
// removes everything, the original frame is returned unfiltered.
func ApplyNeedsFilters(f *Frame, needs model.StructuredNeeds) (*Frame, FilterReport) {
	if f.Empty() {
		return f, FilterReport{}
	}

	keep := make([]bool, len(f.Rows))
	for i := range keep {
		keep[i] = true
	}
	report := FilterReport{}

	apply := func(col string, tokens []string, kind TermKind) []string {
		terms := ExpandTerms(TokensLower(tokens), kind)
		if len(terms) == 0 || !f.HasColumn(col) {
			return nil
		}
		mask := make([]bool, len(f.Rows))
		hit := false
		for i, r := range f.Rows {
			mask[i] = ContainsAny(r[col], terms)
			hit = hit || mask[i]
		}
		if !hit {
			return nil
		}
		for i := range keep {
			keep[i] = keep[i] && mask[i]
		}
		return terms
	}

	report.Subjects = apply(ColSubjectTran, needs.Subjects, KindSubject)
	report.Populations = apply(ColPopulationTran, needs.Populations, KindPopulation)
	report.Geographies = apply(ColGeoAreaTran, needs.Geographies, KindGeography)

	rows := make([]Row, 0, len(f.Rows))
	for i, r := range f.Rows {
		if keep[i] {
			rows = append(rows, r)
		}
	}
	if len(rows) == 0 {
		return f, FilterReport{}
	}
	report.Applied = len(report.Subjects)+len(report.Populations)+len(report.Geographies) > 0
	return &Frame{Columns: f.Columns, Rows: rows}, report
}

// CanonicalValueSamples returns up to ten frequent lowercased values for each
// of the translated subject, population and geography columns. Subject
// cells are split on semicolons first.
func CanonicalValueSamples(f *Frame) map[string][]string {
	out := map[string][]string{}
	for _, col := range []string{ColSubjectTran, ColPopulationTran, ColGeoAreaTran} {
		if !f.HasColumn(col) {
			continue
		}
		counts := map[string]int{}
		for _, r := range f.Rows {
			if r[col] == nil {
				continue
			}
			s := strings.ToLower(strings.TrimSpace(CellString(r[col])))
			parts := []string{s}
			if col == ColSubjectTran {
				parts = strings.Split(s, ";")
			}
			for _, p := range parts {
				counts[strings.TrimSpace(p)]++
			}
		}
		vals := make([]string, 0, len(counts))
		for v := range counts {
			vals = append(vals, v)
		}
		sort.Slice(vals, func(i, j int) bool {
			if counts[vals[i]] != counts[vals[j]] {
				return counts[vals[i]] > counts[vals[j]]
			}
			return vals[i] < vals[j]
		})
		if len(vals) > 12 {
			vals = vals[:12]
		}
		examples := make([]string, 0, len(vals))
		for _, v := range vals {
			if len(v) > 1 && !IsNullish(v) {
				examples = append(examples, v)
			}
		}
		if len(examples) > 10 {
			examples = examples[:10]
		}
		out[col] = examples
	}
	return out
}

type orderedSet struct {
	seen  map[string]bool
	items []string
}

func newOrderedSet() *orderedSet {
	return &orderedSet{seen: map[string]bool{}}
}

func (s *orderedSet) add(vals ...string) {
	for _, v := range vals {
		v = strings.ToLower(v)
		if v == "" || s.seen[v] {
			continue
		}
		s.seen[v] = true
		s.items = append(s.items, v)
	}
}
