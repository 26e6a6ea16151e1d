package advisor

import (
	"bytes"
	"encoding/json"
	"math"
	"sort"
	"strings"

	"github.com/grantscope/advisor/internal/dataset"
	"github.com/grantscope/advisor/internal/model"
)

// RawRecommendations is the undecoded stage 5 model output. Items are kept
// raw so each can be coerced independently.
type RawRecommendations struct {
	FunderCandidates []json.RawMessage `json:"funder_candidates"`
	ResponseTuning   []json.RawMessage `json:"response_tuning"`
	SearchQueries    []json.RawMessage `json:"search_queries"`
}

func isNullishName(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "nan", "none", "null":
		return true
	}
	return false
}

func isPlaceholderName(s string) bool {
	if isNullishName(s) {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "n/a", "unavailable", "unknown":
		return true
	}
	return false
}

// CoerceFunderCandidate decodes one model-produced candidate. It accepts,
// in order: a candidate object with exactly the known fields, a bare string
// naming the funder, or a loose mapping whose name comes from "name",
// "funder_name" or "label". Null-ish names are rejected.
func CoerceFunderCandidate(raw json.RawMessage) (model.FunderCandidate, bool) {
	if fc, ok := decodeStrictCandidate(raw); ok {
		return fc, true
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return model.FunderCandidate{}, false
	}
	switch x := v.(type) {
	case string:
		if isNullishName(x) {
			return model.FunderCandidate{}, false
		}
		return model.FunderCandidate{Name: strings.TrimSpace(x), GroundedDPIDs: []string{}}, true
	case map[string]any:
		return looseCandidate(x)
	}
	return model.FunderCandidate{}, false
}

func decodeStrictCandidate(raw json.RawMessage) (model.FunderCandidate, bool) {
	var fc model.FunderCandidate
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&fc); err != nil || isNullishName(fc.Name) {
		return model.FunderCandidate{}, false
	}
	fc.Name = strings.TrimSpace(fc.Name)
	if fc.GroundedDPIDs == nil {
		fc.GroundedDPIDs = []string{}
	}
	return fc, true
}

func looseCandidate(m map[string]any) (model.FunderCandidate, bool) {
	var name string
	for _, k := range []string{"name", "funder_name", "label"} {
		if v, ok := m[k]; ok && !dataset.IsNullish(v) {
			name = strings.TrimSpace(dataset.CellString(v))
			break
		}
	}
	if isNullishName(name) {
		return model.FunderCandidate{}, false
	}
	score, _ := dataset.ToFloat(m["score"])
	rationale := ""
	if r, ok := m["rationale"]; ok && r != nil {
		rationale = dataset.CellString(r)
	}
	return model.FunderCandidate{
		Name:          name,
		Score:         score,
		Rationale:     rationale,
		GroundedDPIDs: groundingIDs(m["grounded_dp_ids"]),
	}, true
}

func groundingIDs(v any) []string {
	out := []string{}
	list, ok := v.([]any)
	if !ok {
		return out
	}
	for _, g := range list {
		if g == nil {
			continue
		}
		if s := dataset.CellString(g); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// CoerceTuningTip accepts a tip object or a bare string.
func CoerceTuningTip(raw json.RawMessage) (model.TuningTip, bool) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return model.TuningTip{}, false
	}
	switch x := v.(type) {
	case string:
		if s := strings.TrimSpace(x); s != "" {
			return model.TuningTip{Text: s, GroundedDPIDs: []string{}}, true
		}
	case map[string]any:
		for _, k := range []string{"text", "tip"} {
			if s, ok := x[k].(string); ok && strings.TrimSpace(s) != "" {
				return model.TuningTip{Text: strings.TrimSpace(s), GroundedDPIDs: groundingIDs(x["grounded_dp_ids"])}, true
			}
		}
	}
	return model.TuningTip{}, false
}

// CoerceSearchQuery accepts a query object or a bare string.
func CoerceSearchQuery(raw json.RawMessage) (model.SearchQuery, bool) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return model.SearchQuery{}, false
	}
	switch x := v.(type) {
	case string:
		if s := strings.TrimSpace(x); s != "" {
			return model.SearchQuery{Query: s}, true
		}
	case map[string]any:
		notes, _ := x["notes"].(string)
		for _, k := range []string{"query", "q", "text"} {
			if s, ok := x[k].(string); ok && strings.TrimSpace(s) != "" {
				return model.SearchQuery{Query: strings.TrimSpace(s), Notes: notes}, true
			}
		}
	}
	return model.SearchQuery{}, false
}

// GroundedFunderIDs returns up to three ids of data points that aggregate by
// funder name.
func GroundedFunderIDs(dps []model.DataPoint) []string {
	out := []string{}
	for _, dp := range dps {
		if dp.Method == model.ToolGroupBySum && contains(paramStrings(dp.Params, "by"), dataset.ColFunderName) {
			out = append(out, dp.ID)
			if len(out) == 3 {
				break
			}
		}
	}
	return out
}

type fundingTier string

const (
	tierStrict fundingTier = "strict"
	tierBroad  fundingTier = "broad"
)

// FallbackFunderCandidates ranks funders directly from the frame. The strict
// tier aggregates over the needs-filtered rows; when it yields fewer than
// minN names, the broad tier tops up from the unfiltered frame. At most
// minN*2 candidates are returned, highest score first.
func FallbackFunderCandidates(f *dataset.Frame, needs model.StructuredNeeds, dps []model.DataPoint, minN int) []model.FunderCandidate {
	if minN <= 0 {
		minN = 5
	}
	out := []model.FunderCandidate{}
	if f.Empty() || !f.HasColumn(dataset.ColFunderName) {
		return out
	}
	grounded := GroundedFunderIDs(dps)

	filtered, report := dataset.ApplyNeedsFilters(f, needs)
	out = append(out, rankFunders(filtered, report, tierStrict, max(minN, 10), grounded)...)

	if len(out) < minN {
		seen := map[string]bool{}
		for _, c := range out {
			seen[c.Name] = true
		}
		for _, c := range rankFunders(f, dataset.FilterReport{}, tierBroad, max(minN*2, 10), grounded) {
			if len(out) >= minN {
				break
			}
			if !seen[c.Name] {
				seen[c.Name] = true
				out = append(out, c)
			}
		}
	}

	sortCandidates(out)
	if len(out) > minN*2 {
		out = out[:minN*2]
	}
	return out
}

// sortCandidates orders by score descending, then name.
func sortCandidates(cs []model.FunderCandidate) {
	sort.SliceStable(cs, func(i, j int) bool {
		if cs[i].Score != cs[j].Score {
			return cs[i].Score > cs[j].Score
		}
		return cs[i].Name < cs[j].Name
	})
}

func rankFunders(f *dataset.Frame, report dataset.FilterReport, tier fundingTier, topN int, grounded []string) []model.FunderCandidate {
	useAmount := f.HasColumn(dataset.ColAmountUSD)
	basis, agg, value := "grant count", "count", ""
	if useAmount {
		basis, agg, value = "total amount", "sum", dataset.ColAmountUSD
	}

	var groups []dataset.Group
	for _, g := range f.GroupBy([]string{dataset.ColFunderName}, value) {
		if !isNullishName(g.Keys[0]) {
			groups = append(groups, g)
		}
	}
	sort.SliceStable(groups, func(i, j int) bool {
		vi, vj := groups[i].Value(agg), groups[j].Value(agg)
		if vi != vj {
			return vi > vj
		}
		return groups[i].Keys[0] < groups[j].Keys[0]
	})
	if len(groups) > topN {
		groups = groups[:topN]
	}
	if len(groups) == 0 {
		return nil
	}

	maxVal := groups[0].Value(agg)
	if maxVal <= 0 {
		maxVal = 1
	}

	var rationale string
	if parts := filterParts(report); len(parts) > 0 {
		rationale = "Top funder by " + basis + " for " + strings.Join(parts, "; ")
	} else {
		rationale = "Top funder overall by " + basis
	}
	if tier == tierBroad {
		rationale += " (broadened filters)"
	} else {
		rationale += " (strict filters)"
	}

	out := make([]model.FunderCandidate, 0, len(groups))
	for _, g := range groups {
		score := math.Max(0.01, g.Value(agg)/maxVal)
		out = append(out, model.FunderCandidate{
			Name:          g.Keys[0],
			Score:         math.Round(score*1e4) / 1e4,
			Rationale:     rationale,
			GroundedDPIDs: append([]string{}, grounded...),
		})
	}
	return out
}

func filterParts(report dataset.FilterReport) []string {
	if !report.Applied {
		return nil
	}
	var parts []string
	add := func(label string, terms []string) {
		if len(terms) == 0 {
			return
		}
		if len(terms) > 3 {
			terms = terms[:3]
		}
		parts = append(parts, label+": "+strings.Join(terms, ", "))
	}
	add("subjects", report.Subjects)
	add("populations", report.Populations)
	add("geographies", report.Geographies)
	return parts
}

// mergeCandidates appends candidates from extra whose names are not yet in
// base, stopping at limit.
func mergeCandidates(base, extra []model.FunderCandidate, limit int) []model.FunderCandidate {
	seen := map[string]bool{}
	for _, c := range base {
		seen[c.Name] = true
	}
	for _, c := range extra {
		if len(base) >= limit {
			break
		}
		if !seen[c.Name] {
			seen[c.Name] = true
			base = append(base, c)
		}
	}
	if len(base) > limit {
		base = base[:limit]
	}
	return base
}

func allNonPositive(cs []model.FunderCandidate) bool {
	for _, c := range cs {
		if c.Score > 0 {
			return false
		}
	}
	return true
}

var baseTips = []string{
	"Emphasize measurable outcomes and an evaluation plan tied to your target populations.",
	"Reference previously funded work in similar subject areas to show fit.",
	"Highlight partnerships with local organizations to strengthen geographic relevance.",
	"Align the budget narrative with the typical award sizes seen in the data.",
	"Explain how the program sustains and scales beyond the grant period.",
	"Include data-driven metrics that connect directly to funder priorities.",
	"Lay out a clear theory of change with a simple logic model.",
}

var genericQueries = []string{
	"foundations funding education youth recent grants",
	"corporate giving STEM after-school Texas",
	"foundations poverty alleviation grants 2024",
	"corporate social responsibility grants diversity equity",
	"community foundation grants nonprofit capacity building",
	"family foundations open letters of inquiry",
}

func headTokens(tokens []string, n int) []string {
	t := dataset.TokensLower(tokens)
	if len(t) > n {
		t = t[:n]
	}
	return t
}

// PadRecommendations tops up short tip and query lists: tips to seven from
// the base list plus needs-aware tips, queries to at least five from needs
// terms and then generic searches, capped at seven.
func PadRecommendations(rec model.Recommendations, needs model.StructuredNeeds, grounded []string) model.Recommendations {
	if len(rec.ResponseTuning) < 7 {
		texts := append([]string{}, baseTips...)
		if s := headTokens(needs.Subjects, 3); len(s) > 0 {
			texts = append(texts, "Tailor the narrative to your subject focus ("+strings.Join(s, ", ")+") and cite the top subject patterns in the data.")
		}
		if p := headTokens(needs.Populations, 2); len(p) > 0 {
			texts = append(texts, "Center beneficiary needs ("+strings.Join(p, ", ")+") and ground claims in population-level data points.")
		}
		if g := headTokens(needs.Geographies, 2); len(g) > 0 {
			texts = append(texts, "Localize impact for "+strings.Join(g, ", ")+" with examples from those areas.")
		}
		tips := append([]model.TuningTip{}, rec.ResponseTuning...)
		for _, t := range texts {
			if len(tips) >= 7 {
				break
			}
			tips = append(tips, model.TuningTip{Text: t, GroundedDPIDs: append([]string{}, grounded...)})
		}
		rec.ResponseTuning = tips
	}

	if len(rec.SearchQueries) < 5 {
		queries := append([]model.SearchQuery{}, rec.SearchQueries...)
		seen := map[string]bool{}
		for _, q := range queries {
			seen[q.Query] = true
		}
		var terms []string
		terms = append(terms, headTokens(needs.Subjects, 2)...)
		terms = append(terms, headTokens(needs.Populations, 1)...)
		terms = append(terms, headTokens(needs.Geographies, 1)...)
		for _, t := range terms {
			q := "foundations funding " + strings.ReplaceAll(t, "_", " ") + " recent grants"
			if !seen[q] {
				seen[q] = true
				queries = append(queries, model.SearchQuery{Query: q})
			}
		}
		for _, q := range genericQueries {
			if len(queries) >= 5 {
				break
			}
			if !seen[q] {
				seen[q] = true
				queries = append(queries, model.SearchQuery{Query: q})
			}
		}
		if len(queries) > 7 {
			queries = queries[:7]
		}
		rec.SearchQueries = queries
	}
	return rec
}

// BuildRecommendations coerces raw model output and applies the engine
// fallback: when fewer than minCandidates usable candidates remain, or none
// scores above zero, dataset-ranked funders are merged in (up to
// minCandidates*2). Tips and queries are padded last.
func BuildRecommendations(raw RawRecommendations, f *dataset.Frame, needs model.StructuredNeeds, dps []model.DataPoint, minCandidates int) model.Recommendations {
	if minCandidates <= 0 {
		minCandidates = 5
	}
	rec := model.Recommendations{
		FunderCandidates: []model.FunderCandidate{},
		ResponseTuning:   []model.TuningTip{},
		SearchQueries:    []model.SearchQuery{},
	}
	for _, it := range raw.FunderCandidates {
		if fc, ok := CoerceFunderCandidate(it); ok {
			rec.FunderCandidates = append(rec.FunderCandidates, fc)
		}
	}
	for _, it := range raw.ResponseTuning {
		if tip, ok := CoerceTuningTip(it); ok {
			rec.ResponseTuning = append(rec.ResponseTuning, tip)
		}
	}
	for _, it := range raw.SearchQueries {
		if q, ok := CoerceSearchQuery(it); ok {
			rec.SearchQueries = append(rec.SearchQueries, q)
		}
	}

	if len(rec.FunderCandidates) < minCandidates || allNonPositive(rec.FunderCandidates) {
		fb := FallbackFunderCandidates(f, needs, dps, minCandidates)
		rec.FunderCandidates = mergeCandidates(rec.FunderCandidates, fb, minCandidates*2)
	}
	return PadRecommendations(rec, needs, GroundedFunderIDs(dps))
}
