package advisor

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grantscope/advisor/internal/dataset"
	"github.com/grantscope/advisor/internal/model"
)

func TestFallbackFunderCandidates_MeetsMinimum(t *testing.T) {
	for _, needs := range []model.StructuredNeeds{{}, stemNeeds()} {
		cands := FallbackFunderCandidates(sampleFrame(), needs, nil, 5)
		require.GreaterOrEqual(t, len(cands), 5)
		assert.LessOrEqual(t, len(cands), 10)

		seen := map[string]bool{}
		for i, c := range cands {
			assert.False(t, seen[c.Name], "duplicate %s", c.Name)
			seen[c.Name] = true
			assert.Greater(t, c.Score, 0.0)
			assert.LessOrEqual(t, c.Score, 1.0)
			if i > 0 {
				assert.GreaterOrEqual(t, cands[i-1].Score, c.Score)
			}
		}
	}
}

func TestFallbackFunderCandidates_Scores(t *testing.T) {
	cands := FallbackFunderCandidates(sampleFrame(), model.StructuredNeeds{}, nil, 5)
	require.Len(t, cands, 10)
	assert.Equal(t, "Gates Foundation", cands[0].Name)
	assert.Equal(t, 1.0, cands[0].Score)
	assert.Equal(t, 0.8889, cands[1].Score)
	assert.Equal(t, "Top funder overall by total amount (strict filters)", cands[0].Rationale)
}

func TestFallbackFunderCandidates_NullishNamesNeverSurface(t *testing.T) {
	names := []any{"A", nil, "nan", " ", "B", "null", "C"}
	rows := make([]dataset.Row, len(names))
	for i, n := range names {
		rows[i] = dataset.Row{dataset.ColFunderName: n, dataset.ColAmountUSD: float64(10 * (i + 1))}
	}
	f := dataset.New([]string{dataset.ColFunderName, dataset.ColAmountUSD}, rows)

	cands := FallbackFunderCandidates(f, model.StructuredNeeds{}, nil, 5)
	assert.ElementsMatch(t, []string{"A", "B", "C"}, candidateNames(cands))
}

func TestFallbackFunderCandidates_NoFunderColumn(t *testing.T) {
	f := dataset.New([]string{dataset.ColAmountUSD}, []dataset.Row{{dataset.ColAmountUSD: 10.0}})
	cands := FallbackFunderCandidates(f, stemNeeds(), nil, 5)
	assert.NotNil(t, cands)
	assert.Empty(t, cands)

	assert.Empty(t, FallbackFunderCandidates(nil, stemNeeds(), nil, 5))
}

func TestFallbackFunderCandidates_CountBasis(t *testing.T) {
	f := dataset.New([]string{dataset.ColFunderName}, []dataset.Row{
		{dataset.ColFunderName: "A"},
		{dataset.ColFunderName: "B"},
		{dataset.ColFunderName: "A"},
	})
	cands := FallbackFunderCandidates(f, model.StructuredNeeds{}, nil, 5)
	require.Len(t, cands, 2)
	assert.Equal(t, "A", cands[0].Name)
	assert.Equal(t, 1.0, cands[0].Score)
	assert.Equal(t, 0.5, cands[1].Score)
	assert.Contains(t, cands[0].Rationale, "grant count")
}

func TestFallbackFunderCandidates_TiesBreakByName(t *testing.T) {
	f := dataset.New([]string{dataset.ColFunderName, dataset.ColAmountUSD}, []dataset.Row{
		{dataset.ColFunderName: "Beta", dataset.ColAmountUSD: 100.0},
		{dataset.ColFunderName: "Alpha", dataset.ColAmountUSD: 100.0},
		{dataset.ColFunderName: "Gamma", dataset.ColAmountUSD: 300.0},
	})
	cands := FallbackFunderCandidates(f, model.StructuredNeeds{}, nil, 5)
	assert.Equal(t, []string{"Gamma", "Alpha", "Beta"}, candidateNames(cands))
}

func TestGroundedFunderIDs(t *testing.T) {
	dps := []model.DataPoint{
		{ID: "DP-1", Method: model.ToolGroupBySum, Params: map[string]any{"by": []any{"funder_name"}}},
		{ID: "DP-2", Method: model.ToolValueCounts, Params: map[string]any{"column": "funder_name"}},
		{ID: "DP-3", Method: model.ToolGroupBySum, Params: map[string]any{"by": "funder_name"}},
		{ID: "DP-4", Method: model.ToolGroupBySum, Params: map[string]any{"by": []any{"year_issued"}}},
	}
	assert.Equal(t, []string{"DP-1", "DP-3"}, GroundedFunderIDs(dps))
	assert.Equal(t, []string{}, GroundedFunderIDs(nil))
}

func TestCoerceFunderCandidate(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		want  model.FunderCandidate
		valid bool
	}{
		{
			name:  "structured",
			raw:   `{"name": "Gates", "score": 0.9, "rationale": "fit", "grounded_dp_ids": ["DP-1"]}`,
			want:  model.FunderCandidate{Name: "Gates", Score: 0.9, Rationale: "fit", GroundedDPIDs: []string{"DP-1"}},
			valid: true,
		},
		{
			name:  "bare string",
			raw:   `"  Ford Foundation "`,
			want:  model.FunderCandidate{Name: "Ford Foundation", GroundedDPIDs: []string{}},
			valid: true,
		},
		{
			name:  "loose funder_name with string score",
			raw:   `{"funder_name": "Kellogg", "score": "0.7", "grounded_dp_ids": ["DP-2", 3]}`,
			want:  model.FunderCandidate{Name: "Kellogg", Score: 0.7, GroundedDPIDs: []string{"DP-2", "3"}},
			valid: true,
		},
		{
			name:  "label when name is null",
			raw:   `{"name": null, "label": "Moody", "score": "high"}`,
			want:  model.FunderCandidate{Name: "Moody", GroundedDPIDs: []string{}},
			valid: true,
		},
		{
			name:  "name wins over funder_name",
			raw:   `{"name": "First", "funder_name": "Second", "extra": true}`,
			want:  model.FunderCandidate{Name: "First", GroundedDPIDs: []string{}},
			valid: true,
		},
		{name: "nullish string", raw: `"NaN"`},
		{name: "nullish object", raw: `{"name": " none "}`},
		{name: "number", raw: `42`},
		{name: "garbage", raw: `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := CoerceFunderCandidate(json.RawMessage(tt.raw))
			assert.Equal(t, tt.valid, ok)
			if tt.valid {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestCoerceTipsAndQueries(t *testing.T) {
	tip, ok := CoerceTuningTip(json.RawMessage(`"Lead with outcomes"`))
	require.True(t, ok)
	assert.Equal(t, "Lead with outcomes", tip.Text)

	tip, ok = CoerceTuningTip(json.RawMessage(`{"text": "Cite DP-1", "grounded_dp_ids": ["DP-1"]}`))
	require.True(t, ok)
	assert.Equal(t, []string{"DP-1"}, tip.GroundedDPIDs)

	_, ok = CoerceTuningTip(json.RawMessage(`{"text": "  "}`))
	assert.False(t, ok)

	q, ok := CoerceSearchQuery(json.RawMessage(`"stem grants texas"`))
	require.True(t, ok)
	assert.Equal(t, "stem grants texas", q.Query)

	_, ok = CoerceSearchQuery(json.RawMessage(`7`))
	assert.False(t, ok)
}

func rawList(items ...string) []json.RawMessage {
	out := make([]json.RawMessage, len(items))
	for i, it := range items {
		out[i] = json.RawMessage(it)
	}
	return out
}

func TestBuildRecommendations_FillsFromDataset(t *testing.T) {
	raw := RawRecommendations{
		FunderCandidates: rawList(`{"name": "Gates Foundation", "score": 0.9}`, `"Custom Funder"`, `"null"`),
	}
	rec := BuildRecommendations(raw, sampleFrame(), model.StructuredNeeds{}, nil, 5)

	names := candidateNames(rec.FunderCandidates)
	require.Len(t, names, 10)
	assert.Equal(t, []string{"Gates Foundation", "Custom Funder"}, names[:2])
	assert.NotContains(t, names, "null")
	assert.Len(t, rec.ResponseTuning, 7)
	assert.GreaterOrEqual(t, len(rec.SearchQueries), 5)
	assert.LessOrEqual(t, len(rec.SearchQueries), 7)
}

func TestPadRecommendations_EmptyNeedsAndNoModelOutput(t *testing.T) {
	rec := PadRecommendations(model.Recommendations{}, model.StructuredNeeds{}, nil)
	assert.Len(t, rec.ResponseTuning, 7)
	assert.GreaterOrEqual(t, len(rec.SearchQueries), 5)
	assert.LessOrEqual(t, len(rec.SearchQueries), 7)

	seen := map[string]bool{}
	for _, q := range rec.SearchQueries {
		assert.NotEmpty(t, q.Query)
		assert.False(t, seen[q.Query], "duplicate query %q", q.Query)
		seen[q.Query] = true
	}
}

func TestPadRecommendations_ModelQueriesOverlapGeneric(t *testing.T) {
	in := model.Recommendations{SearchQueries: []model.SearchQuery{
		{Query: genericQueries[0]}, {Query: genericQueries[1]}, {Query: genericQueries[2]}, {Query: genericQueries[3]},
	}}
	rec := PadRecommendations(in, model.StructuredNeeds{}, nil)
	assert.GreaterOrEqual(t, len(rec.SearchQueries), 5)
}

func TestBuildRecommendations_EmptyEverything(t *testing.T) {
	rec := BuildRecommendations(RawRecommendations{}, sampleFrame(), model.StructuredNeeds{}, nil, 5)
	assert.GreaterOrEqual(t, len(rec.SearchQueries), 5)
	assert.Len(t, rec.ResponseTuning, 7)
}

func TestBuildRecommendations_AllZeroScoresTriggerFallback(t *testing.T) {
	raw := RawRecommendations{FunderCandidates: rawList(`"X1"`, `"X2"`, `"X3"`, `"X4"`, `"X5"`, `"X6"`)}
	rec := BuildRecommendations(raw, sampleFrame(), model.StructuredNeeds{}, nil, 5)
	require.Len(t, rec.FunderCandidates, 10)
	assert.Equal(t, "Gates Foundation", rec.FunderCandidates[6].Name)
}

func TestBuildRecommendations_KeepsStrongModelOutput(t *testing.T) {
	raw := RawRecommendations{
		FunderCandidates: rawList(`"A"`, `{"name": "B", "score": 0.5}`, `"C"`, `"D"`, `"E"`),
		SearchQueries:    rawList(`"q1"`, `"q2"`, `"q3"`, `"q4"`, `"q5"`, `"q6"`),
	}
	rec := BuildRecommendations(raw, sampleFrame(), model.StructuredNeeds{}, nil, 5)
	assert.Equal(t, []string{"A", "B", "C", "D", "E"}, candidateNames(rec.FunderCandidates))
	assert.Len(t, rec.SearchQueries, 6)
}

func TestPadRecommendations_UsesNeeds(t *testing.T) {
	rec := PadRecommendations(model.Recommendations{}, stemNeeds(), []string{"DP-1"})
	require.Len(t, rec.ResponseTuning, 7)
	assert.Equal(t, []string{"DP-1"}, rec.ResponseTuning[0].GroundedDPIDs)
	require.Len(t, rec.SearchQueries, 5)
	assert.Equal(t, "foundations funding stem recent grants", rec.SearchQueries[0].Query)
}

func TestApplyQualityGates_ClampsAndDrops(t *testing.T) {
	rec := model.Recommendations{FunderCandidates: []model.FunderCandidate{
		{Name: "A", Score: -0.5},
		{Name: "B", Score: 1.7},
		{Name: "N/A", Score: 0.4},
		{Name: "unknown", Score: 0.4},
	}}
	got, gate := ApplyQualityGates(rec, nil, model.StructuredNeeds{}, nil, 8)
	require.Len(t, got.FunderCandidates, 2)
	assert.Equal(t, 0.0, got.FunderCandidates[0].Score)
	assert.Equal(t, 1.0, got.FunderCandidates[1].Score)
	assert.Equal(t, 2, gate.Dropped)
	assert.Equal(t, 2, gate.Clamped)
	assert.False(t, gate.Refilled)
}

func TestApplyQualityGates_Refills(t *testing.T) {
	rec := model.Recommendations{FunderCandidates: []model.FunderCandidate{{Name: "Custom", Score: 0.8}}}
	got, gate := ApplyQualityGates(rec, sampleFrame(), model.StructuredNeeds{}, nil, 8)
	assert.True(t, gate.Refilled)
	assert.Len(t, got.FunderCandidates, 11)
	assert.Equal(t, "Custom", got.FunderCandidates[0].Name)
	for _, c := range got.FunderCandidates {
		assert.GreaterOrEqual(t, c.Score, 0.0)
		assert.LessOrEqual(t, c.Score, 1.0)
	}
}

func TestEnsureMinSections(t *testing.T) {
	dps := []model.DataPoint{{ID: "DP-A", Title: "One"}, {ID: "DP-B", Title: "Two"}}
	got := EnsureMinSections([]model.ReportSection{{Title: "Synthesis", MarkdownBody: "x"}}, dps, 8)
	require.Len(t, got, 8)
	assert.Equal(t, "Synthesis", got[0].Title)

	titles := map[string]bool{}
	for _, s := range got {
		assert.True(t, s.Valid())
		assert.False(t, titles[s.Title])
		titles[s.Title] = true
	}
	assert.Contains(t, got[1].MarkdownBody, "(Grounded in One (DP-A), Two (DP-B))")

	assert.Len(t, EnsureMinSections(got, dps, 3), 8)
}

func TestEnsureMinSections_BeyondTaxonomy(t *testing.T) {
	full := DeterministicSections(nil)
	for _, kind := range sectionTypes[8:] {
		full = append(full, SectionForType(kind, nil))
	}
	require.Len(t, full, 12)

	got := EnsureMinSections(full, nil, 14)
	require.Len(t, got, 14)
	assert.Equal(t, "Additional Insights 13", got[12].Title)
	assert.Equal(t, "Additional Insights 14", got[13].Title)
}

func TestEnsureMinSections_DropsInvalid(t *testing.T) {
	in := []model.ReportSection{
		{Title: "", MarkdownBody: "orphan body"},
		{Title: "Synthesis", MarkdownBody: "kept"},
		{Title: "Empty Body", MarkdownBody: "   "},
	}
	got := EnsureMinSections(in, nil, 8)
	require.Len(t, got, 8)
	assert.Equal(t, "Synthesis", got[0].Title)
	for _, s := range got {
		assert.True(t, s.Valid(), "section %q", s.Title)
		assert.NotEqual(t, "Empty Body", s.Title)
	}
}

func TestBudgetReality(t *testing.T) {
	in := stemInterview()
	_, ok := BudgetReality{}.Section(context.Background(), in, sampleFrame())
	assert.False(t, ok)

	in.BudgetUSDRange = model.NewBudgetRange(100000, 500000)
	sec, ok := BudgetReality{}.Section(context.Background(), in, sampleFrame())
	require.True(t, ok)
	assert.Equal(t, "Budget Reality Check", sec.Title)
	assert.Contains(t, sec.MarkdownBody, "$100,000 to $500,000")

	_, ok = BudgetReality{}.Section(context.Background(), in, sampleFrame().DropColumn(dataset.ColAmountUSD))
	assert.False(t, ok)
}
