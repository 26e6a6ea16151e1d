package advisor

import (
	"strings"

	"github.com/rotisserie/eris"

	"github.com/grantscope/advisor/internal/dataset"
	"github.com/grantscope/advisor/internal/model"
)

// FallbackOutline is the narrative outline used whenever planning falls back.
var FallbackOutline = []string{
	"Overview",
	"Funding Patterns",
	"Key Players",
	"Populations Served",
	"Geographic Focus",
	"Time Trends",
	"Award Sizes",
	"Actionable Insights",
	"Risks and Opportunities",
	"Next Steps",
}

// FallbackPlan returns the deterministic eight-metric plan.
func FallbackPlan() model.AnalysisPlan {
	return model.AnalysisPlan{
		MetricRequests: []model.MetricRequest{
			{
				Tool:   model.ToolGroupBySum,
				Params: map[string]any{"by": []any{dataset.ColFunderName}, "value": dataset.ColAmountUSD, "n": float64(10)},
				Title:  "Top Funders by Total Amount",
			},
			{
				Tool:   model.ToolValueCounts,
				Params: map[string]any{"column": dataset.ColSubjectTran, "n": float64(10)},
				Title:  "Subject Area Distribution",
			},
			{
				Tool:   model.ToolValueCounts,
				Params: map[string]any{"column": dataset.ColPopulationTran, "n": float64(10)},
				Title:  "Population Distribution",
			},
			{
				Tool:   model.ToolValueCounts,
				Params: map[string]any{"column": dataset.ColGeoAreaTran, "n": float64(10)},
				Title:  "Geographic Funding Patterns",
			},
			{
				Tool:   model.ToolPivotTable,
				Params: map[string]any{"index": []any{dataset.ColYearIssued}, "value": dataset.ColAmountUSD, "agg": "sum", "top": float64(20)},
				Title:  "Funding Trend by Year",
			},
			{
				Tool:   model.ToolDescribe,
				Params: map[string]any{"column": dataset.ColAmountUSD},
				Title:  "Award Amount Statistics",
			},
			{
				Tool:   model.ToolGroupBySum,
				Params: map[string]any{"by": []any{dataset.ColSubjectTran, dataset.ColPopulationTran}, "value": dataset.ColAmountUSD, "n": float64(15)},
				Title:  "Subject and Population Intersections",
			},
			{
				Tool:   model.ToolTopN,
				Params: map[string]any{"column": dataset.ColAmountUSD, "n": float64(10)},
				Title:  "Largest Awards",
			},
		},
		NarrativeOutline: append([]string(nil), FallbackOutline...),
	}
}

// sanitizePlan turns a decoded model response into a plan. Requests naming
// a tool outside the whitelist are dropped; a plan left with no requests is
// an error so the caller falls back.
func sanitizePlan(obj any) (model.AnalysisPlan, error) {
	m, ok := obj.(map[string]any)
	if !ok {
		return model.AnalysisPlan{}, eris.New("advisor: plan response is not an object")
	}
	plan := model.AnalysisPlan{NarrativeOutline: stringList(m["narrative_outline"])}
	items, _ := m["metric_requests"].([]any)
	for _, it := range items {
		req, ok := it.(map[string]any)
		if !ok {
			continue
		}
		tool, _ := req["tool"].(string)
		tool = strings.TrimSpace(tool)
		if !model.IsWhitelistedTool(tool) {
			continue
		}
		params, ok := req["params"].(map[string]any)
		if !ok {
			params = map[string]any{}
		}
		title, _ := req["title"].(string)
		if strings.TrimSpace(title) == "" {
			title = tool
		}
		plan.MetricRequests = append(plan.MetricRequests, model.MetricRequest{Tool: tool, Params: params, Title: title})
	}
	if len(plan.MetricRequests) == 0 {
		return model.AnalysisPlan{}, eris.New("advisor: plan has no whitelisted metric requests")
	}
	return plan, nil
}

// EnsureFunderMetric prepends a funder-level group-by when the plan lacks one,
// the frame has funder and amount columns, and the needs carry any signal.
// The group-by also splits on up to two signalled dimension columns.
func EnsureFunderMetric(f *dataset.Frame, needs model.StructuredNeeds, reqs []model.MetricRequest) []model.MetricRequest {
	for _, r := range reqs {
		if r.Tool == model.ToolGroupBySum && contains(paramStrings(r.Params, "by"), dataset.ColFunderName) {
			return reqs
		}
	}
	if !f.HasColumns(dataset.ColFunderName, dataset.ColAmountUSD) || !needs.HasSignal() {
		return reqs
	}

	by := []any{dataset.ColFunderName}
	dims := []struct {
		signal bool
		col    string
	}{
		{len(needs.Subjects) > 0, dataset.ColSubjectTran},
		{len(needs.Geographies) > 0, dataset.ColGeoAreaTran},
		{len(needs.Populations) > 0, dataset.ColPopulationTran},
	}
	for _, d := range dims {
		if len(by) == 3 {
			break
		}
		if d.signal && f.HasColumn(d.col) {
			by = append(by, d.col)
		}
	}

	funder := model.MetricRequest{
		Tool:   model.ToolGroupBySum,
		Params: map[string]any{"by": by, "value": dataset.ColAmountUSD, "n": float64(10)},
		Title:  "Top Funders by Amount",
	}
	return append([]model.MetricRequest{funder}, reqs...)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// paramStrings reads a list-of-strings param; a bare string counts as a
// single-element list.
func paramStrings(params map[string]any, key string) []string {
	switch v := params[key].(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, x := range v {
			if s, ok := x.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func paramString(params map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := params[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func paramInt(params map[string]any, key string, def int) int {
	if v, ok := dataset.ToFloat(params[key]); ok && v > 0 {
		return int(v)
	}
	return def
}

func paramFloat(params map[string]any, key string) *float64 {
	if v, ok := dataset.ToFloat(params[key]); ok {
		return &v
	}
	return nil
}
