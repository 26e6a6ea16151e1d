package advisor

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/grantscope/advisor/internal/dataset"
	"github.com/grantscope/advisor/internal/model"
)

// fallbackTools are the tools FallbackMetric computes directly.
var fallbackTools = map[string]bool{
	model.ToolDescribe:    true,
	model.ToolValueCounts: true,
	model.ToolGroupBySum:  true,
	model.ToolPivotTable:  true,
	model.ToolTopN:        true,
	model.ToolUnique:      true,
}

// MetricExecutor turns plan requests into data points through a ToolRunner,
// computing in-process whenever the runner fails.
type MetricExecutor struct {
	Tools ToolRunner
}

// GroundingPrompt describes the frame to the tool runner: known columns,
// row count, user role, and canonical value samples for the filter columns.
func GroundingPrompt(f *dataset.Frame, in model.InterviewInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Known Columns: %s.\n", strings.Join(f.Columns, ", "))
	fmt.Fprintf(&b, "Row count: %d.\n", f.Len())
	fmt.Fprintf(&b, "User role: %s.\n", in.Role())
	fmt.Fprintf(&b, "Chart context: %s. Advisor pipeline metric execution.", DefaultChart)

	samples := dataset.CanonicalValueSamples(f)
	var hints []string
	for _, col := range []string{dataset.ColSubjectTran, dataset.ColPopulationTran, dataset.ColGeoAreaTran} {
		vals := samples[col]
		if len(vals) == 0 {
			continue
		}
		if len(vals) > 6 {
			vals = vals[:6]
		}
		hints = append(hints, fmt.Sprintf("- %s e.g., %s", col, strings.Join(vals, ", ")))
	}
	if len(hints) > 0 {
		b.WriteString("\n\nUse ONLY values present in the dataset for filters. Examples:\n")
		b.WriteString(strings.Join(hints, "\n"))
		b.WriteString("\nIf geographies are given as codes (e.g., 'TX', 'US'), translate them to names like 'Texas' or 'United States'.")
	}
	return b.String()
}

func toolQuestion(req model.MetricRequest) string {
	params, err := model.StableJSON(req.Params)
	if err != nil {
		params = []byte("{}")
	}
	return "Call the specified analysis tool with the provided parameters and return only a small Markdown table or short summary.\n" +
		"Tool: " + req.Tool + "\n" +
		"Parameters (JSON): " + string(params)
}

// Collect executes every request in plan order and returns one data point
// per request. It never fails: each request degrades to a local computation
// and then to a status table.
func (e MetricExecutor) Collect(ctx context.Context, f *dataset.Frame, in model.InterviewInput, needs model.StructuredNeeds, plan model.AnalysisPlan) []model.DataPoint {
	grounding := GroundingPrompt(f, in)
	out := make([]model.DataPoint, 0, len(plan.MetricRequests))
	for _, req := range plan.MetricRequests {
		content := e.execute(ctx, f, grounding, req)
		if req.Tool == model.ToolSQLSelect && isNoMatch(content) {
			content = TargetedFocus(f, needs, 25)
		}
		out = append(out, newDataPoint(req, content))
	}
	return out
}

func (e MetricExecutor) execute(ctx context.Context, f *dataset.Frame, grounding string, req model.MetricRequest) string {
	if e.Tools != nil {
		res, err := e.Tools.RunToolQuery(ctx, f, toolQuestion(req), grounding, ToolContext{
			Tool:   req.Tool,
			Params: req.Params,
			Chart:  DefaultChart,
		})
		res = strings.TrimSpace(res)
		switch {
		case err != nil:
			zap.L().Warn("advisor: tool query failed, computing locally",
				zap.String("tool", req.Tool), zap.Error(err))
		case res == "" || strings.HasPrefix(res, ToolErrorSentinel):
			zap.L().Debug("advisor: tool query returned no result, computing locally",
				zap.String("tool", req.Tool), zap.String("result", dataset.Truncate(res, 120)))
		default:
			return res
		}
	}
	return FallbackMetric(ctx, f, req.Tool, req.Params)
}

// FallbackMetric computes the supported tools in-process. Anything it cannot
// compute becomes a status table, so it always returns Markdown.
func FallbackMetric(ctx context.Context, f *dataset.Frame, tool string, params map[string]any) string {
	if f.Empty() {
		return emptyDataTable()
	}
	if !fallbackTools[tool] {
		return limitedDataTable(tool)
	}
	out, err := ComputeMetric(ctx, f, tool, params)
	if err != nil {
		zap.L().Debug("advisor: local metric degraded", zap.String("tool", tool), zap.Error(err))
		return limitedDataTable(tool)
	}
	return out
}

// FallbackDataPoints computes every request locally, for use when metric
// execution as a whole has failed.
func FallbackDataPoints(ctx context.Context, f *dataset.Frame, plan model.AnalysisPlan) []model.DataPoint {
	out := make([]model.DataPoint, 0, len(plan.MetricRequests))
	for _, req := range plan.MetricRequests {
		out = append(out, newDataPoint(req, FallbackMetric(ctx, f, req.Tool, req.Params)))
	}
	return out
}

func newDataPoint(req model.MetricRequest, content string) model.DataPoint {
	title := req.DisplayTitle()
	params := req.Params
	if params == nil {
		params = map[string]any{}
	}
	return model.DataPoint{
		ID:      model.DataPointID(title, req.Tool, params),
		Title:   title,
		Method:  req.Tool,
		Params:  params,
		TableMD: content,
	}
}

func isNoMatch(text string) bool {
	s := strings.ToLower(strings.TrimSpace(text))
	if s == "" {
		return true
	}
	for _, n := range []string{"no matching records", "no data available", "empty"} {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

const noFocusMatch = "No matching records after applying filters."

// TargetedFocus tabulates subject by population over the needs-filtered
// frame with grant count and total amount, largest totals first.
func TargetedFocus(f *dataset.Frame, needs model.StructuredNeeds, topN int) string {
	filtered, _ := dataset.ApplyNeedsFilters(f, needs)
	if filtered.Empty() || !filtered.HasColumns(dataset.ColSubjectTran, dataset.ColPopulationTran, dataset.ColAmountUSD) {
		return noFocusMatch
	}

	type cell struct {
		subject, population string
		count               int
		total               float64
	}
	index := map[[2]string]*cell{}
	var cells []*cell
	for _, r := range filtered.Rows {
		k := [2]string{focusLabel(r[dataset.ColSubjectTran]), focusLabel(r[dataset.ColPopulationTran])}
		c, ok := index[k]
		if !ok {
			c = &cell{subject: k[0], population: k[1]}
			index[k] = c
			cells = append(cells, c)
		}
		c.count++
		if v, ok := dataset.ToFloat(r[dataset.ColAmountUSD]); ok {
			c.total += v
		}
	}
	sort.SliceStable(cells, func(i, j int) bool {
		if cells[i].total != cells[j].total {
			return cells[i].total > cells[j].total
		}
		if cells[i].count != cells[j].count {
			return cells[i].count > cells[j].count
		}
		return cells[i].subject+cells[i].population < cells[j].subject+cells[j].population
	})
	if topN > 0 && len(cells) > topN {
		cells = cells[:topN]
	}

	rows := make([][]string, len(cells))
	for i, c := range cells {
		rows[i] = []string{c.subject, c.population, dataset.FormatCount(c.count), dataset.FormatUSD(c.total)}
	}
	return table([]string{
		dataset.HeaderTitle(dataset.ColSubjectTran),
		dataset.HeaderTitle(dataset.ColPopulationTran),
		"Grant Count",
		"Total Amount (USD)",
	}, rows)
}

func focusLabel(v any) string {
	if v == nil {
		return "Unknown"
	}
	return dataset.CellString(v)
}
