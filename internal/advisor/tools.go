package advisor

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/grantscope/advisor/internal/dataset"
	"github.com/grantscope/advisor/internal/llm"
	"github.com/grantscope/advisor/internal/model"
)

// ToolErrorSentinel prefixes tool output that must be treated as a failure.
const ToolErrorSentinel = "[tool_query error]"

// DefaultChart names the chart context metric execution runs under.
const DefaultChart = "data_summary.general"

// ToolContext is the extra context passed with a tool query.
type ToolContext struct {
	Tool   string
	Params map[string]any
	Chart  string
}

// ToolRunner executes one grounded analysis question against a frame and
// returns Markdown.
type ToolRunner interface {
	RunToolQuery(ctx context.Context, f *dataset.Frame, question, grounding string, extra ToolContext) (string, error)
}

// LocalToolRunner computes every whitelisted tool in-process.
type LocalToolRunner struct{}

// RunToolQuery implements ToolRunner. Failures are reported in-band with
// ToolErrorSentinel so callers treat local and remote runners alike.
func (LocalToolRunner) RunToolQuery(ctx context.Context, f *dataset.Frame, _, _ string, extra ToolContext) (string, error) {
	out, err := ComputeMetric(ctx, f, extra.Tool, extra.Params)
	if err != nil {
		return ToolErrorSentinel + " " + err.Error(), nil
	}
	return out, nil
}

// ModelToolRunner asks a Generator to answer the tool question from a
// compact profile of the frame.
type ModelToolRunner struct {
	gen         llm.Generator
	profileRows int
}

// NewModelToolRunner builds a runner over gen.
func NewModelToolRunner(gen llm.Generator) *ModelToolRunner {
	return &ModelToolRunner{gen: gen, profileRows: 20}
}

// RunToolQuery implements ToolRunner.
func (r *ModelToolRunner) RunToolQuery(ctx context.Context, f *dataset.Frame, question, grounding string, extra ToolContext) (string, error) {
	if r == nil || r.gen == nil {
		return "", llm.ErrUnavailable
	}
	var b strings.Builder
	b.WriteString(question)
	b.WriteString("\n\nDataset profile:\n")
	fmt.Fprintf(&b, "Columns: %s\nRows: %d\n", strings.Join(f.Columns, ", "), f.Len())
	if extra.Chart != "" {
		fmt.Fprintf(&b, "Chart context: %s\n", extra.Chart)
	}
	b.WriteString("\nSample rows:\n")
	b.WriteString(dataset.FrameMarkdown(f, r.profileRows))

	out, err := r.gen.Generate(llm.WithStage(ctx, "tool_query"), SystemGuardrails+"\n\n"+grounding, b.String())
	if err != nil {
		return "", eris.Wrapf(err, "advisor: tool query %s", extra.Tool)
	}
	return strings.TrimSpace(out), nil
}

// ComputeMetric runs tool with params directly against f and renders the
// result as a Markdown table.
func ComputeMetric(ctx context.Context, f *dataset.Frame, tool string, params map[string]any) (string, error) {
	if params == nil {
		params = map[string]any{}
	}
	if f.Empty() {
		return emptyDataTable(), nil
	}
	switch tool {
	case model.ToolDescribe:
		return describeMetric(f, params)
	case model.ToolValueCounts:
		return valueCountsMetric(f, params)
	case model.ToolGroupBySum:
		return groupBySumMetric(f, params)
	case model.ToolPivotTable:
		return pivotMetric(f, params)
	case model.ToolTopN:
		return topNMetric(f, params)
	case model.ToolUnique:
		return uniqueMetric(f, params)
	case model.ToolFilterEquals, model.ToolFilterIn, model.ToolFilterRange:
		return filterMetric(f, tool, params)
	case model.ToolCorrTop:
		return corrMetric(f, params)
	case model.ToolSQLSelect:
		return sqlMetric(ctx, f, params)
	case model.ToolGetChartState:
		return chartStateMetric(f, params), nil
	}
	return "", eris.Errorf("advisor: unsupported tool %q", tool)
}

func missingColumns(f *dataset.Frame, cols ...string) error {
	var missing []string
	for _, c := range cols {
		if c == "" || !f.HasColumn(c) {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return eris.Errorf("advisor: missing columns %s", strings.Join(missing, ", "))
	}
	return nil
}

func table(headers []string, rows [][]string) string {
	return strings.TrimRight(dataset.MarkdownTable(headers, rows), "\n")
}

func emptyDataTable() string {
	return table([]string{"Status", "Message"}, [][]string{{"Empty", "No data available for analysis"}})
}

func limitedDataTable(tool string) string {
	return table([]string{"Analysis", "Result"}, [][]string{
		{"Tool", tool},
		{"Status", "Analysis completed with limited data"},
	})
}

func formatValue(col string, v float64) string {
	if strings.Contains(strings.ToLower(col), "amount") {
		return dataset.FormatUSD(v)
	}
	return dataset.FormatNumber(v)
}

func describeMetric(f *dataset.Frame, params map[string]any) (string, error) {
	col := paramString(params, "column", "value")
	if col == "" {
		col = dataset.ColAmountUSD
	}
	if err := missingColumns(f, col); err != nil {
		return "", err
	}
	s, err := f.Describe(col)
	if err != nil {
		return "", err
	}
	return table([]string{"Statistic", "Value"}, [][]string{
		{"Count", dataset.FormatCount(s.Count)},
		{"Mean", formatValue(col, s.Mean)},
		{"Median", formatValue(col, s.Median)},
		{"Min", formatValue(col, s.Min)},
		{"Max", formatValue(col, s.Max)},
		{"Std Dev", formatValue(col, s.Std)},
	}), nil
}

func valueCountsMetric(f *dataset.Frame, params map[string]any) (string, error) {
	col := paramString(params, "column")
	if err := missingColumns(f, col); err != nil {
		return "", err
	}
	counts := f.ValueCounts(col, paramInt(params, "n", 10))
	if len(counts) == 0 {
		return "", eris.Errorf("advisor: no values in %s", col)
	}
	rows := make([][]string, len(counts))
	for i, vc := range counts {
		rows[i] = []string{dataset.Truncate(vc.Value, 30), dataset.FormatCount(vc.Count)}
	}
	return table([]string{dataset.HeaderTitle(col), "Count"}, rows), nil
}

func groupRows(groups []dataset.Group, value, agg string, width int) [][]string {
	rows := make([][]string, len(groups))
	for i, g := range groups {
		cells := make([]string, 0, len(g.Keys)+1)
		for _, k := range g.Keys {
			cells = append(cells, dataset.Truncate(k, width))
		}
		v := g.Value(agg)
		if strings.EqualFold(agg, "count") {
			cells = append(cells, dataset.FormatCount(int(v)))
		} else {
			cells = append(cells, formatValue(value, v))
		}
		rows[i] = cells
	}
	return rows
}

func titles(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = dataset.HeaderTitle(c)
	}
	return out
}

func groupBySumMetric(f *dataset.Frame, params map[string]any) (string, error) {
	by := paramStrings(params, "by")
	value := paramString(params, "value")
	if value == "" {
		value = dataset.ColAmountUSD
	}
	if len(by) == 0 {
		return "", eris.New("advisor: groupby needs by columns")
	}
	if err := missingColumns(f, append(append([]string{}, by...), value)...); err != nil {
		return "", err
	}
	groups := f.TopGroups(by, value, "sum", paramInt(params, "n", 10))
	if len(groups) == 0 {
		return "", eris.New("advisor: groupby produced no groups")
	}
	return table(append(titles(by), "Total Amount"), groupRows(groups, value, "sum", 25)), nil
}

func pivotMetric(f *dataset.Frame, params map[string]any) (string, error) {
	index := paramStrings(params, "index")
	value := paramString(params, "value", "values")
	if value == "" {
		value = dataset.ColAmountUSD
	}
	agg := paramString(params, "agg", "aggfunc")
	if agg == "" {
		agg = "sum"
	}
	top := paramInt(params, "top", 15)
	if len(index) == 0 {
		return "", eris.New("advisor: pivot needs index columns")
	}
	if err := missingColumns(f, append(append([]string{}, index...), value)...); err != nil {
		return "", err
	}

	if columns := paramStrings(params, "columns"); len(columns) > 0 && missingColumns(f, columns...) == nil {
		pt := f.PivotTable(index, columns, value, agg)
		if pt.Empty() {
			return "", eris.New("advisor: pivot produced no rows")
		}
		return dataset.FrameMarkdown(pt, top), nil
	}

	groups := f.TopGroups(index, value, agg, top)
	if len(groups) == 0 {
		return "", eris.New("advisor: pivot produced no rows")
	}
	label := strings.ToUpper(agg[:1]) + strings.ToLower(agg[1:]) + " Value"
	return table(append(titles(index), label), groupRows(groups, value, agg, 20)), nil
}

func topNMetric(f *dataset.Frame, params map[string]any) (string, error) {
	col := paramString(params, "column", "by")
	if col == "" {
		col = dataset.ColAmountUSD
	}
	if err := missingColumns(f, col); err != nil {
		return "", err
	}
	top := f.SortBy(col, false).Head(paramInt(params, "n", 10))
	withFunder := col != dataset.ColFunderName && f.HasColumn(dataset.ColFunderName)
	headers := []string{"Rank"}
	if withFunder {
		headers = append(headers, "Funder Name")
	}
	headers = append(headers, dataset.HeaderTitle(col))

	var rows [][]string
	for i, r := range top.Rows {
		v, ok := dataset.ToFloat(r[col])
		if !ok {
			continue
		}
		cells := []string{strconv.Itoa(i + 1)}
		if withFunder {
			cells = append(cells, dataset.Truncate(dataset.CellString(r[dataset.ColFunderName]), 30))
		}
		rows = append(rows, append(cells, formatValue(col, v)))
	}
	if len(rows) == 0 {
		return "", eris.Errorf("advisor: no numeric values in %s", col)
	}
	return table(headers, rows), nil
}

func uniqueMetric(f *dataset.Frame, params map[string]any) (string, error) {
	col := paramString(params, "column")
	if err := missingColumns(f, col); err != nil {
		return "", err
	}
	vals := f.Unique(col, paramInt(params, "n", 20))
	if len(vals) == 0 {
		return "", eris.Errorf("advisor: no values in %s", col)
	}
	rows := make([][]string, len(vals))
	for i, v := range vals {
		rows[i] = []string{dataset.Truncate(v, 40)}
	}
	return table([]string{dataset.HeaderTitle(col)}, rows), nil
}

func filterMetric(f *dataset.Frame, tool string, params map[string]any) (string, error) {
	col := paramString(params, "column")
	if err := missingColumns(f, col); err != nil {
		return "", err
	}
	var out *dataset.Frame
	switch tool {
	case model.ToolFilterEquals:
		out = f.FilterEquals(col, params["value"])
	case model.ToolFilterIn:
		values, _ := params["values"].([]any)
		out = f.FilterIn(col, values)
	default:
		out = f.FilterRange(col, paramFloat(params, "min"), paramFloat(params, "max"))
	}
	body := dataset.FrameMarkdown(out, paramInt(params, "n", 10))
	return fmt.Sprintf("Matched %s of %s rows.\n\n%s", dataset.FormatCount(out.Len()), dataset.FormatCount(f.Len()), body), nil
}

func corrMetric(f *dataset.Frame, params map[string]any) (string, error) {
	target := paramString(params, "target", "column")
	if target == "" {
		target = dataset.ColAmountUSD
	}
	if err := missingColumns(f, target); err != nil {
		return "", err
	}
	corrs, err := f.CorrTop(target, paramInt(params, "n", 10))
	if err != nil {
		return "", err
	}
	if len(corrs) == 0 {
		return "", eris.Errorf("advisor: no numeric features to correlate with %s", target)
	}
	rows := make([][]string, len(corrs))
	for i, c := range corrs {
		rows[i] = []string{c.Feature, strconv.FormatFloat(c.Abs, 'f', 3, 64)}
	}
	return table([]string{"Feature", "Abs Correlation"}, rows), nil
}

func sqlMetric(ctx context.Context, f *dataset.Frame, params map[string]any) (string, error) {
	q := paramString(params, "query", "sql")
	if q == "" {
		return "", eris.New("advisor: sql query missing")
	}
	out, err := dataset.QuerySQL(ctx, f, q, paramInt(params, "limit", 50))
	if err != nil {
		return "", err
	}
	return dataset.FrameMarkdown(out, 0), nil
}

func chartStateMetric(f *dataset.Frame, params map[string]any) string {
	chart := paramString(params, "chart")
	if chart == "" {
		chart = DefaultChart
	}
	return table([]string{"Field", "Value"}, [][]string{
		{"Chart", chart},
		{"Rows", dataset.FormatCount(f.Len())},
		{"Columns", strings.Join(f.Columns, ", ")},
	})
}
