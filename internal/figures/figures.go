// Package figures builds the report charts: a summary of each chart for
// grounding, a PNG rendering, and an interpretation.
package figures

import (
	"context"
	"encoding/base64"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/grantscope/advisor/internal/advisor"
	"github.com/grantscope/advisor/internal/dataset"
	"github.com/grantscope/advisor/internal/model"
)

// Chart labels.
const (
	LabelTopFunders   = "Top Funders"
	LabelDistribution = "Amount Distribution"
	LabelTimeTrend    = "Time Trend"
)

// Interpreter writes a short reading of a chart summary. advisor.ModelStages
// satisfies it.
type Interpreter interface {
	InterpretChart(ctx context.Context, key string, summary model.ChartSummary, in model.InterviewInput) string
}

// Builder implements advisor.FigureBuilder.
type Builder struct {
	interp Interpreter
	width  int
	height int
	render func(c chart, w, h int) ([]byte, error)
}

// NewBuilder returns a Builder. A nil interp uses the deterministic
// interpretation.
func NewBuilder(interp Interpreter) *Builder {
	return &Builder{interp: interp, width: 800, height: 420, render: renderPNG}
}

var _ advisor.FigureBuilder = (*Builder)(nil)

// chart is the plotted series behind one figure.
type chart struct {
	kind   string
	label  string
	labels []string
	values []float64
	money  bool
}

// BuildFigures renders top funders, the award distribution and the yearly
// trend over the needs-filtered frame. Charts whose columns are missing are
// skipped.
func (b *Builder) BuildFigures(ctx context.Context, f *dataset.Frame, in model.InterviewInput, needs model.StructuredNeeds) ([]model.FigureArtifact, error) {
	out := []model.FigureArtifact{}
	if f.Empty() {
		return out, nil
	}
	filtered, _ := dataset.ApplyNeedsFilters(f, needs)
	key := advisor.CacheKeyFor(in, f)

	type builder func(*dataset.Frame) (chart, model.ChartSummary, bool)
	for _, build := range []builder{topFunders, distribution, timeTrend} {
		c, summary, ok := build(filtered)
		if !ok {
			continue
		}
		interp := b.interpret(ctx, key+"::"+c.kind, summary, in)
		out = append(out, b.wrap(c, summary, interp))
	}
	return out, nil
}

func (b *Builder) interpret(ctx context.Context, key string, summary model.ChartSummary, in model.InterviewInput) string {
	if b.interp == nil {
		return advisor.FallbackInterpretation(summary)
	}
	return b.interp.InterpretChart(ctx, key, summary, in)
}

// wrap renders c as PNG, falling back to an HTML table when rendering fails.
func (b *Builder) wrap(c chart, summary model.ChartSummary, interp string) model.FigureArtifact {
	fig := model.FigureArtifact{
		ID:                 model.FigureID(c.label),
		Label:              c.label,
		Summary:            &summary,
		InterpretationText: &interp,
	}
	png, err := safeRender(b.render, c, b.width, b.height)
	if err == nil {
		s := base64.StdEncoding.EncodeToString(png)
		fig.PNGBase64 = &s
		return fig
	}
	zap.L().Warn("figures: png render failed, using html", zap.String("label", c.label), zap.Error(err))
	h := htmlTable(c)
	fig.HTML = &h
	return fig
}

func topFunders(f *dataset.Frame) (chart, model.ChartSummary, bool) {
	if !f.HasColumns(dataset.ColFunderName, dataset.ColAmountUSD) {
		return chart{}, model.ChartSummary{}, false
	}
	groups := f.TopGroups([]string{dataset.ColFunderName}, dataset.ColAmountUSD, "sum", 10)
	c := chart{kind: "top_funders", label: LabelTopFunders, money: true}
	stats := map[string]any{"n_bars": len(groups)}
	var highlights []string
	for _, g := range groups {
		c.labels = append(c.labels, g.Keys[0])
		c.values = append(c.values, g.Sum)
	}
	if len(groups) > 0 {
		stats["top_funder"] = groups[0].Keys[0]
		stats["top_amount"] = groups[0].Sum
		if groups[0].Sum > 0 {
			highlights = append(highlights, groups[0].Keys[0]+" leads in total awarded amount")
		}
	}
	return c, model.ChartSummary{Label: LabelTopFunders, Highlights: nonNil(highlights), Stats: stats}, true
}

func distribution(f *dataset.Frame) (chart, model.ChartSummary, bool) {
	if !f.HasColumn(dataset.ColAmountUSD) {
		return chart{}, model.ChartSummary{}, false
	}
	values := f.Floats(dataset.ColAmountUSD)
	c := chart{kind: "amount_distribution", label: LabelDistribution}
	stats := map[string]any{"count": len(values)}
	var highlights []string

	if s, err := dataset.Describe(values); err == nil && s.Count > 0 {
		stats["median"] = s.Median
		stats["p90"] = s.P90
		switch {
		case s.Median > 0 && s.Mean/s.Median > 1.1:
			highlights = append(highlights, "Amounts are right-skewed")
		case s.Mean > 0 && s.Median/s.Mean > 1.1:
			highlights = append(highlights, "Amounts are left-skewed")
		default:
			highlights = append(highlights, "Amounts are roughly symmetric")
		}
		c.labels, c.values = histogram(values, s.Min, s.Max, 10)
	}
	return c, model.ChartSummary{Label: LabelDistribution, Highlights: nonNil(highlights), Stats: stats}, true
}

// histogram buckets values into n equal-width bins labelled by lower bound.
func histogram(values []float64, lo, hi float64, n int) ([]string, []float64) {
	if hi <= lo {
		return []string{dataset.FormatUSD(lo)}, []float64{float64(len(values))}
	}
	width := (hi - lo) / float64(n)
	counts := make([]float64, n)
	for _, v := range values {
		i := int((v - lo) / width)
		if i >= n {
			i = n - 1
		}
		if i < 0 {
			i = 0
		}
		counts[i]++
	}
	labels := make([]string, n)
	for i := range labels {
		labels[i] = dataset.FormatUSD(lo + float64(i)*width)
	}
	return labels, counts
}

func timeTrend(f *dataset.Frame) (chart, model.ChartSummary, bool) {
	if !f.HasColumns(dataset.ColYearIssued, dataset.ColAmountUSD) {
		return chart{}, model.ChartSummary{}, false
	}
	type point struct {
		year  int
		total float64
	}
	var points []point
	for _, g := range f.GroupBy([]string{dataset.ColYearIssued}, dataset.ColAmountUSD) {
		y, err := strconv.ParseFloat(g.Keys[0], 64)
		if err != nil {
			continue
		}
		points = append(points, point{year: int(y), total: g.Sum})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].year < points[j].year })

	c := chart{kind: "time_trend", label: LabelTimeTrend, money: true}
	stats := map[string]any{"n_points": len(points)}
	var highlights []string
	for _, p := range points {
		c.labels = append(c.labels, strconv.Itoa(p.year))
		c.values = append(c.values, p.total)
	}
	if len(points) > 0 {
		first, last := points[0], points[len(points)-1]
		stats["first_year"] = first.year
		stats["last_year"] = last.year
		stats["first_total"] = first.total
		stats["last_total"] = last.total
		switch {
		case last.total > first.total:
			highlights = append(highlights, "Total awarded amount increased over time")
		case last.total < first.total:
			highlights = append(highlights, "Total awarded amount decreased over time")
		default:
			highlights = append(highlights, "Total awarded amount remained flat")
		}
	}
	return c, model.ChartSummary{Label: LabelTimeTrend, Highlights: nonNil(highlights), Stats: stats}, true
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
