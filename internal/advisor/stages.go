package advisor

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/grantscope/advisor/internal/cache"
	"github.com/grantscope/advisor/internal/llm"
	"github.com/grantscope/advisor/internal/model"
)

// Stages are the model-backed pipeline steps. Implementations never fail:
// every method falls back to a deterministic result.
type Stages interface {
	IntakeSummary(ctx context.Context, key string, in model.InterviewInput) string
	Normalize(ctx context.Context, key string, in model.InterviewInput) model.StructuredNeeds
	Plan(ctx context.Context, key string, needs model.StructuredNeeds) model.AnalysisPlan
	Synthesize(ctx context.Context, key string, plan model.AnalysisPlan, dps []model.DataPoint) SectionResult
	Recommend(ctx context.Context, key string, needs model.StructuredNeeds, dps []model.DataPoint) RawRecommendations
	InterpretChart(ctx context.Context, key string, summary model.ChartSummary, in model.InterviewInput) string
}

// ModelStages implements Stages with grounded Generator calls. Successful
// model results are memoized by cache key and payload.
type ModelStages struct {
	gen         llm.Generator
	memo        *cache.Memo
	minSections int
}

// NewModelStages wires gen and memo. A nil memo disables memoization.
func NewModelStages(gen llm.Generator, memo *cache.Memo) *ModelStages {
	return &ModelStages{gen: gen, memo: memo, minSections: 8}
}

// WithMinSections overrides the section minimum enforced on model output.
func (s *ModelStages) WithMinSections(n int) *ModelStages {
	if n > 0 {
		s.minSections = n
	}
	return s
}

func (s *ModelStages) text(ctx context.Context, stage, user string) (string, error) {
	if s.gen == nil {
		return "", llm.ErrUnavailable
	}
	out, err := s.gen.Generate(llm.WithStage(ctx, stage), SystemGuardrails, user)
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", llm.ErrMalformedJSON
	}
	return out, nil
}

func (s *ModelStages) object(ctx context.Context, stage, user string) (any, error) {
	var obj any
	if err := llm.GenerateJSON(llm.WithStage(ctx, stage), s.gen, SystemGuardrails, user, &obj); err != nil {
		return nil, err
	}
	return obj, nil
}

func logFallback(stage string, err error) {
	zap.L().Warn("advisor: stage fell back", zap.String("stage", stage), zap.Error(err))
}

// IntakeSummary returns a two-sentence summary of the interview.
func (s *ModelStages) IntakeSummary(ctx context.Context, key string, in model.InterviewInput) string {
	payload := in.AsMap()
	out, err := cache.Remember(ctx, s.memo, stageKey("intake", key, payload), func(ctx context.Context) (string, error) {
		return s.text(ctx, "intake", intakePrompt(payload))
	})
	if err != nil {
		logFallback("intake", err)
		return FallbackIntakeSummary(in)
	}
	return out
}

// FallbackIntakeSummary builds the intake summary from raw fields.
func FallbackIntakeSummary(in model.InterviewInput) string {
	area := strings.TrimSpace(in.ProgramArea)
	if area == "" {
		area = "a municipal program"
	}
	geo := strings.Join(in.Geography, ", ")
	if geo == "" {
		geo = "target geographies"
	}
	return "This interview focuses on " + area + " serving " + geo + ". " +
		"The goal is to align needs with funders using historical grant data."
}

// Normalize maps the interview onto StructuredNeeds.
func (s *ModelStages) Normalize(ctx context.Context, key string, in model.InterviewInput) model.StructuredNeeds {
	payload := in.AsMap()
	needs, err := cache.Remember(ctx, s.memo, stageKey("normalize", key, payload), func(ctx context.Context) (model.StructuredNeeds, error) {
		obj, err := s.object(ctx, "normalize", normalizePrompt(payload))
		if err != nil {
			return model.StructuredNeeds{}, err
		}
		return coerceNeeds(obj)
	})
	if err != nil {
		logFallback("normalize", err)
		return FallbackNeeds(in)
	}
	return needs
}

// Plan produces the analysis plan for needs.
func (s *ModelStages) Plan(ctx context.Context, key string, needs model.StructuredNeeds) model.AnalysisPlan {
	payload := needs.AsMap()
	plan, err := cache.Remember(ctx, s.memo, stageKey("plan", key, payload), func(ctx context.Context) (model.AnalysisPlan, error) {
		obj, err := s.object(ctx, "plan", planPrompt(payload))
		if err != nil {
			return model.AnalysisPlan{}, err
		}
		return sanitizePlan(obj)
	})
	if err != nil {
		logFallback("plan", err)
		return FallbackPlan()
	}
	return plan
}

// DataPointIndex is the prompt payload for data points, with long tables
// truncated.
func DataPointIndex(dps []model.DataPoint) []map[string]any {
	out := make([]map[string]any, len(dps))
	for i, dp := range dps {
		table := dp.TableMD
		if r := []rune(table); len(r) > 2000 {
			table = string(r[:2000]) + "... [truncated]"
		}
		params := dp.Params
		if params == nil {
			params = map[string]any{}
		}
		out[i] = map[string]any{
			"id":       dp.ID,
			"title":    dp.Title,
			"method":   dp.Method,
			"params":   params,
			"table_md": table,
			"notes":    dp.Notes,
		}
	}
	return out
}

// Synthesize writes the narrative sections.
func (s *ModelStages) Synthesize(ctx context.Context, key string, plan model.AnalysisPlan, dps []model.DataPoint) SectionResult {
	planMap := plan.AsMap()
	index := DataPointIndex(dps)
	sections, err := cache.Remember(ctx, s.memo, stageKey("synthesize", key, planMap, index), func(ctx context.Context) ([]model.ReportSection, error) {
		obj, err := s.object(ctx, "synthesize", synthesizePrompt(planMap, index))
		if err != nil {
			return nil, err
		}
		return parseSections(obj)
	})
	if err != nil {
		logFallback("synthesize", err)
		return SectionResult{Sections: DeterministicSections(dps), Fallback: true}
	}
	return SectionResult{Sections: EnsureMinSections(sections, dps, s.minSections)}
}

func parseSections(obj any) ([]model.ReportSection, error) {
	if m, ok := obj.(map[string]any); ok {
		obj = m["sections"]
	}
	items, ok := obj.([]any)
	if !ok {
		return nil, llm.ErrMalformedJSON
	}
	var out []model.ReportSection
	for _, it := range items {
		m, ok := it.(map[string]any)
		if !ok {
			continue
		}
		title, _ := m["title"].(string)
		body, _ := m["markdown_body"].(string)
		sec := model.ReportSection{Title: strings.TrimSpace(title), MarkdownBody: body, Attachments: []model.Attachment{}}
		if sec.Valid() {
			out = append(out, sec)
		}
	}
	if len(out) == 0 {
		return nil, llm.ErrMalformedJSON
	}
	return out, nil
}

// Recommend returns the raw recommendation arrays. A failed call yields
// empty arrays, which the recommendation engine fills from the dataset.
func (s *ModelStages) Recommend(ctx context.Context, key string, needs model.StructuredNeeds, dps []model.DataPoint) RawRecommendations {
	needsMap := needs.AsMap()
	index := DataPointIndex(dps)
	raw, err := cache.Remember(ctx, s.memo, stageKey("recommend", key, needsMap, index), func(ctx context.Context) (RawRecommendations, error) {
		var out RawRecommendations
		if s.gen == nil {
			return out, llm.ErrUnavailable
		}
		err := llm.GenerateJSON(llm.WithStage(ctx, "recommend"), s.gen, SystemGuardrails, recommendPrompt(needsMap, index), &out)
		return out, err
	})
	if err != nil {
		logFallback("recommend", err)
		return RawRecommendations{}
	}
	return raw
}

// InterpretChart writes a one to three sentence reading of a chart summary.
func (s *ModelStages) InterpretChart(ctx context.Context, key string, summary model.ChartSummary, in model.InterviewInput) string {
	sm := summary.AsMap()
	im := in.AsMap()
	out, err := cache.Remember(ctx, s.memo, stageKey("chart", key, sm, im), func(ctx context.Context) (string, error) {
		return s.text(ctx, "interpret", chartPrompt(sm, im))
	})
	if err != nil {
		logFallback("interpret", err)
		return FallbackInterpretation(summary)
	}
	return out
}

// FallbackInterpretation explains a chart from its highlights, or names the
// summary fields that were missing.
func FallbackInterpretation(summary model.ChartSummary) string {
	var hl []string
	for _, h := range summary.Highlights {
		if strings.TrimSpace(h) != "" {
			hl = append(hl, h)
		}
	}
	if len(hl) > 0 {
		if len(hl) > 2 {
			hl = hl[:2]
		}
		return "What this means: " + strings.Join(hl, "; ") + "."
	}
	var missing []string
	if len(summary.Stats) == 0 {
		missing = append(missing, "stats")
	}
	if strings.TrimSpace(summary.Label) == "" {
		missing = append(missing, "label")
	}
	if len(missing) > 0 {
		return "What this means: Interpretation unavailable; missing fields: " + strings.Join(missing, ", ") + "."
	}
	return "What this means: Interpretation unavailable due to limited data."
}
