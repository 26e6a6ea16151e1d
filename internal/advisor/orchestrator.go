// Package advisor runs the staged report pipeline: intake summary, needs
// normalization, analysis planning, metric execution, narrative synthesis,
// funder recommendation and figures. Every stage has a deterministic
// fallback, so a run always produces a bundle.
package advisor

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/grantscope/advisor/internal/dataset"
	"github.com/grantscope/advisor/internal/llm"
	"github.com/grantscope/advisor/internal/model"
)

// Config tunes a pipeline run.
type Config struct {
	// Parallel runs synthesis and recommendation concurrently.
	Parallel          bool
	StageTimeout      time.Duration
	MinSections       int
	MinCandidates     int
	GateMinCandidates int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Parallel:          true,
		StageTimeout:      2 * time.Minute,
		MinSections:       8,
		MinCandidates:     5,
		GateMinCandidates: 8,
	}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.MinSections <= 0 {
		c.MinSections = d.MinSections
	}
	if c.MinCandidates <= 0 {
		c.MinCandidates = d.MinCandidates
	}
	if c.GateMinCandidates <= 0 {
		c.GateMinCandidates = d.GateMinCandidates
	}
	return c
}

// FigureBuilder renders the report figures.
type FigureBuilder interface {
	BuildFigures(ctx context.Context, f *dataset.Frame, in model.InterviewInput, needs model.StructuredNeeds) ([]model.FigureArtifact, error)
}

// ReportSink receives progress and the finished bundle.
type ReportSink interface {
	ProgressSink
	Put(reportID string, b *model.ReportBundle)
}

// PipelineError is returned when a run cannot start.
type PipelineError struct {
	ReportID string
	Stage    int
	Err      error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("advisor: report %s stage %d: %v", e.ReportID, e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// StageNames labels the stages, indexed by stage number.
var StageNames = []string{
	"Intake summary",
	"Normalize needs",
	"Plan analysis",
	"Execute metrics",
	"Synthesize sections",
	"Recommend funders",
	"Figures and finalize",
}

// CompleteMessage is the final progress message of every run.
const CompleteMessage = "Pipeline complete"

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithSectionExtras replaces the sections appended when synthesis falls
// back.
func WithSectionExtras(extras ...SectionExtra) Option {
	return func(o *Orchestrator) { o.extras = extras }
}

// WithClock overrides the bundle timestamp source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// Orchestrator runs the pipeline over injected collaborators.
type Orchestrator struct {
	cfg     Config
	stages  Stages
	tools   ToolRunner
	figures FigureBuilder
	sink    ReportSink
	extras  []SectionExtra
	now     func() time.Time
}

// New wires an Orchestrator. Nil collaborators get offline defaults: model
// stages without a generator, local tool execution, no figures and a fresh
// ReportStore.
func New(cfg Config, stages Stages, tools ToolRunner, figures FigureBuilder, sink ReportSink, opts ...Option) *Orchestrator {
	if stages == nil {
		stages = NewModelStages(llm.Offline{}, nil)
	}
	if tools == nil {
		tools = LocalToolRunner{}
	}
	if sink == nil {
		sink = NewReportStore()
	}
	o := &Orchestrator{
		cfg:     cfg.normalized(),
		stages:  stages,
		tools:   tools,
		figures: figures,
		sink:    sink,
		extras:  []SectionExtra{BudgetReality{}},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ReportID returns the id a run over (in, f) is stored under.
func (o *Orchestrator) ReportID(in model.InterviewInput, f *dataset.Frame) string {
	return ReportIDFor(in, f)
}

// Run executes all seven stages and stores the bundle. It fails only when
// ctx is already done before the first stage.
func (o *Orchestrator) Run(ctx context.Context, in model.InterviewInput, f *dataset.Frame) (*model.ReportBundle, error) {
	key := CacheKeyFor(in, f)
	reportID := ReportIDFor(in, f)
	log := zap.L().With(zap.String("report_id", reportID))

	if err := ctx.Err(); err != nil {
		o.sink.ReportStage(reportID, 0, StatusError, eris.Wrap(err, "advisor: run not started").Error())
		return nil, &PipelineError{ReportID: reportID, Stage: 0, Err: err}
	}
	log.Info("advisor: starting pipeline", zap.Int("rows", f.Len()), zap.String("cache_key", key))
	start := time.Now()

	// ===== Stage 0: Intake summary =====
	intake := runStage(ctx, o, reportID, 0, func(ctx context.Context) string {
		return o.stages.IntakeSummary(ctx, key, in)
	}, func() string {
		return FallbackIntakeSummary(in)
	})

	// ===== Stage 1: Normalize =====
	needs := runStage(ctx, o, reportID, 1, func(ctx context.Context) model.StructuredNeeds {
		return o.stages.Normalize(ctx, key, in)
	}, func() model.StructuredNeeds {
		return FallbackNeeds(in)
	})

	// ===== Stage 2: Plan =====
	plan := runStage(ctx, o, reportID, 2, func(ctx context.Context) model.AnalysisPlan {
		p := o.stages.Plan(ctx, key, needs)
		p.MetricRequests = EnsureFunderMetric(f, needs, p.MetricRequests)
		return p
	}, func() model.AnalysisPlan {
		p := FallbackPlan()
		p.MetricRequests = EnsureFunderMetric(f, needs, p.MetricRequests)
		return p
	})

	// ===== Stage 3: Metrics =====
	// A filter that matches nothing leaves the original frame in place.
	metricsFrame, filterReport := dataset.ApplyNeedsFilters(f, needs)
	log.Debug("advisor: needs filters applied",
		zap.Bool("applied", filterReport.Applied),
		zap.Int("rows", metricsFrame.Len()),
		zap.Int("total_rows", f.Len()))
	dps := runStage(ctx, o, reportID, 3, func(ctx context.Context) []model.DataPoint {
		return MetricExecutor{Tools: o.tools}.Collect(ctx, metricsFrame, in, needs, plan)
	}, func() []model.DataPoint {
		return FallbackDataPoints(ctx, metricsFrame, plan)
	})

	// ===== Stages 4 and 5: Synthesis and recommendations =====
	var (
		sections SectionResult
		rec      model.Recommendations
	)
	synthesize := func() {
		sections = runStage(ctx, o, reportID, 4, func(ctx context.Context) SectionResult {
			res := o.stages.Synthesize(ctx, key, plan, dps)
			if !res.Fallback {
				res.Sections = EnsureMinSections(res.Sections, dps, o.cfg.MinSections)
			}
			return res
		}, func() SectionResult {
			return SectionResult{Sections: DeterministicSections(dps), Fallback: true}
		})
		if sections.Fallback {
			sections.Sections = append(sections.Sections, o.extraSections(ctx, in, f)...)
		}
	}
	recommend := func() {
		rec = runStage(ctx, o, reportID, 5, func(ctx context.Context) model.Recommendations {
			raw := o.stages.Recommend(ctx, key, needs, dps)
			return BuildRecommendations(raw, f, needs, dps, o.cfg.MinCandidates)
		}, func() model.Recommendations {
			return BuildRecommendations(RawRecommendations{}, f, needs, dps, o.cfg.MinCandidates)
		})
	}
	if o.cfg.Parallel {
		var g errgroup.Group
		g.SetLimit(2)
		g.Go(func() error { synthesize(); return nil })
		g.Go(func() error { recommend(); return nil })
		_ = g.Wait()
	} else {
		synthesize()
		recommend()
	}
	rec, _ = ApplyQualityGates(rec, f, needs, dps, o.cfg.GateMinCandidates)

	// ===== Stage 6: Figures and finalize =====
	figures := runStage(ctx, o, reportID, 6, func(ctx context.Context) []model.FigureArtifact {
		if o.figures == nil {
			return []model.FigureArtifact{}
		}
		figs, err := o.figures.BuildFigures(ctx, f, in, needs)
		if err != nil {
			log.Warn("advisor: figures failed", zap.Error(err))
			return []model.FigureArtifact{}
		}
		return figs
	}, func() []model.FigureArtifact {
		return []model.FigureArtifact{}
	})
	if figures == nil {
		figures = []model.FigureArtifact{}
	}

	intakeSection := model.ReportSection{Title: "Intake Summary", MarkdownBody: intake, Attachments: []model.Attachment{}}
	bundle := &model.ReportBundle{
		Interview:       in,
		Needs:           needs,
		Plan:            plan,
		DataPoints:      dps,
		Recommendations: rec,
		Sections:        append([]model.ReportSection{intakeSection}, sections.Sections...),
		Figures:         figures,
		CreatedAt:       model.Timestamp(o.now()),
		Version:         model.BundleVersion,
	}
	o.sink.Put(reportID, bundle)
	o.sink.ReportStage(reportID, 6, StatusCompleted, CompleteMessage)

	log.Info("advisor: pipeline complete",
		zap.Int("datapoints", len(dps)),
		zap.Int("sections", len(bundle.Sections)),
		zap.Int("candidates", len(rec.FunderCandidates)),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return bundle, nil
}

func (o *Orchestrator) extraSections(ctx context.Context, in model.InterviewInput, f *dataset.Frame) []model.ReportSection {
	var out []model.ReportSection
	for _, ex := range o.extras {
		sec, ok := safeExtra(ctx, ex, in, f)
		if ok && sec.Valid() {
			out = append(out, sec)
		}
	}
	return out
}

func safeExtra(ctx context.Context, ex SectionExtra, in model.InterviewInput, f *dataset.Frame) (sec model.ReportSection, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Warn("advisor: section extra panicked", zap.Any("panic", r))
			sec, ok = model.ReportSection{}, false
		}
	}()
	return ex.Section(ctx, in, f)
}

// runStage reports the stage as running, runs fn under the stage deadline
// and reports completion. A panic is recovered, reported as an error and
// replaced by fallback.
func runStage[T any](ctx context.Context, o *Orchestrator, reportID string, stage int, fn func(context.Context) T, fallback func() T) T {
	name := StageNames[stage]
	log := zap.L().With(zap.String("report_id", reportID), zap.Int("stage", stage))
	o.sink.ReportStage(reportID, stage, StatusRunning, name)

	stageCtx, cancel := ctx, context.CancelFunc(func() {})
	if o.cfg.StageTimeout > 0 {
		stageCtx, cancel = context.WithTimeout(ctx, o.cfg.StageTimeout)
	}
	defer cancel()

	start := time.Now()
	out, err := recoverStage(stageCtx, fn)
	duration := time.Since(start).Milliseconds()

	if err != nil {
		log.Warn("advisor: stage failed, using fallback",
			zap.String("name", name),
			zap.Int64("duration_ms", duration),
			zap.Error(err),
		)
		o.sink.ReportStage(reportID, stage, StatusError, name+": "+err.Error())
		return fallback()
	}
	log.Info("advisor: stage complete", zap.String("name", name), zap.Int64("duration_ms", duration))
	if stage < len(StageNames)-1 {
		o.sink.ReportStage(reportID, stage, StatusCompleted, name)
	}
	return out
}

func recoverStage[T any](ctx context.Context, fn func(context.Context) T) (out T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = eris.Errorf("advisor: stage panicked: %v", r)
		}
	}()
	return fn(ctx), nil
}
