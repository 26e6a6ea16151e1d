package advisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grantscope/advisor/internal/dataset"
	"github.com/grantscope/advisor/internal/llm"
	"github.com/grantscope/advisor/internal/model"
)

// fakeStages returns canned results and can be told to panic in one stage.
type fakeStages struct {
	panicIn string
	needs   *model.StructuredNeeds

	mu    sync.Mutex
	calls []string
}

func (s *fakeStages) enter(name string) {
	s.mu.Lock()
	s.calls = append(s.calls, name)
	s.mu.Unlock()
	if s.panicIn == name {
		panic(name + " exploded")
	}
}

func (s *fakeStages) IntakeSummary(_ context.Context, _ string, _ model.InterviewInput) string {
	s.enter("intake")
	return "Fake intake."
}

func (s *fakeStages) Normalize(_ context.Context, _ string, _ model.InterviewInput) model.StructuredNeeds {
	s.enter("normalize")
	if s.needs != nil {
		return *s.needs
	}
	return model.StructuredNeeds{Subjects: []string{"education"}, Weights: map[string]float64{}}
}

func (s *fakeStages) Plan(_ context.Context, _ string, _ model.StructuredNeeds) model.AnalysisPlan {
	s.enter("plan")
	return model.AnalysisPlan{MetricRequests: []model.MetricRequest{
		{Tool: model.ToolDescribe, Params: map[string]any{"column": "amount_usd"}, Title: "Award Stats"},
	}}
}

func (s *fakeStages) Synthesize(_ context.Context, _ string, _ model.AnalysisPlan, _ []model.DataPoint) SectionResult {
	s.enter("synthesize")
	return SectionResult{Sections: []model.ReportSection{{Title: "Synthesis", MarkdownBody: "Grounded narrative."}}}
}

func (s *fakeStages) Recommend(_ context.Context, _ string, _ model.StructuredNeeds, _ []model.DataPoint) RawRecommendations {
	s.enter("recommend")
	return RawRecommendations{}
}

func (s *fakeStages) InterpretChart(_ context.Context, _ string, summary model.ChartSummary, _ model.InterviewInput) string {
	return FallbackInterpretation(summary)
}

type stubFigures struct {
	err error
}

func (b stubFigures) BuildFigures(context.Context, *dataset.Frame, model.InterviewInput, model.StructuredNeeds) ([]model.FigureArtifact, error) {
	if b.err != nil {
		return nil, b.err
	}
	label := "Top Funders"
	return []model.FigureArtifact{{ID: model.FigureID(label), Label: label}}, nil
}

func fixedClock() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

func TestRun_EndToEndWithFakeStages(t *testing.T) {
	store := NewReportStore()
	stages := &fakeStages{}
	o := New(DefaultConfig(), stages, LocalToolRunner{}, stubFigures{}, store, WithClock(fixedClock))

	in := model.InterviewInput{ProgramArea: "Education", Geography: []string{"TX"}}
	b, err := o.Run(context.Background(), in, tinyFrame())
	require.NoError(t, err)

	require.NotEmpty(t, b.Sections)
	assert.Equal(t, "Intake Summary", b.Sections[0].Title)
	assert.Equal(t, "Fake intake.", b.Sections[0].MarkdownBody)
	assert.Equal(t, "Synthesis", b.Sections[1].Title)
	assert.Len(t, b.Sections, 9)

	assert.GreaterOrEqual(t, len(b.DataPoints), 1)
	assert.Equal(t, "Top Funders by Amount", b.Plan.MetricRequests[0].Title)
	assert.ElementsMatch(t, []string{"A", "B"}, candidateNames(b.Recommendations.FunderCandidates))
	assert.Len(t, b.Recommendations.ResponseTuning, 7)
	assert.Len(t, b.Figures, 1)
	assert.Equal(t, model.BundleVersion, b.Version)
	assert.Equal(t, "2026-01-02T03:04:05.000000Z", b.CreatedAt)

	id := o.ReportID(in, tinyFrame())
	stored, ok := store.Get(id)
	require.True(t, ok)
	assert.Same(t, b, stored)

	p, ok := store.Progress(id)
	require.True(t, ok)
	assert.True(t, p.Done)
	assert.Equal(t, StatusCompleted, p.Status)
	assert.Equal(t, CompleteMessage, p.Message)
	assert.Equal(t, 6, p.Stage)

	running := map[int]bool{}
	for _, ev := range p.Log {
		assert.NotEqual(t, StatusError, ev.Status)
		if ev.Status == StatusRunning {
			running[ev.Stage] = true
		}
	}
	assert.Len(t, running, 7)
}

func TestRun_RecoversPanickingStage(t *testing.T) {
	store := NewReportStore()
	o := New(DefaultConfig(), &fakeStages{panicIn: "normalize"}, LocalToolRunner{}, nil, store)

	in := stemInterview()
	b, err := o.Run(context.Background(), in, sampleFrame())
	require.NoError(t, err)
	assert.Equal(t, FallbackNeeds(in), b.Needs)

	p, _ := store.Progress(o.ReportID(in, sampleFrame()))
	var errored []int
	for _, ev := range p.Log {
		if ev.Status == StatusError {
			errored = append(errored, ev.Stage)
			assert.Contains(t, ev.Message, "normalize exploded")
		}
	}
	assert.Equal(t, []int{1}, errored)
	assert.Equal(t, CompleteMessage, p.Message)
}

func TestRun_SynthesisPanicUsesTemplatesAndExtras(t *testing.T) {
	o := New(DefaultConfig(), &fakeStages{panicIn: "synthesize"}, LocalToolRunner{}, nil, nil)

	in := stemInterview()
	in.BudgetUSDRange = model.NewBudgetRange(100000, 500000)
	b, err := o.Run(context.Background(), in, sampleFrame())
	require.NoError(t, err)

	require.Len(t, b.Sections, 10)
	assert.Equal(t, "Overview", b.Sections[1].Title)
	assert.Equal(t, "Budget Reality Check", b.Sections[9].Title)
}

func TestRun_SequentialMatchesParallel(t *testing.T) {
	run := func(parallel bool) []byte {
		cfg := DefaultConfig()
		cfg.Parallel = parallel
		o := New(cfg, NewModelStages(llm.Offline{}, nil), LocalToolRunner{}, nil, nil, WithClock(fixedClock))
		b, err := o.Run(context.Background(), model.DemoInterview(), sampleFrame())
		require.NoError(t, err)
		raw, err := b.ToJSON()
		require.NoError(t, err)
		return raw
	}
	assert.Equal(t, string(run(false)), string(run(true)))
}

func TestRun_OfflineMeetsMinimums(t *testing.T) {
	o := New(DefaultConfig(), nil, nil, nil, nil)
	b, err := o.Run(context.Background(), stemInterview(), sampleFrame())
	require.NoError(t, err)

	assert.GreaterOrEqual(t, len(b.Sections), 9)
	assert.Len(t, b.DataPoints, len(b.Plan.MetricRequests))
	assert.GreaterOrEqual(t, len(b.Recommendations.FunderCandidates), 8)
	for _, c := range b.Recommendations.FunderCandidates {
		assert.GreaterOrEqual(t, c.Score, 0.0)
		assert.LessOrEqual(t, c.Score, 1.0)
	}
	assert.GreaterOrEqual(t, len(b.Recommendations.SearchQueries), 5)
	assert.NotNil(t, b.Figures)
}

func TestRun_FigureErrorsAreTolerated(t *testing.T) {
	o := New(DefaultConfig(), &fakeStages{}, LocalToolRunner{}, stubFigures{err: errors.New("no fonts")}, nil)
	b, err := o.Run(context.Background(), stemInterview(), tinyFrame())
	require.NoError(t, err)
	assert.Empty(t, b.Figures)
	assert.NotNil(t, b.Figures)
}

func TestRun_StageTimeoutFallsBack(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StageTimeout = 20 * time.Millisecond
	gen := llm.GeneratorFunc(func(ctx context.Context, _, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	o := New(cfg, NewModelStages(gen, nil), LocalToolRunner{}, nil, nil)

	in := stemInterview()
	b, err := o.Run(context.Background(), in, tinyFrame())
	require.NoError(t, err)
	assert.Equal(t, FallbackNeeds(in), b.Needs)
	assert.Equal(t, FallbackIntakeSummary(in), b.Sections[0].MarkdownBody)
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stages := &fakeStages{}
	o := New(DefaultConfig(), stages, nil, nil, nil)
	b, err := o.Run(ctx, stemInterview(), tinyFrame())
	assert.Nil(t, b)

	var perr *PipelineError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 0, perr.Stage)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, stages.calls)
}

func TestReportStore(t *testing.T) {
	s := NewReportStore()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	s.ReportStage("RPT-1", 0, StatusRunning, "Intake summary")
	s.ReportStage("RPT-1", 0, StatusCompleted, "Intake summary")
	p, ok := s.Progress("RPT-1")
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, p.Status)
	require.Len(t, p.Log, 2)
	assert.False(t, p.Done)

	p.Log[0].Message = "mutated"
	again, _ := s.Progress("RPT-1")
	assert.Equal(t, "Intake summary", again.Log[0].Message)

	s.Put("RPT-1", &model.ReportBundle{Version: "1.0"})
	now = now.Add(time.Minute)
	s.Put("RPT-2", &model.ReportBundle{Version: "1.0"})
	assert.Equal(t, []string{"RPT-2", "RPT-1"}, s.List())

	p, _ = s.Progress("RPT-1")
	assert.True(t, p.Done)

	_, ok = s.Get("RPT-3")
	assert.False(t, ok)

	assert.True(t, s.Remove("RPT-1"))
	assert.False(t, s.Remove("RPT-1"))
	_, ok = s.Progress("RPT-1")
	assert.False(t, ok)
	assert.Equal(t, []string{"RPT-2"}, s.List())
}

// rowRecorder is a tool runner that records the frame size of each call.
func rowRecorder(mu *sync.Mutex, rows *[]int) ToolRunner {
	return toolRunnerFunc(func(_ context.Context, f *dataset.Frame, _, _ string, _ ToolContext) (string, error) {
		mu.Lock()
		*rows = append(*rows, f.Len())
		mu.Unlock()
		return "| Metric | Value |\n|---|---|\n| Rows | " + fmt.Sprint(f.Len()) + " |", nil
	})
}

func TestRun_MetricsUseNeedsFilteredFrame(t *testing.T) {
	var (
		mu   sync.Mutex
		rows []int
	)
	o := New(DefaultConfig(), &fakeStages{}, rowRecorder(&mu, &rows), stubFigures{}, NewReportStore())

	b, err := o.Run(context.Background(), model.InterviewInput{ProgramArea: "Education"}, tinyFrame())
	require.NoError(t, err)

	require.NotEmpty(t, rows)
	for _, n := range rows {
		assert.Equal(t, 2, n)
	}
	require.NotEmpty(t, b.DataPoints)
	assert.Contains(t, b.DataPoints[0].TableMD, "| Rows | 2 |")
}

func TestRun_MetricsFallBackToOriginalFrameWhenFilterEmpties(t *testing.T) {
	var (
		mu   sync.Mutex
		rows []int
	)
	// Education rows are all Youth and the only Adults row is Health, so the
	// combined filter keeps nothing.
	needs := model.StructuredNeeds{
		Subjects:    []string{"education"},
		Populations: []string{"adults"},
		Weights:     map[string]float64{},
	}
	o := New(DefaultConfig(), &fakeStages{needs: &needs}, rowRecorder(&mu, &rows), stubFigures{}, NewReportStore())

	_, err := o.Run(context.Background(), model.InterviewInput{ProgramArea: "Education"}, tinyFrame())
	require.NoError(t, err)

	require.NotEmpty(t, rows)
	for _, n := range rows {
		assert.Equal(t, tinyFrame().Len(), n)
	}
}
