package figures

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/grantscope/advisor/internal/advisor"
	"github.com/grantscope/advisor/internal/dataset"
	"github.com/grantscope/advisor/internal/llm/mocks"
	"github.com/grantscope/advisor/internal/model"
)

func sampleFrame() *dataset.Frame {
	return dataset.New(
		[]string{dataset.ColFunderName, dataset.ColAmountUSD, dataset.ColYearIssued, dataset.ColSubjectTran, dataset.ColGeoAreaTran},
		[]dataset.Row{
			{dataset.ColFunderName: "Alpha Foundation", dataset.ColAmountUSD: 10000.0, dataset.ColYearIssued: 2019.0, dataset.ColSubjectTran: "health; education", dataset.ColGeoAreaTran: "TX"},
			{dataset.ColFunderName: "Beta Trust", dataset.ColAmountUSD: 5000.0, dataset.ColYearIssued: 2020.0, dataset.ColSubjectTran: "education", dataset.ColGeoAreaTran: "CA"},
			{dataset.ColFunderName: "Alpha Foundation", dataset.ColAmountUSD: 20000.0, dataset.ColYearIssued: 2021.0, dataset.ColSubjectTran: "health", dataset.ColGeoAreaTran: "TX"},
			{dataset.ColFunderName: "Gamma Org", dataset.ColAmountUSD: 12000.0, dataset.ColYearIssued: 2021.0, dataset.ColSubjectTran: "health; housing", dataset.ColGeoAreaTran: "NY"},
		},
	)
}

func TestBuildFigures_WithInterpreter(t *testing.T) {
	gen := mocks.NewMockGenerator(t)
	gen.On("Generate", mock.Anything, advisor.SystemGuardrails, mock.Anything).Return("Short test interpretation.", nil).Times(3)

	in := model.InterviewInput{ProgramArea: "Health programs", UserRole: "Analyst"}
	needs := model.StructuredNeeds{Subjects: []string{"health"}, Geographies: []string{"TX"}}

	figs, err := NewBuilder(advisor.NewModelStages(gen, nil)).BuildFigures(context.Background(), sampleFrame(), in, needs)
	require.NoError(t, err)
	require.Len(t, figs, 3)

	labels := []string{LabelTopFunders, LabelDistribution, LabelTimeTrend}
	for i, fig := range figs {
		assert.Equal(t, labels[i], fig.Label)
		assert.Equal(t, model.FigureID(labels[i]), fig.ID)
		require.NotNil(t, fig.Summary)
		require.NotNil(t, fig.InterpretationText)
		assert.Contains(t, strings.ToLower(*fig.InterpretationText), "interpretation")

		require.NotNil(t, fig.PNGBase64)
		raw, err := base64.StdEncoding.DecodeString(*fig.PNGBase64)
		require.NoError(t, err)
		_, err = png.Decode(bytes.NewReader(raw))
		require.NoError(t, err)
		assert.Nil(t, fig.HTML)
	}
}

func TestBuildFigures_Summaries(t *testing.T) {
	figs, err := NewBuilder(nil).BuildFigures(context.Background(), sampleFrame(), model.InterviewInput{}, model.StructuredNeeds{})
	require.NoError(t, err)
	require.Len(t, figs, 3)

	top := figs[0].Summary
	assert.Equal(t, "Alpha Foundation", top.Stats["top_funder"])
	assert.Equal(t, 30000.0, top.Stats["top_amount"])
	assert.Equal(t, 3, top.Stats["n_bars"])
	assert.Equal(t, []string{"Alpha Foundation leads in total awarded amount"}, top.Highlights)
	assert.Equal(t, "What this means: Alpha Foundation leads in total awarded amount.", *figs[0].InterpretationText)

	dist := figs[1].Summary
	assert.Equal(t, 4, dist.Stats["count"])
	assert.Equal(t, 11000.0, dist.Stats["median"])
	assert.Len(t, dist.Highlights, 1)

	trend := figs[2].Summary
	assert.Equal(t, 3, trend.Stats["n_points"])
	assert.Equal(t, 2019, trend.Stats["first_year"])
	assert.Equal(t, 2021, trend.Stats["last_year"])
	assert.Equal(t, 32000.0, trend.Stats["last_total"])
	assert.Equal(t, []string{"Total awarded amount increased over time"}, trend.Highlights)
}

func TestBuildFigures_SkipsMissingColumns(t *testing.T) {
	f := sampleFrame().DropColumn(dataset.ColYearIssued).DropColumn(dataset.ColFunderName)
	figs, err := NewBuilder(nil).BuildFigures(context.Background(), f, model.InterviewInput{}, model.StructuredNeeds{})
	require.NoError(t, err)
	require.Len(t, figs, 1)
	assert.Equal(t, LabelDistribution, figs[0].Label)

	figs, err = NewBuilder(nil).BuildFigures(context.Background(), dataset.New(nil, nil), model.InterviewInput{}, model.StructuredNeeds{})
	require.NoError(t, err)
	assert.NotNil(t, figs)
	assert.Empty(t, figs)
}

func TestBuildFigures_HTMLFallback(t *testing.T) {
	b := NewBuilder(nil)
	b.render = func(chart, int, int) ([]byte, error) { return nil, errors.New("no canvas") }

	figs, err := b.BuildFigures(context.Background(), sampleFrame(), model.InterviewInput{}, model.StructuredNeeds{})
	require.NoError(t, err)
	require.NotEmpty(t, figs)
	assert.Nil(t, figs[0].PNGBase64)
	require.NotNil(t, figs[0].HTML)
	assert.Contains(t, *figs[0].HTML, "<td>Alpha Foundation</td><td>$30,000</td>")

	b.render = func(chart, int, int) ([]byte, error) { panic("boom") }
	figs, err = b.BuildFigures(context.Background(), sampleFrame(), model.InterviewInput{}, model.StructuredNeeds{})
	require.NoError(t, err)
	require.NotNil(t, figs[0].HTML)
}

func TestHistogram(t *testing.T) {
	labels, counts := histogram([]float64{0, 5, 10}, 0, 10, 2)
	assert.Equal(t, []string{"$0", "$5"}, labels)
	assert.Equal(t, []float64{1, 2}, counts)

	labels, counts = histogram([]float64{7, 7}, 7, 7, 10)
	assert.Equal(t, []string{"$7"}, labels)
	assert.Equal(t, []float64{2}, counts)
}

func TestRenderPNG_EmptySeries(t *testing.T) {
	raw, err := renderPNG(chart{label: "Empty"}, 200, 100)
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, 200, img.Bounds().Dx())

	_, err = renderPNG(chart{label: "Bad"}, 0, 0)
	assert.Error(t, err)
}
