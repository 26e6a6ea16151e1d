package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grantscope/advisor/internal/cost"
	"github.com/grantscope/advisor/internal/model"
	"github.com/grantscope/advisor/internal/render"
)

func TestResolveInterview(t *testing.T) {
	in, err := resolveInterview("", true)
	require.NoError(t, err)
	assert.Equal(t, model.DemoInterview().ProgramArea, in.ProgramArea)

	_, err = resolveInterview("", false)
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "interview.yaml")
	require.NoError(t, os.WriteFile(path, []byte("program_area: Arts\ngeography: [CA]\n"), 0644))
	in, err = resolveInterview(path, false)
	require.NoError(t, err)
	assert.Equal(t, "Arts", in.ProgramArea)
	assert.Equal(t, model.DefaultUserRole, in.UserRole)
}

func TestWriteReport(t *testing.T) {
	b := &model.ReportBundle{
		Sections:  []model.ReportSection{{Title: "Intake Summary", MarkdownBody: "Hello"}},
		CreatedAt: "2026-01-01T00:00:00.000000Z",
		Version:   model.BundleVersion,
	}

	var stdout bytes.Buffer
	require.NoError(t, writeReport(&stdout, "", b, render.FormatMarkdown))
	assert.Contains(t, stdout.String(), "## Intake Summary")

	assert.Error(t, writeReport(&stdout, "", b, render.FormatXLSX))

	out := filepath.Join(t.TempDir(), "nested", "report.html")
	require.NoError(t, writeReport(&stdout, out, b, render.FormatHTML))
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), "<h2>Overview</h2>")
}

func TestReadBundleFile(t *testing.T) {
	b := &model.ReportBundle{Interview: model.InterviewInput{ProgramArea: "STEM"}, Version: model.BundleVersion}
	raw, err := b.ToJSON()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "r-123.json")
	require.NoError(t, os.WriteFile(path, raw, 0644))

	got, id, err := readBundleFile(path, "")
	require.NoError(t, err)
	assert.Equal(t, "r-123", id)
	assert.Equal(t, "STEM", got.Interview.ProgramArea)

	_, id, err = readBundleFile(path, "custom")
	require.NoError(t, err)
	assert.Equal(t, "custom", id)

	_, _, err = readBundleFile(filepath.Join(t.TempDir(), "missing.json"), "")
	assert.Error(t, err)
}

func TestPrintLedger(t *testing.T) {
	var buf bytes.Buffer
	printLedger(&buf, nil)
	assert.Empty(t, buf.String())

	ledger := cost.NewLedger(cost.NewCalculator(cost.DefaultRates()))
	ledger.Record("claude-sonnet-4-5-20250929", "plan", cost.Usage{Input: 1000, Output: 500})
	printLedger(&buf, ledger)
	assert.Contains(t, buf.String(), "Model usage")
	assert.Contains(t, buf.String(), "plan")
	assert.Contains(t, buf.String(), "total")
}

func TestDemoCommand(t *testing.T) {
	var buf bytes.Buffer
	demoCmd.SetOut(&buf)
	require.NoError(t, demoCmd.RunE(demoCmd, nil))
	assert.Contains(t, buf.String(), `"program_area": "Youth education and after-school STEM"`)
}
