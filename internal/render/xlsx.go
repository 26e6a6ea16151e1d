package render

import (
	"io"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/grantscope/advisor/internal/model"
)

// Workbook sheet names, in the order they are added.
const (
	SheetSummary    = "Summary"
	SheetSections   = "Sections"
	SheetDataPoints = "DataPoints"
	SheetFunders    = "Funders"
	SheetTips       = "Tips"
	SheetQueries    = "Queries"
	SheetFigures    = "Figures"
)

// Workbook builds an XLSX workbook with one sheet per bundle part.
func Workbook(b *model.ReportBundle) (*xlsx.File, error) {
	wb := xlsx.NewFile()

	summary := [][]string{
		{"Field", "Value"},
		{"Version", b.Version},
		{"Created At", b.CreatedAt},
		{"Program Area", b.Interview.ProgramArea},
		{"Geography", strings.Join(b.Interview.Geography, ", ")},
		{"Populations", strings.Join(b.Interview.Populations, ", ")},
		{"Subjects", strings.Join(b.Needs.Subjects, ", ")},
		{"Data Points", itoa(len(b.DataPoints))},
		{"Funder Candidates", itoa(len(b.Recommendations.FunderCandidates))},
		{"Sections", itoa(len(b.Sections))},
		{"Figures", itoa(len(b.Figures))},
	}
	if err := addSheet(wb, SheetSummary, summary); err != nil {
		return nil, err
	}

	sections := [][]string{{"#", "Title", "Body"}}
	for i, s := range b.Sections {
		sections = append(sections, []string{itoa(i + 1), s.Title, s.MarkdownBody})
	}
	if err := addSheet(wb, SheetSections, sections); err != nil {
		return nil, err
	}

	dps := [][]string{{"ID", "Title", "Method", "Table", "Notes"}}
	for _, dp := range b.DataPoints {
		dps = append(dps, []string{dp.ID, dp.Title, dp.Method, dp.TableMD, dp.Notes})
	}
	if err := addSheet(wb, SheetDataPoints, dps); err != nil {
		return nil, err
	}

	funders := [][]string{{"Rank", "Name", "Score", "Rationale", "Grounded Data Points"}}
	for i, fc := range b.Recommendations.FunderCandidates {
		funders = append(funders, []string{itoa(i + 1), fc.Name, "", fc.Rationale, strings.Join(fc.GroundedDPIDs, ", ")})
	}
	if err := addSheet(wb, SheetFunders, funders); err != nil {
		return nil, err
	}
	// Scores go in as numbers so the sheet sorts correctly.
	sheet := wb.Sheet[SheetFunders]
	for i, fc := range b.Recommendations.FunderCandidates {
		sheet.Rows[i+1].Cells[2].SetFloat(fc.Score)
	}

	tips := [][]string{{"Tip", "Grounded Data Points"}}
	for _, tip := range b.Recommendations.ResponseTuning {
		tips = append(tips, []string{tip.Text, strings.Join(tip.GroundedDPIDs, ", ")})
	}
	if err := addSheet(wb, SheetTips, tips); err != nil {
		return nil, err
	}

	queries := [][]string{{"Query", "Notes"}}
	for _, q := range b.Recommendations.SearchQueries {
		queries = append(queries, []string{q.Query, q.Notes})
	}
	if err := addSheet(wb, SheetQueries, queries); err != nil {
		return nil, err
	}

	figs := [][]string{{"ID", "Label", "Kind", "Interpretation"}}
	for _, fig := range b.Figures {
		kind := "missing"
		switch {
		case fig.PNGBase64 != nil && *fig.PNGBase64 != "":
			kind = "png"
		case fig.HTML != nil && *fig.HTML != "":
			kind = "html"
		}
		interp := ""
		if fig.InterpretationText != nil {
			interp = CleanInterpretation(*fig.InterpretationText, false)
		}
		figs = append(figs, []string{fig.ID, fig.Label, kind, interp})
	}
	if err := addSheet(wb, SheetFigures, figs); err != nil {
		return nil, err
	}
	return wb, nil
}

// WriteXLSX writes the bundle's workbook to w.
func WriteXLSX(w io.Writer, b *model.ReportBundle) error {
	wb, err := Workbook(b)
	if err != nil {
		return err
	}
	return eris.Wrap(wb.Write(w), "render: write xlsx")
}

func addSheet(wb *xlsx.File, name string, rows [][]string) error {
	sheet, err := wb.AddSheet(name)
	if err != nil {
		return eris.Wrapf(err, "render: add sheet %s", name)
	}
	for _, r := range rows {
		row := sheet.AddRow()
		for _, v := range r {
			row.AddCell().SetString(v)
		}
	}
	return nil
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
