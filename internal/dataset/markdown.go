package dataset

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// HeaderTitle turns a column name into a table header:
// "grant_subject_tran" becomes "Grant Subject Tran".
func HeaderTitle(col string) string {
	return cases.Title(language.English).String(strings.ReplaceAll(col, "_", " "))
}

// FormatUSD renders an amount as whole dollars with thousands separators.
func FormatUSD(v float64) string {
	return message.NewPrinter(language.English).Sprintf("$%.0f", v)
}

// FormatCount renders an integer with thousands separators.
func FormatCount(n int) string {
	return message.NewPrinter(language.English).Sprintf("%d", n)
}

// FormatNumber renders a float rounded to whole units with separators.
func FormatNumber(v float64) string {
	return message.NewPrinter(language.English).Sprintf("%.0f", v)
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// MarkdownTable renders a pipe table. Cells containing pipes or newlines are
// escaped so the table stays well formed.
func MarkdownTable(headers []string, rows [][]string) string {
	var b strings.Builder
	b.WriteString("| " + strings.Join(escapeCells(headers), " | ") + " |\n")
	seps := make([]string, len(headers))
	for i, h := range headers {
		seps[i] = strings.Repeat("-", len(h)+2)
	}
	b.WriteString("|" + strings.Join(seps, "|") + "|\n")
	for _, r := range rows {
		b.WriteString("| " + strings.Join(escapeCells(r), " | ") + " |\n")
	}
	return b.String()
}

// FrameMarkdown renders up to limit rows of the frame with raw column names
// as headers. An empty frame renders as a short notice.
func FrameMarkdown(f *Frame, limit int) string {
	if f.Empty() {
		return "No matching records."
	}
	h := f
	if limit > 0 {
		h = f.Head(limit)
	}
	rows := make([][]string, len(h.Rows))
	for i, r := range h.Rows {
		cells := make([]string, len(h.Columns))
		for j, c := range h.Columns {
			cells[j] = CellString(r[c])
		}
		rows[i] = cells
	}
	return strings.TrimRight(MarkdownTable(h.Columns, rows), "\n")
}

func escapeCells(cells []string) []string {
	out := make([]string, len(cells))
	for i, c := range cells {
		c = strings.ReplaceAll(c, "|", "\\|")
		out[i] = strings.ReplaceAll(c, "\n", " ")
	}
	return out
}
