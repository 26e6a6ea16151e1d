// Package render exports a ReportBundle as JSON, Markdown, HTML or an XLSX
// workbook.
package render

import (
	"io"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/grantscope/advisor/internal/model"
)

// Format names an export format.
type Format string

const (
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
	FormatXLSX     Format = "xlsx"
)

// ParseFormat accepts a format name or a common alias ("md", "htm").
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return FormatJSON, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	case "html", "htm":
		return FormatHTML, nil
	case "xlsx", "excel":
		return FormatXLSX, nil
	}
	return "", eris.Errorf("render: unknown format %q", s)
}

// ContentType returns the MIME type served for f.
func (f Format) ContentType() string {
	switch f {
	case FormatMarkdown:
		return "text/markdown; charset=utf-8"
	case FormatHTML:
		return "text/html; charset=utf-8"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "application/json"
}

// Extension returns the file extension for f, without the dot.
func (f Format) Extension() string {
	if f == FormatMarkdown {
		return "md"
	}
	return string(f)
}

// Write renders b to w in format f.
func Write(w io.Writer, b *model.ReportBundle, f Format) error {
	if b == nil {
		return eris.New("render: nil bundle")
	}
	switch f {
	case FormatJSON:
		raw, err := b.ToJSON()
		if err != nil {
			return eris.Wrap(err, "render: encode json")
		}
		_, err = w.Write(raw)
		return eris.Wrap(err, "render: write json")
	case FormatMarkdown:
		_, err := io.WriteString(w, Markdown(b))
		return eris.Wrap(err, "render: write markdown")
	case FormatHTML:
		_, err := io.WriteString(w, HTML(b))
		return eris.Wrap(err, "render: write html")
	case FormatXLSX:
		return WriteXLSX(w, b)
	}
	return eris.Errorf("render: unknown format %q", f)
}
