package render

import (
	"fmt"
	"html"
	"strings"

	"github.com/gomarkdown/markdown"
	mdhtml "github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"

	"github.com/grantscope/advisor/internal/model"
)

const htmlHead = `<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8" />
<title>GrantScope Advisor Report</title>
<style>
  :root { --text: #111; --muted: #555; --border: #ddd; --accent: #2b6cb0; }
  body { font-family: -apple-system, "Segoe UI", Roboto, Arial, sans-serif; color: var(--text); margin: 1.25rem; line-height: 1.45; }
  h1, h2, h3 { color: var(--accent); margin: 0.75rem 0 0.5rem; }
  .meta { color: var(--muted); font-size: 0.9rem; margin-bottom: 0.75rem; }
  .section { margin: 1rem 0 1.25rem; padding-bottom: 0.75rem; border-bottom: 1px solid var(--border); }
  .figure-embed { margin: 0.75rem 0; }
  .figure-missing { color: var(--muted); font-style: italic; border: 1px dashed var(--border); padding: 0.5rem; }
  .interpretation { color: var(--muted); font-size: 0.95rem; margin: 0.25rem 0 0.75rem; }
  .dp { padding-left: 0.5rem; border-left: 3px solid var(--border); margin: 0.5rem 0; }
  table { border-collapse: collapse; margin: 0.5rem 0; }
  td, th { border: 1px solid var(--border); padding: 0.2rem 0.5rem; }
  @media print { body { margin: 0.5in; } .section { page-break-inside: avoid; } }
</style>
</head>
<body>
<header>
  <h1>GrantScope Advisor Report</h1>
`

// markdownToHTML converts one Markdown fragment. A fresh parser is needed
// per document.
func markdownToHTML(md string) string {
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.NoEmptyLineBeforeBlock)
	r := mdhtml.NewRenderer(mdhtml.RendererOptions{Flags: mdhtml.CommonFlags | mdhtml.SkipHTML})
	return string(markdown.ToHTML([]byte(md), p, r))
}

// HTML renders the bundle as a self-contained HTML document with inline CSS
// and embedded figures.
func HTML(b *model.ReportBundle) string {
	var sb strings.Builder
	sb.WriteString(htmlHead)
	fmt.Fprintf(&sb, "<div class=\"meta\">Version %s, created %s</div>\n</header>\n",
		html.EscapeString(b.Version), html.EscapeString(b.CreatedAt))

	if len(b.Sections) > 0 {
		sb.WriteString("<div class=\"section\">\n<h2>Overview</h2>\n")
		sb.WriteString(markdownToHTML(b.Sections[0].MarkdownBody))
		sb.WriteString("</div>\n")
	}

	if len(b.DataPoints) > 0 {
		sb.WriteString("<div class=\"section\">\n<h2>Data Evidence</h2>\n")
		for _, dp := range b.DataPoints {
			fmt.Fprintf(&sb, "<div class=\"dp\"><strong>%s</strong>: %s</div>\n", html.EscapeString(dp.ID), html.EscapeString(dp.Title))
			if dp.TableMD != "" {
				sb.WriteString(markdownToHTML(dp.TableMD))
			}
			if dp.Notes != "" {
				fmt.Fprintf(&sb, "<div class=\"interpretation\">%s</div>\n", html.EscapeString(dp.Notes))
			}
		}
		sb.WriteString("</div>\n")
	}

	rec := b.Recommendations
	if len(rec.FunderCandidates) > 0 || len(rec.ResponseTuning) > 0 {
		sb.WriteString("<div class=\"section\">\n<h2>Recommendations</h2>\n")
		if len(rec.FunderCandidates) > 0 {
			sb.WriteString("<h3>Funder Candidates (Top 5)</h3><ol class=\"rec-list\">\n")
			for _, fc := range rec.FunderCandidates[:min(5, len(rec.FunderCandidates))] {
				fmt.Fprintf(&sb, "<li><strong>%s</strong> (score %.2f): %s%s</li>\n",
					html.EscapeString(fc.Name), fc.Score, html.EscapeString(fc.Rationale), html.EscapeString(cites(fc.GroundedDPIDs)))
			}
			sb.WriteString("</ol>\n")
		}
		if len(rec.ResponseTuning) > 0 {
			sb.WriteString("<h3>Response Tuning Tips</h3><ul class=\"rec-list\">\n")
			for _, tip := range rec.ResponseTuning[:min(5, len(rec.ResponseTuning))] {
				fmt.Fprintf(&sb, "<li>%s%s</li>\n", html.EscapeString(tip.Text), html.EscapeString(cites(tip.GroundedDPIDs)))
			}
			sb.WriteString("</ul>\n")
		}
		sb.WriteString("</div>\n")
	}

	if len(b.Figures) > 0 {
		sb.WriteString("<div class=\"section\">\n<h2>Figures</h2>\n")
		for _, fig := range b.Figures {
			fmt.Fprintf(&sb, "<h3>%s</h3>\n%s\n", html.EscapeString(figureLabel(fig)), figureHTML(fig))
			if fig.InterpretationText != nil && strings.TrimSpace(*fig.InterpretationText) != "" {
				fmt.Fprintf(&sb, "<div class=\"interpretation\"><strong>What this means:</strong> %s</div>\n",
					html.EscapeString(CleanInterpretation(*fig.InterpretationText, false)))
			}
		}
		sb.WriteString("</div>\n")
	}

	if len(b.Sections) > 1 {
		sb.WriteString("<div class=\"section\">\n<h2>Narrative</h2>\n")
		for _, sec := range b.Sections[1:] {
			fmt.Fprintf(&sb, "<h3>%s</h3>\n", html.EscapeString(sec.Title))
			sb.WriteString(markdownToHTML(CleanNarrative(sec.MarkdownBody)))
		}
		sb.WriteString("</div>\n")
	}
	sb.WriteString("</body></html>\n")
	return sb.String()
}

func figureHTML(fig model.FigureArtifact) string {
	if fig.PNGBase64 != nil && *fig.PNGBase64 != "" {
		return fmt.Sprintf(`<img alt="%s" src="data:image/png;base64,%s" style="max-width:100%%;height:auto;" />`,
			html.EscapeString(figureLabel(fig)), *fig.PNGBase64)
	}
	if fig.HTML != nil && *fig.HTML != "" {
		return `<div class="figure-embed">` + *fig.HTML + `</div>`
	}
	return `<div class="figure-embed figure-missing">[No figure content available for ` + html.EscapeString(figureLabel(fig)) + `]</div>`
}
