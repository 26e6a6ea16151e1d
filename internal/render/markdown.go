package render

import (
	"fmt"
	"strings"

	"github.com/grantscope/advisor/internal/model"
)

// Markdown renders the bundle as a single Markdown document: narrative
// sections, recommendations, figure interpretations and the data evidence.
func Markdown(b *model.ReportBundle) string {
	var sb strings.Builder
	sb.WriteString("# GrantScope Advisor Report\n\n")
	fmt.Fprintf(&sb, "_Version %s, created %s_\n\n", b.Version, b.CreatedAt)

	for _, sec := range b.Sections {
		fmt.Fprintf(&sb, "## %s\n\n%s\n\n", sec.Title, strings.TrimSpace(sec.MarkdownBody))
	}

	rec := b.Recommendations
	if len(rec.FunderCandidates) > 0 || len(rec.ResponseTuning) > 0 || len(rec.SearchQueries) > 0 {
		sb.WriteString("## Recommendations\n\n")
	}
	if len(rec.FunderCandidates) > 0 {
		sb.WriteString("### Funder Candidates\n\n")
		for i, fc := range rec.FunderCandidates {
			fmt.Fprintf(&sb, "%d. **%s** (score %.2f): %s%s\n", i+1, fc.Name, fc.Score, fc.Rationale, cites(fc.GroundedDPIDs))
		}
		sb.WriteString("\n")
	}
	if len(rec.ResponseTuning) > 0 {
		sb.WriteString("### Response Tuning Tips\n\n")
		for _, tip := range rec.ResponseTuning {
			fmt.Fprintf(&sb, "- %s%s\n", tip.Text, cites(tip.GroundedDPIDs))
		}
		sb.WriteString("\n")
	}
	if len(rec.SearchQueries) > 0 {
		sb.WriteString("### Search Queries\n\n")
		for _, q := range rec.SearchQueries {
			if q.Notes != "" {
				fmt.Fprintf(&sb, "- `%s` (%s)\n", q.Query, q.Notes)
			} else {
				fmt.Fprintf(&sb, "- `%s`\n", q.Query)
			}
		}
		sb.WriteString("\n")
	}

	if len(b.Figures) > 0 {
		sb.WriteString("## Figures\n\n")
		for _, fig := range b.Figures {
			fmt.Fprintf(&sb, "### %s\n\n", figureLabel(fig))
			if fig.PNGBase64 != nil {
				fmt.Fprintf(&sb, "![%s](data:image/png;base64,%s)\n\n", figureLabel(fig), *fig.PNGBase64)
			}
			if fig.InterpretationText != nil && strings.TrimSpace(*fig.InterpretationText) != "" {
				fmt.Fprintf(&sb, "**What this means:** %s\n\n", CleanInterpretation(*fig.InterpretationText, true))
			}
		}
	}

	if len(b.DataPoints) > 0 {
		sb.WriteString("## Data Evidence\n\n")
		for _, dp := range b.DataPoints {
			fmt.Fprintf(&sb, "### %s: %s\n\n%s\n\n", dp.ID, dp.Title, strings.TrimSpace(dp.TableMD))
			if dp.Notes != "" {
				fmt.Fprintf(&sb, "%s\n\n", dp.Notes)
			}
		}
	}
	return strings.TrimRight(sb.String(), "\n") + "\n"
}

func cites(ids []string) string {
	if len(ids) == 0 {
		return ""
	}
	return " (cites " + strings.Join(ids, ", ") + ")"
}

func figureLabel(fig model.FigureArtifact) string {
	if fig.Label != "" {
		return fig.Label
	}
	if fig.ID != "" {
		return fig.ID
	}
	return "Figure"
}
