package notion

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/grantscope/advisor/internal/model"
)

// Database property names the publisher writes. The target database needs a
// title property called Name and rich text properties for the rest.
const (
	PropName        = "Name"
	PropReportID    = "Report ID"
	PropProgramArea = "Program Area"
	PropVersion     = "Version"
	PropTopFunder   = "Top Funder"
)

const (
	// Notion rejects rich text longer than this.
	maxRichText = 2000
	// Notion accepts at most this many children in one create request.
	maxChildren = 100
)

// Published describes the outcome of Publish.
type Published struct {
	PageID   string
	Replaced int // earlier pages archived for the same report id
}

// Publish writes the bundle as a page in the database. Pages previously
// published for the same report id are archived first, so the database
// holds one live page per report.
func Publish(ctx context.Context, c Client, dbID, reportID string, b *model.ReportBundle) (Published, error) {
	if b == nil {
		return Published{}, eris.New("notion: nil bundle")
	}
	log := zap.L().With(zap.String("report_id", reportID), zap.String("database", dbID))

	existing, err := QueryAll(ctx, c, dbID, &notionapi.DatabaseQueryRequest{
		Filter: notionapi.PropertyFilter{
			Property: PropReportID,
			RichText: &notionapi.TextFilterCondition{Equals: reportID},
		},
	})
	if err != nil {
		return Published{}, eris.Wrap(err, "notion: find published report")
	}

	props := ReportProperties(reportID, b)
	var out Published
	for _, p := range existing {
		if _, err := c.UpdatePage(ctx, string(p.ID), &notionapi.PageUpdateRequest{
			Properties: props,
			Archived:   true,
		}); err != nil {
			return out, eris.Wrapf(err, "notion: archive page %s", p.ID)
		}
		out.Replaced++
	}

	page, err := c.CreatePage(ctx, &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(dbID),
		},
		Properties: props,
		Children:   ReportBlocks(b),
	})
	if err != nil {
		return out, eris.Wrap(err, "notion: create report page")
	}
	out.PageID = string(page.ID)
	log.Info("notion: report published", zap.String("page_id", out.PageID), zap.Int("replaced", out.Replaced))
	return out, nil
}

// ReportProperties builds the database row for a report.
func ReportProperties(reportID string, b *model.ReportBundle) notionapi.Properties {
	area := strings.TrimSpace(b.Interview.ProgramArea)
	title := "GrantScope report"
	if area != "" {
		title = "GrantScope: " + area
	}
	top := ""
	if fc := b.Recommendations.FunderCandidates; len(fc) > 0 {
		top = fc[0].Name
	}
	return notionapi.Properties{
		PropName: notionapi.TitleProperty{
			Type:  notionapi.PropertyTypeTitle,
			Title: richText(title),
		},
		PropReportID:    textProperty(reportID),
		PropProgramArea: textProperty(area),
		PropVersion:     textProperty(b.Version),
		PropTopFunder:   textProperty(top),
	}
}

func textProperty(v string) notionapi.RichTextProperty {
	return notionapi.RichTextProperty{
		Type:     notionapi.PropertyTypeRichText,
		RichText: richText(v),
	}
}

// ReportBlocks lays the report out as headings, paragraphs and bullets:
// sections first, then funder candidates and tuning tips. Output is capped
// at the per-request child limit.
func ReportBlocks(b *model.ReportBundle) []notionapi.Block {
	var blocks []notionapi.Block
	for _, sec := range b.Sections {
		if !sec.Valid() {
			continue
		}
		blocks = append(blocks, heading(sec.Title))
		for _, para := range splitParagraphs(sec.MarkdownBody) {
			blocks = append(blocks, paragraph(para))
		}
	}

	rec := b.Recommendations
	if len(rec.FunderCandidates) > 0 {
		blocks = append(blocks, heading("Funder Candidates"))
		for _, fc := range rec.FunderCandidates {
			blocks = append(blocks, bullet(fmt.Sprintf("%s (score %.2f): %s", fc.Name, fc.Score, fc.Rationale)))
		}
	}
	if len(rec.ResponseTuning) > 0 {
		blocks = append(blocks, heading("Response Tuning Tips"))
		for _, tip := range rec.ResponseTuning {
			blocks = append(blocks, bullet(tip.Text))
		}
	}

	if len(blocks) > maxChildren {
		blocks = blocks[:maxChildren]
	}
	return blocks
}

func heading(text string) notionapi.Block {
	return notionapi.Heading2Block{
		BasicBlock: notionapi.BasicBlock{Object: notionapi.ObjectTypeBlock, Type: notionapi.BlockTypeHeading2},
		Heading2:   notionapi.Heading{RichText: richText(text)},
	}
}

func paragraph(text string) notionapi.Block {
	return notionapi.ParagraphBlock{
		BasicBlock: notionapi.BasicBlock{Object: notionapi.ObjectTypeBlock, Type: notionapi.BlockTypeParagraph},
		Paragraph:  notionapi.Paragraph{RichText: richText(text)},
	}
}

func bullet(text string) notionapi.Block {
	return notionapi.BulletedListItemBlock{
		BasicBlock:       notionapi.BasicBlock{Object: notionapi.ObjectTypeBlock, Type: notionapi.BlockTypeBulletedListItem},
		BulletedListItem: notionapi.ListItem{RichText: richText(text)},
	}
}

// richText splits text into chunks Notion accepts.
func richText(text string) []notionapi.RichText {
	var out []notionapi.RichText
	for _, chunk := range chunkRunes(text, maxRichText) {
		out = append(out, notionapi.RichText{Type: notionapi.ObjectTypeText, Text: &notionapi.Text{Content: chunk}})
	}
	return out
}

func chunkRunes(s string, n int) []string {
	if s == "" {
		return []string{""}
	}
	var out []string
	for utf8.RuneCountInString(s) > n {
		cut := 0
		for i := 0; i < n; i++ {
			_, size := utf8.DecodeRuneInString(s[cut:])
			cut += size
		}
		out = append(out, s[:cut])
		s = s[cut:]
	}
	return append(out, s)
}

func splitParagraphs(body string) []string {
	var out []string
	for _, p := range strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
