package advisor

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/grantscope/advisor/internal/dataset"
	"github.com/grantscope/advisor/internal/model"
)

// sectionTypes is the fixed taxonomy used to fill short reports, in the
// order missing types are picked.
var sectionTypes = []string{
	"overview",
	"funding patterns",
	"key players",
	"populations",
	"geographies",
	"time trends",
	"actionable insights",
	"next steps",
	"risk factors",
	"opportunities",
	"recommendations",
	"conclusion",
}

var sectionBodies = map[string]string{
	"overview": "This report draws on the available grant records to support funding decisions. " +
		"It looks at how money is distributed, who gives it, and where your project lines up with past awards.",
	"funding patterns": "Funding concentrates in a handful of subject areas and regions. " +
		"Knowing where money already flows helps you position a proposal, and gaps can point to less crowded opportunities.",
	"key players": "A small group of funders accounts for a large share of giving. " +
		"Some give steadily every year while others make occasional large awards, so relationships should be built with both in mind.",
	"populations": "Grants in this data serve a range of beneficiary groups, with some receiving far more attention than others. " +
		"Match your beneficiary focus to what funders have supported, and note underserved groups that may be open opportunities.",
	"geographies": "Awards cluster in particular places and the mix varies by subject and population. " +
		"Lead with local funders where you already have a presence, then look at nearby regions where your work fits stated priorities.",
	"time trends": "Giving changes from year to year. " +
		"Some areas grow steadily while others swing, so time submissions with the funding cycle and watch for areas on the rise.",
	"actionable insights": "Several practical steps follow from the data: " +
		"1) spread requests across several funders, 2) match proposal themes to what funders have supported, " +
		"3) time submissions to funder cycles, 4) tie your story to each funder's stated goals.",
	"next steps": "Over the next few weeks: " +
		"1) build a short list of funders that fit best, 2) tailor a message for each of the top prospects, " +
		"3) track funder announcements and deadlines, 4) make contact before you apply where you can.",
	"risk factors": "Keep these risks in view: " +
		"1) relying on a few large funders, 2) missing funder deadlines, " +
		"3) chasing subject areas where giving is falling, 4) competing in crowded regions.",
	"opportunities": "The data points to openings: " +
		"1) funders whose giving is growing, 2) populations and places with little current funding, " +
		"3) partnerships across sectors, 4) funders trying new approaches that fit your strengths.",
	"recommendations": "Recommended approach: " +
		"1) keep a pipeline of 15 to 20 qualified prospects, 2) write a funder-specific case for support, " +
		"3) track how each relationship develops, 4) invest in proposal writing capacity.",
	"conclusion": "This analysis is a starting point for a grant-seeking plan. " +
		"Winning funding takes both data-driven targeting and steady relationship building, so treat funder engagement as a long-term investment.",
}

func sectionTitle(kind string) string {
	return cases.Title(language.English).String(strings.ReplaceAll(kind, "_", " "))
}

func citations(dps []model.DataPoint) string {
	if len(dps) == 0 {
		return ""
	}
	n := min(len(dps), 3)
	refs := make([]string, n)
	for i := 0; i < n; i++ {
		refs[i] = fmt.Sprintf("%s (%s)", dps[i].Title, dps[i].ID)
	}
	return " (Grounded in " + strings.Join(refs, ", ") + ")"
}

// missingSectionType returns the first taxonomy type no existing title
// mentions, or a numbered additional-insights type.
func missingSectionType(sections []model.ReportSection) string {
	titles := make([]string, len(sections))
	for i, s := range sections {
		titles[i] = strings.ToLower(s.Title)
	}
	for _, kind := range sectionTypes {
		found := false
		for _, t := range titles {
			if strings.Contains(t, kind) {
				found = true
				break
			}
		}
		if !found {
			return kind
		}
	}
	return fmt.Sprintf("additional_insights_%d", len(sections)+1)
}

// SectionForType renders the templated section for a taxonomy type.
func SectionForType(kind string, dps []model.DataPoint) model.ReportSection {
	body, ok := sectionBodies[strings.ToLower(kind)]
	if !ok {
		body = fmt.Sprintf("This section adds analysis on %s. "+
			"It draws on the available data points to offer practical guidance. "+
			"Weigh these findings against your own mission and capacity.", strings.ReplaceAll(kind, "_", " "))
	}
	return model.ReportSection{
		Title:        sectionTitle(kind),
		MarkdownBody: body + citations(dps),
		Attachments:  []model.Attachment{},
	}
}

// EnsureMinSections appends templated sections until there are at least
// minCount. Sections with an empty title or body are dropped first.
func EnsureMinSections(sections []model.ReportSection, dps []model.DataPoint, minCount int) []model.ReportSection {
	out := make([]model.ReportSection, 0, max(len(sections), minCount))
	for _, sec := range sections {
		if sec.Valid() {
			out = append(out, sec)
		}
	}
	for len(out) < minCount {
		out = append(out, SectionForType(missingSectionType(out), dps))
	}
	return out
}

// DeterministicSections is the full fallback: the first eight taxonomy
// sections.
func DeterministicSections(dps []model.DataPoint) []model.ReportSection {
	out := make([]model.ReportSection, 0, 8)
	for _, kind := range sectionTypes[:8] {
		out = append(out, SectionForType(kind, dps))
	}
	return out
}

// SectionResult is the output of stage 4. Fallback is set when the sections
// came entirely from templates.
type SectionResult struct {
	Sections []model.ReportSection `json:"sections"`
	Fallback bool                  `json:"fallback"`
}

// SectionExtra contributes an optional section appended to fully templated
// reports. Extras never count toward the section minimum.
type SectionExtra interface {
	Section(ctx context.Context, in model.InterviewInput, f *dataset.Frame) (model.ReportSection, bool)
}

// BudgetReality compares the interview's budget range with the dataset's
// award distribution.
type BudgetReality struct{}

// Section implements SectionExtra.
func (BudgetReality) Section(_ context.Context, in model.InterviewInput, f *dataset.Frame) (model.ReportSection, bool) {
	lo, hasLo := in.BudgetUSDRange.Min()
	hi, hasHi := in.BudgetUSDRange.Max()
	if !hasLo && !hasHi {
		return model.ReportSection{}, false
	}
	if !f.HasColumn(dataset.ColAmountUSD) {
		return model.ReportSection{}, false
	}
	s, err := f.Describe(dataset.ColAmountUSD)
	if err != nil {
		return model.ReportSection{}, false
	}

	var ask string
	switch {
	case hasLo && hasHi:
		ask = dataset.FormatUSD(lo) + " to " + dataset.FormatUSD(hi)
	case hasLo:
		ask = "at least " + dataset.FormatUSD(lo)
	default:
		ask = "up to " + dataset.FormatUSD(hi)
	}

	var verdict string
	switch {
	case hasHi && hi < s.Median:
		verdict = "Your ask sits below the typical award, which keeps it within reach of most funders here."
	case hasLo && lo > s.P90:
		verdict = "Your ask is larger than nine in ten past awards, so plan to combine several grants or target the largest funders."
	case hasLo && lo > s.Median:
		verdict = "Your ask is above the typical award but within the range larger funders have given."
	default:
		verdict = "Your ask falls within the range most funders in this data have awarded."
	}

	body := fmt.Sprintf("Your budget range is %s. Across %s grants, the median award is %s and the 90th percentile is %s. %s",
		ask, dataset.FormatCount(s.Count), dataset.FormatUSD(s.Median), dataset.FormatUSD(s.P90), verdict)
	return model.ReportSection{Title: "Budget Reality Check", MarkdownBody: body, Attachments: []model.Attachment{}}, true
}
