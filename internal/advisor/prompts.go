package advisor

import (
	"fmt"
	"strings"

	"github.com/grantscope/advisor/internal/model"
)

// SystemGuardrails is the system prompt shared by every grounded call.
const SystemGuardrails = `You are a grant analysis assistant. Follow these rules:
- Use only information grounded in the dataset's known columns and the tool outputs you are given.
- Never invent columns or figures. If a requested field is unavailable, say so plainly.
- Do not execute code. Plan and analyze only through the whitelisted tools.
- Answer in concise Markdown unless a JSON-only response is requested.
- Redact any personal information that appears in free-text inputs.`

func jsonBlock(v any) string {
	raw, err := model.StableJSON(v)
	if err != nil {
		raw = []byte("{}")
	}
	return "```json\n" + string(raw) + "\n```"
}

func intakePrompt(interview map[string]any) string {
	return `Summarize this grant-seeking interview in exactly two sentences.
Cover the program area, populations, geography, budget or timeframe, and the overall intent.

InterviewInput (JSON):
` + jsonBlock(interview)
}

func normalizePrompt(interview map[string]any) string {
	return `Normalize the interview below into one JSON object with exactly this shape:

{
  "subjects": string[],      // subject taxonomy terms taken from program_area and keywords
  "populations": string[],   // normalized beneficiary keywords
  "geographies": string[],   // region, state or country codes or names
  "weights": {"subjects.education": 0.7}   // optional emphasis per key
}

- Include only the keys shown.
- Prefer lowercase snake_case tokens.
- Ignore anything that does not fit the schema.
- Return JSON only, no Markdown.

InterviewInput (JSON):
` + jsonBlock(interview)
}

func planPrompt(needs map[string]any) string {
	return fmt.Sprintf(`Produce an AnalysisPlan as JSON with:
- "metric_requests": 8 to 12 objects {"tool": string, "params": object, "title": string}.
  "tool" must be one of: %s
  "params" must stay small: column names, group-by lists, ranges, or a single SELECT/WITH statement for df_sql_select against table "t".
- "narrative_outline": 8 to 10 section titles describing how the findings will be presented.

Cover at least:
1. df_groupby_sum by ["funder_name"] on "amount_usd" for top funders
2. df_value_counts on "grant_subject_tran"
3. df_value_counts on "grant_population_tran"
4. df_value_counts on "grant_geo_area_tran"
5. df_pivot_table with index ["year_issued"] for the funding trend
6. df_describe on "amount_usd"
7. df_groupby_sum by ["grant_subject_tran", "grant_population_tran"]
8. df_pivot_table with index ["funder_name"], columns ["grant_subject_tran"], value "amount_usd"

Use descriptive titles, n between 10 and 15 for group-bys, and agg "sum" for pivots.
Return JSON only, no Markdown.

StructuredNeeds (JSON):
%s`, strings.Join(model.WhitelistedTools, ", "), jsonBlock(needs))
}

func synthesizePrompt(plan map[string]any, datapoints []map[string]any) string {
	return `Write a grant funding guide for municipal staff at an 8th-grade reading level.
Use the DataPoints to write 8 practical sections for readers who are new to grants.

- Use plain words and short paragraphs of two or three sentences.
- Quote specific dollar amounts, counts and examples from the DataPoints.
- After each key figure, add a "What this means for you" line.
- Cite DataPoints inline by id, for example "(DP-1A2B3C4D)".

Sections, in order:
1. Your Funding Landscape
2. Types of Funders to Contact
3. How Much Money to Ask For
4. Best Times to Apply
5. What Funders Want to See
6. Your Geographic Advantages
7. Positioning Your Project
8. Your 90-Day Action Plan

Return a JSON array of {"title": string, "markdown_body": string}.

AnalysisPlan (JSON):
` + jsonBlock(plan) + `

DataPoints (JSON):
` + jsonBlock(datapoints)
}

func recommendPrompt(needs map[string]any, datapoints []map[string]any) string {
	return `Write practical recommendations for municipal staff who are new to grant writing.

Return one JSON object with three arrays:
- "funder_candidates": 8 or more {"name", "score" (0 to 1), "rationale", "grounded_dp_ids": string[]}
- "response_tuning": 10 or more {"text", "grounded_dp_ids": string[]}
- "search_queries": 8 or more {"query", "notes"}

Rationales should say in plain language why the funder fits, quote amounts from the DataPoints, and note how approachable the funder is.
Tips should cover ask size, timing, emphasis, common mistakes and local partnerships.
Queries should be concrete searches: directories, named funders' guidelines, similar funded projects, government programs.
Every claim must trace back to a DataPoint id.
Return JSON only, no Markdown.

StructuredNeeds (JSON):
` + jsonBlock(needs) + `

DataPoints (JSON):
` + jsonBlock(datapoints)
}

func chartPrompt(summary map[string]any, interview map[string]any) string {
	return `Write a short interpretation titled "What this means" in one to three sentences.

- Ground it only in the ChartSummary and InterviewInput below.
- If an important field is missing (for example no year_issued or amount_usd), say "field unavailable".
- Do not invent numbers or trends that are not in the stats.
- Keep it concise and neutral, suitable for print.

ChartSummary (JSON):
` + jsonBlock(summary) + `

InterviewInput (JSON):
` + jsonBlock(interview)
}
