package model

import "strings"

// Tool identifiers accepted in a MetricRequest.
const (
	ToolDescribe      = "df_describe"
	ToolGroupBySum    = "df_groupby_sum"
	ToolTopN          = "df_top_n"
	ToolValueCounts   = "df_value_counts"
	ToolUnique        = "df_unique"
	ToolFilterEquals  = "df_filter_equals"
	ToolFilterIn      = "df_filter_in"
	ToolFilterRange   = "df_filter_range"
	ToolPivotTable    = "df_pivot_table"
	ToolCorrTop       = "df_corr_top"
	ToolSQLSelect     = "df_sql_select"
	ToolGetChartState = "get_chart_state"
)

// WhitelistedTools is the fixed, ordered set of analysis tools.
var WhitelistedTools = []string{
	ToolDescribe,
	ToolGroupBySum,
	ToolTopN,
	ToolValueCounts,
	ToolUnique,
	ToolFilterEquals,
	ToolFilterIn,
	ToolFilterRange,
	ToolPivotTable,
	ToolCorrTop,
	ToolSQLSelect,
	ToolGetChartState,
}

// IsWhitelistedTool reports whether tool is one of WhitelistedTools.
func IsWhitelistedTool(tool string) bool {
	for _, t := range WhitelistedTools {
		if t == tool {
			return true
		}
	}
	return false
}

// DataPointID derives the stable id of a data point from its title, method
// and params.
func DataPointID(title, method string, params map[string]any) string {
	if params == nil {
		params = map[string]any{}
	}
	return "DP-" + shortID(map[string]any{"t": title, "m": method, "p": params})
}

// FigureID derives the stable id of a figure from its label.
func FigureID(label string) string {
	return "FIG-" + shortID(map[string]any{"label": label})
}

// ReportID derives the externally visible report id from a cache key.
func ReportID(cacheKey string) string {
	return "RPT-" + shortID(map[string]any{"k": cacheKey})
}

func shortID(v any) string {
	return strings.ToUpper(StableHash(v)[:8])
}
