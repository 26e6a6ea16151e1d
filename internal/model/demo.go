package model

// DemoInterview returns the built-in demo interview used by the demo command
// and as a quick-start preset.
func DemoInterview() InterviewInput {
	years := 2
	return InterviewInput{
		ProgramArea:    "Youth education and after-school STEM",
		Populations:    []string{"youth", "students", "low_income"},
		Geography:      []string{"TX", "US"},
		TimeframeYears: &years,
		BudgetUSDRange: NewBudgetRange(100000, 500000),
		Outcomes: []string{
			"Increase STEM program enrollment by 25%",
			"Improve standardized test scores by 10% for participating students",
		},
		Constraints:          []string{"Limited staff capacity", "Need for equipment and devices"},
		PreferredFunderTypes: []string{"Foundation", "Corporate"},
		Keywords:             []string{"education", "STEM", "after_school", "technology", "equipment"},
		Notes:                "Pilot expansion in Austin metro; partner with local schools and libraries.",
		UserRole:             DefaultUserRole,
	}
}
