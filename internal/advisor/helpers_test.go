package advisor

import (
	"github.com/grantscope/advisor/internal/dataset"
	"github.com/grantscope/advisor/internal/model"
)

func grantRow(funder any, amount float64, year float64, subject, population, geo string) dataset.Row {
	return dataset.Row{
		dataset.ColFunderName:     funder,
		dataset.ColAmountUSD:      amount,
		dataset.ColYearIssued:     year,
		dataset.ColSubjectTran:    subject,
		dataset.ColPopulationTran: population,
		dataset.ColGeoAreaTran:    geo,
	}
}

var grantColumns = []string{
	dataset.ColFunderName,
	dataset.ColAmountUSD,
	dataset.ColYearIssued,
	dataset.ColSubjectTran,
	dataset.ColPopulationTran,
	dataset.ColGeoAreaTran,
}

// sampleFrame has ten funders with distinct totals, half of them STEM youth
// grants in Texas.
func sampleFrame() *dataset.Frame {
	rows := []dataset.Row{
		grantRow("Gates Foundation", 900000, 2021, "STEM education", "Youth", "Texas"),
		grantRow("Ford Foundation", 800000, 2022, "STEM education", "Children and youth", "Austin, Texas"),
		grantRow("Kellogg Foundation", 700000, 2022, "Science", "Students", "Texas"),
		grantRow("Walton Family Foundation", 600000, 2023, "STEM", "Youth", "Houston"),
		grantRow("Moody Foundation", 500000, 2023, "Mathematics", "Youth", "Dallas, TX"),
		grantRow("Rockefeller Foundation", 400000, 2021, "Public health", "Adults", "New York"),
		grantRow("Packard Foundation", 300000, 2022, "Environment", "Families", "California"),
		grantRow("Hewlett Foundation", 200000, 2023, "Arts", "Adults", "California"),
		grantRow("Knight Foundation", 100000, 2021, "Journalism", "Adults", "Florida"),
		grantRow("Lilly Endowment", 50000, 2022, "Religion", "Adults", "Indiana"),
	}
	return dataset.New(grantColumns, rows)
}

// tinyFrame is three grants from two funders.
func tinyFrame() *dataset.Frame {
	return dataset.New(grantColumns, []dataset.Row{
		grantRow("A", 100, 2022, "Education", "Youth", "Texas"),
		grantRow("B", 200, 2023, "Education", "Youth", "Texas"),
		grantRow("A", 50, 2023, "Health", "Adults", "Ohio"),
	})
}

func stemInterview() model.InterviewInput {
	return model.InterviewInput{
		ProgramArea: "Youth STEM education",
		Populations: []string{"Youth"},
		Geography:   []string{"tx"},
		Keywords:    []string{"STEM", "After School"},
		UserRole:    model.DefaultUserRole,
	}
}

func stemNeeds() model.StructuredNeeds {
	return model.StructuredNeeds{
		Subjects:    []string{"stem"},
		Populations: []string{"youth"},
		Geographies: []string{"TX"},
		Weights:     map[string]float64{},
	}
}

func candidateNames(cs []model.FunderCandidate) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Name
	}
	return out
}
