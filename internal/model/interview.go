package model

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// DefaultUserRole is applied when an interview does not name a role.
const DefaultUserRole = "Grant Analyst/Writer"

// BudgetRange is an optional [min, max] USD pair. Either bound may be nil.
type BudgetRange [2]*float64

// NewBudgetRange builds a fully bounded range.
func NewBudgetRange(lo, hi float64) *BudgetRange {
	return &BudgetRange{&lo, &hi}
}

// Min returns the lower bound, if present.
func (b *BudgetRange) Min() (float64, bool) {
	if b == nil || b[0] == nil {
		return 0, false
	}
	return *b[0], true
}

// Max returns the upper bound, if present.
func (b *BudgetRange) Max() (float64, bool) {
	if b == nil || b[1] == nil {
		return 0, false
	}
	return *b[1], true
}

// InterviewInput is the user-submitted project description. The pipeline
// treats it as a value and never mutates it.
type InterviewInput struct {
	ProgramArea          string       `json:"program_area" yaml:"program_area"`
	Populations          []string     `json:"populations" yaml:"populations"`
	Geography            []string     `json:"geography" yaml:"geography"`
	TimeframeYears       *int         `json:"timeframe_years" yaml:"timeframe_years"`
	BudgetUSDRange       *BudgetRange `json:"budget_usd_range" yaml:"budget_usd_range"`
	Outcomes             []string     `json:"outcomes" yaml:"outcomes"`
	Constraints          []string     `json:"constraints" yaml:"constraints"`
	PreferredFunderTypes []string     `json:"preferred_funder_types" yaml:"preferred_funder_types"`
	Keywords             []string     `json:"keywords" yaml:"keywords"`
	Notes                string       `json:"notes" yaml:"notes"`
	UserRole             string       `json:"user_role" yaml:"user_role"`
}

// Role returns the user role, falling back to DefaultUserRole.
func (in InterviewInput) Role() string {
	if strings.TrimSpace(in.UserRole) == "" {
		return DefaultUserRole
	}
	return in.UserRole
}

// AsMap returns the interview's plain mapping. Nil lists are emitted as
// empty lists so that nil and empty inputs hash identically.
func (in InterviewInput) AsMap() map[string]any {
	var budget any
	if in.BudgetUSDRange != nil {
		lo, hi := any(nil), any(nil)
		if v, ok := in.BudgetUSDRange.Min(); ok {
			lo = v
		}
		if v, ok := in.BudgetUSDRange.Max(); ok {
			hi = v
		}
		budget = []any{lo, hi}
	}
	var timeframe any
	if in.TimeframeYears != nil {
		timeframe = *in.TimeframeYears
	}
	return map[string]any{
		"program_area":           in.ProgramArea,
		"populations":            stringList(in.Populations),
		"geography":              stringList(in.Geography),
		"timeframe_years":        timeframe,
		"budget_usd_range":       budget,
		"outcomes":               stringList(in.Outcomes),
		"constraints":            stringList(in.Constraints),
		"preferred_funder_types": stringList(in.PreferredFunderTypes),
		"keywords":               stringList(in.Keywords),
		"notes":                  in.Notes,
		"user_role":              in.Role(),
	}
}

// StableHash is the content hash used as the first half of every cache key.
func (in InterviewInput) StableHash() string {
	return StableHash(in.AsMap())
}

// LoadInterview reads an interview from a JSON or YAML file, chosen by
// extension. A missing user role is defaulted.
func LoadInterview(path string) (InterviewInput, error) {
	var in InterviewInput
	data, err := os.ReadFile(path)
	if err != nil {
		return in, eris.Wrapf(err, "model: read interview %s", path)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &in)
	default:
		err = json.Unmarshal(data, &in)
	}
	if err != nil {
		return in, eris.Wrapf(err, "model: decode interview %s", path)
	}
	if in.UserRole == "" {
		in.UserRole = DefaultUserRole
	}
	return in, nil
}

func stringList(in []string) []any {
	out := make([]any, 0, len(in))
	for _, s := range in {
		out = append(out, s)
	}
	return out
}
