package advisor

import (
	"strings"

	"github.com/rotisserie/eris"

	"github.com/grantscope/advisor/internal/dataset"
	"github.com/grantscope/advisor/internal/model"
)

// FallbackNeeds derives needs from the raw interview without a model:
// keywords become subjects, populations are snake-cased, geographies are
// upper-cased.
func FallbackNeeds(in model.InterviewInput) model.StructuredNeeds {
	subjects := make([]string, 0, 5)
	for _, k := range in.Keywords {
		if len(subjects) == 5 {
			break
		}
		subjects = append(subjects, strings.ReplaceAll(strings.ToLower(strings.TrimSpace(k)), " ", "_"))
	}
	pops := make([]string, 0, len(in.Populations))
	for _, p := range in.Populations {
		pops = append(pops, strings.ReplaceAll(strings.ToLower(p), " ", "_"))
	}
	geos := make([]string, 0, len(in.Geography))
	for _, g := range in.Geography {
		geos = append(geos, strings.ToUpper(g))
	}
	return model.StructuredNeeds{
		Subjects:    subjects,
		Populations: pops,
		Geographies: geos,
		Weights:     map[string]float64{},
	}
}

// coerceNeeds keeps exactly the four allowed keys from a decoded model
// response. List fields accept a string or a list of scalars; weights keep
// numeric entries only.
func coerceNeeds(obj any) (model.StructuredNeeds, error) {
	m, ok := obj.(map[string]any)
	if !ok {
		return model.StructuredNeeds{}, eris.New("advisor: needs response is not an object")
	}
	needs := model.StructuredNeeds{
		Subjects:    stringList(m["subjects"]),
		Populations: stringList(m["populations"]),
		Geographies: stringList(m["geographies"]),
		Weights:     map[string]float64{},
	}
	if w, ok := m["weights"].(map[string]any); ok {
		for k, v := range w {
			if f, ok := dataset.ToFloat(v); ok {
				needs.Weights[k] = f
			}
		}
	}
	return needs, nil
}

func stringList(v any) []string {
	out := []string{}
	switch x := v.(type) {
	case string:
		if s := strings.TrimSpace(x); s != "" {
			out = append(out, s)
		}
	case []any:
		for _, item := range x {
			switch item.(type) {
			case map[string]any, []any, nil:
				continue
			}
			if s := strings.TrimSpace(dataset.CellString(item)); s != "" {
				out = append(out, s)
			}
		}
	case []string:
		for _, s := range x {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}
