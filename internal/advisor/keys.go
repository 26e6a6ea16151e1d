package advisor

import (
	"github.com/grantscope/advisor/internal/dataset"
	"github.com/grantscope/advisor/internal/model"
)

// CacheKeyFor derives "<interview_hash>::<rows>:<amount_sum>". Interviews
// that carry their own stable hash use it; anything else is hashed from its
// plain mapping.
func CacheKeyFor(interview model.Mapper, f *dataset.Frame) string {
	var h string
	if sh, ok := interview.(model.StableHasher); ok {
		h = sh.StableHash()
	} else if interview != nil {
		h = model.StableHash(interview.AsMap())
	} else {
		h = model.StableHash(map[string]any{})
	}
	return h + "::" + dataset.Signature(f)
}

// ReportIDFor returns the report id a run over (interview, f) will use.
func ReportIDFor(interview model.Mapper, f *dataset.Frame) string {
	return model.ReportID(CacheKeyFor(interview, f))
}

func stageKey(stage, key string, payload ...any) string {
	return stage + "::" + key + "::" + model.StableHash(payload)
}
