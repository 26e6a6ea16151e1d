package advisor

import (
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/grantscope/advisor/internal/dataset"
	"github.com/grantscope/advisor/internal/model"
)

// GateResult summarizes what ApplyQualityGates changed.
type GateResult struct {
	Dropped  int  `json:"dropped"`
	Clamped  int  `json:"clamped"`
	Refilled bool `json:"refilled"`
}

// ApplyQualityGates post-processes recommendations: placeholder names are
// removed, scores are clamped to [0, 1], and when fewer than minCandidates
// remain (or none scores above zero) dataset-ranked funders are merged in
// up to minCandidates*2.
func ApplyQualityGates(rec model.Recommendations, f *dataset.Frame, needs model.StructuredNeeds, dps []model.DataPoint, minCandidates int) (model.Recommendations, GateResult) {
	if minCandidates <= 0 {
		minCandidates = 8
	}
	var gate GateResult

	kept := make([]model.FunderCandidate, 0, len(rec.FunderCandidates))
	for _, c := range rec.FunderCandidates {
		if isPlaceholderName(c.Name) {
			gate.Dropped++
			continue
		}
		c.Name = strings.TrimSpace(c.Name)
		if s := clampScore(c.Score); s != c.Score {
			c.Score = s
			gate.Clamped++
		}
		if c.GroundedDPIDs == nil {
			c.GroundedDPIDs = []string{}
		}
		kept = append(kept, c)
	}

	if len(kept) < minCandidates || allNonPositive(kept) {
		fb := FallbackFunderCandidates(f, needs, dps, minCandidates)
		before := len(kept)
		kept = mergeCandidates(kept, fb, minCandidates*2)
		gate.Refilled = len(kept) > before
	}
	rec.FunderCandidates = kept

	if gate.Dropped > 0 || gate.Clamped > 0 || gate.Refilled {
		zap.L().Info("gate: adjusted funder candidates",
			zap.Int("dropped", gate.Dropped),
			zap.Int("clamped", gate.Clamped),
			zap.Bool("refilled", gate.Refilled),
			zap.Int("candidates", len(kept)),
		)
	}
	return rec, gate
}

func clampScore(s float64) float64 {
	if math.IsNaN(s) {
		return 0
	}
	return math.Max(0, math.Min(1, s))
}
