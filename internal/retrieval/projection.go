package retrieval

import (
	"math"

	"github.com/medcode-agent/backend/internal/coding"
)

// scorePrecision rounds similarity to 4 decimal digits before candidates
// reach the reasoning payload.
const scorePrecision = 1e4

// Project applies field projection to a retrieval response: it keeps only
// the fields that justify a coding decision and rounds similarity scores.
// Category and disease grouping survive for the diagnosis space only.
// Projecting an already-projected response is a no-op.
func Project(space coding.CodeSpace, candidates []coding.Candidate) []coding.Candidate {
	projected := make([]coding.Candidate, len(candidates))
	for i, c := range candidates {
		p := coding.Candidate{
			Code:        c.Code,
			Description: c.Description,
			Score:       roundScore(c.Score),
		}
		if space == coding.SpaceDiagnosis {
			p.Category = c.Category
			p.Disease = c.Disease
		}
		projected[i] = p
	}
	return projected
}

func roundScore(score float64) float64 {
	return math.Round(score*scorePrecision) / scorePrecision
}
