package service

import "evalhub/internal/eval/model"

// Efficiency weighting applied to backend scores. Accepted runs earn a
// bonus or penalty from their mean execution time; runs that fall short of
// accepted keep a reduced share of the backend's partial score.
const (
	fastBonusMs     = 50
	normalCeilingMs = 200

	fastMultiplier   = 1.2
	normalMultiplier = 1.0
	slowMultiplier   = 0.85

	partialFactor = 0.6
)

// ApplyEfficiencyScore rewrites the verdict score in place. Verdicts with
// no usable score (internal errors, timeouts) are left untouched.
func ApplyEfficiencyScore(v *model.Verdict) {
	switch v.Outcome {
	case model.OutcomeInternalError, model.OutcomeTimeout:
		return
	case model.OutcomeAccepted:
		v.Score = model.ClampScore(int(float64(v.Score)*acceptedMultiplier(v.AvgTimeMs) + 0.5))
	default:
		v.Score = model.ClampScore(int(float64(v.Score)*partialFactor + 0.5))
	}
}

func acceptedMultiplier(avgTimeMs int64) float64 {
	switch {
	case avgTimeMs <= 0:
		// Backend did not report timing.
		return normalMultiplier
	case avgTimeMs < fastBonusMs:
		return fastMultiplier
	case avgTimeMs < normalCeilingMs:
		return normalMultiplier
	default:
		return slowMultiplier
	}
}
