package learning

// Scoring constants. Every score is clamped to [0, 100].
const (
	costEpsilon      = 0.01
	failureWeight    = 0.5
	retryPenaltyStep = 0.1

	reliabilityWeight = 0.4
	efficiencyWeight  = 0.35
	speedWeight       = 0.25
)

func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}

// EfficiencyScore rates AC pass rate per dollar. Free runs score 100.
func EfficiencyScore(acPassRate, costUSD float64) float64 {
	if costUSD <= 0 {
		return 100
	}
	denom := costUSD * 100
	if denom < costEpsilon {
		denom = costEpsilon
	}
	return clampScore(acPassRate * 100 / denom)
}

// SpeedScore rates inverse duration. Sub-minute runs cap at 100.
func SpeedScore(durationMinutes float64) float64 {
	if durationMinutes <= 0 {
		return 100
	}
	return clampScore(100 / durationMinutes)
}

// ReliabilityScore rates AC pass rate discounted by failure and retries.
func ReliabilityScore(acPassRate float64, success bool, retryCount int) float64 {
	successWeight := 1.0
	if !success {
		successWeight = failureWeight
	}
	retryPenalty := 1 - retryPenaltyStep*float64(retryCount)
	if retryPenalty < 0 {
		retryPenalty = 0
	}
	return clampScore(acPassRate * 100 * successWeight * retryPenalty)
}

// OverallScore combines the averaged component scores.
func OverallScore(avgReliability, avgEfficiency, avgSpeed float64) float64 {
	return clampScore(reliabilityWeight*avgReliability +
		efficiencyWeight*avgEfficiency +
		speedWeight*avgSpeed)
}
