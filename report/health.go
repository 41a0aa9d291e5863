package report

// Health is the coarse classification of the data layer's condition.
type Health string

const (
	HealthExcellent      Health = "excellent"
	HealthGood           Health = "good"
	HealthNeedsAttention Health = "needs-attention"
	HealthCritical       Health = "critical"
)

// Signals are the inputs to the health classifier. Count fields distinguish
// "no observations" from "observed and bad": a signal with zero
// observations scores neutral, which makes a freshly reset monitor
// excellent by construction.
type Signals struct {
	CacheLookups     int64
	CacheHitRate     float64 // meaningful only when CacheLookups > 0
	TotalBatches     int64
	BatchSuccessRate float64 // meaningful only when TotalBatches > 0
	PoolEvents       int64
	PoolFailures     int64 // timeouts + errors
}

// Classifier weights and thresholds. The score is a convex combination of
// per-signal scores in [0, 1], so improving any single signal can only
// raise the score, which keeps the verdict monotonic.
const (
	cacheWeight = 0.35
	batchWeight = 0.40
	poolWeight  = 0.25

	// Pool failures are rare events, so they are amplified before being
	// folded into the score: a 25% failure rate already zeroes it out.
	poolFailureAmplifier = 4

	excellentThreshold = 0.90
	goodThreshold      = 0.75
	attentionThreshold = 0.50
)

// Classify maps signals to a health verdict. The mapping is total (every
// input yields exactly one verdict) and monotonic: holding the other
// signals fixed, improving one signal never produces a worse verdict.
func Classify(s Signals) Health {
	cacheScore := 1.0
	if s.CacheLookups > 0 {
		cacheScore = clamp01(s.CacheHitRate)
	}

	batchScore := 1.0
	if s.TotalBatches > 0 {
		batchScore = clamp01(s.BatchSuccessRate)
	}

	poolScore := 1.0
	if s.PoolEvents > 0 {
		failureRate := float64(s.PoolFailures) / float64(s.PoolEvents)
		poolScore = clamp01(1 - poolFailureAmplifier*failureRate)
	}

	score := cacheWeight*cacheScore + batchWeight*batchScore + poolWeight*poolScore

	switch {
	case score >= excellentThreshold:
		return HealthExcellent
	case score >= goodThreshold:
		return HealthGood
	case score >= attentionThreshold:
		return HealthNeedsAttention
	default:
		return HealthCritical
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
