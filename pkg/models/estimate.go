package models

// EstimateMethod names which estimator produced a population estimate.
type EstimateMethod string

const (
	// MethodMarkRecapture is the Chapman mark-recapture estimator, used when
	// a single observation supplies both total and marked counts.
	MethodMarkRecapture EstimateMethod = "mark_recapture"
	// MethodMaxRecent is the maximum reported total in the trailing window.
	MethodMaxRecent EstimateMethod = "max_recent_report"
	// MethodVerifiedOnly reports the verified-altered count as a lower bound
	// when no qualifying observation exists.
	MethodVerifiedOnly EstimateMethod = "verified_only"
)

// PopulationEstimate is the estimator output for one location.
// IsLowerBound is set for MethodVerifiedOnly so consumers cannot mistake the
// figure for an assertion of complete coverage.
type PopulationEstimate struct {
	Method           EstimateMethod `json:"method"`
	EstimatedSize    float64        `json:"estimated_size"`
	EstimatedAltered int            `json:"estimated_altered"`
	AlterationRate   float64        `json:"alteration_rate"`
	Confidence       float64        `json:"confidence"`
	IsLowerBound     bool           `json:"is_lower_bound"`
}
