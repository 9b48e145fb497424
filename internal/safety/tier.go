// Package safety classifies weather observations into launch safety tiers.
package safety

// Tier is a categorical judgment of whether weather permits flight.
type Tier string

const (
	TierOptimal    Tier = "optimal"
	TierAcceptable Tier = "acceptable"
	TierDifficult  Tier = "difficult"
	TierDangerous  Tier = "dangerous"
	TierUnknown    Tier = "unknown"
)

// Launchable reports whether a mission may be built under this tier.
// Dangerous and unknown conditions fail closed.
func (t Tier) Launchable() bool {
	switch t {
	case TierOptimal, TierAcceptable, TierDifficult:
		return true
	default:
		return false
	}
}

// Severity orders tiers from 0 (optimal) to 4 (unknown).
func (t Tier) Severity() int {
	switch t {
	case TierOptimal:
		return 0
	case TierAcceptable:
		return 1
	case TierDifficult:
		return 2
	case TierDangerous:
		return 3
	default:
		return 4
	}
}

// Assessment is the classifier result.
type Assessment struct {
	Tier   Tier   `json:"tier"`
	Reason string `json:"reason"`
}
