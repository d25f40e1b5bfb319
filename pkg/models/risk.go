package models

// RiskLevel is the assessed urgency of a session, ordered from least to most
// severe. Levels only escalate automatically; de-escalation requires an
// explicit stand-down signal.
type RiskLevel string

const (
	RiskSafe     RiskLevel = "safe"
	RiskElevated RiskLevel = "elevated"
	RiskCritical RiskLevel = "critical"
)

// riskOrder defines the total order over risk levels.
var riskOrder = map[RiskLevel]int{
	RiskSafe:     0,
	RiskElevated: 1,
	RiskCritical: 2,
}

// ValidRiskLevel reports whether the given value is a known risk level.
func ValidRiskLevel(level RiskLevel) bool {
	_, ok := riskOrder[level]
	return ok
}

// Rank returns the position of the level in the severity order.
// Unknown levels rank below safe so they never win an escalation comparison.
func (r RiskLevel) Rank() int {
	rank, ok := riskOrder[r]
	if !ok {
		return -1
	}
	return rank
}

// AtLeast reports whether r is at or above the given level.
func (r RiskLevel) AtLeast(other RiskLevel) bool {
	return r.Rank() >= other.Rank()
}

// MaxRiskLevel returns the more severe of the two levels.
func MaxRiskLevel(a, b RiskLevel) RiskLevel {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// SessionState is the controller's view of a session. It mirrors RiskLevel
// plus a terminal resolved state reached only by explicit stand-down.
type SessionState string

const (
	StateSafe     SessionState = "safe"
	StateElevated SessionState = "elevated"
	StateCritical SessionState = "critical"
	StateResolved SessionState = "resolved"
)

// StateForRisk maps a risk level onto the corresponding session state.
func StateForRisk(level RiskLevel) SessionState {
	switch level {
	case RiskElevated:
		return StateElevated
	case RiskCritical:
		return StateCritical
	default:
		return StateSafe
	}
}
