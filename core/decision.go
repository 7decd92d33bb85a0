package core

// FirewallDecision is the firewall's chosen disposition for one observation
type FirewallDecision string

const (
	DecisionAllow      FirewallDecision = "allow"
	DecisionAlert      FirewallDecision = "alert"
	DecisionRateLimit  FirewallDecision = "rate_limit"
	DecisionQuarantine FirewallDecision = "quarantine"
	DecisionRedirect   FirewallDecision = "redirect"
	DecisionBlock      FirewallDecision = "block"
)

// decisionRank orders decisions by increasing severity. Ties between
// candidate decisions are broken toward the higher rank.
var decisionRank = map[FirewallDecision]int{
	DecisionAllow:      0,
	DecisionAlert:      1,
	DecisionRateLimit:  2,
	DecisionQuarantine: 3,
	DecisionRedirect:   4,
	DecisionBlock:      5,
}

// String returns the string representation
func (d FirewallDecision) String() string {
	return string(d)
}

// IsValid checks if the decision is a known value
func (d FirewallDecision) IsValid() bool {
	_, ok := decisionRank[d]
	return ok
}

// Rank returns the severity rank of the decision, higher is more severe
func (d FirewallDecision) Rank() int {
	return decisionRank[d]
}

// MoreSevereThan reports whether d outranks other
func (d FirewallDecision) MoreSevereThan(other FirewallDecision) bool {
	return decisionRank[d] > decisionRank[other]
}

// MaxDecision returns the more severe of two decisions
func MaxDecision(a, b FirewallDecision) FirewallDecision {
	if b.MoreSevereThan(a) {
		return b
	}
	return a
}
