package scoring

import (
	"time"

	"nodesieve/internal/domain"
)

// protocolBaseScores ranks transports by how well they hold up in practice;
// the newer congestion-resistant protocols sit at the top.
var protocolBaseScores = map[domain.Protocol]int{
	domain.ProtocolHysteria2: 10,
	domain.ProtocolHysteria:  9,
	domain.ProtocolVLESS:     8,
	domain.ProtocolTrojan:    7,
	domain.ProtocolVMess:     6,
	domain.ProtocolSS:        5,
	domain.ProtocolSSR:       4,
}

const (
	latencyFastBonus = 5 // under 100ms
	latencyGoodBonus = 3 // under 200ms
	latencyFairBonus = 1 // under 300ms

	preferredProtocolBonus = 2

	cleanIPBonus     = 3 // abuse score exactly zero
	lowRiskBonus     = 1 // abuse score below 20
	residentialBonus = 3
)

// Input bundles the signals the scorer consumes for one node.
type Input struct {
	Node  *domain.Node
	Probe domain.ProbeResult
	Risk  domain.RiskAssessment
}

// Score computes the additive quality score for a successfully probed node.
// Higher is better; the value is deterministic for identical inputs.
func Score(in Input, preferred map[domain.Protocol]struct{}) int {
	score := protocolBaseScores[in.Node.Protocol]
	score += latencyBonus(in.Probe.Latency)
	if _, ok := preferred[in.Node.Protocol]; ok {
		score += preferredProtocolBonus
	}
	score += riskBonus(in.Risk)
	return score
}

func latencyBonus(latency time.Duration) int {
	ms := latency.Milliseconds()
	switch {
	case ms < 100:
		return latencyFastBonus
	case ms < 200:
		return latencyGoodBonus
	case ms < 300:
		return latencyFairBonus
	}
	return 0
}

func riskBonus(risk domain.RiskAssessment) int {
	bonus := 0
	switch {
	case risk.AbuseScore == 0:
		bonus += cleanIPBonus
	case risk.AbuseScore > 0 && risk.AbuseScore < 20:
		bonus += lowRiskBonus
	}
	if risk.Category == domain.RiskResidential {
		bonus += residentialBonus
	}
	return bonus
}
