package scoring

import (
	"sort"
	"time"

	"nodesieve/internal/domain"
)

// Policy is the configurable part of selection.
type Policy struct {
	MaxLatency time.Duration
	OutputCap  int
	Preferred  []domain.Protocol

	// BlacklistTimeouts decides whether timeout failures count as lasting
	// rejections or one bad measurement.
	BlacklistTimeouts bool
}

type RejectReason string

const (
	RejectProbeFailed RejectReason = "probe-failed"
	RejectTooSlow     RejectReason = "too-slow"
	RejectRiskFlagged RejectReason = "risk-flagged"
)

// Candidate carries a node through ranking with its signals attached.
type Candidate struct {
	Node  *domain.Node
	Probe domain.ProbeResult
	Risk  domain.RiskAssessment
	Score int
}

// Rejection records an excluded node and whether the exclusion feeds the
// blacklist.
type Rejection struct {
	Node      *domain.Node
	Reason    RejectReason
	Category  domain.FailureCategory
	Blacklist bool
}

// Result is everything the orchestrator needs to emit artifacts and update
// the blacklist.
type Result struct {
	Selected  []Candidate
	Rejected  []Rejection
	Truncated int
}

// Select ranks successful, unflagged probe results and applies the output
// cap. Results must arrive in first-seen order; that order anchors the
// stable tie-break. Truncated nodes are not rejections and never reach the
// blacklist.
func Select(results []domain.ProbeResult, risks map[string]domain.RiskAssessment, policy Policy) Result {
	preferred := make(map[domain.Protocol]struct{}, len(policy.Preferred))
	for _, protocol := range policy.Preferred {
		preferred[protocol] = struct{}{}
	}

	var out Result
	candidates := make([]Candidate, 0, len(results))

	for _, probe := range results {
		node := probe.Node

		if !probe.Success {
			out.Rejected = append(out.Rejected, Rejection{
				Node:      node,
				Reason:    RejectProbeFailed,
				Category:  probe.Category,
				Blacklist: blacklistFailure(probe.Category, policy),
			})
			continue
		}

		if policy.MaxLatency > 0 && probe.Latency > policy.MaxLatency {
			out.Rejected = append(out.Rejected, Rejection{Node: node, Reason: RejectTooSlow})
			continue
		}

		risk, assessed := risks[probe.IP]
		if !assessed {
			risk = domain.Unassessed(probe.IP)
		}
		if risk.Flagged {
			out.Rejected = append(out.Rejected, Rejection{Node: node, Reason: RejectRiskFlagged, Blacklist: true})
			continue
		}

		candidates = append(candidates, Candidate{
			Node:  node,
			Probe: probe,
			Risk:  risk,
			Score: Score(Input{Node: node, Probe: probe, Risk: risk}, preferred),
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].Probe.Latency < candidates[j].Probe.Latency
	})

	if policy.OutputCap > 0 && len(candidates) > policy.OutputCap {
		out.Truncated = len(candidates) - policy.OutputCap
		candidates = candidates[:policy.OutputCap]
	}
	out.Selected = candidates

	return out
}

// RiskTargets returns the distinct IPs of the best candidates before any
// risk signal exists, best-first, capped at the external lookup budget.
func RiskTargets(results []domain.ProbeResult, policy Policy, budget int) []string {
	if budget <= 0 {
		return nil
	}

	uncapped := policy
	uncapped.OutputCap = 0
	preliminary := Select(results, nil, uncapped)

	seen := make(map[string]struct{}, budget)
	ips := make([]string, 0, budget)
	for _, candidate := range preliminary.Selected {
		if len(ips) >= budget {
			break
		}
		ip := candidate.Probe.IP
		if ip == "" {
			continue
		}
		if _, duplicate := seen[ip]; duplicate {
			continue
		}
		seen[ip] = struct{}{}
		ips = append(ips, ip)
	}
	return ips
}

func blacklistFailure(category domain.FailureCategory, policy Policy) bool {
	if category == domain.FailureTimeout {
		return policy.BlacklistTimeouts
	}
	return true
}
