package domain

import "time"

// FailureCategory classifies why a probe attempt failed.
type FailureCategory string

const (
	FailureNone    FailureCategory = ""
	FailureTimeout FailureCategory = "timeout"
	FailureRefused FailureCategory = "connection-refused"
	FailureDNS     FailureCategory = "dns-failure"
	FailureOther   FailureCategory = "other"
)

// ProbeResult records the outcome of a single reachability attempt. IP is
// set once resolution succeeds; the latency fields are meaningful only when
// Success is true.
type ProbeResult struct {
	Node      *Node
	Success   bool
	IP        string
	DNSTime   time.Duration
	Latency   time.Duration
	Category  FailureCategory
	CheckedAt time.Time
}

func (r *ProbeResult) LatencyMS() int64 {
	return r.Latency.Milliseconds()
}
