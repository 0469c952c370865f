package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"nodesieve/internal/domain"
	"nodesieve/internal/scoring"
)

func candidate(protocol domain.Protocol, host string, latency time.Duration, score int, risk domain.RiskAssessment) scoring.Candidate {
	node := &domain.Node{
		Raw:      string(protocol) + "://" + host,
		Protocol: protocol,
		Host:     host,
		Port:     443,
	}
	return scoring.Candidate{
		Node:  node,
		Probe: domain.ProbeResult{Node: node, Success: true, IP: risk.IP, Latency: latency},
		Risk:  risk,
		Score: score,
	}
}

func TestSetSelection(t *testing.T) {
	rep := New()
	rep.SetSelection([]scoring.Candidate{
		candidate(domain.ProtocolHysteria2, "a.example.com", 50*time.Millisecond, 18,
			domain.RiskAssessment{IP: "1.1.1.1", Category: domain.RiskResidential, AbuseScore: 0, Country: "US", Provider: "abuseipdb"}),
		candidate(domain.ProtocolVLESS, "b.example.com", 250*time.Millisecond, 9,
			domain.Unassessed("2.2.2.2")),
	})

	if len(rep.TopNodes) != 2 {
		t.Fatalf("report holds %d rows, want 2", len(rep.TopNodes))
	}

	first := rep.TopNodes[0]
	if first.Rank != 1 || first.Protocol != "hysteria2" || first.Host != "a.example.com" {
		t.Fatalf("first row is %+v", first)
	}
	if first.LatencyMS != 50 || first.Score != 18 || first.AbuseScore != 0 || first.Country != "US" {
		t.Fatalf("first row diagnostics are %+v", first)
	}

	second := rep.TopNodes[1]
	if second.Rank != 2 || second.RiskCategory != "unknown" || second.AbuseScore != domain.AbuseScoreNone {
		t.Fatalf("second row is %+v", second)
	}

	if rep.ProtocolDistribution["hysteria2"] != 1 || rep.ProtocolDistribution["vless"] != 1 {
		t.Fatalf("protocol distribution is %v", rep.ProtocolDistribution)
	}
	if rep.LatencyDistribution["<100ms"] != 1 || rep.LatencyDistribution["200-300ms"] != 1 {
		t.Fatalf("latency distribution is %v", rep.LatencyDistribution)
	}
}

func TestLatencyBucketRanges(t *testing.T) {
	cases := map[time.Duration]string{
		10 * time.Millisecond:  "<100ms",
		99 * time.Millisecond:  "<100ms",
		100 * time.Millisecond: "100-200ms",
		250 * time.Millisecond: "200-300ms",
		500 * time.Millisecond: "300-500ms",
		900 * time.Millisecond: ">500ms",
	}

	for latency, want := range cases {
		if got := latencyBucket(latency); got != want {
			t.Fatalf("latencyBucket(%v) returned %q, want %q", latency, got, want)
		}
	}
}

func TestWriteJSONRoundTrip(t *testing.T) {
	rep := New()
	rep.Summary.TotalInput = 10
	rep.Summary.Selected = 3
	rep.AddDegradation("blacklist-load", "disk gone")

	if _, err := uuid.Parse(rep.RunID); err != nil {
		t.Fatalf("run ID %q is not a UUID: %v", rep.RunID, err)
	}

	path := filepath.Join(t.TempDir(), "sub", "quality_report.json")
	if err := rep.WriteJSON(path); err != nil {
		t.Fatalf("WriteJSON returned error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading artifact: %v", err)
	}

	var decoded Report
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("artifact is not valid JSON: %v", err)
	}
	if decoded.RunID != rep.RunID {
		t.Fatalf("run ID round-tripped as %q, want %q", decoded.RunID, rep.RunID)
	}
	if decoded.Summary.TotalInput != 10 || decoded.Summary.Selected != 3 {
		t.Fatalf("summary round-tripped as %+v", decoded.Summary)
	}
	if len(decoded.Degradations) != 1 || decoded.Degradations[0].Stage != "blacklist-load" {
		t.Fatalf("degradations round-tripped as %v", decoded.Degradations)
	}
}

func TestWriteNodesRawLines(t *testing.T) {
	selected := []scoring.Candidate{
		candidate(domain.ProtocolVLESS, "a.example.com", 50*time.Millisecond, 13, domain.Unassessed("1.1.1.1")),
		candidate(domain.ProtocolTrojan, "b.example.com", 90*time.Millisecond, 12, domain.Unassessed("2.2.2.2")),
	}

	path := filepath.Join(t.TempDir(), "sub", "high_quality_nodes.txt")
	if err := WriteNodes(path, selected); err != nil {
		t.Fatalf("WriteNodes returned error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading artifact: %v", err)
	}

	want := "vless://a.example.com\ntrojan://b.example.com\n"
	if string(data) != want {
		t.Fatalf("artifact content is %q, want %q", data, want)
	}
}
