package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"nodesieve/internal/blacklist"
	"nodesieve/internal/domain"
	"nodesieve/internal/riskcheck"
	"nodesieve/internal/scoring"
)

// Summary explains the selected count end to end: every node the run saw is
// accounted for by exactly one of these buckets.
type Summary struct {
	TotalInput       int     `json:"total_input"`
	Malformed        int     `json:"malformed"`
	ProtocolFiltered int     `json:"protocol_filtered,omitempty"`
	AfterDedup       int     `json:"after_dedup"`
	Blacklisted      int     `json:"blacklisted"`
	Probed           int     `json:"probed"`
	NotTested        int     `json:"not_tested"`
	Succeeded        int     `json:"succeeded"`
	ProbeFailed      int     `json:"probe_failed"`
	TooSlow          int     `json:"too_slow"`
	RiskFlagged      int     `json:"risk_flagged"`
	Truncated        int     `json:"truncated"`
	Selected         int     `json:"selected"`
	AvailabilityRate float64 `json:"availability_rate"`
}

// NodeDiagnostic is one selected row. Downstream delivery reads these as-is,
// nothing has to be re-derived.
type NodeDiagnostic struct {
	Rank         int    `json:"rank"`
	Protocol     string `json:"protocol"`
	Host         string `json:"host"`
	Port         uint16 `json:"port"`
	LatencyMS    int64  `json:"latency_ms"`
	Score        int    `json:"score"`
	RiskCategory string `json:"risk_category"`
	AbuseScore   int    `json:"abuse_score"`
	Country      string `json:"country,omitempty"`
	Provider     string `json:"provider"`
}

// Report is the QualityReport artifact, produced once per run.
type Report struct {
	RunID                string               `json:"run_id"`
	Version              string               `json:"version,omitempty"`
	GeneratedAt          time.Time            `json:"generated_at"`
	DurationMS           int64                `json:"duration_ms"`
	Summary              Summary              `json:"summary"`
	ProtocolDistribution map[string]int       `json:"protocol_distribution"`
	LatencyDistribution  map[string]int       `json:"latency_distribution"`
	TopNodes             []NodeDiagnostic     `json:"top_nodes"`
	Degradations         []domain.Degradation `json:"degradations,omitempty"`
	Blacklist            blacklist.Stats      `json:"blacklist"`
	Risk                 riskcheck.Stats      `json:"risk"`
}

func New() *Report {
	return &Report{
		RunID:                uuid.NewString(),
		GeneratedAt:          time.Now().UTC(),
		ProtocolDistribution: make(map[string]int),
		LatencyDistribution:  make(map[string]int),
	}
}

func (r *Report) AddDegradation(stage, reason string) {
	r.Degradations = append(r.Degradations, domain.NewDegradation(stage, reason))
}

// SetSelection fills the diagnostic rows and distributions from the final
// ranked selection.
func (r *Report) SetSelection(selected []scoring.Candidate) {
	r.TopNodes = make([]NodeDiagnostic, 0, len(selected))
	for i, candidate := range selected {
		r.ProtocolDistribution[string(candidate.Node.Protocol)]++
		r.LatencyDistribution[latencyBucket(candidate.Probe.Latency)]++

		r.TopNodes = append(r.TopNodes, NodeDiagnostic{
			Rank:         i + 1,
			Protocol:     string(candidate.Node.Protocol),
			Host:         candidate.Node.Host,
			Port:         candidate.Node.Port,
			LatencyMS:    candidate.Probe.LatencyMS(),
			Score:        candidate.Score,
			RiskCategory: string(candidate.Risk.Category),
			AbuseScore:   candidate.Risk.AbuseScore,
			Country:      candidate.Risk.Country,
			Provider:     candidate.Risk.Provider,
		})
	}
}

// WriteJSON writes the report artifact, creating parent directories first.
func (r *Report) WriteJSON(path string) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// WriteNodes writes the selected raw descriptors one per line, preserving
// their original byte form for re-export.
func WriteNodes(path string, selected []scoring.Candidate) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	var builder strings.Builder
	for _, candidate := range selected {
		builder.WriteString(candidate.Node.Raw)
		builder.WriteByte('\n')
	}

	if err := os.WriteFile(path, []byte(builder.String()), 0o644); err != nil {
		return fmt.Errorf("write selected nodes: %w", err)
	}
	return nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	return nil
}

func latencyBucket(latency time.Duration) string {
	ms := latency.Milliseconds()
	switch {
	case ms < 100:
		return "<100ms"
	case ms < 200:
		return "100-200ms"
	case ms < 300:
		return "200-300ms"
	case ms <= 500:
		return "300-500ms"
	}
	return ">500ms"
}
