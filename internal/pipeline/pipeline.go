package pipeline

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/charmbracelet/log"

	"nodesieve/internal/blacklist"
	"nodesieve/internal/domain"
	"nodesieve/internal/parser"
	"nodesieve/internal/prober"
	"nodesieve/internal/report"
	"nodesieve/internal/riskcheck"
	"nodesieve/internal/scoring"
)

// ErrNoCandidates is the run's only fatal condition: nothing was left to test
// after parsing, deduplication and blacklist filtering.
var ErrNoCandidates = errors.New("no testable nodes after dedup and blacklist filtering")

// Options carries the run-scoped switches that do not belong to any single
// stage. Degradations collected while wiring the stages up (a missing GeoIP
// database, a Redis backend that fell back to file) are seeded here so they
// surface in the report.
type Options struct {
	BypassBlacklist bool
	PreferredOnly   bool
	RiskBudget      int
	Degradations    []domain.Degradation
}

// Output pairs the finished report with the ranked selection the artifacts
// are written from.
type Output struct {
	Report   *report.Report
	Selected []scoring.Candidate
}

// Pipeline runs the five stages in order: parse, filter, probe, classify,
// select. Stages only meet through the values flowing between them.
type Pipeline struct {
	store      *blacklist.Store
	prober     *prober.Prober
	classifier *riskcheck.Classifier
	policy     scoring.Policy
	opts       Options
}

func New(store *blacklist.Store, p *prober.Prober, classifier *riskcheck.Classifier, policy scoring.Policy, opts Options) *Pipeline {
	return &Pipeline{
		store:      store,
		prober:     p,
		classifier: classifier,
		policy:     policy,
		opts:       opts,
	}
}

// Run takes the raw input lines through the whole pipeline. Degraded stages
// are recorded in the report, not returned as errors; the only error is
// ErrNoCandidates.
func (p *Pipeline) Run(ctx context.Context, rawLines []string) (*Output, error) {
	started := time.Now()

	rep := report.New()
	rep.Degradations = append(rep.Degradations, p.opts.Degradations...)

	nodes, malformed := parser.ParseAll(rawLines)
	rep.Summary.TotalInput = len(rawLines)
	rep.Summary.Malformed = malformed

	if p.opts.PreferredOnly && len(p.policy.Preferred) > 0 {
		kept := parser.FilterProtocols(nodes, p.policy.Preferred)
		rep.Summary.ProtocolFiltered = len(nodes) - len(kept)
		nodes = kept
	}

	unique := parser.Dedupe(nodes)
	rep.Summary.AfterDedup = len(unique)
	log.Info("Parsed input",
		"raw", len(rawLines),
		"malformed", malformed,
		"unique", len(unique))

	if err := p.store.Load(ctx); err != nil {
		log.Warn("Blacklist degraded to empty", "error", err)
		rep.AddDegradation("blacklist-load", err.Error())
	}

	candidates := unique
	if p.opts.BypassBlacklist {
		log.Warn("Blacklist filtering bypassed for this run")
	} else {
		candidates = make([]*domain.Node, 0, len(unique))
		for _, node := range unique {
			if p.store.Contains(node.Fingerprint()) {
				rep.Summary.Blacklisted++
				continue
			}
			candidates = append(candidates, node)
		}
	}

	if len(candidates) == 0 {
		return nil, ErrNoCandidates
	}

	outcome := p.prober.Probe(ctx, candidates)
	rep.Summary.Probed = len(outcome.Results)
	rep.Summary.NotTested = outcome.NotTested
	for _, result := range outcome.Results {
		if result.Success {
			rep.Summary.Succeeded++
		}
	}
	if rep.Summary.Probed > 0 {
		rate := float64(rep.Summary.Succeeded) / float64(rep.Summary.Probed) * 100
		rep.Summary.AvailabilityRate = math.Round(rate*100) / 100
	}

	targets := scoring.RiskTargets(outcome.Results, p.policy, p.opts.RiskBudget)
	risks := p.classifier.AssessAll(ctx, targets)
	rep.Risk = p.classifier.Stats()
	if rep.Risk.RateLimited > 0 {
		rep.AddDegradation("risk-check", "provider rate limiting degraded some lookups to unknown")
	}

	result := scoring.Select(outcome.Results, risks, p.policy)
	rep.Summary.Truncated = result.Truncated
	rep.Summary.Selected = len(result.Selected)
	rep.SetSelection(result.Selected)

	var banned []string
	for _, rejection := range result.Rejected {
		switch rejection.Reason {
		case scoring.RejectProbeFailed:
			rep.Summary.ProbeFailed++
		case scoring.RejectTooSlow:
			rep.Summary.TooSlow++
		case scoring.RejectRiskFlagged:
			rep.Summary.RiskFlagged++
		}
		if rejection.Blacklist {
			banned = append(banned, rejection.Node.Fingerprint())
		}
	}
	if added := p.store.AddAll(banned); added > 0 {
		log.Info("Blacklist updated", "added", added)
	}

	stats := p.store.Stats()
	if err := p.store.Save(ctx); err != nil {
		log.Warn("Blacklist save failed, in-memory state stands for this run", "error", err)
		rep.AddDegradation("blacklist-save", err.Error())
	} else {
		stats.Persisted = true
	}
	rep.Blacklist = stats

	rep.DurationMS = time.Since(started).Milliseconds()
	log.Info("Pipeline finished",
		"selected", rep.Summary.Selected,
		"succeeded", rep.Summary.Succeeded,
		"probed", rep.Summary.Probed,
		"availability", rep.Summary.AvailabilityRate,
		"duration", time.Since(started).Round(time.Millisecond))

	return &Output{Report: rep, Selected: result.Selected}, nil
}
