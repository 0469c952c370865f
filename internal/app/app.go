package app

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"

	"nodesieve/internal/app/version"
	"nodesieve/internal/blacklist"
	"nodesieve/internal/config"
	"nodesieve/internal/domain"
	"nodesieve/internal/pipeline"
	"nodesieve/internal/prober"
	"nodesieve/internal/report"
	"nodesieve/internal/riskcheck"
	"nodesieve/internal/scoring"
	"nodesieve/internal/support"
)

func Run() error {
	if err := godotenv.Load(); err != nil {
		log.Warn("No .env file found. Falling back to system environment variables.")
	}

	configFlag := flag.String("config", "", "Path to the settings file")
	inputFlag := flag.String("input", "", "Node list to read instead of the configured one")
	bypassFlag := flag.Bool("bypass-blacklist", false, "Skip blacklist filtering for this run")
	noRiskFlag := flag.Bool("no-risk", false, "Disable risk classification for this run")
	versionFlag := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *versionFlag {
		info := version.Get()
		if info.BuiltAt != "" {
			fmt.Println("nodesieve", info.Version, "built", info.BuiltAt)
		} else {
			fmt.Println("nodesieve", info.Version)
		}
		return nil
	}

	cfg, err := config.Load(*configFlag)
	if err != nil {
		return err
	}
	if *inputFlag != "" {
		cfg.Input.NodesFile = *inputFlag
	}
	if *bypassFlag {
		cfg.Blacklist.Bypass = true
	}
	if *noRiskFlag {
		cfg.Risk.Enabled = false
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if timeout := cfg.Run.Timeout.Duration(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	lines, err := support.ReadLines(cfg.Input.NodesFile)
	if err != nil {
		return err
	}
	log.Info("Loaded node list", "path", cfg.Input.NodesFile, "lines", len(lines))

	store, closeStore, degradations := buildStore(ctx, cfg)
	defer closeStore()

	probe, err := prober.New(prober.Config{
		Concurrency: cfg.Probe.Concurrency,
		Timeout:     cfg.Probe.Timeout.Duration(),
		MaxNodes:    cfg.Probe.MaxNodes,
		Socks5Proxy: cfg.Probe.Socks5Proxy,
	})
	if err != nil {
		return err
	}

	geo, err := riskcheck.OpenGeoResolver(cfg.Risk.GeoIPDatabase)
	if err != nil {
		log.Warn("GeoIP database unavailable, region policy degraded", "error", err)
		degradations = append(degradations, domain.NewDegradation("geoip-open", err.Error()))
	}
	defer geo.Close()

	primary, fallback := riskcheck.Providers(cfg.Risk.AbuseIPDBKey)
	classifier := riskcheck.New(riskcheck.Config{
		Enabled:        cfg.Risk.Enabled,
		CallsPerMinute: cfg.Risk.CallsPerMinute,
		MinInterval:    cfg.Risk.MinInterval.Duration(),
		MaxAbuseScore:  cfg.Risk.MaxAbuseScore,
		BlockedRegions: cfg.Risk.BlockedRegions,
	}, primary, fallback, geo)

	policy := scoring.Policy{
		MaxLatency:        cfg.Probe.MaxLatency.Duration(),
		OutputCap:         cfg.Output.MaxNodes,
		Preferred:         cfg.PreferredProtocols(),
		BlacklistTimeouts: cfg.Blacklist.IncludeTimeouts,
	}

	pipe := pipeline.New(store, probe, classifier, policy, pipeline.Options{
		BypassBlacklist: cfg.Blacklist.Bypass,
		PreferredOnly:   cfg.Input.PreferredOnly,
		RiskBudget:      cfg.Risk.MaxChecks,
		Degradations:    degradations,
	})

	output, err := pipe.Run(ctx, lines)
	if err != nil {
		return err
	}
	output.Report.Version = version.BuildVersion()

	if err := report.WriteNodes(cfg.Output.NodesFile, output.Selected); err != nil {
		return err
	}
	if err := output.Report.WriteJSON(cfg.Output.ReportFile); err != nil {
		return err
	}
	log.Info("Artifacts written",
		"nodes", cfg.Output.NodesFile,
		"report", cfg.Output.ReportFile,
		"run_id", output.Report.RunID)

	logSelection(output.Selected)
	return nil
}

// buildStore picks the blacklist backend. A Redis URL that cannot be reached
// falls back to the file backend so a broken cache never blocks a run.
func buildStore(ctx context.Context, cfg *config.Config) (*blacklist.Store, func(), []domain.Degradation) {
	if cfg.Blacklist.RedisURL != "" {
		backend, err := blacklist.NewRedisStore(ctx, cfg.Blacklist.RedisURL)
		if err == nil {
			log.Info("Blacklist backed by Redis")
			return blacklist.NewStore(cfg.Blacklist.Cap, backend), func() {
				if err := backend.Close(); err != nil {
					log.Warn("Error closing Redis connection", "error", err)
				}
			}, nil
		}

		log.Warn("Redis unavailable, falling back to file blacklist", "error", err)
		fileBackend := blacklist.NewFileStore(cfg.Blacklist.Path)
		store := blacklist.NewStore(cfg.Blacklist.Cap, fileBackend)
		return store, func() {}, []domain.Degradation{
			domain.NewDegradation("blacklist-backend", err.Error()),
		}
	}

	backend := blacklist.NewFileStore(cfg.Blacklist.Path)
	return blacklist.NewStore(cfg.Blacklist.Cap, backend), func() {}, nil
}

// logSelection prints the top picks with masked hosts. Full hosts only ever
// land in the artifacts, not in log output.
func logSelection(selected []scoring.Candidate) {
	const shown = 10
	for i, candidate := range selected {
		if i == shown {
			log.Info("Further selections omitted from log", "remaining", len(selected)-shown)
			break
		}
		log.Info("Selected node",
			"rank", i+1,
			"protocol", candidate.Node.Protocol,
			"host", support.MaskHost(candidate.Node.Host),
			"latency_ms", candidate.Probe.LatencyMS(),
			"score", candidate.Score,
			"risk", candidate.Risk.Category)
	}
}
