package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"gopkg.in/yaml.v3"

	"nodesieve/internal/domain"
	"nodesieve/internal/support"
)

//go:embed default_config.yaml
var defaultConfig []byte

// DefaultPath is where Load looks when no path is given. A missing file is
// created from the embedded defaults so a fresh checkout runs as-is.
const DefaultPath = "config.yaml"

type Config struct {
	Input struct {
		NodesFile     string `yaml:"nodes_file"`
		PreferredOnly bool   `yaml:"preferred_protocols_only"`
	} `yaml:"input"`

	Probe struct {
		Concurrency int      `yaml:"concurrency"`
		Timeout     Duration `yaml:"timeout"`
		MaxNodes    int      `yaml:"max_nodes"`
		MaxLatency  Duration `yaml:"max_latency"`
		Socks5Proxy string   `yaml:"socks5_proxy"`
	} `yaml:"probe"`

	Risk struct {
		Enabled        bool     `yaml:"enabled"`
		MaxChecks      int      `yaml:"max_checks"`
		CallsPerMinute int      `yaml:"calls_per_minute"`
		MinInterval    Duration `yaml:"min_interval"`
		MaxAbuseScore  int      `yaml:"max_abuse_score"`
		BlockedRegions []string `yaml:"blocked_regions"`
		GeoIPDatabase  string   `yaml:"geoip_database"`

		// AbuseIPDBKey comes from the environment only and is never
		// written back to disk.
		AbuseIPDBKey string `yaml:"-"`
	} `yaml:"risk"`

	Blacklist struct {
		Path            string `yaml:"path"`
		RedisURL        string `yaml:"redis_url"`
		Cap             int    `yaml:"cap"`
		Bypass          bool   `yaml:"bypass"`
		IncludeTimeouts bool   `yaml:"include_timeouts"`
	} `yaml:"blacklist"`

	Scoring struct {
		PreferredProtocols []string `yaml:"preferred_protocols"`
	} `yaml:"scoring"`

	Output struct {
		MaxNodes   int    `yaml:"max_nodes"`
		NodesFile  string `yaml:"nodes_file"`
		ReportFile string `yaml:"report_file"`
	} `yaml:"output"`

	Run struct {
		Timeout Duration `yaml:"timeout"`
	} `yaml:"run"`
}

// Load reads the settings file, writes the embedded defaults when the file
// does not exist yet, then applies environment overrides and clamps.
func Load(path string) (*Config, error) {
	if path == "" {
		path = support.GetEnv("NODESIEVE_CONFIG", DefaultPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}

		log.Warn("Config file not found, creating with default configuration", "path", path)
		if err := writeDefault(path); err != nil {
			return nil, err
		}
		data = defaultConfig
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.clamp()
	return cfg, nil
}

// PreferredProtocols resolves the configured names, dropping anything the
// parser does not speak.
func (c *Config) PreferredProtocols() []domain.Protocol {
	resolved := make([]domain.Protocol, 0, len(c.Scoring.PreferredProtocols))
	for _, name := range c.Scoring.PreferredProtocols {
		protocol := domain.Protocol(name)
		if !protocol.Known() {
			log.Warn("Ignoring unknown preferred protocol", "protocol", name)
			continue
		}
		resolved = append(resolved, protocol)
	}
	return resolved
}

func writeDefault(path string) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	if err := os.WriteFile(path, defaultConfig, 0o644); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	c.Risk.AbuseIPDBKey = support.GetEnv("ABUSEIPDB_API_KEY", c.Risk.AbuseIPDBKey)
	c.Blacklist.RedisURL = support.GetEnv("NODESIEVE_REDIS_URL", c.Blacklist.RedisURL)
	c.Risk.GeoIPDatabase = support.GetEnv("NODESIEVE_GEOIP_DB", c.Risk.GeoIPDatabase)
	c.Probe.Concurrency = support.GetEnvInt("NODESIEVE_CONCURRENCY", c.Probe.Concurrency)
	c.Risk.Enabled = support.GetEnvBool("NODESIEVE_RISK_ENABLED", c.Risk.Enabled)
}

// clamp pins out-of-range values to something workable instead of failing
// the run. Zero means unlimited for the caps, so only negatives move.
func (c *Config) clamp() {
	if c.Probe.Concurrency < 1 {
		c.Probe.Concurrency = 1
	}
	if c.Probe.Timeout <= 0 {
		c.Probe.Timeout = Duration(5 * time.Second)
	}
	if c.Probe.MaxNodes < 0 {
		c.Probe.MaxNodes = 0
	}
	if c.Probe.MaxLatency <= 0 {
		c.Probe.MaxLatency = Duration(500 * time.Millisecond)
	}
	if c.Risk.MaxChecks < 0 {
		c.Risk.MaxChecks = 0
	}
	if c.Risk.CallsPerMinute < 1 {
		c.Risk.CallsPerMinute = 1
	}
	if c.Risk.MaxAbuseScore <= 0 {
		c.Risk.MaxAbuseScore = 50
	}
	if c.Blacklist.Cap < 0 {
		c.Blacklist.Cap = 0
	}
	if c.Output.MaxNodes < 0 {
		c.Output.MaxNodes = 0
	}
	if c.Run.Timeout < 0 {
		c.Run.Timeout = 0
	}
}
