package riskcheck

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"nodesieve/internal/domain"
)

// ErrRateLimited is returned by providers when the remote side asks us to
// back off.
var ErrRateLimited = errors.New("riskcheck: provider rate limited")

// maxRiskResponseBytes caps provider response reads.
const maxRiskResponseBytes = 1 << 20

// Provider answers one IP lookup against an external reputation service.
type Provider interface {
	Name() string
	Assess(ctx context.Context, ip string) (domain.RiskAssessment, error)
}

type Config struct {
	Enabled        bool
	CallsPerMinute int
	MinInterval    time.Duration
	MaxAbuseScore  int
	BlockedRegions []string
}

// Stats mirrors what the report needs to explain degraded lookups.
type Stats struct {
	Lookups     int `json:"lookups"`
	RateLimited int `json:"rate_limited"`
	Errors      int `json:"errors"`
	Fallbacks   int `json:"fallbacks"`
}

// Classifier owns the per-run assessment cache and the single rate gate that
// every external call must pass, no matter which goroutine asks.
type Classifier struct {
	cfg      Config
	primary  Provider
	fallback Provider
	geo      *GeoResolver
	gate     *rate.Limiter
	group    singleflight.Group

	mu      sync.Mutex
	cache   map[string]domain.RiskAssessment
	blocked map[string]struct{}
	stats   Stats
}

// Providers picks the lookup chain from the configured credential: AbuseIPDB
// with the free tier as fallback when a key is present, otherwise the free
// tier alone.
func Providers(abuseIPDBKey string) (primary, fallback Provider) {
	if strings.TrimSpace(abuseIPDBKey) != "" {
		return NewAbuseIPDB(abuseIPDBKey), NewIPAPI()
	}
	return NewIPAPI(), nil
}

func New(cfg Config, primary, fallback Provider, geo *GeoResolver) *Classifier {
	interval := cfg.MinInterval
	if cfg.CallsPerMinute > 0 {
		if spacing := time.Minute / time.Duration(cfg.CallsPerMinute); spacing > interval {
			interval = spacing
		}
	}
	if interval <= 0 {
		interval = time.Second
	}

	blocked := make(map[string]struct{}, len(cfg.BlockedRegions))
	for _, region := range cfg.BlockedRegions {
		region = strings.ToUpper(strings.TrimSpace(region))
		if region != "" {
			blocked[region] = struct{}{}
		}
	}

	return &Classifier{
		cfg:      cfg,
		primary:  primary,
		fallback: fallback,
		geo:      geo,
		gate:     rate.NewLimiter(rate.Every(interval), 1),
		cache:    make(map[string]domain.RiskAssessment),
		blocked:  blocked,
	}
}

// Assess returns the run-scoped assessment for ip. Concurrent callers asking
// about the same IP collapse onto a single external lookup.
func (c *Classifier) Assess(ctx context.Context, ip string) domain.RiskAssessment {
	if !c.cfg.Enabled || ip == "" {
		return domain.Unassessed(ip)
	}

	if cached, found := c.cached(ip); found {
		return cached
	}

	value, _, _ := c.group.Do(ip, func() (interface{}, error) {
		if cached, found := c.cached(ip); found {
			return cached, nil
		}
		assessment := c.lookup(ctx, ip)
		c.storeResult(assessment)
		return assessment, nil
	})

	assessment, ok := value.(domain.RiskAssessment)
	if !ok {
		return domain.Unassessed(ip)
	}
	return assessment
}

// AssessAll walks ips in order. The shared gate spaces the external calls;
// a canceled context degrades the remaining IPs to unassessed.
func (c *Classifier) AssessAll(ctx context.Context, ips []string) map[string]domain.RiskAssessment {
	out := make(map[string]domain.RiskAssessment, len(ips))
	for _, ip := range ips {
		if ctx.Err() != nil {
			out[ip] = domain.Unassessed(ip)
			continue
		}
		out[ip] = c.Assess(ctx, ip)
	}
	return out
}

func (c *Classifier) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *Classifier) cached(ip string) (domain.RiskAssessment, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	assessment, found := c.cache[ip]
	return assessment, found
}

func (c *Classifier) storeResult(assessment domain.RiskAssessment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[assessment.IP] = assessment
}

func (c *Classifier) lookup(ctx context.Context, ip string) domain.RiskAssessment {
	assessment, err := c.query(ctx, c.primary, ip)
	if err == nil {
		return c.finish(ip, assessment)
	}

	if errors.Is(err, ErrRateLimited) {
		c.count(func(s *Stats) { s.RateLimited++ })
		if c.fallback != nil {
			fallbackAssessment, fallbackErr := c.query(ctx, c.fallback, ip)
			if fallbackErr == nil {
				c.count(func(s *Stats) { s.Fallbacks++ })
				return c.finish(ip, fallbackAssessment)
			}
			if errors.Is(fallbackErr, ErrRateLimited) {
				c.count(func(s *Stats) { s.RateLimited++ })
			} else {
				c.count(func(s *Stats) { s.Errors++ })
				log.Warn("Fallback risk lookup failed", "provider", c.fallback.Name(), "error", fallbackErr)
			}
		}
	} else {
		c.count(func(s *Stats) { s.Errors++ })
		log.Warn("Risk lookup failed", "provider", c.primary.Name(), "error", err)
	}

	// Provider unavailability must never exclude a node, so the assessment
	// degrades to unknown. Offline region policy still applies when the
	// country is locally resolvable.
	return c.neutral(ip)
}

func (c *Classifier) query(ctx context.Context, provider Provider, ip string) (domain.RiskAssessment, error) {
	if provider == nil {
		return domain.RiskAssessment{}, errors.New("no provider configured")
	}
	if err := c.gate.Wait(ctx); err != nil {
		return domain.RiskAssessment{}, fmt.Errorf("rate gate: %w", err)
	}

	c.count(func(s *Stats) { s.Lookups++ })
	return provider.Assess(ctx, ip)
}

func (c *Classifier) finish(ip string, assessment domain.RiskAssessment) domain.RiskAssessment {
	assessment.IP = ip
	if assessment.Country == "" {
		assessment.Country = c.geo.Country(ip)
	}
	if assessment.AbuseScore != domain.AbuseScoreNone && assessment.AbuseScore > c.cfg.MaxAbuseScore {
		assessment.Flagged = true
	}
	if c.regionBlocked(assessment.Country) {
		assessment.Flagged = true
	}
	return assessment
}

func (c *Classifier) neutral(ip string) domain.RiskAssessment {
	assessment := domain.Unassessed(ip)
	assessment.Country = c.geo.Country(ip)
	if c.regionBlocked(assessment.Country) {
		assessment.Flagged = true
	}
	return assessment
}

func (c *Classifier) regionBlocked(country string) bool {
	if country == "" {
		return false
	}
	_, found := c.blocked[strings.ToUpper(country)]
	return found
}

func (c *Classifier) count(update func(*Stats)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	update(&c.stats)
}
