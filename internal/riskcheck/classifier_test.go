package riskcheck

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"nodesieve/internal/domain"
)

type scriptedProvider struct {
	name  string
	calls atomic.Int32
	fn    func(ip string) (domain.RiskAssessment, error)
}

func (s *scriptedProvider) Name() string {
	if s.name == "" {
		return "scripted"
	}
	return s.name
}

func (s *scriptedProvider) Assess(_ context.Context, ip string) (domain.RiskAssessment, error) {
	s.calls.Add(1)
	return s.fn(ip)
}

func cleanAssessment(ip string) (domain.RiskAssessment, error) {
	return domain.RiskAssessment{
		IP:         ip,
		Category:   domain.RiskHosting,
		AbuseScore: 0,
		Country:    "US",
		Provider:   "scripted",
	}, nil
}

// fastConfig keeps the rate gate effectively open so tests run instantly.
func fastConfig() Config {
	return Config{
		Enabled:        true,
		CallsPerMinute: 600000,
		MaxAbuseScore:  50,
	}
}

func TestAssessCachesPerIP(t *testing.T) {
	provider := &scriptedProvider{fn: cleanAssessment}
	classifier := New(fastConfig(), provider, nil, nil)

	first := classifier.Assess(context.Background(), "1.1.1.1")
	second := classifier.Assess(context.Background(), "1.1.1.1")

	if calls := provider.calls.Load(); calls != 1 {
		t.Fatalf("provider called %d times for one IP, want 1", calls)
	}
	if first != second {
		t.Fatalf("repeated assessments differ: %+v vs %+v", first, second)
	}
	if stats := classifier.Stats(); stats.Lookups != 1 {
		t.Fatalf("lookup counter is %d, want 1", stats.Lookups)
	}
}

func TestAssessConcurrentCallersShareOneLookup(t *testing.T) {
	release := make(chan struct{})
	provider := &scriptedProvider{fn: func(ip string) (domain.RiskAssessment, error) {
		<-release
		return cleanAssessment(ip)
	}}
	classifier := New(fastConfig(), provider, nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			classifier.Assess(context.Background(), "1.1.1.1")
		}()
	}

	// Give every goroutine time to pile onto the same key, then let the
	// single in-flight lookup finish.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls := provider.calls.Load(); calls != 1 {
		t.Fatalf("provider called %d times by 8 concurrent callers, want 1", calls)
	}
}

func TestAssessAllCollapsesDuplicates(t *testing.T) {
	provider := &scriptedProvider{fn: cleanAssessment}
	classifier := New(fastConfig(), provider, nil, nil)

	out := classifier.AssessAll(context.Background(), []string{"1.1.1.1", "1.1.1.1", "2.2.2.2"})

	if len(out) != 2 {
		t.Fatalf("AssessAll returned %d assessments, want 2", len(out))
	}
	if calls := provider.calls.Load(); calls != 2 {
		t.Fatalf("provider called %d times, want 2", calls)
	}
}

func TestDisabledPerformsNoLookups(t *testing.T) {
	provider := &scriptedProvider{fn: func(ip string) (domain.RiskAssessment, error) {
		return domain.RiskAssessment{IP: ip, Flagged: true, AbuseScore: 100}, nil
	}}

	cfg := fastConfig()
	cfg.Enabled = false
	classifier := New(cfg, provider, nil, nil)

	assessment := classifier.Assess(context.Background(), "1.1.1.1")
	if provider.calls.Load() != 0 {
		t.Fatal("disabled classifier still called the provider")
	}
	if assessment.Flagged {
		t.Fatal("disabled classifier flagged a node")
	}
	if assessment.Category != domain.RiskUnknown || assessment.Provider != "none" {
		t.Fatalf("disabled assessment is %+v, want unassessed", assessment)
	}
}

func TestFlagsAboveMaxAbuseScore(t *testing.T) {
	scores := map[string]int{
		"1.1.1.1": 80,
		"2.2.2.2": 50,
		"3.3.3.3": 0,
	}
	provider := &scriptedProvider{fn: func(ip string) (domain.RiskAssessment, error) {
		return domain.RiskAssessment{IP: ip, Category: domain.RiskHosting, AbuseScore: scores[ip], Provider: "scripted"}, nil
	}}
	classifier := New(fastConfig(), provider, nil, nil)

	if !classifier.Assess(context.Background(), "1.1.1.1").Flagged {
		t.Fatal("score 80 with threshold 50 was not flagged")
	}
	if classifier.Assess(context.Background(), "2.2.2.2").Flagged {
		t.Fatal("score equal to the threshold was flagged; the bound is strictly greater")
	}
	if classifier.Assess(context.Background(), "3.3.3.3").Flagged {
		t.Fatal("clean score was flagged")
	}
}

func TestRateLimitedFallsBack(t *testing.T) {
	primary := &scriptedProvider{name: "primary", fn: func(string) (domain.RiskAssessment, error) {
		return domain.RiskAssessment{}, ErrRateLimited
	}}
	fallback := &scriptedProvider{name: "secondary", fn: func(ip string) (domain.RiskAssessment, error) {
		return domain.RiskAssessment{IP: ip, Category: domain.RiskHosting, AbuseScore: domain.AbuseScoreNone, Country: "DE", Provider: "secondary"}, nil
	}}
	classifier := New(fastConfig(), primary, fallback, nil)

	assessment := classifier.Assess(context.Background(), "1.1.1.1")

	if assessment.Provider != "secondary" {
		t.Fatalf("assessment came from %q, want the fallback provider", assessment.Provider)
	}
	if assessment.Country != "DE" {
		t.Fatalf("country is %q, want DE", assessment.Country)
	}

	stats := classifier.Stats()
	if stats.RateLimited != 1 || stats.Fallbacks != 1 || stats.Lookups != 2 {
		t.Fatalf("stats are %+v, want 1 rate-limit, 1 fallback, 2 lookups", stats)
	}
}

func TestRateLimitedWithoutFallbackDegrades(t *testing.T) {
	primary := &scriptedProvider{fn: func(string) (domain.RiskAssessment, error) {
		return domain.RiskAssessment{}, ErrRateLimited
	}}
	classifier := New(fastConfig(), primary, nil, nil)

	assessment := classifier.Assess(context.Background(), "1.1.1.1")

	if assessment.Flagged {
		t.Fatal("rate-limited lookup flagged the node")
	}
	if assessment.Category != domain.RiskUnknown {
		t.Fatalf("category is %q, want unknown", assessment.Category)
	}
	if stats := classifier.Stats(); stats.RateLimited != 1 {
		t.Fatalf("rate-limit counter is %d, want 1", stats.RateLimited)
	}
}

func TestProviderErrorDegradesToUnknown(t *testing.T) {
	primary := &scriptedProvider{fn: func(string) (domain.RiskAssessment, error) {
		return domain.RiskAssessment{}, errors.New("upstream exploded")
	}}
	classifier := New(fastConfig(), primary, nil, nil)

	assessment := classifier.Assess(context.Background(), "1.1.1.1")

	if assessment.Flagged || assessment.Category != domain.RiskUnknown {
		t.Fatalf("assessment is %+v, want a neutral unknown", assessment)
	}
	if stats := classifier.Stats(); stats.Errors != 1 {
		t.Fatalf("error counter is %d, want 1", stats.Errors)
	}
}

func TestBlockedRegionFlags(t *testing.T) {
	provider := &scriptedProvider{fn: func(ip string) (domain.RiskAssessment, error) {
		return domain.RiskAssessment{IP: ip, Category: domain.RiskResidential, AbuseScore: 0, Country: "CN", Provider: "scripted"}, nil
	}}

	cfg := fastConfig()
	cfg.BlockedRegions = []string{" cn ", "ru"} // normalization handles case and spacing
	classifier := New(cfg, provider, nil, nil)

	assessment := classifier.Assess(context.Background(), "1.1.1.1")
	if !assessment.Flagged {
		t.Fatal("node in a blocked region was not flagged")
	}
}

func TestGateSpacesLookups(t *testing.T) {
	provider := &scriptedProvider{fn: cleanAssessment}

	cfg := Config{Enabled: true, MinInterval: 40 * time.Millisecond, MaxAbuseScore: 50}
	classifier := New(cfg, provider, nil, nil)

	started := time.Now()
	classifier.AssessAll(context.Background(), []string{"1.1.1.1", "2.2.2.2", "3.3.3.3"})
	elapsed := time.Since(started)

	// First call is immediate, the next two wait one interval each.
	if elapsed < 70*time.Millisecond {
		t.Fatalf("three lookups finished in %v, want at least ~80ms of spacing", elapsed)
	}
}
