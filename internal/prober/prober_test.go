package prober

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"nodesieve/internal/domain"
)

func testNodes(n int) []*domain.Node {
	nodes := make([]*domain.Node, n)
	for i := range nodes {
		nodes[i] = &domain.Node{
			Raw:      fmt.Sprintf("ss://node-%d", i),
			Protocol: domain.ProtocolSS,
			Host:     fmt.Sprintf("192.0.2.%d", i+1),
			Port:     8388,
			Params:   domain.SSParams{Method: "aes-256-gcm", Password: "pw"},
		}
	}
	return nodes
}

// pipeConn hands back a connection the prober can close without touching the
// network.
func pipeConn() (net.Conn, error) {
	client, server := net.Pipe()
	_ = server.Close()
	return client, nil
}

func stubProber(t *testing.T, cfg Config, dial func(ctx context.Context, address string) (net.Conn, error)) *Prober {
	t.Helper()

	p, err := New(cfg)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	p.dial = dial
	return p
}

func TestProbeRespectsCap(t *testing.T) {
	p := stubProber(t, Config{Concurrency: 4, Timeout: time.Second, MaxNodes: 3}, func(context.Context, string) (net.Conn, error) {
		return pipeConn()
	})

	nodes := testNodes(5)
	outcome := p.Probe(context.Background(), nodes)

	if len(outcome.Results) != 3 {
		t.Fatalf("probed %d nodes, want 3", len(outcome.Results))
	}
	if outcome.NotTested != 2 {
		t.Fatalf("NotTested is %d, want 2", outcome.NotTested)
	}
	for i, result := range outcome.Results {
		if result.Node != nodes[i] {
			t.Fatalf("result %d is %s, want %s (first-seen prefix)", i, result.Node.Host, nodes[i].Host)
		}
	}
}

func TestProbeBoundsConcurrency(t *testing.T) {
	var inFlight, peak int32
	dial := func(context.Context, string) (net.Conn, error) {
		current := atomic.AddInt32(&inFlight, 1)
		for {
			observed := atomic.LoadInt32(&peak)
			if current <= observed || atomic.CompareAndSwapInt32(&peak, observed, current) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return pipeConn()
	}

	p := stubProber(t, Config{Concurrency: 2, Timeout: time.Second}, dial)
	outcome := p.Probe(context.Background(), testNodes(8))

	if len(outcome.Results) != 8 {
		t.Fatalf("probed %d nodes, want 8", len(outcome.Results))
	}
	if got := atomic.LoadInt32(&peak); got > 2 {
		t.Fatalf("observed %d concurrent attempts, want at most 2", got)
	}
}

func TestProbePoolWallTime(t *testing.T) {
	// Every dial blocks until the attempt deadline, so 5 nodes across 2
	// workers should take about 3 timeouts of wall time, well short of the
	// 5 timeouts a serial run would need.
	const timeout = 120 * time.Millisecond
	dial := func(ctx context.Context, _ string) (net.Conn, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	p := stubProber(t, Config{Concurrency: 2, Timeout: timeout}, dial)

	started := time.Now()
	outcome := p.Probe(context.Background(), testNodes(5))
	elapsed := time.Since(started)

	if len(outcome.Results) != 5 {
		t.Fatalf("probed %d nodes, want 5", len(outcome.Results))
	}
	for _, result := range outcome.Results {
		if result.Success || result.Category != domain.FailureTimeout {
			t.Fatalf("result is %+v, want a timeout failure", result)
		}
	}

	if elapsed < 3*timeout-20*time.Millisecond {
		t.Fatalf("5 probes finished in %v; faster than 2 workers allow", elapsed)
	}
	if elapsed >= 5*timeout {
		t.Fatalf("5 probes took %v, which is serial time; the pool is not parallel", elapsed)
	}
}

func TestProbeCancellationStopsIssuing(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	dial := func(context.Context, string) (net.Conn, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return pipeConn()
	}

	p := stubProber(t, Config{Concurrency: 1, Timeout: 5 * time.Second}, dial)

	ctx, cancel := context.WithCancel(context.Background())
	var outcome Outcome
	done := make(chan struct{})
	go func() {
		outcome = p.Probe(ctx, testNodes(3))
		close(done)
	}()

	<-started
	cancel()
	close(release)
	<-done

	if len(outcome.Results) != 1 {
		t.Fatalf("probed %d nodes after cancellation, want 1", len(outcome.Results))
	}
	if outcome.NotTested != 2 {
		t.Fatalf("NotTested is %d, want 2", outcome.NotTested)
	}
	if !outcome.Results[0].Success {
		t.Fatal("the in-flight attempt was not allowed to finish")
	}
}

func TestProbeAgainstListener(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { listener.Close() })
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	port := listener.Addr().(*net.TCPAddr).Port
	node := &domain.Node{
		Raw:      "ss://live",
		Protocol: domain.ProtocolSS,
		Host:     "127.0.0.1",
		Port:     uint16(port),
		Params:   domain.SSParams{Method: "aes-256-gcm", Password: "pw"},
	}

	p, err := New(Config{Concurrency: 1, Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	outcome := p.Probe(context.Background(), []*domain.Node{node})
	if len(outcome.Results) != 1 {
		t.Fatalf("probed %d nodes, want 1", len(outcome.Results))
	}

	result := outcome.Results[0]
	if !result.Success {
		t.Fatalf("probe failed with category %q", result.Category)
	}
	if result.IP != "127.0.0.1" {
		t.Fatalf("resolved IP is %q, want 127.0.0.1", result.IP)
	}
	if result.CheckedAt.IsZero() {
		t.Fatal("CheckedAt was not recorded")
	}
}

func TestProbeClassifiesRefused(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	listener.Close()

	node := &domain.Node{
		Raw:      "ss://dead",
		Protocol: domain.ProtocolSS,
		Host:     "127.0.0.1",
		Port:     uint16(port),
		Params:   domain.SSParams{Method: "aes-256-gcm", Password: "pw"},
	}

	p, err := New(Config{Concurrency: 1, Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	outcome := p.Probe(context.Background(), []*domain.Node{node})
	result := outcome.Results[0]
	if result.Success {
		t.Fatal("probe against a closed port succeeded")
	}
	if result.Category != domain.FailureRefused {
		t.Fatalf("category is %q, want %q", result.Category, domain.FailureRefused)
	}
}

func TestClassifyDialError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want domain.FailureCategory
	}{
		{"deadline", os.ErrDeadlineExceeded, domain.FailureTimeout},
		{"context deadline", context.DeadlineExceeded, domain.FailureTimeout},
		{"refused", syscall.ECONNREFUSED, domain.FailureRefused},
		{"wrapped refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), domain.FailureRefused},
		{"anything else", errors.New("broken pipe"), domain.FailureOther},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := classifyDialError(tc.err); got != tc.want {
				t.Fatalf("classifyDialError returned %q, want %q", got, tc.want)
			}
		})
	}
}

func TestClassifyResolveError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want domain.FailureCategory
	}{
		{"dns timeout", &net.DNSError{IsTimeout: true}, domain.FailureTimeout},
		{"context deadline", context.DeadlineExceeded, domain.FailureTimeout},
		{"not found", &net.DNSError{IsNotFound: true}, domain.FailureDNS},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := classifyResolveError(tc.err); got != tc.want {
				t.Fatalf("classifyResolveError returned %q, want %q", got, tc.want)
			}
		})
	}
}

func TestResolveHostShortCircuitsLiterals(t *testing.T) {
	cases := map[string]string{
		"198.51.100.9":        "198.51.100.9",
		"2001:db8::1":         "2001:db8::1",
		"::ffff:198.51.100.9": "198.51.100.9", // v4-mapped collapses to plain v4
	}
	for literal, want := range cases {
		got, err := resolveHost(context.Background(), literal)
		if err != nil {
			t.Fatalf("resolveHost(%q) returned error: %v", literal, err)
		}
		if got != want {
			t.Fatalf("resolveHost(%q) returned %q, want %q", literal, got, want)
		}
	}
}
