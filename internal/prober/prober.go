package prober

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/net/proxy"

	"nodesieve/internal/domain"
	"nodesieve/internal/support"
)

// Config bounds one probe pass. Concurrency is an explicit setting, never
// derived from input size.
type Config struct {
	Concurrency int
	Timeout     time.Duration
	MaxNodes    int
	Socks5Proxy string
}

// Outcome carries one result per issued probe plus the count of candidates
// that were never attempted (over the cap or cut off by cancellation).
type Outcome struct {
	Results   []domain.ProbeResult
	NotTested int
}

type Prober struct {
	cfg    Config
	egress bool

	// seams for tests; production paths go straight to the net package
	resolve func(ctx context.Context, host string) (string, error)
	dial    func(ctx context.Context, address string) (net.Conn, error)
}

func New(cfg Config) (*Prober, error) {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	p := &Prober{cfg: cfg}
	p.resolve = resolveHost

	if cfg.Socks5Proxy != "" {
		socksDialer, err := proxy.SOCKS5("tcp", cfg.Socks5Proxy, nil, &net.Dialer{
			Timeout: cfg.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("socks5 egress dialer: %w", err)
		}
		p.egress = true
		p.dial = func(_ context.Context, address string) (net.Conn, error) {
			return socksDialer.Dial("tcp", address)
		}
	} else {
		p.dial = func(ctx context.Context, address string) (net.Conn, error) {
			var dialer net.Dialer
			return dialer.DialContext(ctx, "tcp", address)
		}
	}

	return p, nil
}

// Probe tests candidates with a bounded worker pool. Cancelling ctx stops
// issuing new attempts; in-flight attempts run on their own timeout-bounded
// contexts and finish naturally.
func (p *Prober) Probe(ctx context.Context, nodes []*domain.Node) Outcome {
	if len(nodes) == 0 {
		return Outcome{}
	}

	candidates := nodes
	notTested := 0
	if p.cfg.MaxNodes > 0 && len(candidates) > p.cfg.MaxNodes {
		notTested = len(candidates) - p.cfg.MaxNodes
		candidates = candidates[:p.cfg.MaxNodes]
	}

	workers := p.cfg.Concurrency
	if workers > len(candidates) {
		workers = len(candidates)
	}

	log.Info("Probing candidates", "count", len(candidates), "concurrency", workers, "timeout", p.cfg.Timeout)

	results := make([]domain.ProbeResult, len(candidates))
	jobs := make(chan int)
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				results[idx] = p.probeOne(candidates[idx])
			}
		}()
	}

feed:
	for i := range candidates {
		select {
		case jobs <- i:
		case <-ctx.Done():
			notTested += len(candidates) - i
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	outcome := Outcome{NotTested: notTested}
	outcome.Results = make([]domain.ProbeResult, 0, len(candidates))
	alive := 0
	for _, result := range results {
		if result.Node == nil {
			continue
		}
		if result.Success {
			alive++
		}
		outcome.Results = append(outcome.Results, result)
	}

	log.Info("Probe pass complete", "probed", len(outcome.Results), "alive", alive, "not_tested", outcome.NotTested)
	return outcome
}

func (p *Prober) probeOne(node *domain.Node) domain.ProbeResult {
	result := domain.ProbeResult{Node: node, CheckedAt: time.Now().UTC()}

	// Detached from the run context so a canceled run lets this attempt
	// finish or time out on its own budget.
	attemptCtx, cancel := context.WithTimeout(context.Background(), p.cfg.Timeout)
	defer cancel()

	dnsStart := time.Now()
	ip, err := p.resolve(attemptCtx, node.Host)
	if err != nil {
		result.Category = classifyResolveError(err)
		return result
	}
	result.DNSTime = time.Since(dnsStart)
	result.IP = ip

	target := net.JoinHostPort(ip, strconv.Itoa(int(node.Port)))
	if p.egress {
		// the egress proxy resolves on its side
		target = net.JoinHostPort(node.Host, strconv.Itoa(int(node.Port)))
	}

	connStart := time.Now()
	conn, err := p.dial(attemptCtx, target)
	if err != nil {
		result.Category = classifyDialError(err)
		return result
	}
	_ = conn.Close()

	result.Success = true
	result.Latency = result.DNSTime + time.Since(connStart)
	return result
}

func resolveHost(ctx context.Context, host string) (string, error) {
	if ip := support.NormalizeIPv4(host); ip != "" {
		return ip, nil
	}
	if support.IsIPLiteral(host) {
		return host, nil
	}

	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return "", err
	}

	// IPv4 preferred; these endpoints overwhelmingly publish A records.
	for _, addr := range addrs {
		if v4 := addr.IP.To4(); v4 != nil {
			return v4.String(), nil
		}
	}
	if len(addrs) > 0 {
		return addrs[0].IP.String(), nil
	}
	return "", &net.DNSError{Err: "no addresses", Name: host, IsNotFound: true}
}

func classifyResolveError(err error) domain.FailureCategory {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsTimeout {
		return domain.FailureTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.FailureTimeout
	}
	return domain.FailureDNS
}

func classifyDialError(err error) domain.FailureCategory {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.FailureTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.FailureTimeout
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return domain.FailureRefused
	}
	return domain.FailureOther
}
