package riskcheck

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"nodesieve/internal/domain"
)

const ipAPIEndpoint = "http://ip-api.com/json"

// IPAPI is the free-tier provider. It reports a hosting flag and country but
// no abuse score, and enforces a hard per-minute ceiling server-side.
type IPAPI struct {
	baseURL string
	client  *http.Client
}

func NewIPAPI() *IPAPI {
	return &IPAPI{
		baseURL: ipAPIEndpoint,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (p *IPAPI) Name() string {
	return "ip-api"
}

type ipAPIResponse struct {
	Status      string `json:"status"`
	Message     string `json:"message"`
	CountryCode string `json:"countryCode"`
	ISP         string `json:"isp"`
	Org         string `json:"org"`
	Hosting     bool   `json:"hosting"`
}

func (p *IPAPI) Assess(ctx context.Context, ip string) (domain.RiskAssessment, error) {
	endpoint := fmt.Sprintf("%s/%s?fields=status,message,countryCode,isp,org,hosting", p.baseURL, url.PathEscape(ip))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.RiskAssessment{}, fmt.Errorf("build request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return domain.RiskAssessment{}, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return domain.RiskAssessment{}, ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return domain.RiskAssessment{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var payload ipAPIResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxRiskResponseBytes)).Decode(&payload); err != nil {
		return domain.RiskAssessment{}, fmt.Errorf("decode response: %w", err)
	}

	if payload.Status != "success" {
		return domain.RiskAssessment{}, fmt.Errorf("lookup rejected: %s", payload.Message)
	}

	category := domain.RiskResidential
	if payload.Hosting {
		category = domain.RiskHosting
	}

	return domain.RiskAssessment{
		IP:         ip,
		Category:   category,
		AbuseScore: domain.AbuseScoreNone,
		Country:    payload.CountryCode,
		Provider:   p.Name(),
	}, nil
}
