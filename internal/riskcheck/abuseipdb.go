package riskcheck

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"nodesieve/internal/domain"
)

const abuseIPDBEndpoint = "https://api.abuseipdb.com/api/v2/check"

// AbuseIPDB is the primary provider when a key is configured. It is the only
// provider that reports an abuse confidence score.
type AbuseIPDB struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewAbuseIPDB(apiKey string) *AbuseIPDB {
	return &AbuseIPDB{
		apiKey:  apiKey,
		baseURL: abuseIPDBEndpoint,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (a *AbuseIPDB) Name() string {
	return "abuseipdb"
}

type abuseIPDBResponse struct {
	Data struct {
		AbuseConfidenceScore int    `json:"abuseConfidenceScore"`
		CountryCode          string `json:"countryCode"`
		UsageType            string `json:"usageType"`
	} `json:"data"`
}

func (a *AbuseIPDB) Assess(ctx context.Context, ip string) (domain.RiskAssessment, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL, nil)
	if err != nil {
		return domain.RiskAssessment{}, fmt.Errorf("build request: %w", err)
	}

	query := req.URL.Query()
	query.Set("ipAddress", ip)
	query.Set("maxAgeInDays", "90")
	req.URL.RawQuery = query.Encode()
	req.Header.Set("Key", a.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return domain.RiskAssessment{}, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return domain.RiskAssessment{}, ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return domain.RiskAssessment{}, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload abuseIPDBResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxRiskResponseBytes)).Decode(&payload); err != nil {
		return domain.RiskAssessment{}, fmt.Errorf("decode response: %w", err)
	}

	return domain.RiskAssessment{
		IP:         ip,
		Category:   categoryFromUsageType(payload.Data.UsageType),
		AbuseScore: payload.Data.AbuseConfidenceScore,
		Country:    payload.Data.CountryCode,
		Provider:   a.Name(),
	}, nil
}

func categoryFromUsageType(usageType string) domain.RiskCategory {
	if usageType == "" {
		return domain.RiskUnknown
	}

	lower := strings.ToLower(usageType)
	if strings.Contains(lower, "hosting") || strings.Contains(lower, "data center") {
		return domain.RiskHosting
	}
	return domain.RiskResidential
}
