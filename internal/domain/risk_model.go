package domain

// RiskCategory describes what kind of network an IP appears to live on.
type RiskCategory string

const (
	RiskUnknown     RiskCategory = "unknown"
	RiskHosting     RiskCategory = "hosting"
	RiskResidential RiskCategory = "residential"
)

// AbuseScoreNone marks assessments whose provider supplies no confidence
// score (the free tier reports only the hosting flag).
const AbuseScoreNone = -1

// RiskAssessment is produced once per distinct IP and shared by every node
// behind that address.
type RiskAssessment struct {
	IP         string       `json:"ip"`
	Category   RiskCategory `json:"category"`
	Flagged    bool         `json:"flagged"`
	AbuseScore int          `json:"abuse_score"`
	Country    string       `json:"country,omitempty"`
	Provider   string       `json:"provider"`
}

// Unassessed is the neutral assessment used when risk checking is disabled,
// rate-limited out, or simply not performed for an IP. It never flags.
func Unassessed(ip string) RiskAssessment {
	return RiskAssessment{
		IP:         ip,
		Category:   RiskUnknown,
		AbuseScore: AbuseScoreNone,
		Provider:   "none",
	}
}
