package domain

import "time"

// Degradation records a non-fatal component failure so the final report can
// explain every fallback the run took.
type Degradation struct {
	Stage  string    `json:"stage"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

func NewDegradation(stage, reason string) Degradation {
	return Degradation{Stage: stage, Reason: reason, At: time.Now().UTC()}
}
