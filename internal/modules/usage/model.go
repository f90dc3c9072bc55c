package usage

import "time"

// OutcomeOK marks a successful call; failures use the ai.FailureKind string.
const OutcomeOK = "ok"

// Record is one generation call.
type Record struct {
	Purpose     string
	Provider    string
	Model       string
	Outcome     string
	Latency     time.Duration
	PromptChars int
	OutputChars int
	CreatedAt   time.Time
}

// Summary aggregates records per purpose and outcome.
type Summary struct {
	Purpose    string        `json:"purpose"`
	Outcome    string        `json:"outcome"`
	Calls      int64         `json:"calls"`
	AvgLatency time.Duration `json:"avg_latency"`
}
