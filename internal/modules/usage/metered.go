// README: Generator decorator that times every call, exports metrics and writes the usage ledger.
package usage

import (
	"context"
	"log"
	"time"

	"outing/internal/ai"
	"outing/internal/metrics"
)

const recordTimeout = 2 * time.Second

// Recorder persists usage records.
type Recorder interface {
	Record(ctx context.Context, r Record) error
}

// MeteredGenerator wraps a Generator. A nil ledger only exports metrics.
type MeteredGenerator struct {
	inner    ai.Generator
	provider string
	model    string
	ledger   Recorder
	now      func() time.Time
}

func NewMeteredGenerator(inner ai.Generator, provider, model string, ledger Recorder) *MeteredGenerator {
	return &MeteredGenerator{inner: inner, provider: provider, model: model, ledger: ledger, now: time.Now}
}

func (m *MeteredGenerator) Generate(ctx context.Context, req ai.Request) (*ai.Result, error) {
	start := m.now()
	res, err := m.inner.Generate(ctx, req)
	latency := m.now().Sub(start)

	outcome := OutcomeOK
	if err != nil {
		outcome = string(ai.Classify(err))
	}
	purpose := req.Purpose
	if purpose == "" {
		purpose = "unspecified"
	}
	metrics.GenerationLatency.WithLabelValues(purpose, outcome).Observe(latency.Seconds())

	if m.ledger != nil {
		rec := Record{
			Purpose:     purpose,
			Provider:    m.provider,
			Model:       m.model,
			Outcome:     outcome,
			Latency:     latency,
			PromptChars: len([]rune(req.Prompt)),
			CreatedAt:   start,
		}
		if res != nil {
			rec.OutputChars = len([]rune(res.Text))
		}
		// Recorded even when the turn was cancelled; bounded by recordTimeout.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
		if lerr := m.ledger.Record(rctx, rec); lerr != nil {
			log.Printf("usage ledger write failed: %v", lerr)
		}
		cancel()
	}
	return res, err
}
