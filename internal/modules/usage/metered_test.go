package usage

import (
	"context"
	"errors"
	"testing"
	"time"

	"outing/internal/ai"
)

type fakeGenerator struct {
	text string
	err  error
}

func (f fakeGenerator) Generate(context.Context, ai.Request) (*ai.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &ai.Result{Text: f.text}, nil
}

type memoryLedger struct {
	records []Record
	err     error
	ctxErr  error
}

func (m *memoryLedger) Record(ctx context.Context, r Record) error {
	m.ctxErr = ctx.Err()
	m.records = append(m.records, r)
	return m.err
}

func steppingClock(step time.Duration) func() time.Time {
	t := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		now := t
		t = t.Add(step)
		return now
	}
}

func TestMeteredGeneratorRecordsSuccess(t *testing.T) {
	ledger := &memoryLedger{}
	m := NewMeteredGenerator(fakeGenerator{text: "こんにちは"}, "gemini", "gemini-2.0-flash", ledger)
	m.now = steppingClock(1500 * time.Millisecond)

	res, err := m.Generate(context.Background(), ai.Request{Prompt: "横浜駅", Purpose: ai.PurposePlan})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Text != "こんにちは" {
		t.Fatalf("unexpected text %q", res.Text)
	}
	if len(ledger.records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(ledger.records))
	}
	rec := ledger.records[0]
	if rec.Outcome != OutcomeOK || rec.Purpose != ai.PurposePlan || rec.Provider != "gemini" {
		t.Fatalf("unexpected record %+v", rec)
	}
	if rec.Latency != 1500*time.Millisecond {
		t.Fatalf("expected 1.5s latency, got %v", rec.Latency)
	}
	if rec.PromptChars != 3 || rec.OutputChars != 5 {
		t.Fatalf("expected rune counts 3/5, got %d/%d", rec.PromptChars, rec.OutputChars)
	}
}

func TestMeteredGeneratorClassifiesFailures(t *testing.T) {
	ledger := &memoryLedger{}
	m := NewMeteredGenerator(fakeGenerator{err: errors.New("googleapi: Error 429: Resource has been exhausted (e.g. check quota)")}, "gemini", "m", ledger)

	_, err := m.Generate(context.Background(), ai.Request{Purpose: ai.PurposeExtract})
	if err == nil {
		t.Fatal("expected the generator error to pass through")
	}
	if got := ledger.records[0].Outcome; got != string(ai.FailureQuota) {
		t.Fatalf("expected quota outcome, got %q", got)
	}
}

func TestMeteredGeneratorLedgerIgnoresCancellation(t *testing.T) {
	ledger := &memoryLedger{err: errors.New("db down")}
	m := NewMeteredGenerator(fakeGenerator{text: "ok"}, "openai", "gpt-4o-mini", ledger)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := m.Generate(ctx, ai.Request{}); err != nil {
		t.Fatalf("ledger failures must not surface, got %v", err)
	}
	if ledger.ctxErr != nil {
		t.Fatalf("ledger context should not inherit cancellation, got %v", ledger.ctxErr)
	}
	if ledger.records[0].Purpose != "unspecified" {
		t.Fatalf("expected unspecified purpose, got %q", ledger.records[0].Purpose)
	}
}

func TestMeteredGeneratorWithoutLedger(t *testing.T) {
	m := NewMeteredGenerator(fakeGenerator{text: "ok"}, "gemini", "m", nil)
	if _, err := m.Generate(context.Background(), ai.Request{Purpose: ai.PurposeShowMore}); err != nil {
		t.Fatalf("Generate: %v", err)
	}
}
