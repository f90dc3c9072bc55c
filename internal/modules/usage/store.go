package usage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store handles generation_usage persistence.
type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) Record(ctx context.Context, r Record) error {
	createdAt := r.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO generation_usage (purpose, provider, model, outcome, latency_ms, prompt_chars, output_chars, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, r.Purpose, r.Provider, r.Model, r.Outcome, r.Latency.Milliseconds(), r.PromptChars, r.OutputChars, createdAt)
	return err
}

// Summary groups calls made at or after since.
func (s *Store) Summary(ctx context.Context, since time.Time) ([]Summary, error) {
	rows, err := s.db.Query(ctx, `
		SELECT purpose, outcome, COUNT(*), COALESCE(AVG(latency_ms), 0)::BIGINT
		FROM generation_usage
		WHERE created_at >= $1
		GROUP BY purpose, outcome
		ORDER BY purpose, outcome
	`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sum Summary
		var avgMS int64
		if err := rows.Scan(&sum.Purpose, &sum.Outcome, &sum.Calls, &avgMS); err != nil {
			return nil, err
		}
		sum.AvgLatency = time.Duration(avgMS) * time.Millisecond
		out = append(out, sum)
	}
	return out, rows.Err()
}
