// README: Smoke cases for the chat API; covers HTTP surface, session serialization, stores and load.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const (
	StatusPass = "PASS"
	StatusFail = "FAIL"
	StatusSkip = "SKIP"
)

type Runner struct {
	cfg   Config
	httpc *http.Client
	db    *pgxpool.Pool
	redis *redis.Client

	// sessionID is created by the first chat case and reused by the ones after it.
	sessionID string
}

type Result struct {
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name string
	Run  func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg Config) *Runner {
	return &Runner{
		cfg:   cfg,
		httpc: &http.Client{Timeout: 90 * time.Second},
	}
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := pgxpool.New(ctx, r.cfg.DSN); err == nil {
			r.db = db
		}
	}
	if r.cfg.RedisAddr != "" {
		r.redis = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))
	for _, tc := range tests {
		res := tc.Run(ctx, r)
		results = append(results, res)
		fmt.Printf("%-5s %s", res.Status, tc.Name)
		if res.Latency > 0 {
			fmt.Printf(" (%s)", res.Latency.Round(time.Millisecond))
		}
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}

	if r.db != nil {
		r.db.Close()
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}
	return results
}

func (r *Runner) cases() []TestCase {
	return []TestCase{
		{Name: "Env: Postgres connect", Run: pingPostgres},
		{Name: "Env: Redis connect", Run: pingRedis},
		{Name: "Migration: apply (optional)", Run: applyMigration},
		{Name: "Migration: tables exist", Run: tablesExist},

		expectStatus("API: health", http.MethodGet, "/health", nil, http.StatusOK),
		expectStatus("API: status", http.MethodGet, "/status", nil, http.StatusOK),
		expectStatus("API: metrics", http.MethodGet, "/metrics", nil, http.StatusOK),

		{Name: "Chat: create session", Run: createSession},
		expectStatus("Chat: unknown session -> 404", http.MethodPost, "/api/chat", map[string]any{
			"session_id": "00000000-0000-4000-8000-000000000000",
			"message":    "こんにちは",
		}, http.StatusNotFound),
		expectStatus("Chat: missing message -> 400", http.MethodPost, "/api/chat", map[string]any{
			"session_id": "00000000-0000-4000-8000-000000000000",
		}, http.StatusBadRequest),
		expectStatus("Places: missing place_id -> 400", http.MethodGet, "/api/places/nearby-restaurants", nil, http.StatusBadRequest),

		{Name: "Chat: first turn replies", Run: liveOnly(firstTurn)},
		{Name: "Chat: history holds one pair per turn", Run: liveOnly(historyPairs)},
		{Name: "Chat: concurrent turns are serialized", Run: liveOnly(concurrentTurns)},
		{Name: "Redis: session persisted", Run: sessionInRedis},
		{Name: "Chat: delete session", Run: deleteSession},
		{Name: "Ledger: generation rows written", Run: liveOnly(ledgerRows)},

		{Name: "Perf: session create throughput", Run: func(ctx context.Context, r *Runner) Result {
			return perfLoad(ctx, r, http.MethodPost, "/api/chat/session")
		}},
		{Name: "Perf: status throughput", Run: func(ctx context.Context, r *Runner) Result {
			return perfLoad(ctx, r, http.MethodGet, "/status")
		}},
	}
}

func pingPostgres(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: StatusSkip, Note: "db not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := r.db.Ping(ctx); err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	return Result{Status: StatusPass}
}

func pingRedis(ctx context.Context, r *Runner) Result {
	if r.redis == nil {
		return Result{Status: StatusSkip, Note: "redis not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := r.redis.Ping(ctx).Err(); err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	return Result{Status: StatusPass}
}

func applyMigration(ctx context.Context, r *Runner) Result {
	if !r.cfg.ApplyMigration {
		return Result{Status: StatusSkip, Note: "apply-migration=false"}
	}
	if r.db == nil {
		return Result{Status: StatusFail, Note: "db not configured"}
	}
	sql, err := os.ReadFile(r.cfg.MigrationPath)
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	for _, s := range splitSQL(string(sql)) {
		if _, err := r.db.Exec(ctx, s); err != nil {
			return Result{Status: StatusFail, Note: err.Error()}
		}
	}
	return Result{Status: StatusPass}
}

func tablesExist(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: StatusSkip, Note: "db not configured"}
	}
	tables, err := extractTables(r.cfg.MigrationPath)
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	for _, t := range tables {
		var exists bool
		err := r.db.QueryRow(ctx,
			"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)",
			t,
		).Scan(&exists)
		if err != nil {
			return Result{Status: StatusFail, Note: err.Error()}
		}
		if !exists {
			return Result{Status: StatusFail, Note: "missing table: " + t}
		}
	}
	return Result{Status: StatusPass}
}

func createSession(ctx context.Context, r *Runner) Result {
	var body struct {
		SessionID string `json:"session_id"`
		Message   string `json:"message"`
	}
	start := time.Now()
	code, err := r.call(ctx, http.MethodPost, "/api/chat/session", nil, &body)
	latency := time.Since(start)
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	if code != http.StatusCreated || body.SessionID == "" || body.Message == "" {
		return Result{Status: StatusFail, Latency: latency, Note: fmt.Sprintf("status=%d", code)}
	}
	r.sessionID = body.SessionID
	return Result{Status: StatusPass, Latency: latency, Note: "session=" + body.SessionID}
}

func firstTurn(ctx context.Context, r *Runner) Result {
	if r.sessionID == "" {
		return Result{Status: StatusSkip, Note: "no session"}
	}
	var body struct {
		Response string `json:"response"`
		State    string `json:"state"`
	}
	start := time.Now()
	code, err := r.call(ctx, http.MethodPost, "/api/chat", map[string]any{
		"session_id": r.sessionID,
		"message":    "横浜駅から電車で1時間くらい、5歳の子供と動物園に行きたい",
	}, &body)
	latency := time.Since(start)
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	if code != http.StatusOK || strings.TrimSpace(body.Response) == "" {
		return Result{Status: StatusFail, Latency: latency, Note: fmt.Sprintf("status=%d", code)}
	}
	return Result{Status: StatusPass, Latency: latency, Note: "state=" + body.State}
}

func (r *Runner) historyLen(ctx context.Context) (int, error) {
	var body struct {
		Messages []json.RawMessage `json:"messages"`
	}
	code, err := r.call(ctx, http.MethodGet, "/api/chat/session/"+r.sessionID, nil, &body)
	if err != nil {
		return 0, err
	}
	if code != http.StatusOK {
		return 0, fmt.Errorf("status=%d", code)
	}
	return len(body.Messages), nil
}

func historyPairs(ctx context.Context, r *Runner) Result {
	if r.sessionID == "" {
		return Result{Status: StatusSkip, Note: "no session"}
	}
	n, err := r.historyLen(ctx)
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	if n != 2 {
		return Result{Status: StatusFail, Note: fmt.Sprintf("messages=%d want 2", n)}
	}
	return Result{Status: StatusPass}
}

// concurrentTurns fires several turns at one session; every turn must land as exactly one pair.
func concurrentTurns(ctx context.Context, r *Runner) Result {
	if r.sessionID == "" {
		return Result{Status: StatusSkip, Note: "no session"}
	}
	before, err := r.historyLen(ctx)
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}

	turns := r.cfg.Concurrency
	if turns > 5 {
		turns = 5
	}
	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < turns; i++ {
		g.Go(func() error {
			code, err := r.call(gctx, http.MethodPost, "/api/chat", map[string]any{
				"session_id": r.sessionID,
				"message":    "他のスポットも見る",
			}, nil)
			if err != nil {
				return err
			}
			if code != http.StatusOK {
				return fmt.Errorf("status=%d", code)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	latency := time.Since(start)

	after, err := r.historyLen(ctx)
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	if after-before != 2*turns {
		return Result{Status: StatusFail, Latency: latency, Note: fmt.Sprintf("messages grew by %d want %d", after-before, 2*turns)}
	}
	return Result{Status: StatusPass, Latency: latency, Note: fmt.Sprintf("turns=%d", turns)}
}

func sessionInRedis(ctx context.Context, r *Runner) Result {
	if r.redis == nil {
		return Result{Status: StatusSkip, Note: "redis not configured"}
	}
	if r.sessionID == "" {
		return Result{Status: StatusSkip, Note: "no session"}
	}
	n, err := r.redis.Exists(ctx, "outing:session:"+r.sessionID).Result()
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	if n != 1 {
		return Result{Status: StatusFail, Note: "session key missing"}
	}
	return Result{Status: StatusPass}
}

func deleteSession(ctx context.Context, r *Runner) Result {
	if r.sessionID == "" {
		return Result{Status: StatusSkip, Note: "no session"}
	}
	code, err := r.call(ctx, http.MethodDelete, "/api/chat/session/"+r.sessionID, nil, nil)
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	if code != http.StatusOK {
		return Result{Status: StatusFail, Note: fmt.Sprintf("delete status=%d", code)}
	}
	code, err = r.call(ctx, http.MethodGet, "/api/chat/session/"+r.sessionID, nil, nil)
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	if code != http.StatusNotFound {
		return Result{Status: StatusFail, Note: fmt.Sprintf("history after delete status=%d", code)}
	}
	return Result{Status: StatusPass}
}

func ledgerRows(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: StatusSkip, Note: "db not configured"}
	}
	var n int64
	err := r.db.QueryRow(ctx,
		"SELECT COUNT(*) FROM generation_usage WHERE created_at > NOW() - INTERVAL '1 hour'",
	).Scan(&n)
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	if n == 0 {
		return Result{Status: StatusFail, Note: "no rows in the last hour"}
	}
	return Result{Status: StatusPass, Note: fmt.Sprintf("rows=%d", n)}
}

func liveOnly(run func(context.Context, *Runner) Result) func(context.Context, *Runner) Result {
	return func(ctx context.Context, r *Runner) Result {
		if !r.cfg.Live {
			return Result{Status: StatusSkip, Note: "live=false"}
		}
		return run(ctx, r)
	}
}

func expectStatus(name, method, path string, body any, want int) TestCase {
	return TestCase{
		Name: name,
		Run: func(ctx context.Context, r *Runner) Result {
			start := time.Now()
			code, err := r.call(ctx, method, path, body, nil)
			latency := time.Since(start)
			if err != nil {
				return Result{Status: StatusFail, Note: err.Error()}
			}
			if code != want {
				return Result{Status: StatusFail, Latency: latency, Note: fmt.Sprintf("status=%d want %d", code, want)}
			}
			return Result{Status: StatusPass, Latency: latency}
		},
	}
}

// call sends body as JSON and decodes the response into out when out is non-nil.
func (r *Runner) call(ctx context.Context, method, path string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.httpc.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode: %w", err)
		}
		return resp.StatusCode, nil
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

func perfLoad(ctx context.Context, r *Runner, method, path string) Result {
	end := time.Now().Add(r.cfg.Duration)
	var count, errCount atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(end) && ctx.Err() == nil {
				code, err := r.call(ctx, method, path, nil, nil)
				if err != nil || code >= 500 {
					errCount.Add(1)
					continue
				}
				count.Add(1)
			}
		}()
	}
	wg.Wait()

	if count.Load() == 0 {
		return Result{Status: StatusFail, Note: "no requests completed"}
	}
	rps := float64(count.Load()) / r.cfg.Duration.Seconds()
	return Result{Status: StatusPass, Note: fmt.Sprintf("rps=%.1f errors=%d", rps, errCount.Load())}
}

func extractTables(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	re := regexp.MustCompile(`(?i)create\s+table\s+if\s+not\s+exists\s+([a-zA-Z0-9_]+)`)
	matches := re.FindAllStringSubmatch(string(b), -1)
	tables := make([]string, 0, len(matches))
	for _, m := range matches {
		tables = append(tables, m[1])
	}
	return tables, nil
}

func splitSQL(sql string) []string {
	lines := strings.Split(sql, "\n")
	filtered := make([]string, 0, len(lines))
	for _, line := range lines {
		l := strings.TrimSpace(line)
		if strings.HasPrefix(l, "--") || l == "" {
			continue
		}
		filtered = append(filtered, line)
	}
	parts := strings.Split(strings.Join(filtered, "\n"), ";")
	stmts := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts
}
