// README: Session service: creation, per-session serialized updates and the idle sweep.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"outing/internal/config"
	"outing/internal/metrics"
)

type Service struct {
	store Store
	locks Locker
	cfg   config.SessionConfig
	now   func() time.Time
}

// NewService serializes through the store's own Locker when it has one, so several
// services (or replicas) over one store never interleave a session's updates.
func NewService(store Store, cfg config.SessionConfig) *Service {
	var locks Locker = NewKeyedMutex()
	if lp, ok := store.(LockProvider); ok {
		locks = lp.Locker()
	}
	return &Service{store: store, locks: locks, cfg: cfg, now: time.Now}
}

// WithClock replaces the time source; tests use it to drive expiry.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) Now() time.Time {
	return s.now()
}

func (s *Service) Create(ctx context.Context) (*Session, error) {
	sess := NewSession(uuid.NewString(), s.now())
	if err := s.store.Create(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Get returns a snapshot of the session as of its last save.
func (s *Service) Get(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	return s.store.Get(ctx, id)
}

// Update runs fn against the session while holding that session's lock and saves the
// result when fn succeeds. Turns and the sweep share the same lock.
func (s *Service) Update(ctx context.Context, id string, fn func(*Session) error) error {
	if id == "" {
		return ErrNotFound
	}
	unlock, err := s.locks.Acquire(ctx, id)
	if err != nil {
		return fmt.Errorf("lock session %s: %w", id, err)
	}
	defer unlock()

	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := fn(sess); err != nil {
		return err
	}
	// fn may have outlived the caller's deadline; its result is still saved.
	return s.store.Save(context.WithoutCancel(ctx), sess)
}

func (s *Service) Delete(ctx context.Context, id string) error {
	unlock, err := s.locks.Acquire(ctx, id)
	if err != nil {
		return fmt.Errorf("lock session %s: %w", id, err)
	}
	defer unlock()

	if _, err := s.store.Get(ctx, id); err != nil {
		return err
	}
	return s.store.Delete(ctx, id)
}

func (s *Service) Count(ctx context.Context) (int, error) {
	return s.store.Count(ctx)
}

// Sweep removes sessions idle for longer than maxIdle and returns how many were removed.
// Each candidate is re-read under its lock so a turn in flight is never lost.
func (s *Service) Sweep(ctx context.Context, maxIdle time.Duration) (int, error) {
	cutoff := s.now().Add(-maxIdle)
	ids, err := s.store.IdleSince(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	removed := 0
	var lastErr error
	for _, id := range ids {
		if ctx.Err() != nil {
			return removed, ctx.Err()
		}
		ok, err := s.sweepOne(ctx, id, cutoff)
		if err != nil {
			log.Printf("sweep session %s: %v", id, err)
			lastErr = err
			continue
		}
		if ok {
			removed++
		}
	}
	metrics.SessionsSwept.Add(float64(removed))
	return removed, lastErr
}

func (s *Service) sweepOne(ctx context.Context, id string, cutoff time.Time) (bool, error) {
	unlock, err := s.locks.Acquire(ctx, id)
	if err != nil {
		return false, fmt.Errorf("lock session %s: %w", id, err)
	}
	defer unlock()

	sess, err := s.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		// Vanished concurrently; drop any index entry left behind.
		return false, s.store.Delete(ctx, id)
	}
	if err != nil {
		return false, err
	}
	if !sess.LastUpdated.Before(cutoff) {
		return false, nil
	}
	return true, s.store.Delete(ctx, id)
}

// RunSweeper sweeps on every cleanup interval until ctx is cancelled.
func (s *Service) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Sweep(ctx, s.cfg.Timeout)
			if err != nil {
				log.Printf("session sweep: %v", err)
			}
			if n > 0 {
				log.Printf("session sweep removed %d idle sessions", n)
			}
		}
	}
}
