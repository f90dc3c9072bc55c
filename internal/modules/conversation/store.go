// README: Session persistence contract plus the default in-process implementation.
package conversation

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Store persists sessions. Implementations synchronize internally; callers serialize
// per-session read-modify-write through Service.
type Store interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error
	// IdleSince lists ids whose LastUpdated is strictly before cutoff.
	IdleSince(ctx context.Context, cutoff time.Time) ([]string, error)
	Count(ctx context.Context) (int, error)
}

type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	locks    *KeyedMutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Session), locks: NewKeyedMutex()}
}

// Locker returns the mutex table shared by every Service over this store.
func (m *MemoryStore) Locker() Locker {
	return m.locks
}

func (m *MemoryStore) Create(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; ok {
		return fmt.Errorf("session %s already exists", s.ID)
	}
	m.sessions[s.ID] = s.Clone()
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

func (m *MemoryStore) Save(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s.Clone()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *MemoryStore) IdleSince(_ context.Context, cutoff time.Time) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []string
	for id, s := range m.sessions {
		if s.LastUpdated.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (m *MemoryStore) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions), nil
}
