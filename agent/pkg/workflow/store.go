package workflow

import (
	"context"
	"sync"

	"github.com/jonboulle/clockwork"
)

// MemoryStore is the default in-process conversation store.
// History lives for the process lifetime; threads are never destroyed.
type MemoryStore struct {
	mu      sync.RWMutex
	threads map[string][]Message
	clock   clockwork.Clock
}

// NewMemoryStore creates an in-memory store.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithClock(clockwork.NewRealClock())
}

// NewMemoryStoreWithClock creates an in-memory store with an injected
// clock for deterministic timestamps in tests.
func NewMemoryStoreWithClock(clock clockwork.Clock) *MemoryStore {
	return &MemoryStore{
		threads: make(map[string][]Message),
		clock:   clock,
	}
}

// History returns a copy of the thread's messages in append order.
func (s *MemoryStore) History(_ context.Context, threadID string) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.threads[threadID]
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

// Append appends messages to a thread, stamping CreatedAt where unset.
func (s *MemoryStore) Append(_ context.Context, threadID string, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	for _, m := range msgs {
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}
		s.threads[threadID] = append(s.threads[threadID], m)
	}
	return nil
}
