package ratelimit

import (
	"context"
	"sync"
	"time"
)

var _ Store = (*MemoryStore)(nil)

type memoryWindow struct {
	start time.Time
	count int64
}

// MemoryStore keeps windows in a mutex-guarded map. Suitable only for
// single-instance deployments; each process would otherwise grant the full
// limit independently.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]*memoryWindow
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		windows: make(map[string]*memoryWindow),
		now:     time.Now,
	}
}

func (s *MemoryStore) Incr(_ context.Context, key string, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	w, ok := s.windows[key]
	if !ok || now.Sub(w.start) >= window {
		w = &memoryWindow{start: now}
		s.windows[key] = w
	}

	w.count++

	return w.count, nil
}

// Prune drops expired windows; call it occasionally from a housekeeping
// ticker to keep the map from growing with one-off client keys.
func (s *MemoryStore) Prune(window time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	for key, w := range s.windows {
		if now.Sub(w.start) >= window {
			delete(s.windows, key)
		}
	}
}
