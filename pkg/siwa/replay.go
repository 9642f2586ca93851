package siwa

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ReplayStore records consumed nonces so that each nonce authenticates at most once.
type ReplayStore interface {
	// Consume marks id as used until expiresAt. It reports true only for the
	// first call with a given id while that id is retained.
	Consume(ctx context.Context, id string, expiresAt time.Time) (bool, error)
}

// ErrReplayStoreFull is returned when the memory store cannot record another
// live nonce. Live entries are never evicted, since that would reopen replay.
var ErrReplayStoreFull = errors.New("replay store is full")

// ReplayConfig configures the in-memory replay store.
type ReplayConfig struct {
	// MaxEntries limits the number of retained nonces (0 = unlimited).
	MaxEntries int

	// CleanupInterval is how often to purge expired entries (0 = no background cleanup).
	CleanupInterval time.Duration

	// Now overrides the current time (for testing).
	Now func() time.Time
}

// DefaultReplayConfig returns sensible defaults.
func DefaultReplayConfig() *ReplayConfig {
	return &ReplayConfig{
		MaxEntries:      100000,
		CleanupInterval: time.Minute,
	}
}

// MemoryReplayStore is a process-local ReplayStore. It is only correct for a
// single server instance; use RedisReplayStore when scaled out.
type MemoryReplayStore struct {
	mu      sync.RWMutex
	entries map[string]time.Time
	config  *ReplayConfig
	now     func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
}

// NewMemoryReplayStore creates a new in-memory replay store.
func NewMemoryReplayStore(config *ReplayConfig) *MemoryReplayStore {
	if config == nil {
		config = DefaultReplayConfig()
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}

	s := &MemoryReplayStore{
		entries: make(map[string]time.Time),
		config:  config,
		now:     now,
		stop:    make(chan struct{}),
	}

	if config.CleanupInterval > 0 {
		go s.cleanupLoop()
	}

	return s
}

// Consume implements ReplayStore.
func (s *MemoryReplayStore) Consume(ctx context.Context, id string, expiresAt time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if exp, ok := s.entries[id]; ok && !now.After(exp) {
		return false, nil
	}

	if s.config.MaxEntries > 0 && len(s.entries) >= s.config.MaxEntries {
		s.purgeLocked(now)
		if len(s.entries) >= s.config.MaxEntries {
			return false, ErrReplayStoreFull
		}
	}

	s.entries[id] = expiresAt
	return true, nil
}

// Size returns the number of retained entries.
func (s *MemoryReplayStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Cleanup removes expired entries.
func (s *MemoryReplayStore) Cleanup() {
	s.mu.Lock()
	s.purgeLocked(s.now())
	s.mu.Unlock()
}

// Close stops background cleanup.
func (s *MemoryReplayStore) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	return nil
}

func (s *MemoryReplayStore) purgeLocked(now time.Time) {
	for id, exp := range s.entries {
		if now.After(exp) {
			delete(s.entries, id)
		}
	}
}

// cleanupLoop periodically removes expired entries
func (s *MemoryReplayStore) cleanupLoop() {
	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Cleanup()
		case <-s.stop:
			return
		}
	}
}
