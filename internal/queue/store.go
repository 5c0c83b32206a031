package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ahrdadan/sessionfixture/internal/logging"
)

// Store errors.
var (
	ErrRunNotFound = errors.New("run not found")
	ErrRunExpired  = errors.New("run expired")
)

// Store is an in-memory run store with TTL support. It hands out copies so
// callers never share a *Run with the worker.
type Store struct {
	runs           map[string]*Run
	idempotencyMap map[string]string // idempotency_key -> run_id
	mu             sync.RWMutex
	logger         *zap.Logger
	stopCleanup    chan struct{}
	stopOnce       sync.Once
}

// NewStore creates a run store that drops expired runs every interval.
func NewStore(logger *zap.Logger, interval time.Duration) *Store {
	s := &Store{
		runs:           make(map[string]*Run),
		idempotencyMap: make(map[string]string),
		logger:         logging.OrNop(logger),
		stopCleanup:    make(chan struct{}),
	}
	if interval > 0 {
		go s.cleanupLoop(interval)
	}
	return s
}

func (s *Store) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.cleanupExpired()
		case <-s.stopCleanup:
			return
		}
	}
}

// cleanupExpired removes expired runs
func (s *Store) cleanupExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for id, run := range s.runs {
		if !run.IsExpired() {
			continue
		}
		if run.IdempotencyKey != "" {
			delete(s.idempotencyMap, run.IdempotencyKey)
		}
		delete(s.runs, id)
		deleted++
	}
	if deleted > 0 {
		s.logger.Info("cleaned up expired runs", zap.Int("count", deleted))
	}
	return deleted
}

// Stop stops the cleanup goroutine
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stopCleanup) })
}

// Save stores a new run.
func (s *Store) Save(run *Run) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *run
	s.runs[run.ID] = &cp
	if run.IdempotencyKey != "" {
		s.idempotencyMap[run.IdempotencyKey] = run.ID
	}
}

// SaveIfAbsent stores run unless a live run already holds its idempotency
// key, in which case that run is returned with existed set.
func (s *Store) SaveIfAbsent(run *Run) (stored *Run, existed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run.IdempotencyKey != "" {
		if id, ok := s.idempotencyMap[run.IdempotencyKey]; ok {
			if existing, ok := s.runs[id]; ok && !existing.IsExpired() {
				cp := *existing
				return &cp, true
			}
		}
		s.idempotencyMap[run.IdempotencyKey] = run.ID
	}
	cp := *run
	s.runs[run.ID] = &cp
	return run, false
}

// GetByIdempotencyKey retrieves a run by idempotency key
func (s *Store) GetByIdempotencyKey(key string) (*Run, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.idempotencyMap[key]
	if !ok {
		return nil, false
	}
	run, ok := s.runs[id]
	if !ok || run.IsExpired() {
		return nil, false
	}
	cp := *run
	return &cp, true
}

// Get retrieves a run by ID
func (s *Store) Get(id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if run.IsExpired() {
		return nil, fmt.Errorf("%w: %s", ErrRunExpired, id)
	}
	cp := *run
	return &cp, nil
}

// Update applies fn to the stored run and returns the updated copy. fn is
// not called for unknown runs.
func (s *Store) Update(id string, fn func(*Run) error) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	cp := *run
	if err := fn(&cp); err != nil {
		return nil, err
	}
	s.runs[id] = &cp
	out := cp
	return &out, nil
}

// Delete removes a run from the store
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run, ok := s.runs[id]; ok && run.IdempotencyKey != "" {
		delete(s.idempotencyMap, run.IdempotencyKey)
	}
	delete(s.runs, id)
}

// List returns all live runs
func (s *Store) List() []*Run {
	s.mu.RLock()
	defer s.mu.RUnlock()
	runs := make([]*Run, 0, len(s.runs))
	for _, run := range s.runs {
		if run.IsExpired() {
			continue
		}
		cp := *run
		runs = append(runs, &cp)
	}
	return runs
}

// ToJSON serializes a run to JSON
func (r *Run) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}

// FromJSON deserializes a run from JSON
func FromJSON(data []byte) (*Run, error) {
	var run Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, err
	}
	return &run, nil
}
