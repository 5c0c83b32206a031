package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/google/uuid"
)

// IdempotencyStore caches responses by idempotency key.
type IdempotencyStore struct {
	keys map[string]*IdempotencyEntry
	mu   sync.RWMutex
	ttl  time.Duration
	stop chan struct{}
	once sync.Once
}

// IdempotencyEntry represents a stored idempotency key
type IdempotencyEntry struct {
	Key       string    `json:"key"`
	RunID     string    `json:"run_id"`
	Response  any       `json:"response"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewIdempotencyStore creates a new idempotency store
func NewIdempotencyStore(ttl time.Duration) *IdempotencyStore {
	store := &IdempotencyStore{
		keys: make(map[string]*IdempotencyEntry),
		ttl:  ttl,
		stop: make(chan struct{}),
	}
	go store.cleanup()
	return store
}

// Check returns the cached entry for key, if any
func (s *IdempotencyStore) Check(key string) (*IdempotencyEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.keys[key]
	if !ok || time.Now().After(entry.ExpiresAt) {
		return nil, false
	}
	return entry, true
}

// Store stores an idempotency key with its response
func (s *IdempotencyStore) Store(key, runID string, response any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.keys[key] = &IdempotencyEntry{
		Key:       key,
		RunID:     runID,
		Response:  response,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
}

// Delete removes an idempotency key
func (s *IdempotencyStore) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, key)
}

// Stop ends the cleanup goroutine.
func (s *IdempotencyStore) Stop() {
	s.once.Do(func() { close(s.stop) })
}

func (s *IdempotencyStore) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			s.mu.Lock()
			for key, entry := range s.keys {
				if now.After(entry.ExpiresAt) {
					delete(s.keys, key)
				}
			}
			s.mu.Unlock()
		}
	}
}

// SignPayload returns the hex HMAC-SHA256 of payload.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a signature made by SignPayload.
func VerifySignature(payload []byte, signature, secret string) bool {
	return hmac.Equal([]byte(SignPayload(payload, secret)), []byte(signature))
}

// GenerateRequestID generates a unique request ID
func GenerateRequestID() string {
	return uuid.NewString()
}
