package security

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter is a per-client token bucket limiter.
type RateLimiter struct {
	clients map[string]*client
	mu      sync.Mutex
	limit   int
	window  time.Duration
	every   rate.Limit
	burst   int
	stop    chan struct{}
	once    sync.Once
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimitConfig holds rate limiter configuration
type RateLimitConfig struct {
	// RequestsPerWindow is the sustained number of requests per window
	RequestsPerWindow int
	// WindowDuration is the duration of the rate limit window
	WindowDuration time.Duration
	// BurstMax is the maximum burst size allowed
	BurstMax int
}

// DefaultRateLimitConfig returns default rate limit configuration
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerWindow: 60,
		WindowDuration:    time.Minute,
		BurstMax:          10,
	}
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	if config.RequestsPerWindow <= 0 {
		config.RequestsPerWindow = DefaultRateLimitConfig().RequestsPerWindow
	}
	if config.WindowDuration <= 0 {
		config.WindowDuration = time.Minute
	}
	if config.BurstMax <= 0 {
		config.BurstMax = 1
	}

	rl := &RateLimiter{
		clients: make(map[string]*client),
		limit:   config.RequestsPerWindow,
		window:  config.WindowDuration,
		every:   rate.Limit(float64(config.RequestsPerWindow) / config.WindowDuration.Seconds()),
		burst:   config.BurstMax,
		stop:    make(chan struct{}),
	}
	go rl.cleanup()
	return rl
}

func (rl *RateLimiter) get(key string, now time.Time) *client {
	c, ok := rl.clients[key]
	if !ok {
		c = &client{limiter: rate.NewLimiter(rl.every, rl.burst)}
		rl.clients[key] = c
	}
	c.lastSeen = now
	return c
}

// Allow checks if a request is allowed for the given key (e.g. API key, IP)
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := time.Now()
	return rl.get(key, now).limiter.AllowN(now, 1)
}

// Reset resets the rate limit for a specific key
func (rl *RateLimiter) Reset(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.clients, key)
}

// Stop ends the cleanup goroutine.
func (rl *RateLimiter) Stop() {
	rl.once.Do(func() { close(rl.stop) })
}

// cleanup periodically removes idle clients
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case now := <-ticker.C:
			rl.mu.Lock()
			for key, c := range rl.clients {
				if now.Sub(c.lastSeen) > 2*rl.window {
					delete(rl.clients, key)
				}
			}
			rl.mu.Unlock()
		}
	}
}

// RateLimitInfo contains rate limit information for response headers
type RateLimitInfo struct {
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// GetInfo returns rate limit info for a key. ResetAt is when the bucket is
// full again.
func (rl *RateLimiter) GetInfo(key string) RateLimitInfo {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	tokens := float64(rl.burst)
	if c, ok := rl.clients[key]; ok {
		tokens = math.Max(0, c.limiter.TokensAt(now))
	}
	missing := float64(rl.burst) - tokens
	refill := time.Duration(missing / float64(rl.every) * float64(time.Second))

	return RateLimitInfo{
		Limit:     rl.limit,
		Remaining: int(math.Floor(tokens)),
		ResetAt:   now.Add(refill),
	}
}
