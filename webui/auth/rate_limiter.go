package auth

import (
	"context"
	"sync"
	"time"
)

// attemptRecord counts failures inside one window.
type attemptRecord struct {
	count   int
	resetAt time.Time
}

// RateLimiter blocks a client address after too many failed logins.
// Failures are counted in a fixed window; reaching the limit extends the
// window to the block duration.
type RateLimiter struct {
	mu          sync.Mutex
	attempts    map[string]attemptRecord
	maxAttempts int
	window      time.Duration
	block       time.Duration
	now         func() time.Time
}

func NewRateLimiter(maxAttempts int, window, block time.Duration) *RateLimiter {
	return &RateLimiter{
		attempts:    make(map[string]attemptRecord),
		maxAttempts: maxAttempts,
		window:      window,
		block:       block,
		now:         time.Now,
	}
}

// Allow reports whether ip may try again, and if not, for how long it
// stays blocked.
func (r *RateLimiter) Allow(ip string) (bool, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.attempts[ip]
	now := r.now()
	if !ok || !now.Before(rec.resetAt) {
		return true, 0
	}
	if rec.count >= r.maxAttempts {
		return false, rec.resetAt.Sub(now)
	}
	return true, 0
}

// RecordFailure counts one failed attempt by ip.
func (r *RateLimiter) RecordFailure(ip string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	rec, ok := r.attempts[ip]
	if !ok || !now.Before(rec.resetAt) {
		rec = attemptRecord{resetAt: now.Add(r.window)}
	}
	rec.count++
	if rec.count == r.maxAttempts {
		rec.resetAt = now.Add(r.block)
	}
	r.attempts[ip] = rec
}

// Reset forgets ip's failures after a successful login.
func (r *RateLimiter) Reset(ip string) {
	r.mu.Lock()
	delete(r.attempts, ip)
	r.mu.Unlock()
}

// Failures is the current failure count of ip.
func (r *RateLimiter) Failures(ip string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.attempts[ip]
	if !ok || !r.now().Before(rec.resetAt) {
		return 0
	}
	return rec.count
}

// Cleanup drops expired records and returns how many were removed.
func (r *RateLimiter) Cleanup() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	removed := 0
	for ip, rec := range r.attempts {
		if !now.Before(rec.resetAt) {
			delete(r.attempts, ip)
			removed++
		}
	}
	return removed
}

// StartCleanup runs Cleanup every interval until ctx is cancelled.
func (r *RateLimiter) StartCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.Cleanup()
			}
		}
	}()
}

func (r *RateLimiter) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.attempts)
}
