// Package ratelimit implements sliding-window limits keyed by an arbitrary
// string, in memory or in redis.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

const (
	maxEntries      = 10000
	cleanupInterval = time.Minute
)

// Limiter admits at most limit events per window for each key.
type Limiter interface {
	Check(ctx context.Context, key string, limit int) (allowed bool, remaining int, resetAt int64)
}

type entry struct {
	timestamps []time.Time
	lastAccess time.Time
}

type MemoryLimiter struct {
	mu          sync.Mutex
	store       map[string]*entry
	window      time.Duration
	lastCleanup time.Time
	now         func() time.Time
}

var _ Limiter = (*MemoryLimiter)(nil)

func NewMemoryLimiter(window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		store:       make(map[string]*entry),
		window:      window,
		lastCleanup: time.Now(),
		now:         time.Now,
	}
}

func (rl *MemoryLimiter) cleanup(now time.Time) {
	if now.Sub(rl.lastCleanup) < cleanupInterval {
		return
	}
	rl.lastCleanup = now

	for key, e := range rl.store {
		if now.Sub(e.lastAccess) > rl.window {
			delete(rl.store, key)
		}
	}

	if len(rl.store) > maxEntries {
		drop := len(rl.store) / 5
		for key := range rl.store {
			if drop == 0 {
				break
			}
			delete(rl.store, key)
			drop--
		}
	}
}

func (rl *MemoryLimiter) Check(ctx context.Context, key string, limit int) (allowed bool, remaining int, resetAt int64) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.cleanup(now)
	windowStart := now.Add(-rl.window)

	e, exists := rl.store[key]
	if !exists {
		e = &entry{}
		rl.store[key] = e
	}
	e.lastAccess = now

	filtered := e.timestamps[:0]
	for _, ts := range e.timestamps {
		if ts.After(windowStart) {
			filtered = append(filtered, ts)
		}
	}
	e.timestamps = filtered

	remaining = limit - len(e.timestamps)
	if remaining < 0 {
		remaining = 0
	}

	if len(e.timestamps) > 0 {
		resetAt = e.timestamps[0].Add(rl.window).Unix()
	} else {
		resetAt = now.Add(rl.window).Unix()
	}

	if len(e.timestamps) >= limit {
		return false, 0, resetAt
	}

	e.timestamps = append(e.timestamps, now)
	return true, remaining - 1, resetAt
}
