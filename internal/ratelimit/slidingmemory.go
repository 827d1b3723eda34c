package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process sliding window limiter for single-instance
// deployments running without Redis.
type Memory struct {
	mu     sync.Mutex
	events map[string][]time.Time
}

// NewMemory constructs an empty in-process limiter.
func NewMemory() *Memory {
	return &Memory{events: make(map[string][]time.Time)}
}

// Allow registers an event for the given key and returns whether it is within the limit.
func (l *Memory) Allow(_ context.Context, key string, window time.Duration, max int) (bool, int, time.Time, error) {
	now := time.Now()
	until := now.Add(window)
	if max <= 0 || window <= 0 {
		return true, max, until, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-window)
	kept := l.events[key][:0]
	for _, at := range l.events[key] {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	kept = append(kept, now)
	l.events[key] = kept

	current := len(kept)
	remaining := max - current
	if remaining < 0 {
		remaining = 0
	}
	return current <= max, remaining, until, nil
}
