package txn

import (
	"context"
	"errors"
	"sync"
	"time"
)

// MemoryStore keeps records in a mutex-guarded map. Expired entries are
// tombstoned at read time, so correctness does not depend on the sweeper.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
}

type memoryEntry struct {
	rec       Record
	expiresAt time.Time
}

// NewMemoryStore constructs an in-memory store with the given TTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
	}
}

func (s *MemoryStore) Get(_ context.Context, transactionID string) (Record, bool, error) {
	s.mu.RLock()
	entry, ok := s.entries[transactionID]
	s.mu.RUnlock()
	if !ok {
		return Record{}, false, nil
	}
	if time.Now().After(entry.expiresAt) {
		s.mu.Lock()
		// Re-check under the write lock; a Put may have raced the expiry.
		if current, ok := s.entries[transactionID]; ok && time.Now().After(current.expiresAt) {
			delete(s.entries, transactionID)
		}
		s.mu.Unlock()
		return Record{}, false, nil
	}
	return entry.rec, true, nil
}

func (s *MemoryStore) Put(_ context.Context, rec Record) error {
	if rec.TransactionID == "" {
		return errors.New("txn: transaction id is required")
	}
	s.mu.Lock()
	s.entries[rec.TransactionID] = memoryEntry{rec: rec, expiresAt: time.Now().Add(s.ttl)}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, transactionID string) error {
	s.mu.Lock()
	delete(s.entries, transactionID)
	s.mu.Unlock()
	return nil
}

// StartSweeper evicts expired entries periodically until ctx is cancelled.
// Optional; reads already tombstone expired entries.
func (s *MemoryStore) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweep()
			}
		}
	}()
}

func (s *MemoryStore) sweep() {
	now := time.Now()
	s.mu.Lock()
	for id, entry := range s.entries {
		if now.After(entry.expiresAt) {
			delete(s.entries, id)
		}
	}
	s.mu.Unlock()
}

// Len reports the number of live (non-expired) entries.
func (s *MemoryStore) Len() int {
	now := time.Now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, entry := range s.entries {
		if !now.After(entry.expiresAt) {
			count++
		}
	}
	return count
}
