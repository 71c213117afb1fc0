package idempotency

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// memoryEntry mirrors storedEntry for the in-process store.
type memoryEntry struct {
	status    string
	response  json.RawMessage
	createdAt time.Time
	expiresAt time.Time
}

// MemoryStore keeps claims and records in a process-local map.
//
// UNSAFE FOR MULTI-INSTANCE DEPLOYMENT: two instances behind a load balancer
// cannot see each other's claims, so duplicate side effects are possible.
// Use only in tests and single-instance development; production traffic
// behind this guard requires RedisStore.
type MemoryStore struct {
	mu         sync.Mutex
	entries    map[string]*memoryEntry
	pendingTTL time.Duration
	now        func() time.Time // overridable in tests

	shutdown chan struct{}
	done     chan struct{}
}

// NewMemoryStore creates the in-process store and starts a janitor sweeping
// expired records.
func NewMemoryStore(ctx context.Context) *MemoryStore {
	s := &MemoryStore{
		entries:    make(map[string]*memoryEntry),
		pendingTTL: 30 * time.Second,
		now:        time.Now,
		shutdown:   make(chan struct{}),
		done:       make(chan struct{}),
	}
	go s.janitor(ctx)
	return s
}

// Claim atomically claims key under the store lock (first writer wins).
func (s *MemoryStore) Claim(_ context.Context, key string, _ time.Duration) (Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entry, exists := s.entries[key]
	if exists && now.After(entry.expiresAt) {
		// Lazy expiry on read
		delete(s.entries, key)
		exists = false
	}

	if !exists {
		s.entries[key] = &memoryEntry{
			status:    statusPending,
			createdAt: now,
			expiresAt: now.Add(s.pendingTTL),
		}
		return Claim{Outcome: ClaimGranted}, nil
	}

	if entry.status == statusCompleted {
		return Claim{Outcome: ClaimCompleted, Record: s.toRecord(key, entry)}, nil
	}
	return Claim{Outcome: ClaimPending}, nil
}

// Get returns the completed record for key, if any, deleting expired
// records lazily.
func (s *MemoryStore) Get(_ context.Context, key string) (*Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.entries[key]
	if !exists {
		return nil, false, nil
	}
	if s.now().After(entry.expiresAt) {
		delete(s.entries, key)
		return nil, false, nil
	}
	if entry.status != statusCompleted {
		return nil, false, nil
	}
	return s.toRecord(key, entry), true, nil
}

// Save overwrites the claim with the completed record.
func (s *MemoryStore) Save(_ context.Context, key string, response json.RawMessage, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.entries[key] = &memoryEntry{
		status:    statusCompleted,
		response:  response,
		createdAt: now,
		expiresAt: now.Add(ttl),
	}
	return nil
}

// Release abandons a claim after a failed execution.
func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

// Close stops the janitor.
func (s *MemoryStore) Close() error {
	select {
	case <-s.shutdown:
	default:
		close(s.shutdown)
	}

	select {
	case <-s.done:
		return nil
	case <-time.After(5 * time.Second):
		return context.DeadlineExceeded
	}
}

// Size returns the number of live entries, counting pending claims.
func (s *MemoryStore) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryStore) toRecord(key string, entry *memoryEntry) *Record {
	return &Record{
		Key:       key,
		Response:  entry.response,
		CreatedAt: entry.createdAt,
		ExpiresAt: entry.expiresAt,
	}
}

func (s *MemoryStore) janitor(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdown:
			return
		case <-ticker.C:
			s.removeExpired()
		}
	}
}

func (s *MemoryStore) removeExpired() {
	now := s.now()

	s.mu.Lock()
	for key, entry := range s.entries {
		if now.After(entry.expiresAt) {
			delete(s.entries, key)
		}
	}
	s.mu.Unlock()
}
