package presence

import (
	"context"
	"sync"
	"time"
)

// Store holds the authoritative Record per user. Put assigns the user's next
// Seq atomically with the write, so every instance sharing a Store agrees on
// the order of a user's changes.
type Store interface {
	Put(ctx context.Context, userID string, a Activity, at time.Time) (Record, error)
	// Get returns the records that exist; unknown users are absent from the map.
	Get(ctx context.Context, userIDs ...string) (map[string]Record, error)
}

// MemoryStore is the single-instance Store.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Put(_ context.Context, userID string, a Activity, at time.Time) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := Record{
		UserID:    userID,
		Activity:  a,
		UpdatedAt: at,
		Seq:       s.records[userID].Seq + 1,
	}
	s.records[userID] = rec
	return rec, nil
}

func (s *MemoryStore) Get(_ context.Context, userIDs ...string) (map[string]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Record, len(userIDs))
	for _, id := range userIDs {
		if rec, ok := s.records[id]; ok {
			out[id] = rec
		}
	}
	return out, nil
}
