package correlation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/coronasafe/care-abdm/pkg/domain"
	"github.com/coronasafe/care-abdm/pkg/sentinel"
)

// InMemoryStore is the single-instance implementation: a locked map. For
// horizontally scaled deployments use RedisStore so any instance can resolve
// a callback.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries map[domain.RequestID]Entry
	now     func() time.Time
	newID   func() domain.RequestID
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		entries: make(map[domain.RequestID]Entry),
		now:     time.Now,
		newID:   domain.NewRequestID,
	}
}

func (s *InMemoryStore) Allocate(_ context.Context, kind Kind, owner string, deadline time.Time) (domain.RequestID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.newID()
	for s.entries[id].ProtocolID != "" {
		id = s.newID()
	}
	if owner == "" {
		owner = id.String()
	}
	s.entries[id] = Entry{
		ProtocolID: id,
		Kind:       kind,
		Owner:      owner,
		CreatedAt:  s.now(),
		Deadline:   deadline,
	}
	return id, nil
}

func (s *InMemoryStore) Resolve(_ context.Context, id domain.RequestID) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[id]
	if !ok {
		return Entry{}, sentinel.ErrNotFound
	}
	return entry, nil
}

func (s *InMemoryStore) Release(_ context.Context, id domain.RequestID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
	return nil
}

// SweepExpired removes expired entries under the lock before returning them,
// so a concurrent sweep cannot deliver the same expiry twice.
func (s *InMemoryStore) SweepExpired(_ context.Context, now time.Time) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var expired []Entry
	for id, entry := range s.entries {
		if !entry.Deadline.After(now) {
			expired = append(expired, entry)
			delete(s.entries, id)
		}
	}
	sort.Slice(expired, func(i, j int) bool {
		return expired[i].Deadline.Before(expired[j].Deadline)
	})
	return expired, nil
}
