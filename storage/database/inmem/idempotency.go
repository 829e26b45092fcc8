package inmemdb

import (
	"context"
	"sync"
	"time"

	"github.com/trezcool/academia/core/order"
)

type idempotencyEntry struct {
	orderID   string // empty while the checkout is in flight
	expiresAt time.Time
}

// IdempotencyStore remembers checkout idempotency keys in memory.
type IdempotencyStore struct {
	mu   sync.Mutex
	keys map[string]idempotencyEntry
	now  func() time.Time // mockable
}

var _ order.IdempotencyStore = (*IdempotencyStore)(nil)

func NewIdempotencyStore() *IdempotencyStore {
	return &IdempotencyStore{keys: make(map[string]idempotencyEntry), now: time.Now}
}

func (s *IdempotencyStore) Claim(_ context.Context, key string, ttl time.Duration) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if entry, ok := s.keys[key]; ok && now.Before(entry.expiresAt) {
		return entry.orderID, false, nil
	}
	s.keys[key] = idempotencyEntry{expiresAt: now.Add(ttl)}
	return "", true, nil
}

func (s *IdempotencyStore) Complete(_ context.Context, key, orderID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.keys[key] = idempotencyEntry{orderID: orderID, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *IdempotencyStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.keys, key)
	return nil
}
