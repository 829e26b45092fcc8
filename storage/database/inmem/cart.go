package inmemdb

import (
	"context"
	"sync"
	"time"

	"github.com/trezcool/academia/core/cart"
)

type cartEntry struct {
	cart      cart.Cart
	expiresAt time.Time
}

// CartStore keeps the carts in memory; a cart expires `ttl` after its last save.
type CartStore struct {
	mu    sync.Mutex
	carts map[string]cartEntry // {userID: cartEntry}
	ttl   time.Duration
	now   func() time.Time // mockable
}

var _ cart.Store = (*CartStore)(nil)

func NewCartStore(ttl time.Duration) *CartStore {
	return &CartStore{carts: make(map[string]cartEntry), ttl: ttl, now: time.Now}
}

func copyCart(c cart.Cart) cart.Cart {
	c.Items = append([]cart.Item{}, c.Items...)
	return c
}

func (s *CartStore) GetCart(_ context.Context, userID string) (cart.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.carts[userID]
	if !ok {
		return cart.Cart{}, cart.ErrNotFound
	}
	if s.ttl > 0 && !s.now().Before(entry.expiresAt) {
		delete(s.carts, userID)
		return cart.Cart{}, cart.ErrNotFound
	}
	return copyCart(entry.cart), nil
}

func (s *CartStore) SaveCart(_ context.Context, c cart.Cart) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.carts[c.UserID] = cartEntry{cart: copyCart(c), expiresAt: s.now().Add(s.ttl)}
	return nil
}

func (s *CartStore) DeleteCart(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.carts, userID)
	return nil
}
