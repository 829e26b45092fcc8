package rediscache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/trezcool/academia/core/cart"
)

// CartStore keeps each cart as a JSON value that expires `ttl` after its last save.
type CartStore struct {
	client *redis.Client
	ttl    time.Duration
}

var _ cart.Store = (*CartStore)(nil)

func NewCartStore(client *redis.Client, ttl time.Duration) *CartStore {
	return &CartStore{client: client, ttl: ttl}
}

func (s *CartStore) GetCart(ctx context.Context, userID string) (cart.Cart, error) {
	data, err := s.client.Get(ctx, cartKey(userID)).Bytes()
	if err == redis.Nil {
		return cart.Cart{}, cart.ErrNotFound
	}
	if err != nil {
		return cart.Cart{}, errors.Wrap(err, "getting cart")
	}
	var c cart.Cart
	if err = json.Unmarshal(data, &c); err != nil {
		return cart.Cart{}, errors.Wrap(err, "decoding cart")
	}
	return c, nil
}

func (s *CartStore) SaveCart(ctx context.Context, c cart.Cart) error {
	data, err := json.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "encoding cart")
	}
	return errors.Wrap(s.client.Set(ctx, cartKey(c.UserID), data, s.ttl).Err(), "saving cart")
}

func (s *CartStore) DeleteCart(ctx context.Context, userID string) error {
	return errors.Wrap(s.client.Del(ctx, cartKey(userID)).Err(), "deleting cart")
}
