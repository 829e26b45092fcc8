package rediscache

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/trezcool/academia/core/order"
)

// IdempotencyStore claims checkout idempotency keys with SET NX.
// A claimed key holds an empty value until its checkout completes.
type IdempotencyStore struct {
	client *redis.Client
}

var _ order.IdempotencyStore = (*IdempotencyStore)(nil)

func NewIdempotencyStore(client *redis.Client) *IdempotencyStore {
	return &IdempotencyStore{client: client}
}

func (s *IdempotencyStore) Claim(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	claimed, err := s.client.SetNX(ctx, idempotencyKey(key), "", ttl).Result()
	if err != nil {
		return "", false, errors.Wrap(err, "claiming idempotency key")
	}
	if claimed {
		return "", true, nil
	}

	orderID, err := s.client.Get(ctx, idempotencyKey(key)).Result()
	if err == redis.Nil {
		// expired in between: try once more
		claimed, err = s.client.SetNX(ctx, idempotencyKey(key), "", ttl).Result()
		return "", claimed, errors.Wrap(err, "claiming idempotency key")
	}
	if err != nil {
		return "", false, errors.Wrap(err, "getting idempotency key")
	}
	return orderID, false, nil
}

func (s *IdempotencyStore) Complete(ctx context.Context, key, orderID string, ttl time.Duration) error {
	return errors.Wrap(s.client.Set(ctx, idempotencyKey(key), orderID, ttl).Err(), "completing idempotency key")
}

func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	return errors.Wrap(s.client.Del(ctx, idempotencyKey(key)).Err(), "releasing idempotency key")
}
