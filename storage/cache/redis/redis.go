// Package rediscache implements the session, cart and idempotency stores on Redis.
package rediscache

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/trezcool/academia/core"
)

const keyPrefix = "academia:"

// Open connects to Redis and pings it.
func Open(ctx context.Context, conf core.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     conf.Address,
		Password: conf.Password,
		DB:       conf.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "pinging redis")
	}
	return client, nil
}

func sessionsKey(userID string) string           { return keyPrefix + "sessions:" + userID }
func sessionKey(userID, sessionID string) string { return keyPrefix + "session:" + userID + ":" + sessionID }
func cartKey(userID string) string               { return keyPrefix + "cart:" + userID }
func idempotencyKey(key string) string           { return keyPrefix + "idem:checkout:" + key }

// sessionChannel is the pub/sub channel of the session events of a user.
func sessionChannel(userID string) string { return keyPrefix + "sessions:" + userID }
