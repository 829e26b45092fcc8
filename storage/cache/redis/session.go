package rediscache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/trezcool/academia/core/session"
)

const subscriberBuffer = 16

// SessionStore keeps, for each user, a ZSET of session ids scored by creation time
// and one hash per session. Session events go through a pub/sub channel per user.
// Both keys expire `ttl` after the session was last added or touched; a zero ttl keeps them forever.
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

var _ session.Store = (*SessionStore)(nil)

func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{client: client, ttl: ttl}
}

func (s *SessionStore) expire(ctx context.Context, pipe redis.Pipeliner, keys ...string) {
	if s.ttl <= 0 {
		return
	}
	for _, key := range keys {
		pipe.Expire(ctx, key, s.ttl)
	}
}

type sessionHash struct {
	ID         string `redis:"id"`
	UserID     string `redis:"user_id"`
	TenantID   string `redis:"tenant_id"`
	Device     string `redis:"device"`
	IP         string `redis:"ip"`
	CreatedAt  int64  `redis:"created_at"`   // unix nano
	LastSeenAt int64  `redis:"last_seen_at"` // unix nano
}

func newSessionHash(sess session.Session) *sessionHash {
	return &sessionHash{
		ID:         sess.ID,
		UserID:     sess.UserID,
		TenantID:   sess.TenantID,
		Device:     sess.Device,
		IP:         sess.IP,
		CreatedAt:  sess.CreatedAt.UnixNano(),
		LastSeenAt: sess.LastSeenAt.UnixNano(),
	}
}

func (h sessionHash) session() session.Session {
	return session.Session{
		ID:         h.ID,
		UserID:     h.UserID,
		TenantID:   h.TenantID,
		Device:     h.Device,
		IP:         h.IP,
		CreatedAt:  time.Unix(0, h.CreatedAt).UTC(),
		LastSeenAt: time.Unix(0, h.LastSeenAt).UTC(),
	}
}

func (s *SessionStore) Add(ctx context.Context, sess session.Session) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, sessionKey(sess.UserID, sess.ID), newSessionHash(sess))
		pipe.ZAdd(ctx, sessionsKey(sess.UserID), redis.Z{Score: float64(sess.CreatedAt.UnixNano()), Member: sess.ID})
		s.expire(ctx, pipe, sessionKey(sess.UserID, sess.ID), sessionsKey(sess.UserID))
		return nil
	})
	return errors.Wrap(err, "adding session")
}

func scanSession(cmd *redis.MapStringStringCmd) (session.Session, error) {
	vals, err := cmd.Result()
	if err != nil {
		return session.Session{}, err
	}
	if len(vals) == 0 {
		return session.Session{}, session.ErrNotFound
	}
	var h sessionHash
	if err = cmd.Scan(&h); err != nil {
		return session.Session{}, err
	}
	return h.session(), nil
}

func (s *SessionStore) Get(ctx context.Context, userID, sessionID string) (session.Session, error) {
	sess, err := scanSession(s.client.HGetAll(ctx, sessionKey(userID, sessionID)))
	if err != nil && err != session.ErrNotFound {
		return session.Session{}, errors.Wrap(err, "getting session")
	}
	return sess, err
}

func (s *SessionStore) List(ctx context.Context, userID string) ([]session.Session, error) {
	ids, err := s.client.ZRange(ctx, sessionsKey(userID), 0, -1).Result()
	if err != nil {
		return nil, errors.Wrap(err, "listing session ids")
	}
	if len(ids) == 0 {
		return []session.Session{}, nil
	}

	cmds := make([]*redis.MapStringStringCmd, 0, len(ids))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range ids {
			cmds = append(cmds, pipe.HGetAll(ctx, sessionKey(userID, id)))
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "getting sessions")
	}

	sessions := make([]session.Session, 0, len(ids))
	var expired []interface{}
	for i, cmd := range cmds {
		sess, err := scanSession(cmd)
		if err == session.ErrNotFound {
			expired = append(expired, ids[i])
			continue
		}
		if err != nil {
			return nil, errors.Wrap(err, "decoding session")
		}
		sessions = append(sessions, sess)
	}
	if len(expired) > 0 {
		if err = s.client.ZRem(ctx, sessionsKey(userID), expired...).Err(); err != nil {
			return nil, errors.Wrap(err, "pruning expired session ids")
		}
	}
	return sessions, nil
}

func (s *SessionStore) Touch(ctx context.Context, userID, sessionID string, at time.Time) error {
	key := sessionKey(userID, sessionID)
	// only touch the session while it has not been removed
	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return session.ErrNotFound
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, "last_seen_at", at.UnixNano())
			s.expire(ctx, pipe, key, sessionsKey(userID))
			return nil
		})
		return err
	}, key)
}

func (s *SessionStore) Remove(ctx context.Context, userID string, sessionIDs ...string) error {
	if len(sessionIDs) == 0 {
		return nil
	}
	members := make([]interface{}, 0, len(sessionIDs))
	keys := make([]string, 0, len(sessionIDs))
	for _, id := range sessionIDs {
		members = append(members, id)
		keys = append(keys, sessionKey(userID, id))
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, sessionsKey(userID), members...)
		pipe.Del(ctx, keys...)
		return nil
	})
	return errors.Wrap(err, "removing sessions")
}

func (s *SessionStore) Publish(ctx context.Context, userID string, evt session.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return errors.Wrap(err, "encoding session event")
	}
	return errors.Wrap(s.client.Publish(ctx, sessionChannel(userID), data).Err(), "publishing session event")
}

func (s *SessionStore) Subscribe(ctx context.Context, userID string) (<-chan session.Event, func(), error) {
	pubsub := s.client.Subscribe(ctx, sessionChannel(userID))
	// wait for the confirmation so no event published after Subscribe returns is lost
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, errors.Wrap(err, "subscribing to session events")
	}

	events := make(chan session.Event, subscriberBuffer)
	done := make(chan struct{})
	var once sync.Once
	cancel := func() { once.Do(func() { close(done) }) }

	go func() {
		defer close(events)
		//goland:noinspection GoUnhandledErrorResult
		defer pubsub.Close()

		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var evt session.Event
				if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
					continue
				}
				select {
				case events <- evt:
				default:
				}
			}
		}
	}()
	return events, cancel, nil
}
