package rediscache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/academia/core/cart"
	"github.com/trezcool/academia/core/session"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return srv, client
}

func TestSessionStore(t *testing.T) {
	ctx := context.Background()
	_, client := newTestClient(t)
	s := NewSessionStore(client, 0)

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.Add(ctx, session.Session{ID: "s2", UserID: "u1", CreatedAt: now.Add(time.Second)}))
	require.NoError(t, s.Add(ctx, session.Session{ID: "s1", UserID: "u1", CreatedAt: now}))

	sessions, err := s.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "s1", sessions[0].ID)
	assert.Equal(t, "s2", sessions[1].ID)

	seen := now.Add(time.Minute)
	require.NoError(t, s.Touch(ctx, "u1", "s1", seen))
	sess, err := s.Get(ctx, "u1", "s1")
	require.NoError(t, err)
	assert.True(t, sess.LastSeenAt.Equal(seen))

	require.NoError(t, s.Remove(ctx, "u1", "s1", "unknown"))
	_, err = s.Get(ctx, "u1", "s1")
	assert.Equal(t, session.ErrNotFound, err)
	assert.Equal(t, session.ErrNotFound, s.Touch(ctx, "u1", "s1", seen))
}

func TestSessionStore_Expiry(t *testing.T) {
	ctx := context.Background()
	srv, client := newTestClient(t)
	s := NewSessionStore(client, 4*time.Hour)

	now := time.Now().UTC()
	require.NoError(t, s.Add(ctx, session.Session{ID: "s1", UserID: "u1", CreatedAt: now}))
	assert.Equal(t, 4*time.Hour, srv.TTL(sessionKey("u1", "s1")))
	assert.Equal(t, 4*time.Hour, srv.TTL(sessionsKey("u1")))

	srv.FastForward(3 * time.Hour)
	require.NoError(t, s.Add(ctx, session.Session{ID: "s2", UserID: "u1", CreatedAt: now.Add(3 * time.Hour)}))
	srv.FastForward(2 * time.Hour)

	sessions, err := s.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "s2", sessions[0].ID)
	assert.False(t, srv.Exists(sessionKey("u1", "s1")))
	members, err := client.ZRange(ctx, sessionsKey("u1"), 0, -1).Result()
	require.NoError(t, err)
	assert.Equal(t, []string{"s2"}, members)

	// touching pushes the expiry back
	srv.FastForward(time.Hour)
	require.NoError(t, s.Touch(ctx, "u1", "s2", now.Add(6*time.Hour)))
	assert.Equal(t, 4*time.Hour, srv.TTL(sessionKey("u1", "s2")))
	assert.Equal(t, 4*time.Hour, srv.TTL(sessionsKey("u1")))

	srv.FastForward(5 * time.Hour)
	_, err = s.Get(ctx, "u1", "s2")
	assert.Equal(t, session.ErrNotFound, err)
	sessions, err = s.List(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestSessionStorePubSub(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, client := newTestClient(t)
	s := NewSessionStore(client, 0)

	events, unsubscribe, err := s.Subscribe(ctx, "u1")
	require.NoError(t, err)
	defer unsubscribe()

	require.NoError(t, s.Publish(ctx, "u2", session.Event{Type: session.EventRevoked, SessionID: "other"}))
	require.NoError(t, s.Publish(ctx, "u1", session.Event{Type: session.EventRevoked, SessionID: "s1"}))

	select {
	case evt := <-events:
		assert.Equal(t, session.Event{Type: session.EventRevoked, SessionID: "s1"}, evt)
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}

	unsubscribe()
	select {
	case _, open := <-events:
		assert.False(t, open)
	case <-time.After(2 * time.Second):
		t.Fatal("events channel not closed")
	}
}

func TestCartStore(t *testing.T) {
	ctx := context.Background()
	srv, client := newTestClient(t)
	s := NewCartStore(client, time.Hour)

	_, err := s.GetCart(ctx, "u1")
	assert.Equal(t, cart.ErrNotFound, err)

	c := cart.Cart{UserID: "u1", TenantID: "t1", Items: []cart.Item{{Kind: cart.KindCourse, RefID: "c1", Quantity: 1}}}
	require.NoError(t, s.SaveCart(ctx, c))
	got, err := s.GetCart(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, c.Items, got.Items)

	srv.FastForward(2 * time.Hour)
	_, err = s.GetCart(ctx, "u1")
	assert.Equal(t, cart.ErrNotFound, err)

	require.NoError(t, s.SaveCart(ctx, c))
	require.NoError(t, s.DeleteCart(ctx, "u1"))
	_, err = s.GetCart(ctx, "u1")
	assert.Equal(t, cart.ErrNotFound, err)
}

func TestIdempotencyStore(t *testing.T) {
	ctx := context.Background()
	srv, client := newTestClient(t)
	s := NewIdempotencyStore(client)

	tests := []struct {
		name        string
		setup       func()
		wantOrderID string
		wantClaimed bool
	}{
		{name: "first claim", wantClaimed: true},
		{name: "in flight"},
		{
			name:        "completed",
			setup:       func() { require.NoError(t, s.Complete(ctx, "u1:k", "o1", time.Hour)) },
			wantOrderID: "o1",
		},
		{
			name:        "expired",
			setup:       func() { srv.FastForward(2 * time.Hour) },
			wantClaimed: true,
		},
		{
			name:        "released",
			setup:       func() { require.NoError(t, s.Release(ctx, "u1:k")) },
			wantClaimed: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.setup != nil {
				tt.setup()
			}
			orderID, claimed, err := s.Claim(ctx, "u1:k", time.Hour)
			require.NoError(t, err)
			assert.Equal(t, tt.wantOrderID, orderID)
			assert.Equal(t, tt.wantClaimed, claimed)
		})
	}
}
