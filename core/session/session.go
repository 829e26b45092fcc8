// Package session caps the number of devices a User can be logged in from.
// The newest login always wins: opening a session beyond the cap revokes the oldest ones,
// and the revoked devices are notified through Subscribe.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/academia/core"
)

const (
	DefaultMaxActive = 2

	EventRevoked = "revoked"
)

var (
	// errors
	ErrNotFound           = errors.New("session not found")
	ErrSessionInvalidated = errors.New("session invalidated")
)

type (
	Session struct {
		ID         string    `json:"id"`
		UserID     string    `json:"user_id"`
		TenantID   string    `json:"tenant_id"`
		Device     string    `json:"device"`
		IP         string    `json:"ip"`
		CreatedAt  time.Time `json:"created_at"`   // UTC
		LastSeenAt time.Time `json:"last_seen_at"` // UTC
	}

	Event struct {
		Type      string `json:"type"`
		SessionID string `json:"session_id"`
	}

	// Store persists the sessions of each User, and fans out their events.
	Store interface {
		Add(ctx context.Context, sess Session) error
		// Get returns ErrNotFound for an unknown or removed session.
		Get(ctx context.Context, userID, sessionID string) (Session, error)
		// List returns the sessions of a User, oldest first.
		List(ctx context.Context, userID string) ([]Session, error)
		Touch(ctx context.Context, userID, sessionID string, at time.Time) error
		// Remove is a no-op for unknown sessions.
		Remove(ctx context.Context, userID string, sessionIDs ...string) error
		Publish(ctx context.Context, userID string, evt Event) error
		// Subscribe returns the events of a User until `ctx` is done or the returned cancel func is called.
		Subscribe(ctx context.Context, userID string) (<-chan Event, func(), error)
	}

	Manager struct {
		store     Store
		maxActive int
		logger    core.Logger
		now       func() time.Time // mockable
	}
)

func NewManager(store Store, maxActive int, logger core.Logger) *Manager {
	if maxActive <= 0 {
		maxActive = DefaultMaxActive
	}
	return &Manager{
		store:     store,
		maxActive: maxActive,
		logger:    logger,
		now:       time.Now,
	}
}

// NewID returns a random 128-bit hex string.
func NewID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Open starts a new session for a User, revoking their oldest sessions beyond the cap.
func (m *Manager) Open(ctx context.Context, userID, tenantID, device, ip string) (Session, error) {
	id, err := NewID()
	if err != nil {
		return Session{}, errors.Wrap(err, "generating session id")
	}

	now := m.now().UTC()
	sess := Session{
		ID:         id,
		UserID:     userID,
		TenantID:   tenantID,
		Device:     device,
		IP:         ip,
		CreatedAt:  now,
		LastSeenAt: now,
	}
	if err = m.store.Add(ctx, sess); err != nil {
		return Session{}, errors.Wrap(err, "storing session")
	}

	sessions, err := m.store.List(ctx, userID)
	if err != nil {
		return Session{}, errors.Wrap(err, "listing sessions")
	}
	excess := len(sessions) - m.maxActive
	if excess <= 0 {
		return sess, nil
	}

	revoked := make([]string, 0, excess)
	for _, s := range sessions {
		if len(revoked) == excess {
			break
		}
		if s.ID != sess.ID {
			revoked = append(revoked, s.ID)
		}
	}
	if err = m.store.Remove(ctx, userID, revoked...); err != nil {
		return Session{}, errors.Wrap(err, "revoking sessions")
	}
	for _, sid := range revoked {
		m.notifyRevoked(ctx, userID, sid)
	}
	return sess, nil
}

func (m *Manager) notifyRevoked(ctx context.Context, userID, sessionID string) {
	if err := m.store.Publish(ctx, userID, Event{Type: EventRevoked, SessionID: sessionID}); err != nil && m.logger != nil {
		m.logger.Warn(fmt.Sprintf("publishing session revocation: %v", err), err)
	}
}

// Validate returns ErrSessionInvalidated when the session is unknown or was revoked.
func (m *Manager) Validate(ctx context.Context, userID, sessionID string) (Session, error) {
	if sessionID == "" {
		return Session{}, ErrSessionInvalidated
	}
	sess, err := m.store.Get(ctx, userID, sessionID)
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return Session{}, ErrSessionInvalidated
		}
		return Session{}, errors.Wrap(err, "getting session")
	}
	sess.LastSeenAt = m.now().UTC()
	if err = m.store.Touch(ctx, userID, sessionID, sess.LastSeenAt); err != nil {
		return Session{}, errors.Wrap(err, "touching session")
	}
	return sess, nil
}

// Close logs a device out; closing an unknown session is a no-op.
func (m *Manager) Close(ctx context.Context, userID, sessionID string) error {
	return errors.Wrap(m.store.Remove(ctx, userID, sessionID), "removing session")
}

// Revoke logs another device of the User out and notifies it.
func (m *Manager) Revoke(ctx context.Context, userID, sessionID string) error {
	if _, err := m.store.Get(ctx, userID, sessionID); err != nil {
		return err
	}
	if err := m.store.Remove(ctx, userID, sessionID); err != nil {
		return errors.Wrap(err, "removing session")
	}
	m.notifyRevoked(ctx, userID, sessionID)
	return nil
}

// List returns the sessions of a User, newest first.
func (m *Manager) List(ctx context.Context, userID string) ([]Session, error) {
	sessions, err := m.store.List(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "listing sessions")
	}
	sort.SliceStable(sessions, func(i, j int) bool { return sessions[i].CreatedAt.After(sessions[j].CreatedAt) })
	return sessions, nil
}

func (m *Manager) Subscribe(ctx context.Context, userID string) (<-chan Event, func(), error) {
	return m.store.Subscribe(ctx, userID)
}
