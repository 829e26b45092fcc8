package inmemdb

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/trezcool/academia/core/session"
)

const subscriberBuffer = 16

// SessionStore keeps the sessions in memory and fans out their events over channels.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]map[string]session.Session // {userID: {sessionID: Session}}
	subs     map[string]map[int]chan session.Event // {userID: {subID: chan}}
	nextSub  int
}

var _ session.Store = (*SessionStore)(nil)

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]map[string]session.Session),
		subs:     make(map[string]map[int]chan session.Event),
	}
}

func (s *SessionStore) Add(_ context.Context, sess session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sessions[sess.UserID] == nil {
		s.sessions[sess.UserID] = make(map[string]session.Session)
	}
	s.sessions[sess.UserID][sess.ID] = sess
	return nil
}

func (s *SessionStore) Get(_ context.Context, userID, sessionID string) (session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if sess, ok := s.sessions[userID][sessionID]; ok {
		return sess, nil
	}
	return session.Session{}, session.ErrNotFound
}

func (s *SessionStore) List(_ context.Context, userID string) ([]session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions := make([]session.Session, 0, len(s.sessions[userID]))
	for _, sess := range s.sessions[userID] {
		sessions = append(sessions, sess)
	}
	sort.Slice(sessions, func(i, j int) bool {
		if !sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
		}
		return sessions[i].ID < sessions[j].ID
	})
	return sessions, nil
}

func (s *SessionStore) Touch(_ context.Context, userID, sessionID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[userID][sessionID]
	if !ok {
		return session.ErrNotFound
	}
	sess.LastSeenAt = at
	s.sessions[userID][sessionID] = sess
	return nil
}

func (s *SessionStore) Remove(_ context.Context, userID string, sessionIDs ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range sessionIDs {
		delete(s.sessions[userID], id)
	}
	if len(s.sessions[userID]) == 0 {
		delete(s.sessions, userID)
	}
	return nil
}

// Publish drops the event for subscribers whose buffer is full.
func (s *SessionStore) Publish(_ context.Context, userID string, evt session.Event) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, ch := range s.subs[userID] {
		select {
		case ch <- evt:
		default:
		}
	}
	return nil
}

func (s *SessionStore) Subscribe(ctx context.Context, userID string) (<-chan session.Event, func(), error) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	ch := make(chan session.Event, subscriberBuffer)
	if s.subs[userID] == nil {
		s.subs[userID] = make(map[int]chan session.Event)
	}
	s.subs[userID][id] = ch
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs[userID], id)
			if len(s.subs[userID]) == 0 {
				delete(s.subs, userID)
			}
			close(ch)
		})
	}
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return ch, cancel, nil
}
