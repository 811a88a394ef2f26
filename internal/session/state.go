package session

import (
	"encoding/json"
	"sync"
)

// Snapshot is the last-known session view delivered to observers.
// Authenticated is computed at publish time; callers needing the
// current value should use State.IsAuthenticated, which recomputes
// against the token store.
type Snapshot struct {
	Authenticated bool
	User          json.RawMessage
	Rights        json.RawMessage
	LoginInfo     json.RawMessage
}

// State derives authentication status from the token store and holds
// the user/rights/login-info snapshot for the rest of the app. It is a
// state-holding broadcast: subscribers receive the current snapshot
// immediately, then every subsequent change.
type State struct {
	store *Store

	mu     sync.Mutex
	snap   Snapshot
	subs   map[int]chan Snapshot
	nextID int
}

// NewState creates session state hydrated from the store, so a restart
// with a valid persisted token does not force a spurious logout.
func NewState(store *Store) *State {
	s := &State{
		store: store,
		subs:  make(map[int]chan Snapshot),
	}

	if user, ok := store.User(); ok {
		s.snap.User = user
		s.snap.Rights, _ = store.Rights()
		s.snap.LoginInfo, _ = store.LoginInfo()
	}

	s.snap.Authenticated = s.isAuthenticatedLocked()

	return s
}

// UpdateSession atomically replaces all three snapshots. This is the
// only path by which a successful login or refresh becomes visible.
func (s *State) UpdateSession(user, rights, loginInfo json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snap = Snapshot{
		User:      user,
		Rights:    rights,
		LoginInfo: loginInfo,
	}
	s.snap.Authenticated = s.isAuthenticatedLocked()

	s.publishLocked()
}

// ClearSession atomically resets all three snapshots.
func (s *State) ClearSession() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snap = Snapshot{}

	s.publishLocked()
}

// User returns the current user snapshot.
func (s *State) User() (json.RawMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.snap.User, len(s.snap.User) > 0
}

// Rights returns the current rights snapshot.
func (s *State) Rights() (json.RawMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.snap.Rights, len(s.snap.Rights) > 0
}

// LoginInfo returns the current login-context snapshot.
func (s *State) LoginInfo() (json.RawMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.snap.LoginInfo, len(s.snap.LoginInfo) > 0
}

// IsAuthenticated recomputes authentication on every call: a token must
// exist, must not be expired, and a user snapshot must be present. It
// never trusts a cached boolean that could outlive token expiry.
func (s *State) IsAuthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.isAuthenticatedLocked()
}

func (s *State) isAuthenticatedLocked() bool {
	_, hasToken := s.store.Token()

	return hasToken && !s.store.IsExpired() && len(s.snap.User) > 0
}

// Subscribe registers an observer. The returned channel immediately
// carries the current snapshot, then every change; when a slow
// consumer falls behind, intermediate snapshots are dropped and only
// the latest is retained. The cancel func unsubscribes and must be
// called to release the channel.
func (s *State) Subscribe() (<-chan Snapshot, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++

	ch := make(chan Snapshot, 1)
	ch <- s.snap
	s.subs[id] = ch

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		delete(s.subs, id)
	}

	return ch, cancel
}

// publishLocked fans the current snapshot out to all subscribers,
// conflating to the latest value for channels that are still full.
func (s *State) publishLocked() {
	for _, ch := range s.subs {
		select {
		case ch <- s.snap:
		default:
			select {
			case <-ch:
			default:
			}

			select {
			case ch <- s.snap:
			default:
			}
		}
	}
}
