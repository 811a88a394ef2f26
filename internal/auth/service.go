// Package auth orchestrates login, logout, and token refresh against
// the backend, updating the token store and session state as a unit.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fleetops/console/internal/api"
	"github.com/fleetops/console/internal/session"
)

// defaultRefreshTimeout bounds the refresh call so a hung backend
// cannot wedge the single-flight refresh lock indefinitely.
const defaultRefreshTimeout = 15 * time.Second

// logoutCallTimeout bounds the fire-and-forget backend logout call.
const logoutCallTimeout = 5 * time.Second

// Backend is the subset of the API client the service needs.
// Extracted for testability.
type Backend interface {
	Login(ctx context.Context, username, password string) (*api.SessionPayload, error)
	Register(ctx context.Context, username, password string) error
	Refresh(ctx context.Context, token string) (*api.SessionPayload, error)
	Logout(ctx context.Context, token string) error
}

// Option configures a Service.
type Option func(*Service)

// WithRefreshTimeout overrides the bound on the refresh backend call.
func WithRefreshTimeout(d time.Duration) Option {
	return func(s *Service) { s.refreshTimeout = d }
}

// WithNavigateToLogin installs the hook invoked after logout so the UI
// lands on the login screen.
func WithNavigateToLogin(fn func()) Option {
	return func(s *Service) { s.navigateToLogin = fn }
}

// Service is the single source of truth for session lifecycle. Session
// mutations are serialized and epoch-stamped: a refresh that settles
// after a logout or a newer login belongs to a dead logical session and
// is discarded rather than applied.
type Service struct {
	backend Backend
	store   *session.Store
	state   *session.State
	logger  *slog.Logger

	refreshTimeout  time.Duration
	navigateToLogin func()

	mu    sync.Mutex
	epoch uint64 // bumped by login and logout; guarded by mu

	pending sync.WaitGroup // in-flight backend logout calls
}

// NewService creates the auth service.
func NewService(backend Backend, store *session.Store, state *session.State, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		backend:         backend,
		store:           store,
		state:           state,
		logger:          logger,
		refreshTimeout:  defaultRefreshTimeout,
		navigateToLogin: func() {},
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Login authenticates and, on success, persists the session payload in
// the durability selected by remember and publishes the new session.
// Failures propagate untouched with no session mutation; user-facing
// messaging is the login screen's concern.
func (s *Service) Login(ctx context.Context, username, password string, remember bool) error {
	p, err := s.backend.Login(ctx, username, password)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// A new logical session begins; any in-flight refresh belongs to
	// the old one and must not apply its result over this login.
	s.epoch++

	if err := s.store.Store(remember, p); err != nil {
		return fmt.Errorf("persisting session: %w", err)
	}

	s.state.UpdateSession(p.User, p.Rights, p.LoginInfo)

	s.logger.Info("logged in", slog.Bool("remember", remember))

	return nil
}

// Register creates a new account. No session mutation occurs; the
// caller logs in separately.
func (s *Service) Register(ctx context.Context, username, password string) error {
	return s.backend.Register(ctx, username, password)
}

// RefreshToken brings the stored token up to date:
//
//   - no token: false, no network call
//   - token valid: true, no network call
//   - token expired: one refresh call; on success the new payload is
//     stored in the same durability as the old one, on failure the
//     session is logged out
//
// The refresh call runs under the configured timeout so a hung backend
// fails the refresh instead of blocking forever.
func (s *Service) RefreshToken(ctx context.Context) bool {
	token, ok := s.store.Token()
	if !ok {
		return false
	}

	if !s.store.IsExpired() {
		return true
	}

	s.mu.Lock()
	startEpoch := s.epoch
	remember := s.store.Remembered()
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.refreshTimeout)
	defer cancel()

	p, err := s.backend.Refresh(ctx, token)
	if err != nil {
		s.logger.Warn("token refresh failed", slog.Any("error", err))
		s.logoutIfCurrent(startEpoch)

		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.epoch != startEpoch {
		// A logout cleared the session while the refresh was in
		// flight. The result is stale; do not resurrect the session.
		s.logger.Debug("discarding stale refresh result")
		return false
	}

	if err := s.store.Store(remember, p); err != nil {
		s.logger.Error("persisting refreshed session", slog.Any("error", err))
		return false
	}

	s.state.UpdateSession(p.User, p.Rights, p.LoginInfo)

	s.logger.Debug("token refreshed", slog.Bool("remember", remember))

	return true
}

// Logout clears the session. The backend logout call is fire-and-forget:
// its failure is logged and never blocks local cleanup, so a user can
// always log out even when the server is unreachable.
func (s *Service) Logout() {
	s.mu.Lock()
	s.logoutLocked()
	s.mu.Unlock()

	// Outside the lock: navigation re-enters the guard, which consults
	// this service.
	s.navigateToLogin()
}

// logoutIfCurrent logs out only when no other logout has happened since
// the caller captured epoch. Keeps a failed stale refresh from tearing
// down a session that a newer login already replaced.
func (s *Service) logoutIfCurrent(epoch uint64) {
	s.mu.Lock()

	if s.epoch != epoch {
		s.mu.Unlock()
		return
	}

	s.logoutLocked()
	s.mu.Unlock()

	s.navigateToLogin()
}

func (s *Service) logoutLocked() {
	s.epoch++

	if token, ok := s.store.Token(); ok {
		s.pending.Add(1)

		go func() {
			defer s.pending.Done()

			ctx, cancel := context.WithTimeout(context.Background(), logoutCallTimeout)
			defer cancel()

			if err := s.backend.Logout(ctx, token); err != nil {
				s.logger.Warn("backend logout call failed", slog.Any("error", err))
			}
		}()
	}

	if err := s.store.Clear(); err != nil {
		s.logger.Error("clearing token store", slog.Any("error", err))
	}

	s.state.ClearSession()

	s.logger.Info("logged out")
}

// Wait blocks until in-flight backend logout calls settle, or until d
// elapses. The calls are fire-and-forget for correctness; Wait exists
// so a short-lived process can give them a chance to reach the server
// before exiting.
func (s *Service) Wait(d time.Duration) {
	done := make(chan struct{})
	go func() {
		s.pending.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(d):
	}
}

// IsLoggedIn is the single source of truth for authentication status.
func (s *Service) IsLoggedIn() bool {
	return s.state.IsAuthenticated()
}

// NeedsTokenRefresh reports whether the stored token is expired. Used
// by the route guard to proactively refresh before navigation.
func (s *Service) NeedsTokenRefresh() bool {
	return s.store.IsExpired()
}

// CurrentUser returns the current user snapshot.
func (s *Service) CurrentUser() (json.RawMessage, bool) {
	return s.state.User()
}

// LoginInfo returns the current login-context snapshot.
func (s *Service) LoginInfo() (json.RawMessage, bool) {
	return s.state.LoginInfo()
}
