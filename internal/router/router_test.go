package router

import (
	"context"
	"io"
	"log/slog"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetops/console/internal/guard"
)

type fakeAuth struct {
	loggedIn     bool
	needsRefresh bool
	refreshOK    bool
}

func (f *fakeAuth) IsLoggedIn() bool                      { return f.loggedIn }
func (f *fakeAuth) NeedsTokenRefresh() bool               { return f.needsRefresh }
func (f *fakeAuth) RefreshToken(ctx context.Context) bool { return f.refreshOK }

func newTestRouter(auth *fakeAuth) *Router {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(guard.New(auth, logger, false), logger)
}

func TestNavigate_RendersAllowedScreen(t *testing.T) {
	rt := newTestRouter(&fakeAuth{loggedIn: true})

	var rendered string

	rt.Handle("/op/sites", func(ctx context.Context, query string) error {
		rendered = "/op/sites"
		return nil
	})

	require.NoError(t, rt.Navigate(context.Background(), "/op/sites"))
	assert.Equal(t, "/op/sites", rendered)
	assert.Equal(t, "/op/sites", rt.Current())
}

func TestNavigate_UnauthenticatedLandsOnLoginWithReturnURL(t *testing.T) {
	rt := newTestRouter(&fakeAuth{})

	var gotQuery string

	rt.Handle(guard.LoginRoute, func(ctx context.Context, query string) error {
		gotQuery = query
		return nil
	})
	rt.Handle("/op/sites", func(ctx context.Context, query string) error {
		t.Fatal("protected screen rendered without a session")
		return nil
	})

	require.NoError(t, rt.Navigate(context.Background(), "/op/sites"))

	q, err := url.ParseQuery(gotQuery)
	require.NoError(t, err)
	assert.Equal(t, "/op/sites", q.Get("returnUrl"))
	assert.Equal(t, guard.LoginRoute+"?returnUrl=%2Fop%2Fsites", rt.Current())
}

func TestNavigate_ReturnURLPreservesTargetQuery(t *testing.T) {
	rt := newTestRouter(&fakeAuth{})

	var gotQuery string

	rt.Handle(guard.LoginRoute, func(ctx context.Context, query string) error {
		gotQuery = query
		return nil
	})

	require.NoError(t, rt.Navigate(context.Background(), "/op/sites?page=2&size=50"))

	q, err := url.ParseQuery(gotQuery)
	require.NoError(t, err)
	assert.Equal(t, "/op/sites?page=2&size=50", q.Get("returnUrl"),
		"the target's own query string must survive the login round trip")
}

func TestNavigate_AuthenticatedLoginRouteLandsOnDashboard(t *testing.T) {
	rt := newTestRouter(&fakeAuth{loggedIn: true})

	var rendered string

	rt.Handle(guard.DashboardRoute, func(ctx context.Context, query string) error {
		rendered = guard.DashboardRoute
		return nil
	})
	rt.Handle(guard.LoginRoute, func(ctx context.Context, query string) error {
		t.Fatal("login screen rendered for an authenticated session")
		return nil
	})

	require.NoError(t, rt.Navigate(context.Background(), guard.LoginRoute))
	assert.Equal(t, guard.DashboardRoute, rendered)
}

func TestNavigate_UnknownRoute(t *testing.T) {
	rt := newTestRouter(&fakeAuth{loggedIn: true})

	err := rt.Navigate(context.Background(), "/nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown route")
}
