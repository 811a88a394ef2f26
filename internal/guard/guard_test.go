package guard

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

// fakeAuth scripts the guard's view of the auth service.
type fakeAuth struct {
	loggedIn     bool
	needsRefresh bool
	refreshOK    bool
	refreshCalls int
}

func (f *fakeAuth) IsLoggedIn() bool        { return f.loggedIn }
func (f *fakeAuth) NeedsTokenRefresh() bool { return f.needsRefresh }

func (f *fakeAuth) RefreshToken(ctx context.Context) bool {
	f.refreshCalls++
	return f.refreshOK
}

func newGuard(auth *fakeAuth, bypass bool) *Guard {
	return New(auth, slog.New(slog.NewTextHandler(io.Discard, nil)), bypass)
}

func TestCanActivate(t *testing.T) {
	tests := []struct {
		name         string
		auth         fakeAuth
		target       string
		wantAllowed  bool
		wantRedirect string
		wantRefresh  int
	}{
		{
			name:        "unauthenticated may visit login",
			auth:        fakeAuth{},
			target:      LoginRoute,
			wantAllowed: true,
		},
		{
			name:         "unauthenticated protected route redirects to login with returnUrl",
			auth:         fakeAuth{},
			target:       "/dashboard",
			wantRedirect: "/auth/login?returnUrl=%2Fdashboard",
		},
		{
			name:         "unauthenticated listing route preserves target",
			auth:         fakeAuth{},
			target:       "/op/sites",
			wantRedirect: "/auth/login?returnUrl=%2Fop%2Fsites",
		},
		{
			name:         "target query survives inside returnUrl",
			auth:         fakeAuth{},
			target:       "/op/sites?page=2&size=50",
			wantRedirect: "/auth/login?returnUrl=%2Fop%2Fsites%3Fpage%3D2%26size%3D50",
		},
		{
			name:         "authenticated never sees the login form",
			auth:         fakeAuth{loggedIn: true},
			target:       LoginRoute,
			wantRedirect: DashboardRoute,
		},
		{
			name:        "authenticated with valid token proceeds",
			auth:        fakeAuth{loggedIn: true},
			target:      "/op/services",
			wantAllowed: true,
		},
		{
			name:        "expired token refreshes then proceeds",
			auth:        fakeAuth{loggedIn: true, needsRefresh: true, refreshOK: true},
			target:      "/op/services",
			wantAllowed: true,
			wantRefresh: 1,
		},
		{
			name:         "expired token with failed refresh redirects to login",
			auth:         fakeAuth{loggedIn: true, needsRefresh: true},
			target:       "/acl/terminals",
			wantRedirect: "/auth/login?returnUrl=%2Facl%2Fterminals",
			wantRefresh:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newGuard(&tt.auth, false)

			decision := g.CanActivate(context.Background(), tt.target)

			assert.Equal(t, tt.wantAllowed, decision.Allowed)
			assert.Equal(t, tt.wantRedirect, decision.RedirectTo)
			assert.Equal(t, tt.wantRefresh, tt.auth.refreshCalls)
		})
	}
}

func TestCanActivate_ValidTokenSkipsRefresh(t *testing.T) {
	auth := &fakeAuth{loggedIn: true}
	g := newGuard(auth, false)

	g.CanActivate(context.Background(), "/dashboard")

	assert.Zero(t, auth.refreshCalls)
}

func TestCanActivate_BypassAllowsEverything(t *testing.T) {
	auth := &fakeAuth{} // not logged in
	g := newGuard(auth, true)

	for _, target := range []string{"/dashboard", LoginRoute, "/acl/admin-users"} {
		decision := g.CanActivate(context.Background(), target)
		assert.True(t, decision.Allowed, "bypass must allow %s", target)
	}

	assert.Zero(t, auth.refreshCalls)
}
