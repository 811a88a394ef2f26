// Package guard gates navigation into protected areas of the console.
package guard

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
)

// Well-known routes.
const (
	LoginRoute     = "/auth/login"
	DashboardRoute = "/dashboard"
)

// Decision is the guard's verdict on a navigation attempt: either the
// navigation proceeds, or the UI goes to RedirectTo instead.
type Decision struct {
	Allowed    bool
	RedirectTo string
}

func allow() Decision { return Decision{Allowed: true} }

func redirect(to string) Decision { return Decision{RedirectTo: to} }

// redirectToLogin preserves the original target so the user lands back
// where they started after re-authenticating. The target is escaped:
// it may carry its own query string, which must survive inside the
// returnUrl parameter intact.
func redirectToLogin(target string) Decision {
	return redirect(LoginRoute + "?returnUrl=" + url.QueryEscape(target))
}

// AuthState is the slice of the auth service the guard consults.
type AuthState interface {
	IsLoggedIn() bool
	NeedsTokenRefresh() bool
	RefreshToken(ctx context.Context) bool
}

// Guard evaluates the navigation state machine. Bypass short-circuits
// every check to "allow"; it exists only for local development and is
// logged loudly at construction.
type Guard struct {
	auth   AuthState
	logger *slog.Logger
	bypass bool
}

// New creates a route guard.
func New(auth AuthState, logger *slog.Logger, bypass bool) *Guard {
	if bypass {
		logger.Warn("route guard bypass enabled; every navigation is allowed")
	}

	return &Guard{auth: auth, logger: logger, bypass: bypass}
}

// CanActivate decides whether navigation to target may proceed:
//
//   - not authenticated, target is the login route: allow
//   - not authenticated, protected target: redirect to login with returnUrl
//   - authenticated, target is the login route: redirect to the dashboard
//   - authenticated, protected target, token expired: refresh, then
//     allow on success or redirect to login on failure
//   - authenticated, protected target, token valid: allow
func (g *Guard) CanActivate(ctx context.Context, target string) Decision {
	if g.bypass {
		return allow()
	}

	isLoginPage := strings.Contains(target, LoginRoute)
	loggedIn := g.auth.IsLoggedIn()

	if !loggedIn {
		if isLoginPage {
			return allow()
		}

		g.logger.Debug("unauthenticated navigation redirected to login",
			slog.String("target", target),
		)

		return redirectToLogin(target)
	}

	if isLoginPage {
		// An authenticated user never sees the login form.
		return redirect(DashboardRoute)
	}

	if g.auth.NeedsTokenRefresh() {
		if g.auth.RefreshToken(ctx) {
			return allow()
		}

		return redirectToLogin(target)
	}

	return allow()
}
