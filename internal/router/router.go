// Package router dispatches console navigation through the route guard.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/fleetops/console/internal/guard"
)

// maxRedirects bounds guard-driven redirect chains. The state machine
// produces at most login -> dashboard or target -> login, so anything
// longer is a wiring bug.
const maxRedirects = 5

// Screen renders one console route. The query string of the resolved
// target (e.g. returnUrl) is passed through.
type Screen func(ctx context.Context, query string) error

// Router holds the route table. Every navigation is evaluated by the
// guard first; redirects are followed internally so callers only see
// the screen that finally rendered.
type Router struct {
	guard  *guard.Guard
	logger *slog.Logger

	mu      sync.RWMutex
	routes  map[string]Screen
	current string
}

// New creates an empty router.
func New(g *guard.Guard, logger *slog.Logger) *Router {
	return &Router{
		guard:  g,
		logger: logger,
		routes: make(map[string]Screen),
	}
}

// Handle registers a screen for a route path.
func (r *Router) Handle(route string, s Screen) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.routes[route] = s
}

// Current returns the route that last rendered.
func (r *Router) Current() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.current
}

// Navigate resolves target through the guard and renders the resulting
// screen.
func (r *Router) Navigate(ctx context.Context, target string) error {
	for i := 0; i < maxRedirects; i++ {
		decision := r.guard.CanActivate(ctx, target)
		if !decision.Allowed {
			r.logger.Debug("navigation redirected",
				slog.String("from", target),
				slog.String("to", decision.RedirectTo),
			)

			target = decision.RedirectTo

			continue
		}

		path, query, _ := strings.Cut(target, "?")

		r.mu.RLock()
		screen, ok := r.routes[path]
		r.mu.RUnlock()

		if !ok {
			return fmt.Errorf("unknown route %q", path)
		}

		r.mu.Lock()
		r.current = target
		r.mu.Unlock()

		return screen(ctx, query)
	}

	return fmt.Errorf("redirect loop while navigating to %q", target)
}
