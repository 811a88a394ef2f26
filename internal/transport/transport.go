// Package transport provides the authenticated http.RoundTripper: it
// attaches the bearer token to outgoing requests and recovers from 401
// responses with a single-flight refresh-then-retry protocol.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/fleetops/console/internal/api"
	apperrors "github.com/fleetops/console/internal/errors"
)

// refreshKey is the single-flight key: there is exactly one logical
// refresh operation per process.
const refreshKey = "refresh"

// SkipLoaderHeader opts a request out of the UI's global busy
// indicator. The transport forwards it untouched; it exists so callers
// share one constant.
const SkipLoaderHeader = "X-Skip-Loader"

// Refresher is the slice of the auth service the transport needs.
type Refresher interface {
	RefreshToken(ctx context.Context) bool
	Logout()
}

// TokenSource yields the currently stored bearer token.
type TokenSource interface {
	Token() (string, bool)
}

// AuthTransport wraps a base RoundTripper with bearer attachment and
// the 401-recovery protocol. Requests to the auth endpoints pass
// through unmodified: attaching a token to a login request, or looping
// refresh-on-refresh, is forbidden.
//
// The protocol guarantees at most one concurrent refresh call. The
// first request to hit a 401 performs the refresh; every other 401
// arriving meanwhile waits for that refresh's result and retries with
// the same token, or fails uniformly.
type AuthTransport struct {
	base   http.RoundTripper
	tokens TokenSource
	auth   Refresher
	logger *slog.Logger

	refresh singleflight.Group
}

// New creates the authenticated transport. If base is nil,
// http.DefaultTransport is used.
func New(base http.RoundTripper, tokens TokenSource, auth Refresher, logger *slog.Logger) *AuthTransport {
	if base == nil {
		base = http.DefaultTransport
	}

	return &AuthTransport{
		base:   base,
		tokens: tokens,
		auth:   auth,
		logger: logger,
	}
}

// Client wraps the transport in an http.Client. Every request issued
// through it gets bearer attachment and transparent 401 retry; callers
// never handle token refresh themselves.
func (t *AuthTransport) Client() *http.Client {
	return &http.Client{Transport: t}
}

// RoundTrip implements http.RoundTripper.
func (t *AuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if isAuthEndpoint(req.URL.Path) {
		return t.base.RoundTrip(req)
	}

	req, err := cloneWithReplayableBody(req)
	if err != nil {
		return nil, err
	}

	if req.Header.Get("X-Request-ID") == "" {
		req.Header.Set("X-Request-ID", uuid.NewString())
	}

	if token, ok := t.tokens.Token(); ok {
		setBearer(req, token)
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusUnauthorized {
		// Errors other than 401 are the caller's problem, unchanged.
		return resp, nil
	}

	// The response is replaced by the retry; release the connection.
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()

	token, err := t.refreshedToken(req.Context())
	if err != nil {
		return nil, err
	}

	retry, err := replayRequest(req)
	if err != nil {
		return nil, err
	}

	setBearer(retry, token)

	t.logger.Debug("retrying request with refreshed token",
		slog.String("method", retry.Method),
		slog.String("path", retry.URL.Path),
	)

	return t.base.RoundTrip(retry)
}

// refreshedToken acquires the single-flight refresh: the first caller
// performs the refresh and publishes the resulting token; concurrent
// callers wait and receive the same token. Refresh failure (or a
// refresh that succeeded without materializing a token) logs the
// session out and fails every waiter uniformly.
//
// The refresh runs detached from the triggering request's context: one
// cancelled request must not fail the refresh that four other queued
// requests are waiting on. The auth service bounds the call with its
// own timeout.
func (t *AuthTransport) refreshedToken(ctx context.Context) (string, error) {
	v, err, shared := t.refresh.Do(refreshKey, func() (interface{}, error) {
		_, hadToken := t.tokens.Token()

		if !t.auth.RefreshToken(context.WithoutCancel(ctx)) {
			// Logout is idempotent; the auth service may have already
			// torn the session down when the refresh call itself failed.
			t.auth.Logout()

			if !hadToken {
				return nil, fmt.Errorf("%w: %w", apperrors.ErrTokenRefreshFailed, apperrors.ErrNotAuthenticated)
			}

			return nil, apperrors.ErrTokenRefreshFailed
		}

		token, ok := t.tokens.Token()
		if !ok {
			t.auth.Logout()
			return nil, fmt.Errorf("%w: no token after refresh", apperrors.ErrTokenRefreshFailed)
		}

		return token, nil
	})
	if err != nil {
		return "", err
	}

	if shared {
		t.logger.Debug("reused in-flight token refresh")
	}

	return v.(string), nil
}

// cloneWithReplayableBody clones the request and, when it carries a
// body without a GetBody factory, buffers the body so the 401 retry can
// replay it byte-identically.
func cloneWithReplayableBody(req *http.Request) (*http.Request, error) {
	clone := req.Clone(req.Context())

	if req.Body == nil || req.Body == http.NoBody || req.GetBody != nil {
		return clone, nil
	}

	buf, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("buffering request body: %w", err)
	}

	clone.Body = io.NopCloser(bytes.NewReader(buf))
	clone.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(buf)), nil
	}
	clone.ContentLength = int64(len(buf))

	return clone, nil
}

// replayRequest builds a fresh copy of an already-sent request.
func replayRequest(req *http.Request) (*http.Request, error) {
	retry := req.Clone(req.Context())

	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("replaying request body: %w", err)
		}

		retry.Body = body
	}

	return retry, nil
}

func setBearer(req *http.Request, token string) {
	req.Header.Set("Authorization", "Bearer "+token)
}

// isAuthEndpoint reports whether the path belongs to the auth-endpoint
// allowlist: login, register, refresh. These pass through untouched so
// a login never carries a stale bearer header and a failing refresh
// can never recurse into the 401-recovery protocol.
func isAuthEndpoint(path string) bool {
	return strings.Contains(path, api.LoginPath) ||
		strings.Contains(path, api.RegisterPath) ||
		strings.Contains(path, api.RefreshPath)
}
