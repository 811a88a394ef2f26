// Package api talks to the fleet-operations backend's auth endpoints
// and normalizes its response shapes into one canonical payload.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
	"unicode/utf8"

	apperrors "github.com/fleetops/console/internal/errors"
)

// TransientError wraps an error that is likely temporary and safe to retry.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err (or any error in its chain) is a
// TransientError, meaning the caller should retry after a backoff.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

const (
	// maxRedirects is the maximum number of HTTP redirects to follow
	// before giving up, matching the default net/http limit.
	maxRedirects = 10

	// httpClientTimeout is the timeout for the default HTTP client used
	// when no custom client is provided.
	httpClientTimeout = 30 * time.Second

	// maxAPIResponseBytes caps response body reads to prevent a
	// misbehaving server from consuming unbounded memory.
	maxAPIResponseBytes = 1024 * 1024
)

// Auth endpoint paths, relative to the configured base URL. The request
// interceptor matches against these to keep bearer attachment and
// 401 recovery away from the auth flow itself.
const (
	LoginPath    = "/auth/login"
	RegisterPath = "/auth/register"
	RefreshPath  = "/auth/refresh"
	LogoutPath   = "/auth/logout"
)

// Client talks to the backend auth endpoints.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// sameHostRedirectPolicy follows redirects only when the target host
// matches the original request host. This prevents credentials from
// leaking to third-party domains.
func sameHostRedirectPolicy(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return errors.New("stopped after 10 redirects")
	}

	if len(via) > 0 {
		origHost := via[0].URL.Host
		if req.URL.Host != origHost {
			return fmt.Errorf("redirect to different host blocked: %s -> %s", origHost, req.URL.Host)
		}
	}

	return nil
}

// NewClient creates an auth client for the given base URL. If
// httpClient is nil, a client with a 30-second timeout and same-host
// redirect policy is created. The auth client must NOT be handed the
// intercepted client: refresh-on-refresh loops are forbidden, and the
// interceptor's allowlist is only a second line of defense.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:       httpClientTimeout,
			CheckRedirect: sameHostRedirectPolicy,
		}
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
	}
}

// sanitizeResponseBody truncates and sanitizes a response body for
// inclusion in error messages. Limits to 256 bytes and replaces
// non-printable characters to prevent log injection.
func sanitizeResponseBody(body []byte) string {
	const maxLen = 256
	if len(body) > maxLen {
		body = body[:maxLen]
	}

	var clean []byte

	for len(body) > 0 {
		r, size := utf8.DecodeRune(body)
		if r == utf8.RuneError && size <= 1 {
			clean = append(clean, '?')
			body = body[1:]

			continue
		}

		if r < 0x20 && r != '\n' && r != '\r' && r != '\t' {
			clean = append(clean, '?')
		} else {
			clean = append(clean, body[:size]...)
		}

		body = body[size:]
	}

	return string(clean)
}

// post sends a JSON POST request and returns the raw response body and
// the HTTP status code (zero when the request never reached the server).
func (c *Client) post(ctx context.Context, endpoint string, body interface{}) ([]byte, int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, 0, fmt.Errorf("marshalling request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		wrapped := fmt.Errorf("sending request to %s: %w", endpoint, err)
		// Network errors (timeouts, connection refused, DNS failures)
		// are transient by nature.
		return nil, 0, &TransientError{Err: wrapped}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxAPIResponseBytes))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("reading response from %s: %w", endpoint, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr APIError
		if json.Unmarshal(respBody, &apiErr) == nil && (apiErr.Error != "" || apiErr.Message != "") {
			msg := apiErr.Error
			if msg == "" {
				msg = apiErr.Message
			}

			err := fmt.Errorf("%w: %s (%d): %s", apperrors.ErrAPIRequest, endpoint, resp.StatusCode, msg)
			if isTransientStatus(resp.StatusCode) {
				return nil, resp.StatusCode, &TransientError{Err: err}
			}

			return nil, resp.StatusCode, err
		}

		err := fmt.Errorf("%w: %s returned status %d: %s", apperrors.ErrAPIRequest, endpoint, resp.StatusCode, sanitizeResponseBody(respBody))
		if isTransientStatus(resp.StatusCode) {
			return nil, resp.StatusCode, &TransientError{Err: err}
		}

		return nil, resp.StatusCode, err
	}

	return respBody, resp.StatusCode, nil
}

// Login authenticates with username and password. A 401 is classified
// as ErrInvalidCredentials; the response shape is normalized, and a
// success without a token is a malformed response.
func (c *Client) Login(ctx context.Context, username, password string) (*SessionPayload, error) {
	raw, status, err := c.post(ctx, LoginPath, LoginRequest{
		Username: username,
		Password: password,
	})
	if err != nil {
		if status == http.StatusUnauthorized {
			return nil, fmt.Errorf("%w: %w", apperrors.ErrInvalidCredentials, err)
		}

		return nil, fmt.Errorf("logging in: %w", err)
	}

	p := normalizeSession(raw)
	if p.Token == "" {
		return nil, fmt.Errorf("%w: login response carried no token", apperrors.ErrAPIResponse)
	}

	return p, nil
}

// Register creates a new account. The response body is discarded; the
// caller logs in separately.
func (c *Client) Register(ctx context.Context, username, password string) error {
	if _, _, err := c.post(ctx, RegisterPath, RegisterRequest{
		Username: username,
		Password: password,
	}); err != nil {
		return fmt.Errorf("registering: %w", err)
	}

	return nil
}

// Refresh exchanges the current token for a fresh session.
func (c *Client) Refresh(ctx context.Context, token string) (*SessionPayload, error) {
	raw, _, err := c.post(ctx, RefreshPath, RefreshRequest{RefreshToken: token})
	if err != nil {
		return nil, fmt.Errorf("refreshing token: %w", err)
	}

	p := normalizeSession(raw)
	if p.Token == "" {
		return nil, fmt.Errorf("%w: refresh response carried no token", apperrors.ErrAPIResponse)
	}

	return p, nil
}

// Logout invalidates the token server-side. Callers treat failure as
// non-fatal: local session teardown proceeds regardless.
func (c *Client) Logout(ctx context.Context, token string) error {
	if _, _, err := c.post(ctx, LogoutPath, LogoutRequest{RefreshToken: token}); err != nil {
		return fmt.Errorf("logging out: %w", err)
	}

	return nil
}

// isTransientStatus returns true for HTTP status codes that indicate a
// temporary server-side problem worth retrying.
func isTransientStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}

	return false
}
