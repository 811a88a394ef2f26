// Package resources lists the operations-domain collections through
// the shared authenticated HTTP client. Entity schemas are opaque
// here: payloads are fetched and rendered as-is, and token handling is
// entirely the transport's job.
package resources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/tidwall/gjson"

	apperrors "github.com/fleetops/console/internal/errors"
)

// maxListingBytes caps listing reads; these are paged admin tables.
const maxListingBytes = 4 * 1024 * 1024

// Collection endpoints, relative to the API base URL.
const (
	Sites        = "/op/sites"
	Services     = "/op/services"
	VehicleTypes = "/op/vehicle-types"
	Terminals    = "/acl/terminals"
	AdminUsers   = "/acl/admin-users"
)

// Client fetches collection listings.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a listing client. httpClient must be the
// intercepted client so every request gets bearer attachment and
// transparent 401 retry.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	return &Client{httpClient: httpClient, baseURL: baseURL}
}

// List fetches one collection and returns the raw JSON body.
func (c *Client) List(ctx context.Context, collection string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+collection, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", collection, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxListingBytes))
	if err != nil {
		return nil, fmt.Errorf("reading %s listing: %w", collection, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned status %d", apperrors.ErrAPIRequest, collection, resp.StatusCode)
	}

	return json.RawMessage(body), nil
}

// Summarize renders a short human-readable description of a listing
// payload without binding to any entity schema. Arrays report their
// length; wrapped results ({items: [...]} or {data: [...]}) are
// unwrapped first.
func Summarize(raw json.RawMessage) string {
	doc := gjson.ParseBytes(raw)

	items := doc
	for _, key := range []string{"items", "data", "result"} {
		if v := doc.Get(key); v.IsArray() {
			items = v
			break
		}
	}

	if items.IsArray() {
		return fmt.Sprintf("%d rows", len(items.Array()))
	}

	return "1 record"
}
