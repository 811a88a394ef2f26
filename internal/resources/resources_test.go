package resources

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/fleetops/console/internal/errors"
)

func TestList_FetchesCollection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, Sites, r.URL.Path)
		w.Write([]byte(`[{"id":"s1"},{"id":"s2"}]`))
	}))
	defer srv.Close()

	raw, err := NewClient(srv.URL, srv.Client()).List(context.Background(), Sites)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"s1"},{"id":"s2"}]`, string(raw))
}

func TestList_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, srv.Client()).List(context.Background(), Terminals)
	require.ErrorIs(t, err, apperrors.ErrAPIRequest)
}

func TestSummarize(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"bare array", `[1,2,3]`, "3 rows"},
		{"items wrapper", `{"items":[{},{}]}`, "2 rows"},
		{"data wrapper", `{"data":[]}`, "0 rows"},
		{"single object", `{"id":"x"}`, "1 record"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Summarize([]byte(tt.raw)))
		})
	}
}
