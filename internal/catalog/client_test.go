package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAPI(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/templates", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"templates": []Template{
			{ID: "walter_white_falling", Name: "Walter White Falling", PreviewStreamURL: "https://cdn/ww/manifest.m3u8"},
			{ID: "tmkoc_jethalal_ny_1", Name: "Jethalal"},
		}})
	})
	mux.HandleFunc("GET /api/templates/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "walter_white_falling" {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]any{"error": APIError{Code: "template_not_found", Message: "no such template"}})
			return
		}
		json.NewEncoder(w).Encode(Template{ID: "walter_white_falling", PreviewStreamURL: "https://cdn/ww/manifest.m3u8"})
	})
	mux.HandleFunc("POST /api/run/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(apiKeyHeader) != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]any{"error": APIError{Code: "missing_api_key", Message: "api key required"}})
			return
		}
		var body struct {
			Params map[string]any `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Params["text"] != "hello" {
			w.WriteHeader(http.StatusUnprocessableEntity)
			return
		}
		json.NewEncoder(w).Encode(RunResult{StreamURL: "https://cdn/run/1/manifest.m3u8", PlayerURL: "https://player/1"})
	})
	mux.HandleFunc("POST /api/run/broken", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_ListTemplates(t *testing.T) {
	c := New(newTestAPI(t).URL + "/")
	got, err := c.ListTemplates(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "https://cdn/ww/manifest.m3u8", got[0].PreviewStreamURL)
	assert.Empty(t, got[1].PreviewStreamURL)
}

func TestClient_GetTemplate(t *testing.T) {
	c := New(newTestAPI(t).URL)
	tpl, err := c.GetTemplate(context.Background(), "walter_white_falling")
	require.NoError(t, err)
	assert.Equal(t, "walter_white_falling", tpl.ID)

	_, err = c.GetTemplate(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "template_not_found", apiErr.Code)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
}

func TestClient_Run(t *testing.T) {
	srv := newTestAPI(t)

	res, err := New(srv.URL, WithAPIKey("secret")).Run(context.Background(), "walter_white_falling", map[string]any{"text": "hello"})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn/run/1/manifest.m3u8", res.StreamURL)

	_, err = New(srv.URL).Run(context.Background(), "walter_white_falling", map[string]any{"text": "hello"})
	assert.ErrorIs(t, err, ErrRejected)
	assert.Contains(t, err.Error(), "missing_api_key")

	_, err = New(srv.URL, WithAPIKey("secret")).Run(context.Background(), "broken", nil)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestClient_unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(url).ListTemplates(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestClient_rate_limit_honours_context(t *testing.T) {
	c := New(newTestAPI(t).URL, WithRateLimit(0.001, 1))
	_, err := c.ListTemplates(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.ListTemplates(ctx)
	assert.Error(t, err)
}

func TestClient_timeout_keeps_context_error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := New(srv.URL).ListTemplates(ctx)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
