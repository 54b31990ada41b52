// Package catalog is a client for the template and run API that hands out
// stream URLs.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// apiKeyHeader carries the caller's upstream API key on run requests.
const apiKeyHeader = "x-videodb-key"

var (
	ErrNotFound    = errors.New("catalog: resource not found")
	ErrUnavailable = errors.New("catalog: upstream unavailable")
	ErrBadResponse = errors.New("catalog: malformed response")
	ErrRejected    = errors.New("catalog: request rejected")
)

// Template is one video meme template.
type Template struct {
	ID               string         `json:"template_id"`
	Name             string         `json:"name"`
	Description      string         `json:"description"`
	Tags             []string       `json:"tags"`
	Difficulty       string         `json:"difficulty"`
	DemoInputs       map[string]any `json:"demo_inputs,omitempty"`
	PreviewStreamURL string         `json:"preview_stream_url,omitempty"`
}

// RunResult is the outcome of a render job.
type RunResult struct {
	StreamURL string         `json:"stream_url"`
	PlayerURL string         `json:"player_url"`
	Metadata  map[string]any `json:"metadata"`
}

// APIError is the error body returned by the upstream API.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`

	Status   int   `json:"-"`
	sentinel error
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("catalog: %s: %s (HTTP %d)", e.Code, e.Message, e.Status)
	if e.Details != "" {
		msg += ": " + e.Details
	}
	return msg
}

func (e *APIError) Unwrap() error { return e.sentinel }

// Client talks to the template API.
type Client struct {
	base    string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
}

// Option configures a Client.
type Option func(*Client)

// WithAPIKey sets the key sent on run requests.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithRateLimit caps outgoing requests per second. A non-positive rate
// leaves requests unlimited.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// New returns a client for the API at base.
func New(base string, opts ...Option) *Client {
	c := &Client{
		base:    strings.TrimRight(base, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Inf, 1),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ListTemplates returns every template.
func (c *Client) ListTemplates(ctx context.Context) ([]Template, error) {
	var p struct {
		Templates []Template `json:"templates"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/templates", nil, false, &p); err != nil {
		return nil, err
	}
	return p.Templates, nil
}

// GetTemplate returns one template.
func (c *Client) GetTemplate(ctx context.Context, id string) (*Template, error) {
	var t Template
	if err := c.do(ctx, http.MethodGet, "/api/templates/"+url.PathEscape(id), nil, false, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// Run renders a template with params and returns the resulting stream.
func (c *Client) Run(ctx context.Context, id string, params map[string]any) (*RunResult, error) {
	if params == nil {
		params = map[string]any{}
	}
	body := map[string]any{"params": params}
	var r RunResult
	if err := c.do(ctx, http.MethodPost, "/api/run/"+url.PathEscape(id), body, true, &r); err != nil {
		return nil, err
	}
	if r.StreamURL == "" {
		return nil, fmt.Errorf("%w: run result without stream_url", ErrBadResponse)
	}
	return &r, nil
}

func (c *Client) do(ctx context.Context, method, path string, in any, withKey bool, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if withKey && c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrUnavailable, method, path, err)
	}
	defer res.Body.Close()

	if res.StatusCode >= 400 {
		return decodeError(res)
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	return nil
}

func decodeError(res *http.Response) error {
	apiErr := &APIError{Status: res.StatusCode, Code: "http_error", Message: http.StatusText(res.StatusCode)}
	switch {
	case res.StatusCode == http.StatusNotFound:
		apiErr.sentinel = ErrNotFound
	case res.StatusCode >= 500:
		apiErr.sentinel = ErrUnavailable
	default:
		apiErr.sentinel = ErrRejected
	}

	var p struct {
		Error *APIError `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	if json.Unmarshal(raw, &p) == nil && p.Error != nil {
		apiErr.Code = p.Error.Code
		apiErr.Message = p.Error.Message
		apiErr.Details = p.Error.Details
	}
	return apiErr
}
