// Package session talks to the server-side session store.
//
// The client is stateless per call: it issues one request, reports success or failure, and
// leaves retry policy to the caller. The only state it keeps is a local mirror of values it has
// written or read, which is updated optimistically and never invalidated.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/astromechza/shiftsession/pkg/debounce"
)

const (
	PatchPath = "/api/session/"
	SavePath  = "/api/session/save/"
	LoadPath  = "/api/session/load/"

	TokenHeader = "X-CSRFToken"

	DefaultDebounce    = 300 * time.Millisecond
	DefaultBeaconLimit = 64 * 1024
)

type Client struct {
	baseURL     *url.URL
	httpClient  *http.Client
	tokens      TokenSource
	saves       *debounce.Group
	requeue     func(key string, value any) error
	beaconLimit int

	mirrorLock sync.RWMutex
	mirror     map[string]json.RawMessage

	beacons sync.WaitGroup
	closeMu sync.Mutex
	closed  bool
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) { c.tokens = ts }
}

func WithDebounce(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.saves = debounce.New(d)
		}
	}
}

// WithRequeue sets where debounced saves go when the server rejects them.
func WithRequeue(fn func(key string, value any) error) Option {
	return func(c *Client) { c.requeue = fn }
}

func WithBeaconLimit(n int) Option {
	return func(c *Client) { c.beaconLimit = n }
}

// NewHTTPClient returns an http client with a cookie jar so the session cookie travels with
// every request the way same-origin credentials do in a browser.
func NewHTTPClient() (*http.Client, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	return &http.Client{Jar: jar}, nil
}

func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", baseURL)
	}
	c := &Client{
		baseURL:     u,
		saves:       debounce.New(DefaultDebounce),
		beaconLimit: DefaultBeaconLimit,
		mirror:      make(map[string]json.RawMessage),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		if c.httpClient, err = NewHTTPClient(); err != nil {
			return nil, err
		}
	}
	if c.tokens == nil {
		c.tokens = NewPageTokenSource(c.httpClient, u.JoinPath("/").String())
	}
	return c, nil
}

func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

func (c *Client) BaseURL() *url.URL {
	return c.baseURL
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, withToken bool) ([]byte, error) {
	u := c.baseURL.JoinPath(path)
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if withToken {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get csrf token: %w", err)
		}
		req.Header.Set(TokenHeader, token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if resp.StatusCode == http.StatusForbidden {
			if r, ok := c.tokens.(interface{ Reset() }); ok {
				r.Reset()
			}
		}
		return nil, statusError(req, resp.StatusCode, raw)
	}
	return raw, nil
}

// Patch sends data as one PATCH and returns the server's view of the session.
func (c *Client) Patch(ctx context.Context, data map[string]any) (map[string]json.RawMessage, error) {
	raw, err := c.do(ctx, http.MethodPatch, PatchPath, nil, data, true)
	if err != nil {
		return nil, err
	}
	out := make(map[string]json.RawMessage)
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("failed to decode patch response: %w", err)
		}
	}
	c.remember(data)
	return out, nil
}

// SaveNow writes a single key immediately. A failed write is handed to the requeue hook and the
// error is still returned.
func (c *Client) SaveNow(ctx context.Context, key string, value any) error {
	if _, err := c.do(ctx, http.MethodPost, SavePath, nil, map[string]any{"key": key, "value": value}, true); err != nil {
		c.requeueFailed(key, value)
		return err
	}
	c.remember(map[string]any{key: value})
	return nil
}

func (c *Client) requeueFailed(key string, value any) {
	if c.requeue == nil {
		return
	}
	if err := c.requeue(key, value); err != nil {
		slog.Error("failed to requeue session key", "key", key, "err", err)
	}
}

// Save writes a single key once calls for that key have been quiet for the debounce delay.
// The last value wins.
func (c *Client) Save(key string, value any) {
	c.saves.Trigger(key, func() {
		if err := c.SaveNow(context.Background(), key, value); err != nil {
			slog.Warn("failed to save session key", "key", key, "err", err)
		}
	})
}

// Load reads a single key. Any failure yields nil, so a missing key and an unreachable server
// look the same.
func (c *Client) Load(ctx context.Context, key string) json.RawMessage {
	raw, err := c.do(ctx, http.MethodGet, LoadPath, url.Values{"key": {key}}, nil, false)
	if err != nil {
		slog.Debug("failed to load session key", "key", key, "err", err)
		return nil
	}
	var out struct {
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		slog.Debug("failed to decode session key", "key", key, "err", err)
		return nil
	}
	if len(out.Value) == 0 || string(out.Value) == "null" {
		return nil
	}
	c.mirrorLock.Lock()
	c.mirror[key] = out.Value
	c.mirrorLock.Unlock()
	return out.Value
}

func (c *Client) remember(data map[string]any) {
	c.mirrorLock.Lock()
	defer c.mirrorLock.Unlock()
	for k, v := range data {
		if raw, ok := v.(json.RawMessage); ok {
			c.mirror[k] = raw
			continue
		}
		if raw, err := json.Marshal(v); err == nil {
			c.mirror[k] = raw
		}
	}
}

// Cached returns the last value this client wrote or read for key.
func (c *Client) Cached(key string) (json.RawMessage, bool) {
	c.mirrorLock.RLock()
	defer c.mirrorLock.RUnlock()
	v, ok := c.mirror[key]
	return v, ok
}

func (c *Client) Mirror() map[string]json.RawMessage {
	c.mirrorLock.RLock()
	defer c.mirrorLock.RUnlock()
	out := make(map[string]json.RawMessage, len(c.mirror))
	for k, v := range c.mirror {
		out[k] = v
	}
	return out
}

// Close drops debounced saves that have not fired and waits for in-flight beacons.
func (c *Client) Close() {
	c.closeMu.Lock()
	c.closed = true
	c.closeMu.Unlock()
	c.saves.Stop()
	c.beacons.Wait()
}

// IsStatus reports whether err came from the server answering with the given status code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}
