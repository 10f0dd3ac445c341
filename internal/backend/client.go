// Package backend talks to the feed server over HTTP/JSON and SSE.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/mmcdole/feedplay/internal/domain"
)

const (
	defaultTimeout = 30 * time.Second
	userAgent      = "feedplay/1.0"

	// defaultPrefetchRate bounds how often next-item prefetches hit the network
	defaultPrefetchRate  = 2 * time.Second
	defaultPrefetchBurst = 2
)

// Options configures a Client
type Options struct {
	BaseURL string
	Token   string

	// Timeout bounds JSON requests; the push stream is never timed out
	Timeout       time.Duration
	PrefetchEvery time.Duration
	PrefetchBurst int
}

// Client implements the domain feed, detail, playlist and subscriber
// contracts against the feed server.
type Client struct {
	baseURL      string
	token        string
	httpClient   *http.Client
	streamClient *http.Client
	logger       *slog.Logger

	details  singleflight.Group
	prefetch *rate.Limiter
}

// NewClient creates a new backend client
func NewClient(opts Options, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.PrefetchEvery <= 0 {
		opts.PrefetchEvery = defaultPrefetchRate
	}
	if opts.PrefetchBurst <= 0 {
		opts.PrefetchBurst = defaultPrefetchBurst
	}
	return &Client{
		baseURL:      strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"),
		token:        opts.Token,
		httpClient:   &http.Client{Timeout: opts.Timeout},
		streamClient: &http.Client{},
		logger:       logger,
		prefetch:     rate.NewLimiter(rate.Every(opts.PrefetchEvery), opts.PrefetchBurst),
	}
}

// BaseURL returns the server root without a trailing slash
func (c *Client) BaseURL() string {
	return c.baseURL
}

// envelope is the wrapper used by the server's client routes
type envelope struct {
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// doRequest performs a request against the server and returns the body.
// Transport failures map to ErrServerOffline so callers can classify them.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, payload any) ([]byte, error) {
	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL = fmt.Sprintf("%s?%s", reqURL, query.Encode())
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debug("backend request", "method", method, "url", reqURL)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Error("backend request failed", "error", err, "path", path)
		return nil, fmt.Errorf("%s %s: %w", method, path, domain.ErrServerOffline)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w: %w", domain.ErrTransientNetwork, err)
	}

	if err := statusError(resp.StatusCode); err != nil {
		c.logger.Error("backend request error", "status", resp.StatusCode, "path", path, "body", truncate(respBody, 256))
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}

	return respBody, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if c.token != "" {
		req.Header.Set("token", c.token)
	}
}

func statusError(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return domain.ErrAuthFailed
	case code == http.StatusNotFound || code == http.StatusGone:
		return fmt.Errorf("status %d: %w", code, domain.ErrContentGone)
	case code == http.StatusTooManyRequests || code >= 500:
		return fmt.Errorf("status %d: %w", code, domain.ErrTransientNetwork)
	default:
		return fmt.Errorf("unexpected status code: %d", code)
	}
}

// decodeData unwraps {message, data} and decodes data into dest
func decodeData(body []byte, dest any) error {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return fmt.Errorf("empty response data: %s", env.Message)
	}
	if err := json.Unmarshal(env.Data, dest); err != nil {
		return fmt.Errorf("failed to parse response data: %w", err)
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}

// === URL helpers ===

// ResolveURL turns a server-relative reference into an absolute URL.
// Absolute URLs are returned unchanged.
func (c *Client) ResolveURL(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil || u.IsAbs() {
		return ref
	}
	if !strings.HasPrefix(ref, "/") {
		ref = "/" + ref
	}
	return c.baseURL + ref
}

// LocalStreamURL returns the server route that serves a cached local file
func (c *Client) LocalStreamURL(awemeID string) string {
	return fmt.Sprintf("%s/client/douyin/local-stream?aweme_id=%s", c.baseURL, url.QueryEscape(awemeID))
}

// ProxyURL routes an upstream URL through the server's stream proxy
func (c *Client) ProxyURL(raw string, live bool) string {
	path := "/client/douyin/stream"
	if live {
		path = "/client/douyin/stream-live"
	}
	return fmt.Sprintf("%s%s?url=%s", c.baseURL, path, url.QueryEscape(raw))
}

// Host returns the host[:port] of the server
func (c *Client) Host() string {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return ""
	}
	return u.Host
}
