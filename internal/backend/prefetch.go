package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// ErrPrefetchLimited is returned when the prefetch budget is spent
var ErrPrefetchLimited = errors.New("prefetch rate limited")

// Prefetch warms the first size bytes of target with a range request and
// returns the number of bytes read. It never retries.
func (c *Client) Prefetch(ctx context.Context, target string, size int64) (int64, error) {
	if target == "" || size <= 0 {
		return 0, nil
	}
	if !c.prefetch.Allow() {
		return 0, ErrPrefetchLimited
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=0-%d", size-1))
	req.Header.Set("User-Agent", userAgent)
	if c.token != "" && c.sameHost(req.URL) {
		req.Header.Set("token", c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("prefetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return 0, fmt.Errorf("prefetch: unexpected status code: %d", resp.StatusCode)
	}
	return io.Copy(io.Discard, io.LimitReader(resp.Body, size))
}

func (c *Client) sameHost(u *url.URL) bool {
	return u != nil && u.Host == c.Host()
}
