package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/r3labs/sse/v2"

	"github.com/mmcdole/feedplay/internal/domain"
)

const (
	eventReady = "ready"
	eventFeed  = "feed"
	eventPing  = "ping"

	maxReconnectInterval = 30 * time.Second
	maxEventSize         = 1 << 16
)

var errStreamClosed = errors.New("feed stream closed by server")

// Subscribe listens to the server push channel and calls handle for every
// feed change until ctx is done. Dropped connections are re-established with
// exponential backoff; only a rejected token ends the subscription early.
func (c *Client) Subscribe(ctx context.Context, handle func(domain.FeedEvent)) error {
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = maxReconnectInterval

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := c.streamOnce(ctx, b.Reset, handle)
		if errors.Is(err, domain.ErrAuthFailed) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Warn("feed stream disconnected", "error", err, "retryIn", next)
		}),
	)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// streamOnce holds one SSE connection open. It always returns a non-nil error.
func (c *Client) streamOnce(ctx context.Context, connected func(), handle func(domain.FeedEvent)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/client/douyin/feed/stream", nil)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	c.setHeaders(req)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return fmt.Errorf("feed stream: %w", domain.ErrServerOffline)
	}
	defer resp.Body.Close()

	if err := statusError(resp.StatusCode); err != nil {
		return fmt.Errorf("feed stream: %w", err)
	}

	c.logger.Info("feed stream connected")
	connected()

	err = readEvents(resp.Body, func(event, data string) {
		switch event {
		case eventFeed:
			var ev domain.FeedEvent
			if err := json.Unmarshal([]byte(data), &ev); err != nil {
				c.logger.Warn("malformed feed event", "error", err, "data", data)
				return
			}
			handle(ev)
		case eventReady, eventPing:
		default:
			c.logger.Debug("ignoring feed stream event", "event", event)
		}
	})
	if err != nil {
		return fmt.Errorf("feed stream: %w: %w", domain.ErrTransientNetwork, err)
	}
	return errStreamClosed
}

// readEvents splits an event stream into (event, data) pairs. Framing is
// left to the sse reader; a block cut short by EOF is still dispatched.
func readEvents(r io.Reader, dispatch func(event, data string)) error {
	reader := sse.NewEventStreamReader(r, maxEventSize)
	for {
		block, err := reader.ReadEvent()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if event, data, ok := parseEvent(block); ok {
			dispatch(event, data)
		}
	}
}

// parseEvent reads the event and data fields of one block. Comment-only
// blocks report !ok.
func parseEvent(block []byte) (event, data string, ok bool) {
	var lines [][]byte
	for _, line := range bytes.FieldsFunc(block, func(r rune) bool { return r == '\n' || r == '\r' }) {
		if line[0] == ':' {
			continue
		}
		field, value, _ := bytes.Cut(line, []byte(":"))
		value = bytes.TrimPrefix(value, []byte(" "))
		switch string(field) {
		case "event":
			event = string(value)
		case "data":
			lines = append(lines, value)
		}
	}
	if event == "" && lines == nil {
		return "", "", false
	}
	if event == "" {
		event = "message"
	}
	return event, string(bytes.Join(lines, []byte("\n"))), true
}
