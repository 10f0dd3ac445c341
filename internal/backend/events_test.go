package backend

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmcdole/feedplay/internal/domain"
)

func TestReadEvents(t *testing.T) {
	stream := strings.Join([]string{
		"event: ready",
		"data: ok",
		"",
		": comment",
		"event: feed",
		`data: {"reason":"delete",`,
		`data: "at":"now"}`,
		"",
		": keepalive",
		"",
		"event: ping",
		"data: {}",
		"",
		"",
	}, "\n")

	var got [][2]string
	err := readEvents(strings.NewReader(stream), func(event, data string) {
		got = append(got, [2]string{event, data})
	})
	require.NoError(t, err)
	assert.Equal(t, [][2]string{
		{"ready", "ok"},
		{"feed", "{\"reason\":\"delete\",\n\"at\":\"now\"}"},
		{"ping", "{}"},
	}, got)
}

func TestReadEvents_CRLFAndDefaultEvent(t *testing.T) {
	stream := "data: hello\r\n\r\nevent: feed\r\ndata: {}\r\n\r\n"

	var got [][2]string
	require.NoError(t, readEvents(strings.NewReader(stream), func(event, data string) {
		got = append(got, [2]string{event, data})
	}))
	assert.Equal(t, [][2]string{{"message", "hello"}, {"feed", "{}"}}, got)
}

func TestReadEvents_BlockCutByEOFIsDispatched(t *testing.T) {
	stream := "event: feed\ndata: {\"reason\":\"video\"}\n\nevent: feed\ndata: {\"reason\":\"delete\"}\n"

	var got []string
	require.NoError(t, readEvents(strings.NewReader(stream), func(_, data string) {
		got = append(got, data)
	}))
	assert.Equal(t, []string{`{"reason":"video"}`, `{"reason":"delete"}`}, got)
}

func TestReadEvents_OversizedEventFails(t *testing.T) {
	stream := "event: feed\ndata: " + strings.Repeat("x", maxEventSize) + "\n\n"
	err := readEvents(strings.NewReader(stream), func(string, string) {})
	assert.Error(t, err)
}

func TestSubscribe_DeliversFeedEventsAndReconnects(t *testing.T) {
	var conns atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := conns.Add(1)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: ready\ndata: ok\n\n")
		fmt.Fprintf(w, "event: feed\ndata: {\"reason\":\"video\",\"at\":\"%d\"}\n\n", n)
		w.(http.Flusher).Flush()
		if n == 1 {
			// drop the first connection
			return
		}
		<-r.Context().Done()
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	events := make(chan domain.FeedEvent, 4)
	done := make(chan error, 1)
	go func() {
		done <- c.Subscribe(ctx, func(ev domain.FeedEvent) { events <- ev })
	}()

	first := <-events
	assert.Equal(t, "1", first.At)
	second := <-events
	assert.Equal(t, "2", second.At)
	assert.Equal(t, domain.ReasonVideo, second.Reason)

	cancel()
	assert.NoError(t, <-done)
}

func TestSubscribe_StopsOnRejectedToken(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	err := c.Subscribe(context.Background(), func(domain.FeedEvent) {})
	assert.ErrorIs(t, err, domain.ErrAuthFailed)
}
