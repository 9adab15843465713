package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kdsboard/internal/logging"
	"kdsboard/internal/models"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// feedServer accepts feed connections and hands them to the test
type feedServer struct {
	*httptest.Server
	dials  atomic.Int32
	conns  chan *websocket.Conn
	reject atomic.Bool
}

func newFeedServer(t *testing.T) *feedServer {
	t.Helper()
	fs := &feedServer{conns: make(chan *websocket.Conn, 4)}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fs.dials.Add(1)
		if fs.reject.Load() {
			http.Error(w, "no", http.StatusForbidden)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fs.conns <- conn
	}))
	t.Cleanup(fs.Close)
	return fs
}

func (fs *feedServer) feedURL() string {
	return "ws" + strings.TrimPrefix(fs.URL, "http") + "/ws/kds/1"
}

func waitFor[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for feed callback")
	}
	var zero T
	return zero
}

func startClient(t *testing.T, url string, clock clockwork.Clock, opts ...Option) (chan models.FeedEvent, chan bool, context.CancelFunc, chan error) {
	t.Helper()
	client := NewClient(url, append([]Option{WithClock(clock), WithLogger(logging.Discard())}, opts...)...)

	messages := make(chan models.FeedEvent, 16)
	statuses := make(chan bool, 16)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		done <- client.Run(ctx,
			func(evt models.FeedEvent) { messages <- evt },
			func(connected bool) { statuses <- connected },
		)
	}()
	t.Cleanup(cancel)
	return messages, statuses, cancel, done
}

func TestURLFor(t *testing.T) {
	u, err := URLFor("https://kds.example.com/api", 4)
	require.NoError(t, err)
	assert.Equal(t, "wss://kds.example.com/ws/kds/4", u)

	u, err = URLFor("http://localhost:8000", 1)
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8000/ws/kds/1", u)

	_, err = URLFor("ftp://example.com", 1)
	assert.Error(t, err)
}

func TestClientDeliversMessagesInOrder(t *testing.T) {
	fs := newFeedServer(t)
	messages, statuses, _, _ := startClient(t, fs.feedURL(), clockwork.NewFakeClock())

	assert.True(t, waitFor(t, statuses))
	conn := waitFor(t, fs.conns)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"order_id": 1, "table_id": 2, "items": [], "total": 10}`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"order_id": 2, "alert_type": "PAYMENT_DUE"}`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"order_id": 3}`)))

	assert.Equal(t, int64(1), waitFor(t, messages).ID)
	second := waitFor(t, messages)
	assert.Equal(t, int64(2), second.ID)
	assert.True(t, second.IsPaymentAlert())
	assert.Equal(t, int64(3), waitFor(t, messages).ID)
}

func TestClientDropsMalformedMessages(t *testing.T) {
	fs := newFeedServer(t)
	messages, statuses, _, _ := startClient(t, fs.feedURL(), clockwork.NewFakeClock())

	assert.True(t, waitFor(t, statuses))
	conn := waitFor(t, fs.conns)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{not json`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"table_id": 9}`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"order_id": 42}`)))

	// Only the valid message arrives and the connection stays open
	assert.Equal(t, int64(42), waitFor(t, messages).ID)
	assert.Len(t, statuses, 0)
	assert.Equal(t, int32(1), fs.dials.Load())
}

func TestClientReconnectsAfterFixedDelay(t *testing.T) {
	fs := newFeedServer(t)
	clock := clockwork.NewFakeClock()
	_, statuses, cancel, done := startClient(t, fs.feedURL(), clock)

	assert.True(t, waitFor(t, statuses))
	conn := waitFor(t, fs.conns)

	// Simulated transport drop
	conn.Close()
	assert.False(t, waitFor(t, statuses))

	// The client is now parked on the backoff timer
	clock.BlockUntil(1)
	assert.Equal(t, int32(1), fs.dials.Load())

	clock.Advance(DefaultReconnectDelay - time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), fs.dials.Load(), "no dial before the backoff elapses")

	clock.Advance(time.Millisecond)
	assert.True(t, waitFor(t, statuses))
	assert.Equal(t, int32(2), fs.dials.Load(), "exactly one new connection attempt")

	cancel()
	assert.ErrorIs(t, waitFor(t, done), context.Canceled)
}

func TestClientKeepsIdleConnection(t *testing.T) {
	fs := newFeedServer(t)
	clock := clockwork.NewFakeClock()
	messages, statuses, _, _ := startClient(t, fs.feedURL(), clock)

	assert.True(t, waitFor(t, statuses))
	conn := waitFor(t, fs.conns)

	// A quiet kitchen sends nothing for a long time
	clock.Advance(10 * time.Minute)
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, statuses, 0)
	assert.Equal(t, int32(1), fs.dials.Load())

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"order_id": 7}`)))
	assert.Equal(t, int64(7), waitFor(t, messages).ID)
}

func TestClientIdleTimeoutIsOptIn(t *testing.T) {
	fs := newFeedServer(t)
	clock := clockwork.NewFakeClock()
	_, statuses, _, _ := startClient(t, fs.feedURL(), clock, WithIdleTimeout(time.Minute))

	assert.True(t, waitFor(t, statuses))
	waitFor(t, fs.conns)

	clock.BlockUntil(1)
	clock.Advance(time.Minute)
	assert.False(t, waitFor(t, statuses))
}

func TestClientRetriesFailedDials(t *testing.T) {
	fs := newFeedServer(t)
	fs.reject.Store(true)
	clock := clockwork.NewFakeClock()
	_, statuses, _, _ := startClient(t, fs.feedURL(), clock)

	// A refused upgrade reports disconnected and waits for the backoff
	assert.False(t, waitFor(t, statuses))
	clock.BlockUntil(1)

	fs.reject.Store(false)
	clock.Advance(DefaultReconnectDelay)

	assert.True(t, waitFor(t, statuses))
	assert.Equal(t, int32(2), fs.dials.Load())
}

func TestClientStopsOnCancel(t *testing.T) {
	fs := newFeedServer(t)
	client := NewClient(fs.feedURL(), WithClock(clockwork.NewFakeClock()), WithLogger(logging.Discard()))

	statuses := make(chan bool, 4)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- client.Run(ctx, func(models.FeedEvent) {}, func(c bool) { statuses <- c })
	}()

	assert.True(t, waitFor(t, statuses))
	assert.Equal(t, Connected, client.State())

	cancel()
	assert.ErrorIs(t, waitFor(t, done), context.Canceled)
	assert.Equal(t, Disconnected, client.State())
}
