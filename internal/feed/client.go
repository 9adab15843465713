package feed

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"kdsboard/internal/models"
	"kdsboard/internal/monitoring"
)

const (
	// DefaultReconnectDelay is the fixed wait between connection attempts
	DefaultReconnectDelay = 3 * time.Second

	writeWait      = 10 * time.Second
	maxMessageSize = 512 * 1024
)

// ConnState is the lifecycle of the feed connection
type ConnState int

const (
	Disconnected ConnState = iota
	Connecting
	Connected
)

func (s ConnState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// MessageFunc receives every decoded feed event, in arrival order
type MessageFunc func(models.FeedEvent)

// StatusFunc receives true on open and false on every close
type StatusFunc func(connected bool)

// Client maintains the receive-only WebSocket feed for one kitchen center.
// It reconnects after a fixed delay, forever, until its context is cancelled.
type Client struct {
	url     string
	header  http.Header
	dialer  *websocket.Dialer
	clock   clockwork.Clock
	backoff time.Duration
	idle    time.Duration
	log     *logrus.Entry
	metrics *monitoring.Metrics

	mu    sync.Mutex
	state ConnState
}

// Option configures a Client
type Option func(*Client)

// WithClock replaces the clock used for the reconnect delay
func WithClock(c clockwork.Clock) Option {
	return func(cl *Client) { cl.clock = c }
}

// WithReconnectDelay overrides the fixed reconnect delay
func WithReconnectDelay(d time.Duration) Option {
	return func(cl *Client) {
		if d > 0 {
			cl.backoff = d
		}
	}
}

// WithIdleTimeout drops connections that carry no frame for d. Off by default;
// a feed may stay silent for as long as no orders come in.
func WithIdleTimeout(d time.Duration) Option {
	return func(cl *Client) { cl.idle = d }
}

// WithLogger sets the log entry
func WithLogger(l *logrus.Entry) Option {
	return func(cl *Client) { cl.log = l }
}

// WithMetrics records connection and message counters
func WithMetrics(m *monitoring.Metrics) Option {
	return func(cl *Client) { cl.metrics = m }
}

// WithToken sends a bearer token on the upgrade request
func WithToken(token string) Option {
	return func(cl *Client) {
		if token != "" {
			cl.header.Set("Authorization", "Bearer "+token)
		}
	}
}

// WithDialer replaces the websocket dialer
func WithDialer(d *websocket.Dialer) Option {
	return func(cl *Client) { cl.dialer = d }
}

// NewClient creates a feed client for the given ws:// or wss:// URL
func NewClient(feedURL string, opts ...Option) *Client {
	c := &Client{
		url:     feedURL,
		header:  http.Header{},
		dialer:  websocket.DefaultDialer,
		clock:   clockwork.NewRealClock(),
		backoff: DefaultReconnectDelay,
		log:     logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.WithField("url", feedURL)
	return c
}

// URLFor derives the feed URL for a center from the backend's HTTP base URL
func URLFor(serverURL string, centerID int64) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", errors.Wrapf(err, "parse server url %q", serverURL)
	}

	switch strings.ToLower(u.Scheme) {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", errors.Errorf("unsupported scheme %q", u.Scheme)
	}

	u.Path = "/ws/kds/" + strconv.FormatInt(centerID, 10)
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}

// State returns the current connection state
func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s ConnState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Run connects and keeps the feed alive until ctx is cancelled.
// onMessage and onStatus are invoked from the reading goroutine.
func (c *Client) Run(ctx context.Context, onMessage MessageFunc, onStatus StatusFunc) error {
	defer c.setState(Disconnected)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		c.setState(Connecting)
		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.metrics.FeedConnect(false)
			c.log.WithError(err).Warn("order feed connection failed")
		} else {
			c.metrics.FeedConnect(true)
			c.setState(Connected)
			c.metrics.FeedStatus(true)
			c.log.Info("connected to order feed")
			onStatus(true)

			c.receive(ctx, conn, onMessage)
			if ctx.Err() != nil {
				c.metrics.FeedStatus(false)
				return ctx.Err()
			}
		}

		c.setState(Connecting)
		c.metrics.FeedStatus(false)
		onStatus(false)
		c.log.WithField("retry_in", c.backoff).Info("order feed disconnected, reconnecting")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.clock.After(c.backoff):
		}
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := c.dialer.DialContext(ctx, c.url, c.header)
	if err != nil {
		if resp != nil {
			return nil, errors.Wrapf(err, "dial %s: status %d", c.url, resp.StatusCode)
		}
		return nil, errors.Wrapf(err, "dial %s", c.url)
	}
	return conn, nil
}

// receive reads frames until the connection fails or ctx is cancelled
func (c *Client) receive(ctx context.Context, conn *websocket.Conn, onMessage MessageFunc) {
	done := make(chan struct{})
	defer close(done)

	// Unblock ReadMessage on cancellation
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	defer conn.Close()

	activity := make(chan struct{}, 1)
	if c.idle > 0 {
		go c.watchIdle(conn, activity, done)
	}
	touch := func() {
		select {
		case activity <- struct{}{}:
		default:
		}
	}

	conn.SetReadLimit(maxMessageSize)
	conn.SetPingHandler(func(appData string) error {
		touch()
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && ctx.Err() == nil {
				c.log.WithError(err).Warn("order feed read error")
			}
			return
		}
		touch()

		evt, err := models.DecodeFeedEvent(message)
		if err != nil {
			c.metrics.FeedMessage("malformed")
			c.log.WithError(err).WithField("payload", truncate(message, 256)).Warn("dropping malformed feed message")
			continue
		}

		if evt.IsPaymentAlert() {
			c.metrics.FeedMessage("payment_due")
		} else {
			c.metrics.FeedMessage("order")
		}
		onMessage(evt)
	}
}

// watchIdle closes conn when no frame arrives within the idle timeout
func (c *Client) watchIdle(conn *websocket.Conn, activity <-chan struct{}, done <-chan struct{}) {
	timer := c.clock.NewTimer(c.idle)
	defer timer.Stop()

	for {
		select {
		case <-done:
			return
		case <-activity:
			timer.Reset(c.idle)
		case <-timer.Chan():
			c.log.WithField("idle_timeout", c.idle).Warn("order feed idle, reconnecting")
			conn.Close()
			return
		}
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
