// Package stream maintains the WebSocket subscription to the upstream
// animation backend.
//
// The [Client] dials the configured endpoint, hands every received message to
// its handler, and reconnects with exponential backoff when the connection
// drops. Dials are guarded by a circuit breaker so a dead backend is probed
// on a schedule instead of hammered on every loop iteration.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/MrWong99/morphsync/internal/observe"
	"github.com/MrWong99/morphsync/internal/resilience"
	"github.com/coder/websocket"
)

// Default reconnection parameters.
const (
	defaultDialTimeout = 5 * time.Second
	defaultMaxRetries  = 10
	defaultBackoff     = 1 * time.Second
	defaultMaxBackoff  = 30 * time.Second
)

// maxMessageBytes caps a single upstream message. Envelopes carry whole
// base64 clips; a minute of mono PCM plus its blendshape frames is several
// megabytes.
const maxMessageBytes = 16 << 20

// ErrRetriesExhausted is returned by [Client.Run] when the consecutive-failure
// budget is spent without a successful dial.
var ErrRetriesExhausted = errors.New("stream: upstream retries exhausted")

// MessageHandler consumes one raw upstream message. The slice is owned by the
// handler once delivered.
type MessageHandler func(ctx context.Context, raw []byte)

// ClientConfig configures a [Client].
type ClientConfig struct {
	// URL is the upstream WebSocket endpoint (ws:// or wss://).
	URL string

	// DialTimeout bounds a single connection attempt. Defaults to 5s.
	DialTimeout time.Duration

	// MaxRetries is the number of consecutive failed dials tolerated before
	// [Client.Run] gives up. Zero means the default (10); negative retries
	// forever.
	MaxRetries int

	// Backoff is the initial delay between reconnect attempts. Doubles per
	// failure up to MaxBackoff. Defaults to 1s.
	Backoff time.Duration

	// MaxBackoff is the upper limit on the reconnect delay. Defaults to 30s.
	MaxBackoff time.Duration

	// Handler receives every message read from the feed. Required.
	Handler MessageHandler

	// Logger is the structured logger. Defaults to [slog.Default].
	Logger *slog.Logger

	// Metrics records dial attempts. Defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Client subscribes to the upstream animation feed.
//
// All methods are safe for concurrent use.
type Client struct {
	url         string
	dialTimeout time.Duration
	maxRetries  int
	backoff     time.Duration
	maxBackoff  time.Duration
	handler     MessageHandler
	log         *slog.Logger
	metrics     *observe.Metrics
	breaker     *resilience.CircuitBreaker

	connected atomic.Bool
}

// NewClient validates cfg and returns a [Client]. The client is inert until
// [Client.Run] is called.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("stream: upstream URL must not be empty")
	}
	if cfg.Handler == nil {
		return nil, errors.New("stream: message handler must not be nil")
	}

	c := &Client{
		url:         cfg.URL,
		dialTimeout: cfg.DialTimeout,
		maxRetries:  cfg.MaxRetries,
		backoff:     cfg.Backoff,
		maxBackoff:  cfg.MaxBackoff,
		handler:     cfg.Handler,
		log:         cfg.Logger,
		metrics:     cfg.Metrics,
	}
	if c.dialTimeout <= 0 {
		c.dialTimeout = defaultDialTimeout
	}
	if c.maxRetries == 0 {
		c.maxRetries = defaultMaxRetries
	}
	if c.backoff <= 0 {
		c.backoff = defaultBackoff
	}
	if c.maxBackoff <= 0 {
		c.maxBackoff = defaultMaxBackoff
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	c.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:         "upstream-dial",
		ResetTimeout: c.maxBackoff,
	})
	return c, nil
}

// Connected reports whether a live upstream connection exists right now.
// Readiness checks use this; a disabled upstream never constructs a Client.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Run dials the upstream and consumes its feed until ctx is cancelled.
// Connection drops trigger reconnection with exponential backoff; the retry
// counter resets on every successful dial. Run returns nil on cancellation
// and [ErrRetriesExhausted] when the consecutive-failure budget is spent.
func (c *Client) Run(ctx context.Context) error {
	backoff := c.backoff
	failures := 0

	for {
		if ctx.Err() != nil {
			return nil
		}

		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.metrics.RecordUpstreamReconnect(ctx, "error")

			failures++
			if c.maxRetries > 0 && failures >= c.maxRetries {
				c.log.Error("upstream connection failed after max retries",
					"url", c.url,
					"max_retries", c.maxRetries,
				)
				return fmt.Errorf("%w: %d consecutive dial failures", ErrRetriesExhausted, failures)
			}

			c.log.Warn("upstream dial failed",
				"url", c.url,
				"attempt", failures,
				"backoff", backoff,
				"error", err,
			)

			// Wait before retrying.
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}

			// Exponential backoff.
			backoff *= 2
			if backoff > c.maxBackoff {
				backoff = c.maxBackoff
			}
			continue
		}

		c.metrics.RecordUpstreamReconnect(ctx, "ok")
		failures = 0
		backoff = c.backoff
		c.connected.Store(true)
		c.log.Info("upstream connected", "url", c.url)

		readErr := c.readLoop(ctx, conn)
		c.connected.Store(false)

		if ctx.Err() != nil {
			_ = conn.Close(websocket.StatusNormalClosure, "shutting down")
			return nil
		}

		_ = conn.Close(websocket.StatusGoingAway, "connection lost")
		c.log.Warn("upstream connection lost; reconnecting",
			"url", c.url,
			"error", readErr,
		)
	}
}

// dial performs one breaker-guarded connection attempt.
func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	var conn *websocket.Conn
	err := c.breaker.Execute(func() error {
		dialCtx, cancel := context.WithTimeout(ctx, c.dialTimeout)
		defer cancel()

		var err error
		conn, _, err = websocket.Dial(dialCtx, c.url, &websocket.DialOptions{})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("stream: dial %s: %w", c.url, err)
	}
	conn.SetReadLimit(maxMessageBytes)
	return conn, nil
}

// readLoop hands every received message to the handler until the connection
// drops or ctx is cancelled. Both text and binary frames are accepted; the
// payload protocol is JSON either way.
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		c.handler(ctx, msg)
	}
}
