package stream

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
)

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startFeedServer launches a test WebSocket server. The handler function
// receives the accepted *websocket.Conn. The server is automatically closed
// when the test finishes.
func startFeedServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// quietLogger discards log output; reconnect tests fail dials on purpose.
func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewClient_RequiresURL(t *testing.T) {
	t.Parallel()
	_, err := NewClient(ClientConfig{Handler: func(context.Context, []byte) {}})
	if err == nil {
		t.Fatal("expected error for empty URL, got nil")
	}
}

func TestNewClient_RequiresHandler(t *testing.T) {
	t.Parallel()
	_, err := NewClient(ClientConfig{URL: "ws://localhost:8000/ws"})
	if err == nil {
		t.Fatal("expected error for nil handler, got nil")
	}
}

func TestNewClient_Defaults(t *testing.T) {
	t.Parallel()
	c, err := NewClient(ClientConfig{
		URL:     "ws://localhost:8000/ws",
		Handler: func(context.Context, []byte) {},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.dialTimeout != defaultDialTimeout {
		t.Errorf("dialTimeout = %v, want %v", c.dialTimeout, defaultDialTimeout)
	}
	if c.maxRetries != defaultMaxRetries {
		t.Errorf("maxRetries = %d, want %d", c.maxRetries, defaultMaxRetries)
	}
	if c.backoff != defaultBackoff {
		t.Errorf("backoff = %v, want %v", c.backoff, defaultBackoff)
	}
	if c.maxBackoff != defaultMaxBackoff {
		t.Errorf("maxBackoff = %v, want %v", c.maxBackoff, defaultMaxBackoff)
	}
	if c.Connected() {
		t.Error("Connected() should be false before Run")
	}
}

func TestNewClient_NegativeRetriesPreserved(t *testing.T) {
	t.Parallel()
	c, err := NewClient(ClientConfig{
		URL:        "ws://localhost:8000/ws",
		MaxRetries: -1,
		Handler:    func(context.Context, []byte) {},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.maxRetries != -1 {
		t.Errorf("maxRetries = %d, want -1 (retry forever)", c.maxRetries)
	}
}

func TestClient_ReceivesMessages(t *testing.T) {
	t.Parallel()

	srv := startFeedServer(t, func(conn *websocket.Conn, _ *http.Request) {
		ctx := context.Background()
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"process_data"}`))
		_ = conn.Write(ctx, websocket.MessageBinary, []byte(`{"type":"process_data","seq":2}`))
		// Hold the connection open until the client goes away.
		<-conn.CloseRead(ctx).Done()
	})

	received := make(chan []byte, 4)
	c, err := NewClient(ClientConfig{
		URL: wsURL(srv),
		Handler: func(_ context.Context, raw []byte) {
			received <- raw
		},
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx) }()

	for i := 0; i < 2; i++ {
		select {
		case msg := <-received:
			if len(msg) == 0 {
				t.Errorf("message %d is empty", i)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out waiting for message %d", i)
		}
	}

	if !c.Connected() {
		t.Error("Connected() should be true while the feed is live")
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Run returned %v on cancellation, want nil", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	if c.Connected() {
		t.Error("Connected() should be false after Run returns")
	}
}

func TestClient_ReconnectsAfterDrop(t *testing.T) {
	t.Parallel()

	var accepts atomic.Int32
	srv := startFeedServer(t, func(conn *websocket.Conn, _ *http.Request) {
		n := accepts.Add(1)
		ctx := context.Background()
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"conn":`+string(rune('0'+n))+`}`))
		if n == 1 {
			// Drop the first connection to force a reconnect.
			conn.Close(websocket.StatusInternalError, "dropping")
			return
		}
		<-conn.CloseRead(ctx).Done()
	})

	received := make(chan []byte, 4)
	c, err := NewClient(ClientConfig{
		URL:     wsURL(srv),
		Backoff: 5 * time.Millisecond,
		Logger:  quietLogger(),
		Handler: func(_ context.Context, raw []byte) {
			received <- raw
		},
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx) }()

	// One message per connection; two messages prove a reconnect happened.
	for i := 0; i < 2; i++ {
		select {
		case <-received:
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out waiting for message %d (accepts=%d)", i, accepts.Load())
		}
	}

	if got := accepts.Load(); got < 2 {
		t.Errorf("server accepts = %d, want >= 2", got)
	}

	cancel()
	select {
	case <-errCh:
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestClient_GivesUpAfterMaxRetries(t *testing.T) {
	t.Parallel()

	// A server that is immediately closed leaves a refusing address behind.
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	deadURL := wsURL(srv)
	srv.Close()

	c, err := NewClient(ClientConfig{
		URL:         deadURL,
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  2,
		Backoff:     time.Millisecond,
		Logger:      quietLogger(),
		Handler:     func(context.Context, []byte) {},
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	err = c.Run(context.Background())
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("Run = %v, want ErrRetriesExhausted", err)
	}
}

func TestClient_RunReturnsNilWhenAlreadyCancelled(t *testing.T) {
	t.Parallel()

	c, err := NewClient(ClientConfig{
		URL:     "ws://localhost:1/ws",
		Logger:  quietLogger(),
		Handler: func(context.Context, []byte) {},
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := c.Run(ctx); err != nil {
		t.Errorf("Run = %v, want nil for cancelled context", err)
	}
}
