package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/morphsync/internal/health"
	"github.com/MrWong99/morphsync/internal/playback"
	"github.com/MrWong99/morphsync/internal/server"
)

// ── helpers ──────────────────────────────────────────────────────────────

type ingestCall struct {
	transport string
	raw       string
}

// fakeIngestor records every gateway call.
type fakeIngestor struct {
	mu         sync.Mutex
	handled    []ingestCall
	dispatched []ingestCall
}

func (f *fakeIngestor) HandleMessage(_ context.Context, transport string, raw []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handled = append(f.handled, ingestCall{transport: transport, raw: string(raw)})
}

func (f *fakeIngestor) Dispatch(_ context.Context, transport string, raw []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dispatched = append(f.dispatched, ingestCall{transport: transport, raw: string(raw)})
}

func (f *fakeIngestor) handledCalls() []ingestCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ingestCall(nil), f.handled...)
}

func (f *fakeIngestor) dispatchedCalls() []ingestCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ingestCall(nil), f.dispatched...)
}

// fakePlayback serves a fixed state and counts stop requests.
type fakePlayback struct {
	mu      sync.Mutex
	state   playback.State
	stopped int
}

func (f *fakePlayback) State() playback.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakePlayback) RequestStop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
}

func (f *fakePlayback) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

func newTestServer(t *testing.T, checkers ...health.Checker) (*server.Server, *fakeIngestor, *fakePlayback) {
	t.Helper()
	gw := &fakeIngestor{}
	pb := &fakePlayback{state: playback.State{Playing: false, FrameIndex: -1}}
	s, err := server.New(server.Config{
		Gateway:  gw,
		Playback: pb,
		Checkers: checkers,
	})
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	return s, gw, pb
}

// ── constructor ──────────────────────────────────────────────────────────

func TestNew_RequiresGateway(t *testing.T) {
	_, err := server.New(server.Config{Playback: &fakePlayback{}})
	if err == nil {
		t.Fatal("expected error for missing gateway, got nil")
	}
}

func TestNew_RequiresPlayback(t *testing.T) {
	_, err := server.New(server.Config{Gateway: &fakeIngestor{}})
	if err == nil {
		t.Fatal("expected error for missing playback controller, got nil")
	}
}

// ── animation push ───────────────────────────────────────────────────────

func TestAnimationPush_AcceptedAndForwarded(t *testing.T) {
	s, gw, _ := newTestServer(t)

	body := `{"audio_base64":"AAA=","blendshapes":{"frames":[{"frame":0,"blendshapes":{"JawOpen":0.1}}]}}`
	req := httptest.NewRequest(http.MethodPost, "/api/animation", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusAccepted)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	if resp["status"] != "accepted" {
		t.Errorf("status field = %q, want %q", resp["status"], "accepted")
	}

	calls := gw.handledCalls()
	if len(calls) != 1 {
		t.Fatalf("gateway calls = %d, want 1", len(calls))
	}
	if calls[0].transport != "http" {
		t.Errorf("transport = %q, want %q", calls[0].transport, "http")
	}
	if calls[0].raw != body {
		t.Errorf("forwarded body = %q, want %q", calls[0].raw, body)
	}
}

func TestAnimationPush_GarbageIsStillAccepted(t *testing.T) {
	s, gw, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/animation", strings.NewReader("not json at all"))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	// Payload validity is the gateway's problem; the transport answers 202.
	if rec.Code != http.StatusAccepted {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusAccepted)
	}
	if got := len(gw.handledCalls()); got != 1 {
		t.Errorf("gateway calls = %d, want 1", got)
	}
}

func TestAnimationPush_WrongMethodRejected(t *testing.T) {
	s, gw, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/animation", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}
	if got := len(gw.handledCalls()); got != 0 {
		t.Errorf("gateway calls = %d, want 0", got)
	}
}

// ── playback state and stop ──────────────────────────────────────────────

func TestPlaybackState_ReturnsSnapshot(t *testing.T) {
	s, _, pb := newTestServer(t)
	pb.state = playback.State{
		Playing:        true,
		ClipID:         "clip-42",
		ElapsedSeconds: 1.5,
		FrameIndex:     90,
	}

	req := httptest.NewRequest(http.MethodGet, "/api/playback", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var got playback.State
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	if got != pb.state {
		t.Errorf("state = %+v, want %+v", got, pb.state)
	}
}

func TestPlaybackStop_QueuesStop(t *testing.T) {
	s, _, pb := newTestServer(t)

	req := httptest.NewRequest(http.MethodDelete, "/api/playback", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusAccepted)
	}
	if got := pb.stopCount(); got != 1 {
		t.Errorf("stop requests = %d, want 1", got)
	}
}

// ── probes and metrics ───────────────────────────────────────────────────

func TestHealthz_AlwaysOK(t *testing.T) {
	s, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestReadyz_FailingCheckerReports503(t *testing.T) {
	s, _, _ := newTestServer(t, health.Checker{
		Name:  "upstream",
		Check: func(context.Context) error { return errors.New("not connected") },
	})

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
	if !strings.Contains(rec.Body.String(), "upstream") {
		t.Errorf("body %q should name the failing check", rec.Body.String())
	}
}

func TestMetrics_Exposition(t *testing.T) {
	s, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if rec.Body.Len() == 0 {
		t.Error("metrics body is empty")
	}
}

// ── render channel ───────────────────────────────────────────────────────

func TestWebSocket_DispatchesCommandFrames(t *testing.T) {
	s, gw, _ := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", &websocket.DialOptions{})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	frame := `{"type":"process_data","payload":{"audio_base64":"AAA=","blendshapes":{"frames":[{"frame":0,"blendshapes":{"JawOpen":0.5}}]}}}`
	if err := conn.Write(ctx, websocket.MessageText, []byte(frame)); err != nil {
		t.Fatalf("write: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if len(gw.dispatchedCalls()) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	calls := gw.dispatchedCalls()
	if len(calls) != 1 {
		t.Fatalf("dispatched calls = %d, want 1", len(calls))
	}
	if calls[0].transport != "websocket" {
		t.Errorf("transport = %q, want %q", calls[0].transport, "websocket")
	}
	if calls[0].raw != frame {
		t.Errorf("dispatched frame = %q, want %q", calls[0].raw, frame)
	}
}
