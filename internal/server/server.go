// Package server exposes the HTTP and WebSocket surface of the service.
//
// Two ingest transports and a small observation API share one mux. The
// transports never report payload problems back to the caller: ingestion is
// fire-and-forget, so the animation push endpoint answers 202 before anyone
// knows whether the clip decoded. Observation goes through the playback
// snapshot endpoint and the usual probe and metrics routes.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/morphsync/internal/config"
	"github.com/MrWong99/morphsync/internal/health"
	"github.com/MrWong99/morphsync/internal/observe"
	"github.com/MrWong99/morphsync/internal/playback"
)

// maxPayloadBytes caps both HTTP request bodies and WebSocket frames.
// Envelopes carry whole base64 clips, so a minute of mono PCM plus its
// blendshape frames runs to several megabytes.
const maxPayloadBytes = 16 << 20

// Ingestor accepts raw transport messages. Implemented by
// [gateway.Gateway]; tests substitute a recorder.
type Ingestor interface {
	// HandleMessage ingests one plain payload envelope.
	HandleMessage(ctx context.Context, transport string, raw []byte)
	// Dispatch routes one typed command frame.
	Dispatch(ctx context.Context, transport string, raw []byte)
}

// PlaybackController exposes the playback state and the stop control.
// Implemented by [playback.Loop].
type PlaybackController interface {
	State() playback.State
	RequestStop()
}

// Config collects everything the HTTP surface needs.
type Config struct {
	// Addr is the listen address. Defaults to [config.DefaultListenAddr].
	Addr string

	// TLS enables HTTPS when non-nil.
	TLS *config.TLSConfig

	// Gateway receives ingested payloads. Required.
	Gateway Ingestor

	// Playback serves state snapshots and stop requests. Required.
	Playback PlaybackController

	// Checkers are evaluated by the readiness probe.
	Checkers []health.Checker

	// Logger defaults to [slog.Default].
	Logger *slog.Logger

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Server is the HTTP server wrapping all transports.
type Server struct {
	gw       Ingestor
	playback PlaybackController
	log      *slog.Logger

	tls        *config.TLSConfig
	handler    http.Handler
	httpServer *http.Server
}

// New builds the server and its routes. The server does not listen until
// [Server.Start] is called.
func New(cfg Config) (*Server, error) {
	if cfg.Gateway == nil {
		return nil, errors.New("server: gateway is required")
	}
	if cfg.Playback == nil {
		return nil, errors.New("server: playback controller is required")
	}
	if cfg.Addr == "" {
		cfg.Addr = config.DefaultListenAddr
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}

	s := &Server{
		gw:       cfg.Gateway,
		playback: cfg.Playback,
		log:      cfg.Logger,
		tls:      cfg.TLS,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/animation", s.handleAnimation)
	mux.HandleFunc("GET /api/playback", s.handlePlaybackState)
	mux.HandleFunc("DELETE /api/playback", s.handlePlaybackStop)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(cfg.Checkers...).Register(mux)

	s.handler = observe.Middleware(cfg.Metrics)(mux)
	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s, nil
}

// Handler returns the fully wired http.Handler:
//
//	POST   /api/animation   ingest one animation payload envelope
//	GET    /api/playback    playback state snapshot
//	DELETE /api/playback    stop the live clip
//	GET    /ws              render-process command channel
//	GET    /healthz         liveness probe
//	GET    /readyz          readiness probe
//	GET    /metrics         Prometheus exposition
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens and serves until [Server.Shutdown] or a listener error. It
// returns [http.ErrServerClosed] after a graceful shutdown, like
// [http.Server.ListenAndServe].
func (s *Server) Start() error {
	if s.tls != nil {
		s.log.Info("https server listening", "addr", s.httpServer.Addr)
		return s.httpServer.ListenAndServeTLS(s.tls.CertFile, s.tls.KeyFile)
	}
	s.log.Info("http server listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server. In-flight requests get until ctx
// expires; open WebSocket sessions end when their clients disconnect or the
// process exits.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// acceptedResponse is the body of every fire-and-forget endpoint.
type acceptedResponse struct {
	Status string `json:"status"`
}

// handleAnimation handles POST /api/animation. The body is a plain payload
// envelope. The response is always 202 when the body could be read at all;
// whether the clip decodes and plays is never reported back.
func (s *Server) handleAnimation(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayloadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "payload exceeds limit", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "reading request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	s.gw.HandleMessage(r.Context(), "http", body)
	writeJSON(w, http.StatusAccepted, acceptedResponse{Status: "accepted"})
}

// handlePlaybackState handles GET /api/playback.
func (s *Server) handlePlaybackState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.playback.State())
}

// handlePlaybackStop handles DELETE /api/playback. Like ingestion it is
// fire-and-forget: the stop is queued for the playback loop and the response
// does not wait for it to land.
func (s *Server) handlePlaybackStop(w http.ResponseWriter, _ *http.Request) {
	s.playback.RequestStop()
	writeJSON(w, http.StatusAccepted, acceptedResponse{Status: "accepted"})
}

// handleWebSocket handles GET /ws, the render-process command channel. Every
// frame is a typed command that the gateway routes; the channel carries no
// responses. The session ends when the client closes or the read fails.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// The render process connects from an embedded browser or a native
		// client, not from a page served by this host.
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.log.Warn("websocket accept failed",
			"remote", r.RemoteAddr,
			"error", err,
		)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "session ended")
	conn.SetReadLimit(maxPayloadBytes)

	s.log.Info("render channel connected", "remote", r.RemoteAddr)

	ctx := r.Context()
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			s.log.Info("render channel closed",
				"remote", r.RemoteAddr,
				"reason", err,
			)
			return
		}
		s.gw.Dispatch(ctx, "websocket", msg)
	}
}

// writeJSON encodes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
