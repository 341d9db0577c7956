// Package gateway is the ingestion boundary of the service.
//
// Every transport funnels into one place: raw payload bytes arrive via
// [Gateway.HandleMessage] (upstream WebSocket feed, HTTP push) or wrapped in
// a typed command frame via [Gateway.Dispatch] (the render-process WebSocket
// channel). The gateway parses the envelope, decodes the clip, and hands it
// to the playback loop.
//
// Ingestion is fire-and-forget: no failure propagates back to a transport.
// A malformed message is logged with its classification and dropped; the
// character simply keeps doing whatever it was doing. That is the whole
// error contract: there is no NACK, no retry, no dead-letter queue.
//
// This package lives under internal/ because it encapsulates
// application-private processing logic and is not intended to be imported
// by external code.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/morphsync/internal/observe"
	"github.com/MrWong99/morphsync/pkg/anim"
)

// TypeProcessData is the command type carrying an animation payload. It is
// the only type the dispatch table knows; anything else is dropped with a
// warning.
const TypeProcessData = "process_data"

// ErrEnvelopeParse classifies ingest failures where the message envelope
// itself is unusable, as opposed to decode failures inside a well-formed
// envelope. It only ever reaches logs; nothing is reported to transports.
var ErrEnvelopeParse = errors.New("unusable message envelope")

// ClipSubmitter receives decoded clips for playback. Implemented by
// [playback.Loop]; tests substitute a recorder.
type ClipSubmitter interface {
	Submit(clip *anim.Clip)
}

// envelope is the wire shape shared by every ingest path:
//
//	{"audio_base64": "<b64>", "blendshapes": {"frames": [...]}}
//
// sample_rate and channels are optional format metadata; absent means the
// configured default applies.
type envelope struct {
	AudioBase64 string          `json:"audio_base64"`
	Blendshapes json.RawMessage `json:"blendshapes"`
	SampleRate  int             `json:"sample_rate,omitempty"`
	Channels    int             `json:"channels,omitempty"`
}

// command is the typed frame used on the render-process WebSocket channel.
type command struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Gateway turns raw transport messages into scheduled clips.
//
// Safe for concurrent use: transports call it from their own goroutines and
// decoding is pure, so only the hand-off to the playback loop (which
// serializes internally) and the reloadable settings need guarding.
type Gateway struct {
	loop    ClipSubmitter
	log     *slog.Logger
	metrics *observe.Metrics

	mu         sync.RWMutex
	frameRate  float64
	sampleRate int
	channels   int

	// handlers maps command types to their handler. Built once at
	// construction; never mutated afterwards, so Dispatch reads it without
	// locking.
	handlers map[string]func(ctx context.Context, transport string, payload []byte)
}

// Option configures a [Gateway].
type Option func(*Gateway)

// WithFrameRate sets the blendshape track rate assumed for incoming clips.
// Defaults to [anim.DefaultFrameRate].
func WithFrameRate(fps float64) Option {
	return func(g *Gateway) {
		if fps > 0 {
			g.frameRate = fps
		}
	}
}

// WithAudioFormat sets the PCM layout assumed when the envelope does not
// carry its own. Defaults to [anim.DefaultSampleRate] mono.
func WithAudioFormat(sampleRate, channels int) Option {
	return func(g *Gateway) {
		if sampleRate > 0 {
			g.sampleRate = sampleRate
		}
		if channels > 0 {
			g.channels = channels
		}
	}
}

// WithGatewayLogger sets the logger. Defaults to [slog.Default].
func WithGatewayLogger(log *slog.Logger) Option {
	return func(g *Gateway) {
		if log != nil {
			g.log = log
		}
	}
}

// WithGatewayMetrics sets the metrics instance.
// Defaults to [observe.DefaultMetrics].
func WithGatewayMetrics(m *observe.Metrics) Option {
	return func(g *Gateway) {
		if m != nil {
			g.metrics = m
		}
	}
}

// New builds a gateway that submits decoded clips to loop.
func New(loop ClipSubmitter, opts ...Option) *Gateway {
	g := &Gateway{
		loop:       loop,
		log:        slog.Default(),
		metrics:    observe.DefaultMetrics(),
		frameRate:  anim.DefaultFrameRate,
		sampleRate: anim.DefaultSampleRate,
		channels:   anim.DefaultChannels,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.handlers = map[string]func(ctx context.Context, transport string, payload []byte){
		TypeProcessData: g.HandleMessage,
	}
	return g
}

// HandleMessage ingests one raw payload envelope. Fire-and-forget: every
// failure is logged and the message dropped, nothing is reported back.
// transport tags logs and metrics with where the message came from.
//
// Decoding runs on the caller's goroutine. It is pure, so transports may
// overlap freely here. Only the final hand-off funnels into the playback
// loop.
func (g *Gateway) HandleMessage(ctx context.Context, transport string, raw []byte) {
	msgID := uuid.NewString()
	start := time.Now()

	env, err := parseEnvelope(raw)
	if err != nil {
		g.log.Error("dropping message: envelope parse failed",
			"transport", transport,
			"messageId", msgID,
			"error", err,
		)
		g.metrics.RecordIngest(ctx, transport, "envelope_error")
		return
	}

	frameRate, sampleRate, channels := g.settings()
	if env.SampleRate > 0 {
		sampleRate = env.SampleRate
	}
	if env.Channels > 0 {
		channels = env.Channels
	}

	clip, err := anim.Decode(env.AudioBase64, string(env.Blendshapes),
		anim.WithFormat(sampleRate, channels),
		anim.WithFrameRate(frameRate),
	)
	g.metrics.RecordDecodeDuration(ctx, time.Since(start).Seconds(), decodeStatus(err))
	if err != nil {
		g.log.Error("dropping message: payload decode failed",
			"transport", transport,
			"messageId", msgID,
			"error", err,
		)
		g.metrics.RecordIngest(ctx, transport, "decode_error")
		return
	}

	clip.ID = msgID
	g.loop.Submit(clip)
	g.metrics.RecordIngest(ctx, transport, "ok")
	g.log.Info("clip queued for playback",
		"clip", clip.ID,
		"transport", transport,
		"frames", len(clip.Frames),
		"durationSeconds", clip.DurationSeconds,
	)
}

// parseEnvelope validates raw message bytes into their envelope. Failures
// wrap [ErrEnvelopeParse] so logged errors carry the classification.
func parseEnvelope(raw []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return envelope{}, fmt.Errorf("%w: %v", ErrEnvelopeParse, err)
	}
	if len(env.Blendshapes) == 0 || string(env.Blendshapes) == "null" {
		return envelope{}, fmt.Errorf("%w: missing blendshapes object", ErrEnvelopeParse)
	}
	return env, nil
}

// Dispatch routes one typed command frame from the render-process channel.
// The raw frame is `{"type": "...", "payload": {...}}`; the payload of a
// process_data command is a plain envelope. Unknown types are dropped with
// a warning, like every other ingest failure.
func (g *Gateway) Dispatch(ctx context.Context, transport string, raw []byte) {
	var cmd command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		g.log.Error("dropping command frame: parse failed",
			"transport", transport,
			"error", err,
		)
		g.metrics.RecordIngest(ctx, transport, "envelope_error")
		return
	}

	handler, ok := g.handlers[cmd.Type]
	if !ok {
		g.log.Warn("dropping command frame: unknown type",
			"transport", transport,
			"type", cmd.Type,
		)
		g.metrics.RecordIngest(ctx, transport, "unknown_type")
		return
	}
	handler(ctx, transport, cmd.Payload)
}

// SetFrameRate updates the assumed track rate for subsequently ingested
// clips. Used by config hot-reload; clips already decoded keep the rate
// they were decoded with.
func (g *Gateway) SetFrameRate(fps float64) {
	if fps <= 0 {
		return
	}
	g.mu.Lock()
	g.frameRate = fps
	g.mu.Unlock()
}

// FrameRate returns the currently assumed track rate.
func (g *Gateway) FrameRate() float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.frameRate
}

func (g *Gateway) settings() (frameRate float64, sampleRate, channels int) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.frameRate, g.sampleRate, g.channels
}

func decodeStatus(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
