// Package speaker plays clip audio on the local sound device via
// ebitengine/oto. It is the audio sink for deployments where this process
// owns the speakers; headless deployments use [sink.NullAudio] instead.
//
// The device opens once, in one fixed format, because the underlying
// library allows a single context per process. Incoming clips in other
// formats are converted on the way in.
package speaker

import (
	"bytes"
	"fmt"
	"log/slog"
	"sync"
	"time"

	oto "github.com/ebitengine/oto/v3"

	"github.com/MrWong99/morphsync/pkg/audio"
	"github.com/MrWong99/morphsync/pkg/sink"
)

type config struct {
	log        *slog.Logger
	format     audio.Format
	bufferSize time.Duration
}

// Option configures the speaker sink.
type Option func(*config)

// WithLogger sets the logger for device lifecycle diagnostics.
// A nil logger is ignored.
func WithLogger(log *slog.Logger) Option {
	return func(c *config) {
		if log != nil {
			c.log = log
		}
	}
}

// WithFormat sets the device format. Defaults to 44100Hz mono, the format
// animation payloads usually arrive in, so the common path plays without
// conversion. Non-positive values are ignored.
func WithFormat(sampleRate, channels int) Option {
	return func(c *config) {
		if sampleRate > 0 {
			c.format.SampleRate = sampleRate
		}
		if channels > 0 {
			c.format.Channels = channels
		}
	}
}

// WithBufferSize sets how much audio the device buffers ahead. Larger
// values survive scheduling hiccups, smaller values cut stop latency.
// Non-positive values keep the library default.
func WithBufferSize(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.bufferSize = d
		}
	}
}

// Sink is a [sink.AudioSink] backed by the local sound device.
//
// Construct at most one per process: the audio context cannot be reopened.
type Sink struct {
	log    *slog.Logger
	ctx    *oto.Context
	format audio.Format
	conv   audio.Converter

	mu     sync.Mutex
	player *oto.Player
	active []byte // keeps clip PCM alive while the device reads it
}

var _ sink.AudioSink = (*Sink)(nil)

// New opens the sound device and returns a sink playing into it. It blocks
// until the device reports ready, which on some platforms takes a moment
// after process start.
func New(opts ...Option) (*Sink, error) {
	cfg := config{
		log:    slog.Default(),
		format: audio.Format{SampleRate: 44100, Channels: 1},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	op := &oto.NewContextOptions{
		SampleRate:   cfg.format.SampleRate,
		ChannelCount: cfg.format.Channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   cfg.bufferSize,
	}
	ctx, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("speaker: open audio device: %w", err)
	}
	<-ready

	cfg.log.Info("audio device ready", "format", cfg.format.String())
	return &Sink{
		log:    cfg.log,
		ctx:    ctx,
		format: cfg.format,
		conv:   audio.Converter{Target: cfg.format},
	}, nil
}

// Format returns the fixed device format.
func (s *Sink) Format() audio.Format {
	return s.format
}

// LoadAndPlay implements [sink.AudioSink]. The clip is converted to the
// device format when it differs, and playback of any previous clip stops
// first.
func (s *Sink) LoadAndPlay(pcm []byte, sampleRate, channels int) error {
	src := audio.Format{SampleRate: sampleRate, Channels: channels}
	data := s.conv.Convert(pcm, src)
	if len(data) == 0 {
		return fmt.Errorf("speaker: clip has no playable PCM (%d bytes as %s)", len(pcm), src)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()

	// Own the bytes while the device reads them.
	buf := make([]byte, len(data))
	copy(buf, data)
	s.active = buf
	s.player = s.ctx.NewPlayer(bytes.NewReader(buf))
	s.player.Play()
	return nil
}

// Stop implements [sink.AudioSink]. It halts and discards the current clip,
// if any.
func (s *Sink) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Sink) stopLocked() {
	if s.player == nil {
		return
	}
	s.player.Pause()
	if err := s.player.Close(); err != nil {
		s.log.Debug("closing audio player", "error", err)
	}
	s.player = nil
	s.active = nil
}
