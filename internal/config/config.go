// Package config provides the configuration schema, loader, and sink registry
// for the morphsync playback service.
package config

import (
	"log/slog"
	"time"

	"github.com/MrWong99/morphsync/pkg/anim"
)

// LogLevel controls log verbosity for the morphsync server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Slog maps l onto the slog level it selects. Empty or unrecognised values
// map to info.
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Defaults applied by the accessor methods when the corresponding field is
// empty or zero.
const (
	DefaultListenAddr   = ":8080"
	DefaultDialTimeout  = 5 * time.Second
	DefaultBackoff      = time.Second
	DefaultMaxBackoff   = 30 * time.Second
	DefaultMaxRetries   = 10
	DefaultTickInterval = 10 * time.Millisecond
)

// Config is the root configuration structure for morphsync.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Playback PlaybackConfig `yaml:"playback"`
	Audio    AudioConfig    `yaml:"audio"`
	Sinks    SinksConfig    `yaml:"sinks"`
}

// ServerConfig holds network and logging settings for the morphsync server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// Addr returns the listen address, defaulting to ":8080".
func (s ServerConfig) Addr() string {
	if s.ListenAddr == "" {
		return DefaultListenAddr
	}
	return s.ListenAddr
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// UpstreamConfig describes the backend push feed this service subscribes to.
type UpstreamConfig struct {
	// URL is the WebSocket endpoint of the animation backend
	// (e.g., "ws://localhost:8000/ws"). Empty disables the upstream client;
	// ingest then happens only through the server's own endpoints.
	URL string `yaml:"url"`

	// DialTimeout bounds a single connection attempt ("5s" by default).
	DialTimeout string `yaml:"dial_timeout"`

	// MaxRetries is the number of consecutive failed dials tolerated before
	// the client gives up. 0 means the default (10); negative retries forever.
	MaxRetries int `yaml:"max_retries"`

	// Backoff is the initial delay between reconnect attempts ("1s" by
	// default). The delay doubles per failure up to MaxBackoff.
	Backoff string `yaml:"backoff"`

	// MaxBackoff caps the reconnect delay ("30s" by default).
	MaxBackoff string `yaml:"max_backoff"`
}

// Enabled reports whether an upstream URL is configured.
func (u UpstreamConfig) Enabled() bool {
	return u.URL != ""
}

// GetDialTimeout returns the dial timeout as a time.Duration.
func (u UpstreamConfig) GetDialTimeout() time.Duration {
	return parseDuration(u.DialTimeout, DefaultDialTimeout)
}

// GetBackoff returns the initial reconnect backoff as a time.Duration.
func (u UpstreamConfig) GetBackoff() time.Duration {
	return parseDuration(u.Backoff, DefaultBackoff)
}

// GetMaxBackoff returns the reconnect backoff cap as a time.Duration.
func (u UpstreamConfig) GetMaxBackoff() time.Duration {
	return parseDuration(u.MaxBackoff, DefaultMaxBackoff)
}

// GetMaxRetries returns the retry budget, defaulting to 10. Negative values
// mean retry forever.
func (u UpstreamConfig) GetMaxRetries() int {
	if u.MaxRetries == 0 {
		return DefaultMaxRetries
	}
	return u.MaxRetries
}

// PlaybackConfig tunes the playback loop.
type PlaybackConfig struct {
	// FrameRate is the blendshape track rate in frames per second applied to
	// decoded clips. 0 means the default (60).
	FrameRate float64 `yaml:"frame_rate"`

	// TickInterval is how often the loop advances the playback clock
	// ("10ms" by default). Frame accuracy comes from measured wall deltas,
	// not from this interval, so larger values trade smoothness for wakeups.
	TickInterval string `yaml:"tick_interval"`
}

// GetFrameRate returns the configured frame rate, defaulting to 60 fps.
func (p PlaybackConfig) GetFrameRate() float64 {
	if p.FrameRate == 0 {
		return anim.DefaultFrameRate
	}
	return p.FrameRate
}

// GetTickInterval returns the tick interval as a time.Duration.
func (p PlaybackConfig) GetTickInterval() time.Duration {
	return parseDuration(p.TickInterval, DefaultTickInterval)
}

// AudioConfig declares the PCM layout assumed for incoming clip audio.
// Payloads carry no format header; these values feed the decoder's
// assumptions and default to 44100 Hz mono.
type AudioConfig struct {
	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`
}

// GetSampleRate returns the assumed sample rate, defaulting to 44100 Hz.
func (a AudioConfig) GetSampleRate() int {
	if a.SampleRate == 0 {
		return anim.DefaultSampleRate
	}
	return a.SampleRate
}

// GetChannels returns the assumed channel count, defaulting to mono.
func (a AudioConfig) GetChannels() int {
	if a.Channels == 0 {
		return anim.DefaultChannels
	}
	return a.Channels
}

// SinksConfig selects the audio and mesh sink implementations.
type SinksConfig struct {
	Audio SinkConfig `yaml:"audio"`
	Mesh  SinkConfig `yaml:"mesh"`
}

// SinkConfig is the common configuration block shared by all sink kinds.
// The Name field is used to look up the constructor in the [Registry].
type SinkConfig struct {
	// Name selects the registered sink implementation (e.g., "speaker",
	// "gltf"). Empty selects the headless default for the kind.
	Name string `yaml:"name"`

	// Path points the sink at an asset on disk (the gltf mesh sink's
	// document). Ignored by sinks that do not load files.
	Path string `yaml:"path"`

	// Options holds sink-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or
	// nested maps.
	Options map[string]any `yaml:"options"`
}

// parseDuration parses s as a Go duration, falling back to def when s is
// empty or unparseable. [Validate] reports unparseable values as errors, so
// the fallback only masks them for callers that skip validation.
func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
