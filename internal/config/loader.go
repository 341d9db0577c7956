package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidSinkNames lists known sink names per sink kind.
// Used by [Validate] to warn about unrecognised sink names.
var ValidSinkNames = map[string][]string{
	"audio": {"speaker", "null"},
	"mesh":  {"gltf", "memory"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Upstream
	if cfg.Upstream.URL != "" {
		u, err := url.Parse(cfg.Upstream.URL)
		if err != nil {
			errs = append(errs, fmt.Errorf("upstream.url %q is not a valid URL: %w", cfg.Upstream.URL, err))
		} else if u.Scheme != "ws" && u.Scheme != "wss" {
			errs = append(errs, fmt.Errorf("upstream.url scheme %q is invalid; valid values: ws, wss", u.Scheme))
		}
	}
	errs = appendDurationErr(errs, "upstream.dial_timeout", cfg.Upstream.DialTimeout)
	errs = appendDurationErr(errs, "upstream.backoff", cfg.Upstream.Backoff)
	errs = appendDurationErr(errs, "upstream.max_backoff", cfg.Upstream.MaxBackoff)

	// Playback
	if cfg.Playback.FrameRate < 0 {
		errs = append(errs, fmt.Errorf("playback.frame_rate %v is invalid; must be positive", cfg.Playback.FrameRate))
	}
	errs = appendDurationErr(errs, "playback.tick_interval", cfg.Playback.TickInterval)

	// Audio
	if cfg.Audio.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d is invalid; must be positive", cfg.Audio.SampleRate))
	}
	if cfg.Audio.Channels < 0 || cfg.Audio.Channels > 2 {
		errs = append(errs, fmt.Errorf("audio.channels %d is invalid; valid values: 1 (mono), 2 (stereo)", cfg.Audio.Channels))
	}

	// Sink name validation; warn for unknown sink names.
	validateSinkName("audio", cfg.Sinks.Audio.Name)
	validateSinkName("mesh", cfg.Sinks.Mesh.Name)

	// Sink ↔ asset cross-validation
	if cfg.Sinks.Mesh.Name == "gltf" && cfg.Sinks.Mesh.Path == "" {
		errs = append(errs, errors.New("sinks.mesh.path is required when name is gltf"))
	}
	if cfg.Sinks.Mesh.Name == "memory" {
		if _, ok := cfg.Sinks.Mesh.Options["morph_targets"]; !ok {
			slog.Warn("memory mesh sink has no morph_targets option; its catalog will be empty")
		}
	}

	return errors.Join(errs...)
}

// appendDurationErr appends an error to errs when value is set but does not
// parse as a positive Go duration. Empty values are left to the accessor
// defaults.
func appendDurationErr(errs []error, field, value string) []error {
	if value == "" {
		return errs
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return append(errs, fmt.Errorf("%s %q is not a valid duration: %w", field, value, err))
	}
	if d <= 0 {
		return append(errs, fmt.Errorf("%s %q is invalid; must be positive", field, value))
	}
	return errs
}

// validateSinkName logs a warning if name is non-empty and not found in
// the [ValidSinkNames] list for the given kind.
func validateSinkName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidSinkNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown sink name; may be a typo or an externally registered sink",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
