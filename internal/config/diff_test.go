package config_test

import (
	"testing"

	"github.com/MrWong99/morphsync/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Server:   config.ServerConfig{LogLevel: config.LogInfo},
		Playback: config.PlaybackConfig{FrameRate: 30},
		Sinks: config.SinksConfig{
			Mesh: config.SinkConfig{Name: "gltf", Path: "assets/face.gltf"},
		},
	}
	d := config.Diff(cfg, cfg)
	if d.LogLevelChanged {
		t.Error("expected LogLevelChanged=false for identical configs")
	}
	if d.FrameRateChanged {
		t.Error("expected FrameRateChanged=false for identical configs")
	}
	if d.UpstreamChanged || d.SinksChanged {
		t.Error("expected no upstream or sink changes for identical configs")
	}
	if d.HotApplicable() || d.RestartRequired() {
		t.Error("expected an empty diff for identical configs")
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Server: config.ServerConfig{LogLevel: config.LogInfo}}
	new := &config.Config{Server: config.ServerConfig{LogLevel: config.LogDebug}}

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
	if !d.HotApplicable() {
		t.Error("a log level change should be hot-applicable")
	}
	if d.RestartRequired() {
		t.Error("a log level change should not require a restart")
	}
}

func TestDiff_FrameRateChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Playback: config.PlaybackConfig{FrameRate: 60}}
	new := &config.Config{Playback: config.PlaybackConfig{FrameRate: 30}}

	d := config.Diff(old, new)
	if !d.FrameRateChanged {
		t.Error("expected FrameRateChanged=true")
	}
	if d.NewFrameRate != 30 {
		t.Errorf("expected NewFrameRate=30, got %v", d.NewFrameRate)
	}
	if !d.HotApplicable() {
		t.Error("a frame rate change should be hot-applicable")
	}
}

func TestDiff_FrameRateDefaultEqualsExplicit(t *testing.T) {
	t.Parallel()
	// 0 means "use the default", so 0 -> 60 is not a change.
	old := &config.Config{Playback: config.PlaybackConfig{FrameRate: 0}}
	new := &config.Config{Playback: config.PlaybackConfig{FrameRate: 60}}

	d := config.Diff(old, new)
	if d.FrameRateChanged {
		t.Error("expected FrameRateChanged=false when only the spelling of the default changed")
	}
}

func TestDiff_UpstreamChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Upstream: config.UpstreamConfig{URL: "ws://a:8000/ws"}}
	new := &config.Config{Upstream: config.UpstreamConfig{URL: "ws://b:8000/ws"}}

	d := config.Diff(old, new)
	if !d.UpstreamChanged {
		t.Error("expected UpstreamChanged=true")
	}
	if d.HotApplicable() {
		t.Error("an upstream change alone should not be hot-applicable")
	}
	if !d.RestartRequired() {
		t.Error("an upstream change should require a restart")
	}
}

func TestDiff_SinkNameChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Sinks: config.SinksConfig{Audio: config.SinkConfig{Name: "null"}}}
	new := &config.Config{Sinks: config.SinksConfig{Audio: config.SinkConfig{Name: "speaker"}}}

	d := config.Diff(old, new)
	if !d.SinksChanged {
		t.Error("expected SinksChanged=true")
	}
	if !d.RestartRequired() {
		t.Error("a sink change should require a restart")
	}
}

func TestDiff_SinkOptionsChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Sinks: config.SinksConfig{
		Mesh: config.SinkConfig{Name: "gltf", Path: "a.gltf", Options: map[string]any{"mesh_index": 0}},
	}}
	new := &config.Config{Sinks: config.SinksConfig{
		Mesh: config.SinkConfig{Name: "gltf", Path: "a.gltf", Options: map[string]any{"mesh_index": 1}},
	}}

	d := config.Diff(old, new)
	if !d.SinksChanged {
		t.Error("expected SinksChanged=true for changed sink options")
	}
}

func TestDiff_MultipleChanges(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Server:   config.ServerConfig{LogLevel: config.LogInfo},
		Playback: config.PlaybackConfig{FrameRate: 60},
	}
	new := &config.Config{
		Server:   config.ServerConfig{LogLevel: config.LogWarn},
		Playback: config.PlaybackConfig{FrameRate: 24},
		Upstream: config.UpstreamConfig{URL: "ws://localhost:8000/ws"},
	}

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if !d.FrameRateChanged {
		t.Error("expected FrameRateChanged=true")
	}
	if !d.UpstreamChanged {
		t.Error("expected UpstreamChanged=true")
	}
	if !d.HotApplicable() || !d.RestartRequired() {
		t.Error("expected both hot-applicable and restart-required changes")
	}
}
