package config

import "reflect"

// ConfigDiff describes what changed between two configs.
// Log level and frame rate can be hot-reloaded; the rest is tracked so the
// reload log can say a restart is needed.
type ConfigDiff struct {
	LogLevelChanged  bool
	NewLogLevel      LogLevel
	FrameRateChanged bool
	NewFrameRate     float64
	UpstreamChanged  bool
	SinksChanged     bool
}

// HotApplicable reports whether the diff carries any change that can be
// applied to a running server.
func (d ConfigDiff) HotApplicable() bool {
	return d.LogLevelChanged || d.FrameRateChanged
}

// RestartRequired reports whether the diff carries changes that only take
// effect after a restart.
func (d ConfigDiff) RestartRequired() bool {
	return d.UpstreamChanged || d.SinksChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	// Frame rate (compared through the accessor so 0 and the default
	// compare equal)
	if old.Playback.GetFrameRate() != new.Playback.GetFrameRate() {
		d.FrameRateChanged = true
		d.NewFrameRate = new.Playback.GetFrameRate()
	}

	// Upstream connection settings
	if old.Upstream != new.Upstream {
		d.UpstreamChanged = true
	}

	// Sink selection
	if !sinkEqual(old.Sinks.Audio, new.Sinks.Audio) || !sinkEqual(old.Sinks.Mesh, new.Sinks.Mesh) {
		d.SinksChanged = true
	}

	return d
}

// sinkEqual compares two sink configs including their options maps.
// Options values come from YAML, so reflect.DeepEqual covers them.
func sinkEqual(a, b SinkConfig) bool {
	return a.Name == b.Name && a.Path == b.Path && reflect.DeepEqual(a.Options, b.Options)
}
