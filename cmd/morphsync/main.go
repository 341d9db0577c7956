// Command morphsync is the main entry point for the morphsync animation
// playback server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/morphsync/internal/app"
	"github.com/MrWong99/morphsync/internal/config"
	"github.com/MrWong99/morphsync/internal/observe"
	"github.com/MrWong99/morphsync/pkg/sink"
	"github.com/MrWong99/morphsync/pkg/sink/gltf"
	"github.com/MrWong99/morphsync/pkg/sink/speaker"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "morphsync: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "morphsync: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger, logLevel := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("morphsync starting",
		"config", *configPath,
		"listen_addr", cfg.Server.Addr(),
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	telemetryShutdown, err := observe.InitProvider(context.Background(), observe.ProviderConfig{
		ServiceName: "morphsync",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetryShutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Sink registry ─────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinSinks(reg)

	sinks, err := buildSinks(cfg, reg)
	if err != nil {
		slog.Error("failed to build sinks", "err", err)
		return 1
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(cfg, sinks)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot-reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		applyReload(old, new, logLevel, application)
	})
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("server ready - press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Sink wiring ───────────────────────────────────────────────────────────────

// registerBuiltinSinks wires all built-in sink factories into reg. Each
// factory receives a config.SinkConfig and constructs the sink from the real
// implementation packages.
func registerBuiltinSinks(reg *config.Registry) {
	// ── Audio ─────────────────────────────────────────────────────────────────

	reg.RegisterAudioSink("speaker", func(entry config.SinkConfig) (sink.AudioSink, error) {
		var opts []speaker.Option
		if d := optDuration(entry.Options, "buffer_size"); d > 0 {
			opts = append(opts, speaker.WithBufferSize(d))
		}
		if sr := optInt(entry.Options, "sample_rate"); sr > 0 {
			opts = append(opts, speaker.WithFormat(sr, optInt(entry.Options, "channels")))
		}
		return speaker.New(opts...)
	})

	reg.RegisterAudioSink("null", func(config.SinkConfig) (sink.AudioSink, error) {
		return &sink.NullAudio{}, nil
	})

	// ── Mesh ──────────────────────────────────────────────────────────────────

	reg.RegisterMeshSink("gltf", func(entry config.SinkConfig) (sink.MeshSink, error) {
		var opts []gltf.Option
		if i := optInt(entry.Options, "mesh_index"); i > 0 {
			opts = append(opts, gltf.WithMeshIndex(i))
		}
		return gltf.FromFile(entry.Path, opts...)
	})

	reg.RegisterMeshSink("memory", func(entry config.SinkConfig) (sink.MeshSink, error) {
		return sink.NewMemoryMesh(optStringList(entry.Options, "morph_targets")), nil
	})

	// Debug log of all registered sinks.
	for kind, names := range config.ValidSinkNames {
		for _, name := range names {
			slog.Debug("registered sink", "kind", kind, "name", name)
		}
	}
}

// buildSinks instantiates the configured sinks using the registry and returns
// them in an [app.Sinks] struct for the application to consume.
func buildSinks(cfg *config.Config, reg *config.Registry) (*app.Sinks, error) {
	audioSink, err := reg.CreateAudioSink(cfg.Sinks.Audio)
	if err != nil {
		return nil, fmt.Errorf("create audio sink %q: %w", cfg.Sinks.Audio.Name, err)
	}
	slog.Info("sink created", "kind", "audio",
		"name", sinkName(cfg.Sinks.Audio.Name, config.DefaultAudioSinkName))

	meshSink, err := reg.CreateMeshSink(cfg.Sinks.Mesh)
	if err != nil {
		return nil, fmt.Errorf("create mesh sink %q: %w", cfg.Sinks.Mesh.Name, err)
	}
	slog.Info("sink created", "kind", "mesh",
		"name", sinkName(cfg.Sinks.Mesh.Name, config.DefaultMeshSinkName),
		"morphTargets", len(meshSink.ListAllMorphTargetNames()))

	return &app.Sinks{Audio: audioSink, Mesh: meshSink}, nil
}

// ── Config hot-reload ─────────────────────────────────────────────────────────

// applyReload applies hot-applicable config changes in place and reports the
// ones that need a restart.
func applyReload(old, new *config.Config, logLevel *slog.LevelVar, application *app.App) {
	diff := config.Diff(old, new)

	if diff.LogLevelChanged {
		logLevel.Set(diff.NewLogLevel.Slog())
		slog.Info("log level changed", "level", diff.NewLogLevel)
	}
	if diff.FrameRateChanged {
		application.Gateway().SetFrameRate(diff.NewFrameRate)
		slog.Info("frame rate changed", "fps", diff.NewFrameRate)
	}
	if diff.RestartRequired() {
		slog.Warn("upstream or sink config changed; restart to apply")
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔════════════════════════════════════════╗")
	fmt.Printf("║  %-38s║\n", "morphsync startup summary")
	fmt.Println("╠════════════════════════════════════════╣")
	printRow("Listen addr", cfg.Server.Addr())
	if cfg.Server.TLS != nil {
		printRow("TLS", "enabled")
	} else {
		printRow("TLS", "(disabled)")
	}
	if cfg.Upstream.Enabled() {
		printRow("Upstream", cfg.Upstream.URL)
	} else {
		printRow("Upstream", "(disabled)")
	}
	printRow("Frame rate", fmt.Sprintf("%g fps", cfg.Playback.GetFrameRate()))
	printRow("Tick interval", cfg.Playback.GetTickInterval().String())
	printRow("Audio format", fmt.Sprintf("%d Hz / %d ch", cfg.Audio.GetSampleRate(), cfg.Audio.GetChannels()))
	printRow("Audio sink", sinkName(cfg.Sinks.Audio.Name, config.DefaultAudioSinkName))
	printRow("Mesh sink", sinkName(cfg.Sinks.Mesh.Name, config.DefaultMeshSinkName))
	if cfg.Sinks.Mesh.Path != "" {
		printRow("Mesh asset", cfg.Sinks.Mesh.Path)
	}
	fmt.Println("╚════════════════════════════════════════╝")
}

func printRow(label, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len(value) > 20 {
		value = value[:17] + "…"
	}
	fmt.Printf("║  %-14s : %-20s ║\n", label, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

// newLogger builds the process logger. The returned LevelVar lets config
// hot-reload adjust verbosity without replacing the handler.
func newLogger(level config.LogLevel) (*slog.Logger, *slog.LevelVar) {
	lvl := new(slog.LevelVar)
	lvl.Set(level.Slog())
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), lvl
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// sinkName resolves the display name of a sink, substituting the registry
// default when the config leaves it empty.
func sinkName(configured, def string) string {
	if configured == "" {
		return def
	}
	return configured
}

// optString extracts a string value from a sink Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}

// optInt extracts an integer value from a sink Options map[string]any.
// Returns 0 if the map is nil, the key is absent, or the value is not an int.
func optInt(opts map[string]any, key string) int {
	if opts == nil {
		return 0
	}
	v, ok := opts[key]
	if !ok {
		return 0
	}
	i, ok := v.(int)
	if !ok {
		return 0
	}
	return i
}

// optDuration extracts a duration value from a sink Options map[string]any.
// The value must be a string in time.ParseDuration syntax; anything else
// yields 0.
func optDuration(opts map[string]any, key string) time.Duration {
	s := optString(opts, key)
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		slog.Warn("ignoring unparseable duration option", "key", key, "value", s)
		return 0
	}
	return d
}

// optStringList extracts a list of strings from a sink Options map[string]any.
// Non-string elements are skipped.
func optStringList(opts map[string]any, key string) []string {
	if opts == nil {
		return nil
	}
	v, ok := opts[key]
	if !ok {
		return nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
