// Package app wires all morphsync subsystems into a running service.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes them until the context falls, and Shutdown tears
// everything down in order.
//
// Sinks are the injection seam: main populates them via the config registry,
// tests pass in-memory implementations directly.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/morphsync/internal/config"
	"github.com/MrWong99/morphsync/internal/gateway"
	"github.com/MrWong99/morphsync/internal/health"
	"github.com/MrWong99/morphsync/internal/playback"
	"github.com/MrWong99/morphsync/internal/server"
	"github.com/MrWong99/morphsync/internal/stream"
	"github.com/MrWong99/morphsync/pkg/sink"
)

// serverShutdownTimeout bounds the graceful drain of in-flight HTTP requests
// once the run context falls.
const serverShutdownTimeout = 10 * time.Second

// Sinks holds the output devices the playback engine drives. Populated by
// main.go via the config registry.
type Sinks struct {
	Audio sink.AudioSink
	Mesh  sink.MeshSink
}

// App owns all subsystem lifetimes and orchestrates the ingest-to-playback
// pipeline.
type App struct {
	cfg   *config.Config
	sinks *Sinks

	// Subsystems, initialised in New and driven by Run.
	loop     *playback.Loop
	gw       *gateway.Gateway
	upstream *stream.Client // nil when no upstream feed is configured
	srv      *server.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The sinks come from
// main.go (populated via the config registry); both must be non-nil.
func New(cfg *config.Config, sinks *Sinks) (*App, error) {
	if sinks == nil || sinks.Audio == nil {
		return nil, errors.New("app: audio sink is required")
	}
	if sinks.Mesh == nil {
		return nil, errors.New("app: mesh sink is required")
	}

	a := &App{
		cfg:   cfg,
		sinks: sinks,
	}

	// ── 1. Playback engine ───────────────────────────────────────────────
	sched := playback.NewScheduler(sinks.Audio, sinks.Mesh)
	a.loop = playback.NewLoop(sched,
		playback.WithTickInterval(cfg.Playback.GetTickInterval()),
	)

	// ── 2. Ingestion gateway ─────────────────────────────────────────────
	a.gw = gateway.New(a.loop,
		gateway.WithFrameRate(cfg.Playback.GetFrameRate()),
		gateway.WithAudioFormat(cfg.Audio.GetSampleRate(), cfg.Audio.GetChannels()),
	)

	// ── 3. Upstream feed ─────────────────────────────────────────────────
	if cfg.Upstream.Enabled() {
		client, err := stream.NewClient(stream.ClientConfig{
			URL:         cfg.Upstream.URL,
			DialTimeout: cfg.Upstream.GetDialTimeout(),
			MaxRetries:  cfg.Upstream.GetMaxRetries(),
			Backoff:     cfg.Upstream.GetBackoff(),
			MaxBackoff:  cfg.Upstream.GetMaxBackoff(),
			Handler: func(ctx context.Context, raw []byte) {
				a.gw.HandleMessage(ctx, "upstream", raw)
			},
		})
		if err != nil {
			return nil, fmt.Errorf("app: init upstream feed: %w", err)
		}
		a.upstream = client
	}

	// ── 4. HTTP surface ──────────────────────────────────────────────────
	srv, err := server.New(server.Config{
		Addr:     cfg.Server.Addr(),
		TLS:      cfg.Server.TLS,
		Gateway:  a.gw,
		Playback: a.loop,
		Checkers: a.healthCheckers(),
	})
	if err != nil {
		return nil, fmt.Errorf("app: init http server: %w", err)
	}
	a.srv = srv

	// Externally registered sinks may hold OS resources.
	if c, ok := sinks.Audio.(io.Closer); ok {
		a.closers = append(a.closers, c.Close)
	}
	if c, ok := sinks.Mesh.(io.Closer); ok {
		a.closers = append(a.closers, c.Close)
	}

	return a, nil
}

// healthCheckers builds the readiness checks for the HTTP surface. The mesh
// check guards against an empty morph catalog (every frame would be silently
// ignored); the upstream check only exists when a feed is configured.
func (a *App) healthCheckers() []health.Checker {
	checks := []health.Checker{
		{
			Name: "mesh",
			Check: func(context.Context) error {
				if len(a.sinks.Mesh.ListAllMorphTargetNames()) == 0 {
					return errors.New("mesh catalog is empty")
				}
				return nil
			},
		},
	}
	if a.upstream != nil {
		checks = append(checks, health.Checker{
			Name: "upstream",
			Check: func(context.Context) error {
				if !a.upstream.Connected() {
					return errors.New("upstream feed not connected")
				}
				return nil
			},
		})
	}
	return checks
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Gateway returns the ingestion gateway. main.go uses it to apply config
// hot-reloads.
func (a *App) Gateway() *gateway.Gateway {
	return a.gw
}

// Playback returns the playback loop.
func (a *App) Playback() *playback.Loop {
	return a.loop
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts every subsystem and blocks until ctx is cancelled or one of them
// fails. A clean cancellation returns nil; a subsystem failure cancels the
// others and is returned.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.loop.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("app: playback loop: %w", err)
		}
		return nil
	})

	if a.upstream != nil {
		g.Go(func() error {
			if err := a.upstream.Run(gctx); err != nil {
				return fmt.Errorf("app: upstream feed: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
		defer cancel()
		return a.srv.Shutdown(shutdownCtx)
	})

	slog.Info("service running",
		"addr", a.cfg.Server.Addr(),
		"upstream", a.cfg.Upstream.URL,
		"frameRate", a.cfg.Playback.GetFrameRate(),
	)
	return g.Wait()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down remaining resources after Run has returned. It respects
// the context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
