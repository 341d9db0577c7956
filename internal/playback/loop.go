package playback

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/MrWong99/morphsync/internal/observe"
	"github.com/MrWong99/morphsync/pkg/anim"
)

// defaultTickInterval is the cadence of the playback clock. 10ms keeps the
// frame cursor comfortably ahead of track rates up to 100fps; the drop-frame
// policy absorbs anything slower.
const defaultTickInterval = 10 * time.Millisecond

// Loop is the single goroutine that owns a [Scheduler].
//
// Transports run on their own goroutines (WebSocket read loops, HTTP
// handlers) and must never call the scheduler directly. They hand decoded
// clips to [Loop.Submit] and stop requests to [Loop.RequestStop]; the loop
// serializes those with its own ticker so that scheduler transitions are
// never concurrent.
//
// The submit channel holds at most one clip and a newer submission replaces
// an undelivered older one. There is deliberately no queue: a payload that
// arrives while another is pending is the newer truth about what the
// character should say, so the stale one is dropped.
type Loop struct {
	sched    *Scheduler
	log      *slog.Logger
	metrics  *observe.Metrics
	interval time.Duration

	submit  chan *anim.Clip
	stopReq chan struct{}
	state   atomic.Pointer[State]
}

// LoopOption configures a [Loop].
type LoopOption func(*Loop)

// WithTickInterval sets the playback clock cadence. Defaults to 10ms.
func WithTickInterval(d time.Duration) LoopOption {
	return func(l *Loop) {
		if d > 0 {
			l.interval = d
		}
	}
}

// WithLoopLogger sets the logger for loop-level events.
// Defaults to [slog.Default].
func WithLoopLogger(log *slog.Logger) LoopOption {
	return func(l *Loop) {
		if log != nil {
			l.log = log
		}
	}
}

// WithLoopMetrics sets the metrics instance used for playback instruments.
// Defaults to [observe.DefaultMetrics].
func WithLoopMetrics(m *observe.Metrics) LoopOption {
	return func(l *Loop) {
		if m != nil {
			l.metrics = m
		}
	}
}

// NewLoop builds a loop around sched. The loop does nothing until
// [Loop.Run] is called.
func NewLoop(sched *Scheduler, opts ...LoopOption) *Loop {
	l := &Loop{
		sched:    sched,
		log:      slog.Default(),
		metrics:  observe.DefaultMetrics(),
		interval: defaultTickInterval,
		submit:   make(chan *anim.Clip, 1),
		stopReq:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(l)
	}
	initial := sched.State()
	l.state.Store(&initial)
	return l
}

// Submit hands a decoded clip to the loop. Never blocks: if an earlier clip
// is still waiting to be picked up it is replaced, last write wins.
func (l *Loop) Submit(clip *anim.Clip) {
	for {
		select {
		case l.submit <- clip:
			return
		default:
		}
		select {
		case stale := <-l.submit:
			l.log.Debug("replacing queued clip with newer payload",
				"dropped", stale.ID,
				"queued", clip.ID,
			)
			l.metrics.RecordClipSuperseded(context.Background())
		default:
		}
	}
}

// RequestStop asks the loop to stop the live clip. Never blocks; repeat
// requests before the loop gets to it collapse into one.
func (l *Loop) RequestStop() {
	select {
	case l.stopReq <- struct{}{}:
	default:
	}
}

// State returns the most recently published playback snapshot. Safe to call
// from any goroutine.
func (l *Loop) State() State {
	return *l.state.Load()
}

// Run drives the scheduler until ctx is cancelled. It must be called
// exactly once; the calling goroutine becomes the sole owner of the
// scheduler. On cancellation the live clip gets a full stop exit so the
// character never keeps a stale expression across shutdown.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.publish()
	last := time.Now()

	for {
		select {
		case <-ctx.Done():
			if l.sched.State().Playing {
				l.metrics.RecordPlaybackStop(context.Background(), "shutdown")
			}
			l.sched.Stop()
			l.publish()
			return ctx.Err()

		case clip := <-l.submit:
			now := time.Now()
			wasPlaying := l.sched.State().Playing
			if err := l.sched.Start(clip); err != nil {
				l.log.Error("clip rejected by scheduler",
					"clip", clip.ID,
					"error", err,
				)
				l.metrics.RecordClipRejected(ctx)
			} else {
				if wasPlaying {
					l.metrics.RecordPlaybackStop(ctx, "preempted")
				}
				l.metrics.RecordClipStarted(ctx, clip.DurationSeconds)
				// The new clip's elapsed time starts now, not at the
				// previous tick.
				last = now
			}
			l.publish()

		case <-l.stopReq:
			if l.sched.State().Playing {
				l.metrics.RecordPlaybackStop(ctx, "explicit")
			}
			l.sched.Stop()
			l.publish()

		case now := <-ticker.C:
			delta := now.Sub(last)
			last = now
			res := l.sched.Tick(delta)
			if res.AppliedFrame >= 0 {
				l.metrics.RecordFrameApplied(ctx)
			}
			l.metrics.RecordUnknownMorphs(ctx, res.UnknownMorphs)
			if res.Finished {
				l.metrics.RecordPlaybackStop(ctx, "finished")
			}
			l.publish()
		}
	}
}

// publish refreshes the atomic state snapshot read by [Loop.State].
func (l *Loop) publish() {
	st := l.sched.State()
	l.state.Store(&st)
}
