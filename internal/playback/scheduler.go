// Package playback owns the animation playback state machine and the run
// loop that drives it.
//
// The split mirrors the two halves of the problem:
//
//   - [Scheduler] is a plain state machine over one live clip: start,
//     advance by a time delta, stop. It holds no goroutines and does no
//     timing of its own; every transition happens inside a method call.
//   - [Loop] is the single goroutine that owns a Scheduler. Transports hand
//     clips over through a last-write-wins channel and a wall-clock ticker
//     produces the deltas, so start/tick/stop are never invoked
//     concurrently.
//
// Anything that needs playback to happen talks to the Loop; nothing else
// may touch the Scheduler while the Loop runs.
//
// This package lives under internal/ because it encapsulates
// application-private processing logic and is not intended to be imported
// by external code.
package playback

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/MrWong99/morphsync/pkg/anim"
	"github.com/MrWong99/morphsync/pkg/sink"
)

// ErrInvalidClip reports a clip that must never reach the sinks: one with
// zero frames or zero audio bytes.
var ErrInvalidClip = errors.New("playback: clip has no frames or no audio")

// noFrame is the frame cursor sentinel meaning no frame has been applied to
// the mesh yet. Frame 0 is real data, so the cursor starts below it.
const noFrame = -1

// State is a read-only snapshot of the scheduler's position.
type State struct {
	// Playing is true while a clip is live.
	Playing bool `json:"playing"`

	// ClipID identifies the live clip; empty when idle.
	ClipID string `json:"clipId,omitempty"`

	// ElapsedSeconds is the accumulated playback time of the live clip.
	ElapsedSeconds float64 `json:"elapsedSeconds"`

	// FrameIndex is the last frame applied to the mesh, -1 before any.
	FrameIndex int `json:"frameIndex"`
}

// TickResult reports what a single [Scheduler.Tick] did, so the loop can
// log and meter transitions without reaching into scheduler state.
type TickResult struct {
	// AppliedFrame is the frame index emitted to the mesh this tick,
	// -1 when no frame was emitted.
	AppliedFrame int

	// UnknownMorphs counts weights in the emitted frame whose names are
	// outside the mesh catalog. They are forwarded regardless; what to do
	// with an unknown name is the mesh's decision.
	UnknownMorphs int

	// Finished is true when this tick crossed the clip's duration and
	// performed the stop exit.
	Finished bool
}

// Scheduler advances one animation clip against an externally supplied
// clock and drives the audio and mesh sinks.
//
// A Scheduler is NOT safe for concurrent use. It is designed to be owned by
// a single goroutine (in production the [Loop]) which serializes every
// call. The sinks it drives carry their own concurrency contracts.
type Scheduler struct {
	audio sink.AudioSink
	mesh  sink.MeshSink
	log   *slog.Logger

	// catalog is the mesh's morph target set, captured once at construction.
	// The MeshSink contract requires the catalog to be stable.
	catalog map[string]struct{}

	clip       *anim.Clip
	playing    bool
	elapsed    float64
	frameIndex int
}

// SchedulerOption configures a [Scheduler].
type SchedulerOption func(*Scheduler)

// WithLogger sets the logger used for clip lifecycle messages.
// Defaults to [slog.Default].
func WithLogger(log *slog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if log != nil {
			s.log = log
		}
	}
}

// NewScheduler builds an idle scheduler over the given sinks.
func NewScheduler(audio sink.AudioSink, mesh sink.MeshSink, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		audio:      audio,
		mesh:       mesh,
		log:        slog.Default(),
		frameIndex: noFrame,
	}
	for _, opt := range opts {
		opt(s)
	}
	names := mesh.ListAllMorphTargetNames()
	s.catalog = make(map[string]struct{}, len(names))
	for _, n := range names {
		s.catalog[n] = struct{}{}
	}
	return s
}

// Start begins playback of clip from the beginning.
//
// An invalid clip (no frames or no audio) is rejected with [ErrInvalidClip]
// before anything is touched: no state change, no sink calls, and a clip
// already playing keeps playing. A valid clip pre-empts the live one, which
// gets the full stop exit (audio halted, cursor reset, face zeroed) before
// the new clip's audio starts.
func (s *Scheduler) Start(clip *anim.Clip) error {
	if clip == nil || len(clip.Frames) == 0 || len(clip.PCM) == 0 {
		return fmt.Errorf("%w (id %q)", ErrInvalidClip, clipID(clip))
	}

	if s.playing {
		s.log.Debug("pre-empting live clip",
			"oldClip", s.clip.ID,
			"newClip", clip.ID,
			"elapsedSeconds", s.elapsed,
		)
		s.stopExit()
	}

	if err := s.audio.LoadAndPlay(clip.PCM, clip.SampleRate, clip.Channels); err != nil {
		return fmt.Errorf("playback: starting audio for clip %q: %w", clip.ID, err)
	}

	s.clip = clip
	s.playing = true
	s.elapsed = 0
	s.frameIndex = noFrame

	s.log.Info("clip started",
		"clip", clip.ID,
		"frames", len(clip.Frames),
		"durationSeconds", clip.DurationSeconds,
		"frameRate", clip.FrameRate,
	)
	return nil
}

// Tick advances playback by delta of wall-clock time.
//
// Crossing the clip duration performs the stop exit exactly once, however
// far the tick overshoots. Otherwise the target frame is
// floor(elapsed × frameRate); a frame is emitted only when the target moved
// to a new index still inside the track. Frames the clock jumped over are
// dropped, not interpolated: slow tick rates degrade to fewer poses, never
// to lag.
func (s *Scheduler) Tick(delta time.Duration) TickResult {
	if !s.playing {
		return TickResult{AppliedFrame: noFrame}
	}

	s.elapsed += delta.Seconds()

	if s.elapsed >= s.clip.DurationSeconds {
		s.log.Info("clip finished",
			"clip", s.clip.ID,
			"durationSeconds", s.clip.DurationSeconds,
			"lastFrame", s.frameIndex,
		)
		s.stopExit()
		return TickResult{AppliedFrame: noFrame, Finished: true}
	}

	target := int(math.Floor(s.elapsed * s.clip.FrameRate))
	if target != s.frameIndex && target < len(s.clip.Frames) {
		s.frameIndex = target
		unknown := 0
		for name, weight := range s.clip.Frames[target].Weights {
			if _, ok := s.catalog[name]; !ok {
				unknown++
			}
			s.mesh.SetMorphWeight(name, weight)
		}
		return TickResult{AppliedFrame: target, UnknownMorphs: unknown}
	}

	return TickResult{AppliedFrame: noFrame}
}

// Stop halts the live clip and resets the character. No-op when idle: the
// sinks are not touched again once the stop exit has run.
func (s *Scheduler) Stop() {
	if !s.playing {
		return
	}
	s.log.Info("clip stopped",
		"clip", s.clip.ID,
		"elapsedSeconds", s.elapsed,
		"lastFrame", s.frameIndex,
	)
	s.stopExit()
}

// State returns a snapshot of the current position.
func (s *Scheduler) State() State {
	return State{
		Playing:        s.playing,
		ClipID:         clipID(s.clip),
		ElapsedSeconds: s.elapsed,
		FrameIndex:     s.frameIndex,
	}
}

// stopExit performs the full exit sequence: audio halted, cursor reset,
// and an explicit all-zero weight emission for every morph target the mesh
// knows. The zero reset is what guarantees no stale expression survives an
// interrupted clip.
func (s *Scheduler) stopExit() {
	s.audio.Stop()
	s.clip = nil
	s.playing = false
	s.elapsed = 0
	s.frameIndex = noFrame
	for _, name := range s.mesh.ListAllMorphTargetNames() {
		s.mesh.SetMorphWeight(name, 0)
	}
}

func clipID(c *anim.Clip) string {
	if c == nil {
		return ""
	}
	return c.ID
}
