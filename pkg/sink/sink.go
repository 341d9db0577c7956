// Package sink defines the output boundary of the animation pipeline.
//
// The two abstractions are:
//
//   - [AudioSink] takes decoded PCM and plays it to whatever the deployment
//     uses for sound (a speaker device, a render process, nothing at all).
//   - [MeshSink] takes named morph target weights and applies them to a
//     character mesh, and can enumerate every morph target it knows so the
//     scheduler can zero the whole face on stop.
//
// Implementations are provided by adapter packages (sink/speaker, sink/gltf) and
// by the in-memory types below for headless deployments. This package lives
// under pkg/ because external renderer adapters are expected to implement
// these interfaces.
package sink

import (
	"log/slog"
	"sync"
)

// AudioSink plays decoded clip audio.
//
// The playback scheduler serializes calls, but implementations must be safe
// for concurrent use anyway because health checks and shutdown paths touch
// sinks from other goroutines.
type AudioSink interface {
	// LoadAndPlay starts playing pcm (raw 16-bit little-endian samples in
	// the given rate and channel layout) from the beginning, replacing
	// whatever was playing before. It returns an error only when playback
	// cannot start at all; once started, playback runs to completion or
	// until Stop.
	LoadAndPlay(pcm []byte, sampleRate, channels int) error

	// Stop halts playback immediately and discards the loaded audio.
	// Safe to call when nothing is playing.
	Stop()
}

// MeshSink applies morph target weights to a character mesh.
//
// Implementations must be safe for concurrent use: weight writes come from
// the playback loop while readiness checks read the catalog.
type MeshSink interface {
	// SetMorphWeight applies value to the named morph target. Unknown names
	// are the implementation's concern; the scheduler applies whatever the
	// payload carried.
	SetMorphWeight(name string, value float64)

	// ListAllMorphTargetNames returns every morph target the mesh exposes.
	// The scheduler drives a full zero-weight reset over this list when a
	// clip stops, so the result must be exhaustive and stable.
	ListAllMorphTargetNames() []string
}

// NullAudio is an [AudioSink] that discards everything. Used by headless
// deployments where the render process owns actual audio output.
type NullAudio struct{}

var _ AudioSink = (*NullAudio)(nil)

// LoadAndPlay implements [AudioSink]. It accepts and discards the audio.
func (*NullAudio) LoadAndPlay([]byte, int, int) error { return nil }

// Stop implements [AudioSink].
func (*NullAudio) Stop() {}

// MemoryMesh is a [MeshSink] that keeps weights in memory against a fixed
// catalog of morph target names. It backs headless deployments and is handy
// in tests that want real weight state without a mesh file.
type MemoryMesh struct {
	mu      sync.RWMutex
	names   []string
	weights map[string]float64

	warnedUnknown sync.Once
}

var _ MeshSink = (*MemoryMesh)(nil)

// NewMemoryMesh builds a mesh sink over the given morph target catalog.
// The catalog is fixed: weights for names outside it are dropped.
func NewMemoryMesh(names []string) *MemoryMesh {
	m := &MemoryMesh{
		names:   make([]string, len(names)),
		weights: make(map[string]float64, len(names)),
	}
	copy(m.names, names)
	for _, n := range names {
		m.weights[n] = 0
	}
	return m
}

// SetMorphWeight implements [MeshSink]. Writes to names outside the catalog
// are dropped, with a warning logged on the first occurrence only.
func (m *MemoryMesh) SetMorphWeight(name string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.weights[name]; !ok {
		m.warnedUnknown.Do(func() {
			slog.Warn("memory mesh: dropping weight for unknown morph target",
				"name", name,
				"catalogSize", len(m.names),
			)
		})
		return
	}
	m.weights[name] = value
}

// ListAllMorphTargetNames implements [MeshSink]. The returned slice is a copy.
func (m *MemoryMesh) ListAllMorphTargetNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.names))
	copy(out, m.names)
	return out
}

// Weight returns the current value of one morph target and whether the name
// is in the catalog.
func (m *MemoryMesh) Weight(name string) (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.weights[name]
	return v, ok
}

// Weights returns a snapshot of all current weights.
func (m *MemoryMesh) Weights() map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]float64, len(m.weights))
	for k, v := range m.weights {
		out[k] = v
	}
	return out
}
