// Package mock provides in-memory mock implementations of the [sink.AudioSink]
// and [sink.MeshSink] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call in
// order so that tests can assert on call counts, arguments and relative
// ordering (for example that a stop reset lands before the next clip's first
// frame), and they expose exported fields that the test can set to control
// return values.
//
// Typical usage:
//
//	audio := &mock.AudioSink{}
//	mesh := &mock.MeshSink{NamesResult: []string{"jawOpen", "browUp"}}
//	sched := playback.NewScheduler(audio, mesh)
//	_ = sched.Start(clip)
//	got := mesh.SetWeightCalls
package mock

import (
	"sync"

	"github.com/MrWong99/morphsync/pkg/sink"
)

// ─── AudioSink ────────────────────────────────────────────────────────────────

// LoadAndPlayCall records the arguments of a single [AudioSink.LoadAndPlay]
// invocation.
type LoadAndPlayCall struct {
	// PCM is the audio data passed to LoadAndPlay.
	PCM []byte
	// SampleRate is the sampleRate argument passed to LoadAndPlay.
	SampleRate int
	// Channels is the channels argument passed to LoadAndPlay.
	Channels int
}

// AudioSink is a mock implementation of [sink.AudioSink].
// Set the exported result fields before use; inspect the Call* fields after.
type AudioSink struct {
	mu sync.Mutex

	// LoadAndPlayError is returned by [AudioSink.LoadAndPlay].
	LoadAndPlayError error

	// LoadAndPlayCalls records all LoadAndPlay invocations in order.
	LoadAndPlayCalls []LoadAndPlayCall

	// CallCountStop records how many times Stop was called.
	CallCountStop int
}

var _ sink.AudioSink = (*AudioSink)(nil)

// LoadAndPlay implements [sink.AudioSink]. Records the call and returns
// LoadAndPlayError.
func (a *AudioSink) LoadAndPlay(pcm []byte, sampleRate, channels int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.LoadAndPlayCalls = append(a.LoadAndPlayCalls, LoadAndPlayCall{
		PCM:        pcm,
		SampleRate: sampleRate,
		Channels:   channels,
	})
	return a.LoadAndPlayError
}

// Stop implements [sink.AudioSink]. Records the call.
func (a *AudioSink) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.CallCountStop++
}

// ─── MeshSink ─────────────────────────────────────────────────────────────────

// SetWeightCall records the arguments of a single [MeshSink.SetMorphWeight]
// invocation.
type SetWeightCall struct {
	// Name is the morph target name passed to SetMorphWeight.
	Name string
	// Value is the weight passed to SetMorphWeight.
	Value float64
}

// MeshSink is a mock implementation of [sink.MeshSink].
// Set NamesResult to control the morph target catalog; inspect
// SetWeightCalls after.
type MeshSink struct {
	mu sync.Mutex

	// NamesResult is returned by [MeshSink.ListAllMorphTargetNames].
	// A nil slice is returned as-is, which makes a full zero reset a no-op.
	NamesResult []string

	// SetWeightCalls records all SetMorphWeight invocations in order.
	SetWeightCalls []SetWeightCall

	// CallCountListNames records how many times ListAllMorphTargetNames
	// was called.
	CallCountListNames int
}

var _ sink.MeshSink = (*MeshSink)(nil)

// SetMorphWeight implements [sink.MeshSink]. Records the call.
func (m *MeshSink) SetMorphWeight(name string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SetWeightCalls = append(m.SetWeightCalls, SetWeightCall{Name: name, Value: value})
}

// ListAllMorphTargetNames implements [sink.MeshSink]. Returns NamesResult.
func (m *MeshSink) ListAllMorphTargetNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCountListNames++
	return m.NamesResult
}

// Snapshot returns a copy of all recorded weight writes. Use this instead of
// reading SetWeightCalls directly when the playback loop may still be running.
func (m *MeshSink) Snapshot() []SetWeightCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SetWeightCall, len(m.SetWeightCalls))
	copy(out, m.SetWeightCalls)
	return out
}

// Reset clears all recorded calls, keeping configured results in place.
// Use it between test phases to isolate assertions.
func (m *MeshSink) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SetWeightCalls = nil
	m.CallCountListNames = 0
}
