package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/morphsync/pkg/sink"
)

// ErrSinkNotRegistered is returned by Create* methods when no factory has
// been registered under the requested sink name.
var ErrSinkNotRegistered = errors.New("config: sink not registered")

// Names selected when a sink block leaves its name empty. Both defaults are
// headless, so a blank config runs without a sound device or mesh asset.
const (
	DefaultAudioSinkName = "null"
	DefaultMeshSinkName  = "memory"
)

// Registry maps sink names to their constructor functions for each sink
// kind. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	audio map[string]func(SinkConfig) (sink.AudioSink, error)
	mesh  map[string]func(SinkConfig) (sink.MeshSink, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		audio: make(map[string]func(SinkConfig) (sink.AudioSink, error)),
		mesh:  make(map[string]func(SinkConfig) (sink.MeshSink, error)),
	}
}

// RegisterAudioSink registers an audio sink factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterAudioSink(name string, factory func(SinkConfig) (sink.AudioSink, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audio[name] = factory
}

// RegisterMeshSink registers a mesh sink factory under name.
func (r *Registry) RegisterMeshSink(name string, factory func(SinkConfig) (sink.MeshSink, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mesh[name] = factory
}

// CreateAudioSink instantiates an audio sink using the factory registered
// under entry.Name, or under [DefaultAudioSinkName] when the name is empty.
// Returns [ErrSinkNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateAudioSink(entry SinkConfig) (sink.AudioSink, error) {
	name := entry.Name
	if name == "" {
		name = DefaultAudioSinkName
	}
	r.mu.RLock()
	factory, ok := r.audio[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: audio/%q", ErrSinkNotRegistered, name)
	}
	return factory(entry)
}

// CreateMeshSink instantiates a mesh sink using the factory registered
// under entry.Name, or under [DefaultMeshSinkName] when the name is empty.
func (r *Registry) CreateMeshSink(entry SinkConfig) (sink.MeshSink, error) {
	name := entry.Name
	if name == "" {
		name = DefaultMeshSinkName
	}
	r.mu.RLock()
	factory, ok := r.mesh[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: mesh/%q", ErrSinkNotRegistered, name)
	}
	return factory(entry)
}
