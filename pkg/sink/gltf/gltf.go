// Package gltf implements a mesh sink over a glTF asset's morph targets.
//
// The catalog of addressable morph targets is read from the asset itself:
// target names come from the mesh's "targetNames" extras entry (the
// convention most exporters follow), falling back to positional "target_N"
// names when the asset carries none. Weights live in memory in target-index
// order, which is the layout a renderer feeds straight into a node's
// weights array.
//
// Unknown weight names are dropped with a once-per-name warning that
// includes a best-effort "did you mean" suggestion, so a payload/asset
// naming mismatch shows up in logs instead of as a frozen face.
package gltf

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	qgltf "github.com/qmuntal/gltf"

	"github.com/MrWong99/morphsync/pkg/morphname"
	"github.com/MrWong99/morphsync/pkg/sink"
)

// ErrNoMorphTargets reports an asset whose selected mesh carries no morph
// targets. Callers that can fall back to another sink should test for it
// with errors.Is.
var ErrNoMorphTargets = errors.New("gltf: mesh has no morph targets")

type config struct {
	log       *slog.Logger
	meshIndex int
	suggest   *morphname.Suggester
}

// Option configures mesh loading.
type Option func(*config)

// WithLogger sets the logger used for load and drop diagnostics.
// A nil logger is ignored.
func WithLogger(log *slog.Logger) Option {
	return func(c *config) {
		if log != nil {
			c.log = log
		}
	}
}

// WithMeshIndex selects which mesh of the document to drive. Defaults to 0,
// the first mesh. Negative values are ignored.
func WithMeshIndex(i int) Option {
	return func(c *config) {
		if i >= 0 {
			c.meshIndex = i
		}
	}
}

// WithSuggester replaces the name suggester used in unknown-name warnings.
// A nil suggester is ignored.
func WithSuggester(s *morphname.Suggester) Option {
	return func(c *config) {
		if s != nil {
			c.suggest = s
		}
	}
}

// Mesh is a [sink.MeshSink] whose morph target catalog comes from a glTF
// document. The catalog is fixed at load time; weight writes to names
// outside it are dropped.
type Mesh struct {
	log     *slog.Logger
	suggest *morphname.Suggester

	meshName string
	names    []string       // catalog, in target-index order
	index    map[string]int // name -> target index

	mu      sync.RWMutex
	weights []float64 // by target index
	warned  map[string]struct{}
}

var _ sink.MeshSink = (*Mesh)(nil)

// FromFile loads path (binary .glb or JSON .gltf) and builds a mesh sink
// over the morph targets of the selected mesh. The first primitive that
// carries morph targets defines the catalog; assets without any return
// [ErrNoMorphTargets].
func FromFile(path string, opts ...Option) (*Mesh, error) {
	cfg := config{
		log:     slog.Default(),
		suggest: morphname.New(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	doc, err := qgltf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("gltf: open %s: %w", path, err)
	}
	if cfg.meshIndex >= len(doc.Meshes) {
		return nil, fmt.Errorf("gltf: %s has %d meshes, mesh index %d out of range", path, len(doc.Meshes), cfg.meshIndex)
	}
	gm := doc.Meshes[cfg.meshIndex]

	var targetCount int
	for _, prim := range gm.Primitives {
		if len(prim.Targets) > 0 {
			targetCount = len(prim.Targets)
			break
		}
	}
	if targetCount == 0 {
		return nil, fmt.Errorf("%w: %s mesh %d", ErrNoMorphTargets, path, cfg.meshIndex)
	}

	names := targetNames(gm, targetCount)
	m := &Mesh{
		log:      cfg.log,
		suggest:  cfg.suggest,
		meshName: gm.Name,
		names:    names,
		index:    make(map[string]int, len(names)),
		weights:  make([]float64, len(names)),
		warned:   make(map[string]struct{}),
	}
	for i, n := range names {
		m.index[n] = i
	}

	m.log.Info("loaded morph target catalog",
		"path", path,
		"mesh", gm.Name,
		"targets", len(names),
	)
	return m, nil
}

// targetNames resolves the name of each of count morph targets: positional
// fallbacks first, then overrides from the "targetNames" extras entry where
// the exporter wrote them.
func targetNames(gm *qgltf.Mesh, count int) []string {
	names := make([]string, count)
	for i := range names {
		names[i] = fmt.Sprintf("target_%d", i)
	}
	extras, ok := gm.Extras.(map[string]interface{})
	if !ok {
		return names
	}
	raw, ok := extras["targetNames"].([]interface{})
	if !ok {
		return names
	}
	for i, v := range raw {
		if i >= count {
			break
		}
		if s, ok := v.(string); ok && s != "" {
			names[i] = s
		}
	}
	return names
}

// SetMorphWeight implements [sink.MeshSink]. Writes to names outside the
// catalog are dropped; the first drop of each distinct name logs a warning
// with a suggestion when one clears the similarity thresholds.
func (m *Mesh) SetMorphWeight(name string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx, ok := m.index[name]
	if !ok {
		m.warnUnknownLocked(name)
		return
	}
	m.weights[idx] = value
}

func (m *Mesh) warnUnknownLocked(name string) {
	if _, seen := m.warned[name]; seen {
		return
	}
	m.warned[name] = struct{}{}

	attrs := []any{"name", name, "mesh", m.meshName}
	if suggestion, confidence, ok := m.suggest.Suggest(name, m.names); ok {
		attrs = append(attrs, "suggestion", suggestion, "confidence", confidence)
	}
	m.log.Warn("dropping weight for unknown morph target", attrs...)
}

// ListAllMorphTargetNames implements [sink.MeshSink]. The catalog is in
// target-index order and never changes after load; the returned slice is a
// copy.
func (m *Mesh) ListAllMorphTargetNames() []string {
	out := make([]string, len(m.names))
	copy(out, m.names)
	return out
}

// Weight returns the current value of one morph target and whether the
// name is in the catalog.
func (m *Mesh) Weight(name string) (float64, bool) {
	idx, ok := m.index[name]
	if !ok {
		return 0, false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.weights[idx], true
}

// Weights returns a snapshot of all weights in target-index order, the
// shape a renderer assigns to a node's weights array.
func (m *Mesh) Weights() []float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]float64, len(m.weights))
	copy(out, m.weights)
	return out
}
