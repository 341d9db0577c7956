package anim

import (
	"cmp"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
)

// Decode failure classes. Errors returned by Decode wrap exactly one of
// these, so callers can classify with errors.Is.
var (
	// ErrInvalidAudioEncoding reports audio that is not valid base64.
	ErrInvalidAudioEncoding = errors.New("anim: audio is not valid base64")

	// ErrInvalidBlendshapeJSON reports blendshape data that is not a JSON
	// object with a frames array.
	ErrInvalidBlendshapeJSON = errors.New("anim: blendshape data is not valid JSON")

	// ErrEmptyClip reports a payload that parsed but decodes to nothing
	// playable: zero audio bytes or zero frames.
	ErrEmptyClip = errors.New("anim: clip has no audio or no frames")
)

// blendshapeDoc is the wire shape of the blendshape side of a payload:
//
//	{"frames": [{"frame": 0, "blendshapes": {"jawOpen": 0.5}}]}
type blendshapeDoc struct {
	Frames []frameEntry `json:"frames"`
}

type frameEntry struct {
	Frame       int                `json:"frame"`
	Blendshapes map[string]float64 `json:"blendshapes"`
}

type decodeConfig struct {
	sampleRate int
	channels   int
	frameRate  float64
}

// Option adjusts decoding assumptions for a single Decode call.
type Option func(*decodeConfig)

// WithFormat overrides the assumed PCM layout. Non-positive values are
// ignored so a half-filled envelope cannot zero the duration math.
func WithFormat(sampleRate, channels int) Option {
	return func(c *decodeConfig) {
		if sampleRate > 0 {
			c.sampleRate = sampleRate
		}
		if channels > 0 {
			c.channels = channels
		}
	}
}

// WithFrameRate overrides the blendshape track rate in frames per second.
func WithFrameRate(fps float64) Option {
	return func(c *decodeConfig) {
		if fps > 0 {
			c.frameRate = fps
		}
	}
}

// Decode turns a base64 audio string and a blendshape JSON document into a
// playable Clip. It is a pure transform: no I/O, no logging, no side
// effects. Failures are classified, never partial; a clip either decodes
// whole or not at all.
//
// The audio is not sniffed or validated beyond base64: bytes are trusted to
// be raw 16-bit PCM in the assumed (or overridden) format, and the clip
// duration follows from the byte count alone. Frames keep payload order;
// nothing is sorted, merged or de-duplicated.
func Decode(audioB64, blendshapeJSON string, opts ...Option) (*Clip, error) {
	cfg := decodeConfig{
		sampleRate: DefaultSampleRate,
		channels:   DefaultChannels,
		frameRate:  DefaultFrameRate,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	pcm, err := base64.StdEncoding.DecodeString(audioB64)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAudioEncoding, err)
	}

	var doc blendshapeDoc
	if err := json.Unmarshal([]byte(blendshapeJSON), &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBlendshapeJSON, err)
	}
	// Distinguishes a missing or null frames key from a present-but-empty
	// array; the latter is an aggregation failure below, not a parse failure.
	if doc.Frames == nil {
		return nil, fmt.Errorf("%w: missing frames array", ErrInvalidBlendshapeJSON)
	}

	frames := make([]BlendshapeFrame, len(doc.Frames))
	for i, entry := range doc.Frames {
		frames[i] = BlendshapeFrame{Number: entry.Frame, Weights: entry.Blendshapes}
	}

	if len(pcm) == 0 || len(frames) == 0 {
		return nil, fmt.Errorf("%w: %d audio bytes, %d frames", ErrEmptyClip, len(pcm), len(frames))
	}

	bytesPerSecond := cfg.sampleRate * cfg.channels * 2
	return &Clip{
		PCM:             pcm,
		SampleRate:      cfg.sampleRate,
		Channels:        cfg.channels,
		DurationSeconds: float64(len(pcm)) / float64(bytesPerSecond),
		Frames:          frames,
		FrameRate:       cfg.frameRate,
	}, nil
}

// SortFrames orders frames by their producer-assigned number, keeping the
// relative order of equal numbers. Decode never calls this: payload order is
// trusted as-is and callers that want index order opt in explicitly.
func SortFrames(frames []BlendshapeFrame) {
	slices.SortStableFunc(frames, func(a, b BlendshapeFrame) int {
		return cmp.Compare(a.Number, b.Number)
	})
}
