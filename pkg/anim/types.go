package anim

// Default wire format for clip audio. Payloads carry raw 16-bit little-endian
// PCM and, unless the envelope says otherwise, are assumed to be mono 44.1kHz.
const (
	DefaultSampleRate = 44100
	DefaultChannels   = 1
)

// DefaultFrameRate is the blendshape track rate in frames per second used
// when the payload does not specify one.
const DefaultFrameRate = 60.0

// BlendshapeFrame is one facial pose: a set of morph target weights sampled
// at a single animation frame.
type BlendshapeFrame struct {
	// Number is the frame index as labelled by the producer. It is carried
	// for correlation but playback addresses frames by slice position.
	Number int

	// Weights maps morph target names to their values, nominally in [0, 1].
	// Values are passed through as received; clamping is the mesh's concern.
	Weights map[string]float64
}

// Clip is a fully decoded animation payload: one contiguous stretch of audio
// plus the blendshape track that plays against it. A clip is immutable after
// decoding; the playback scheduler takes ownership on start.
type Clip struct {
	// ID identifies the clip in logs and metrics. Assigned at ingest,
	// empty for clips constructed by hand.
	ID string

	// PCM is raw 16-bit little-endian audio.
	PCM []byte

	// SampleRate in Hz and Channels describe the PCM layout.
	SampleRate int
	Channels   int

	// DurationSeconds is the audio length derived from the PCM byte count.
	// The frame track is cut off when audio ends, never the other way round.
	DurationSeconds float64

	// Frames in payload order. May be non-contiguous or unordered if the
	// producer sent them that way; see SortFrames.
	Frames []BlendshapeFrame

	// FrameRate is the track rate in frames per second.
	FrameRate float64
}
