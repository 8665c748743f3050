// Package vad defines the Detector interface for voice activity detection
// backends used by the fast-preview gap provider.
//
// Unlike streaming VAD engines, detection here is offline: a whole analysis
// clip is handed over at once and the detector returns the speech segments it
// found. Two backends exist, the Silero ONNX model (preferred) and a pure-Go
// RMS hysteresis detector that needs no model files, plus a mock for tests.
//
// Implementations must be safe for concurrent use; each call is independent.
package vad

import "context"

// Segment is one detected span of speech within the analysed clip.
type Segment struct {
	// StartMs is the segment start in milliseconds from clip begin.
	StartMs int64

	// EndMs is the segment end in milliseconds from clip begin.
	EndMs int64
}

// Result is the outcome of one detection pass.
type Result struct {
	// Segments is ascending by StartMs and non-overlapping.
	Segments []Segment

	// SpeechRatio is the fraction of the clip classified as speech, in
	// [0, 1]. It serves as the aggregate voice-activity probability in
	// confidence blending.
	SpeechRatio float64
}

// Detector analyses a mono PCM clip for speech activity.
type Detector interface {
	// DetectSegments returns the speech segments of samples. An empty
	// segment list with a nil error is a valid "no speech found" outcome;
	// an error means the backend itself failed (missing model, broken
	// runtime) and the caller may fall back to another analysis path.
	DetectSegments(ctx context.Context, samples []float64, sampleRate int) (Result, error)
}

// SegmentRatio computes the summed segment duration over the clip duration,
// clamped to [0, 1]. Backends use it to fill [Result.SpeechRatio].
func SegmentRatio(segments []Segment, clipMs int64) float64 {
	if clipMs <= 0 {
		return 0
	}
	var voiced int64
	for _, s := range segments {
		voiced += s.EndMs - s.StartMs
	}
	r := float64(voiced) / float64(clipMs)
	if r > 1 {
		r = 1
	}
	return r
}
