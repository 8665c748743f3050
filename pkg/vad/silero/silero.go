// Package silero implements [vad.Detector] on the Silero VAD ONNX model via
// the streamer45/silero-vad-go bindings.
//
// The model file must be present on disk and the ONNX runtime available;
// construction fails otherwise, which callers treat as "VAD backend absent"
// and route around.
package silero

import (
	"context"
	"fmt"
	"sync"

	"github.com/streamer45/silero-vad-go/speech"

	"github.com/vocalgap/vocalgap/pkg/vad"
)

// Config holds the Silero model parameters.
type Config struct {
	// ModelPath is the path of the silero_vad.onnx model file.
	ModelPath string

	// Threshold is the speech probability threshold. Zero means 0.5.
	Threshold float32

	// MinSilenceMs is the minimum silence gap that splits two segments.
	// Zero means 250.
	MinSilenceMs int
}

// Detector wraps a Silero speech detector. The underlying ONNX session is
// stateful, so calls are serialised with a mutex; detection requests from
// concurrent jobs queue here rather than corrupting the session.
type Detector struct {
	mu  sync.Mutex
	sd  *speech.Detector
}

var _ vad.Detector = (*Detector)(nil)

// New loads the Silero model. sampleRate must match the clips passed to
// DetectSegments later (the analysis pipeline uses 16 kHz throughout).
func New(cfg Config, sampleRate int) (*Detector, error) {
	threshold := cfg.Threshold
	if threshold == 0 {
		threshold = 0.5
	}
	minSilence := cfg.MinSilenceMs
	if minSilence == 0 {
		minSilence = 250
	}

	sd, err := speech.NewDetector(speech.DetectorConfig{
		ModelPath:            cfg.ModelPath,
		SampleRate:           sampleRate,
		Threshold:            threshold,
		MinSilenceDurationMs: minSilence,
		SpeechPadMs:          30,
	})
	if err != nil {
		return nil, fmt.Errorf("silero: create detector: %w", err)
	}
	return &Detector{sd: sd}, nil
}

// DetectSegments implements [vad.Detector].
func (d *Detector) DetectSegments(ctx context.Context, samples []float64, sampleRate int) (vad.Result, error) {
	if err := ctx.Err(); err != nil {
		return vad.Result{}, err
	}

	pcm := make([]float32, len(samples))
	for i, s := range samples {
		pcm[i] = float32(s)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.sd.Reset(); err != nil {
		return vad.Result{}, fmt.Errorf("silero: reset detector: %w", err)
	}
	raw, err := d.sd.Detect(pcm)
	if err != nil {
		return vad.Result{}, fmt.Errorf("silero: detect: %w", err)
	}

	clipMs := int64(float64(len(samples)) / float64(sampleRate) * 1000)
	segments := make([]vad.Segment, 0, len(raw))
	for _, s := range raw {
		end := int64(s.SpeechEndAt * 1000)
		if end == 0 {
			// Open segment running to the end of the clip.
			end = clipMs
		}
		segments = append(segments, vad.Segment{
			StartMs: int64(s.SpeechStartAt * 1000),
			EndMs:   end,
		})
	}

	return vad.Result{Segments: segments, SpeechRatio: vad.SegmentRatio(segments, clipMs)}, nil
}

// Close releases the ONNX session.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.sd.Destroy(); err != nil {
		return fmt.Errorf("silero: destroy detector: %w", err)
	}
	return nil
}
