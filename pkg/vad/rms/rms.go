// Package rms implements [vad.Detector] with a pure-Go RMS hysteresis
// detector. It needs no model files, which makes it the dependency-free
// fallback when the Silero ONNX runtime is unavailable.
package rms

import (
	"context"

	"github.com/vocalgap/vocalgap/internal/dsp"
	"github.com/vocalgap/vocalgap/pkg/vad"
)

// Config tunes the hysteresis detector. Defaults suit 16 kHz vocal stems.
type Config struct {
	// SpeechThreshold is the RMS level that opens a speech segment.
	// Zero means 0.015.
	SpeechThreshold float64

	// SilenceThreshold is the RMS level that closes a speech segment.
	// Zero means 0.008.
	SilenceThreshold float64

	// FrameMs is the analysis frame length in milliseconds. Zero means 20.
	FrameMs int

	// SpeechFrames is how many consecutive voiced frames open a segment.
	// Zero means 3 (~60 ms).
	SpeechFrames int

	// SilenceFrames is how many consecutive silent frames close a segment.
	// Zero means 25 (~500 ms).
	SilenceFrames int
}

func (c Config) withDefaults() Config {
	if c.SpeechThreshold == 0 {
		c.SpeechThreshold = 0.015
	}
	if c.SilenceThreshold == 0 {
		c.SilenceThreshold = 0.008
	}
	if c.FrameMs == 0 {
		c.FrameMs = 20
	}
	if c.SpeechFrames == 0 {
		c.SpeechFrames = 3
	}
	if c.SilenceFrames == 0 {
		c.SilenceFrames = 25
	}
	return c
}

// Detector is a frame-level RMS energy detector with hysteresis: separate
// enter and exit thresholds plus frame-count debouncing avoid flickering
// between speech and silence around the threshold.
type Detector struct {
	cfg Config
}

var _ vad.Detector = (*Detector)(nil)

// New creates a Detector, applying defaults for zero config fields.
func New(cfg Config) *Detector {
	return &Detector{cfg: cfg.withDefaults()}
}

// DetectSegments implements [vad.Detector]. It never returns an error.
func (d *Detector) DetectSegments(ctx context.Context, samples []float64, sampleRate int) (vad.Result, error) {
	if err := ctx.Err(); err != nil {
		return vad.Result{}, err
	}

	frameLen := sampleRate * d.cfg.FrameMs / 1000
	if frameLen <= 0 || len(samples) < frameLen {
		return vad.Result{}, nil
	}

	var (
		segments     []vad.Segment
		inSpeech     bool
		speechCount  int
		silenceCount int
		segStart     int
	)

	frames := len(samples) / frameLen
	for f := 0; f < frames; f++ {
		level := dsp.RMS(samples[f*frameLen : (f+1)*frameLen])

		if inSpeech {
			if level < d.cfg.SilenceThreshold {
				silenceCount++
				if silenceCount >= d.cfg.SilenceFrames {
					// Segment ended where the silence run began.
					endFrame := f - silenceCount + 1
					segments = append(segments, d.segment(segStart, endFrame, sampleRate, frameLen))
					inSpeech = false
					silenceCount = 0
				}
			} else {
				silenceCount = 0
			}
			continue
		}

		if level >= d.cfg.SpeechThreshold {
			speechCount++
			if speechCount >= d.cfg.SpeechFrames {
				segStart = f - speechCount + 1
				inSpeech = true
				speechCount = 0
			}
		} else {
			speechCount = 0
		}
	}

	if inSpeech {
		segments = append(segments, d.segment(segStart, frames, sampleRate, frameLen))
	}

	clipMs := int64(float64(len(samples)) / float64(sampleRate) * 1000)
	return vad.Result{Segments: segments, SpeechRatio: vad.SegmentRatio(segments, clipMs)}, nil
}

func (d *Detector) segment(startFrame, endFrame, sampleRate, frameLen int) vad.Segment {
	toMs := func(frame int) int64 {
		return int64(float64(frame*frameLen) / float64(sampleRate) * 1000)
	}
	return vad.Segment{StartMs: toMs(startFrame), EndMs: toMs(endFrame)}
}
