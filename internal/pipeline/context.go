// Package pipeline drives a gap detection from validated input to enriched
// result: it sizes the analysis window, runs the selected provider, turns
// boundary lists into a single gap value, widens the window when the
// candidate gap falls outside it, and attaches confidence, preview and
// waveform artifacts to the outcome.
package pipeline

import (
	"errors"
	"fmt"
	"os"
)

// ErrValidation marks rejected detection input. Validation failures are
// surfaced immediately and never retried.
var ErrValidation = errors.New("pipeline: invalid detection input")

// Settings is the immutable configuration snapshot a detection runs under.
// Zero fields take the documented defaults via [Settings.withDefaults].
type Settings struct {
	// DefaultDetectionTimeSec seeds window sizing. Default 60.
	DefaultDetectionTimeSec float64

	// PreviewPreMs and PreviewPostMs pad the preview clip around the
	// detected gap. Defaults 2000 and 8000.
	PreviewPreMs  int64
	PreviewPostMs int64

	// WaveformBins is the min/max waveform resolution. Default 2000.
	WaveformBins int

	// ScanStartRadiusSec, ScanRadiusIncrementSec and ScanMaxRadiusSec seed
	// the window-search parameters of new detection contexts. Defaults 10,
	// 10 and 60.
	ScanStartRadiusSec      float64
	ScanRadiusIncrementSec  float64
	ScanMaxRadiusSec        float64
}

func (s Settings) withDefaults() Settings {
	if s.DefaultDetectionTimeSec <= 0 {
		s.DefaultDetectionTimeSec = 60
	}
	if s.PreviewPreMs <= 0 {
		s.PreviewPreMs = 2000
	}
	if s.PreviewPostMs <= 0 {
		s.PreviewPostMs = 8000
	}
	if s.WaveformBins <= 0 {
		s.WaveformBins = 2000
	}
	if s.ScanStartRadiusSec <= 0 {
		s.ScanStartRadiusSec = 10
	}
	if s.ScanRadiusIncrementSec <= 0 {
		s.ScanRadiusIncrementSec = 10
	}
	if s.ScanMaxRadiusSec <= 0 {
		s.ScanMaxRadiusSec = 60
	}
	return s
}

// DetectionContext carries one detection request. It is built from validated
// inputs by [NewDetectionContext] and discarded when the request completes;
// only the window-search parameters may be tuned by the caller before use.
type DetectionContext struct {
	// AudioFile is the song's audio track.
	AudioFile string

	// OriginalGapMs is the user-authored expected vocal start.
	OriginalGapMs int64

	// AudioLengthMs is the total track length. Zero means unknown; the
	// pipeline probes it lazily when the retry decision needs it.
	AudioLengthMs int64

	// TempRoot is where all scratch and artifact files live, namespaced
	// per audio file.
	TempRoot string

	// Settings is the configuration snapshot, defaults applied.
	Settings Settings

	// Overwrite forces regeneration of a cached vocal signal.
	Overwrite bool

	// Window-search parameters for the expanding-scan provider, seconds.
	// Seeded from Settings, tunable before the detection starts.
	StartRadiusSec     float64
	RadiusIncrementSec float64
	MaxRadiusSec       float64
}

// NewDetectionContext validates the inputs and builds a context. audioLengthMs
// may be zero when the caller has not probed the track yet.
func NewDetectionContext(audioFile string, originalGapMs, audioLengthMs int64, tempRoot string, settings *Settings) (*DetectionContext, error) {
	if settings == nil {
		return nil, fmt.Errorf("%w: missing configuration", ErrValidation)
	}
	s := settings.withDefaults()
	dctx := &DetectionContext{
		AudioFile:          audioFile,
		OriginalGapMs:      originalGapMs,
		AudioLengthMs:      audioLengthMs,
		TempRoot:           tempRoot,
		Settings:           s,
		StartRadiusSec:     s.ScanStartRadiusSec,
		RadiusIncrementSec: s.ScanRadiusIncrementSec,
		MaxRadiusSec:       s.ScanMaxRadiusSec,
	}
	if err := dctx.validate(); err != nil {
		return nil, err
	}
	return dctx, nil
}

// validate runs all input checks before any I/O beyond an existence stat.
func (c *DetectionContext) validate() error {
	if c.AudioFile == "" {
		return fmt.Errorf("%w: empty audio file path", ErrValidation)
	}
	if _, err := os.Stat(c.AudioFile); err != nil {
		return fmt.Errorf("audio file %q: %w", c.AudioFile, err)
	}
	if c.OriginalGapMs < 0 {
		return fmt.Errorf("%w: negative gap %d ms", ErrValidation, c.OriginalGapMs)
	}
	if c.AudioLengthMs < 0 {
		return fmt.Errorf("%w: negative track length %d ms", ErrValidation, c.AudioLengthMs)
	}
	return nil
}
