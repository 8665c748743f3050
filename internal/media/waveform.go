package media

import (
	"encoding/json"
	"fmt"
	"os"
)

// WaveformBin is one downsampled min/max pair for UI rendering.
type WaveformBin struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Waveform is the JSON document consumed by waveform renderers.
type Waveform struct {
	SampleRate      int           `json:"sample_rate"`
	DurationSeconds float64       `json:"duration_seconds"`
	Bins            int           `json:"bins"`
	SamplesPerBin   int           `json:"samples_per_bin"`
	Data            []WaveformBin `json:"data"`
}

// BuildWaveform downsamples clip into at most bins min/max pairs. Bins ≤ 0
// defaults to 2000, enough for a full-width editor strip.
func BuildWaveform(clip *Clip, bins int) *Waveform {
	if bins <= 0 {
		bins = 2000
	}
	n := len(clip.Samples)
	if n == 0 {
		return &Waveform{SampleRate: clip.SampleRate, Bins: 0, SamplesPerBin: 0, Data: nil}
	}
	perBin := n / bins
	if perBin < 1 {
		perBin = 1
		bins = n
	}

	data := make([]WaveformBin, 0, bins)
	for b := 0; b < bins; b++ {
		start := b * perBin
		end := start + perBin
		if b == bins-1 {
			// Last bin swallows the remainder.
			end = n
		}
		lo, hi := clip.Samples[start], clip.Samples[start]
		for _, s := range clip.Samples[start+1 : end] {
			if s < lo {
				lo = s
			}
			if s > hi {
				hi = s
			}
		}
		data = append(data, WaveformBin{Min: lo, Max: hi})
	}

	return &Waveform{
		SampleRate:      clip.SampleRate,
		DurationSeconds: float64(n) / float64(clip.SampleRate),
		Bins:            len(data),
		SamplesPerBin:   perBin,
		Data:            data,
	}
}

// WriteWaveform builds the waveform for clip and writes it as JSON to path.
func WriteWaveform(clip *Clip, bins int, path string) error {
	wf := BuildWaveform(clip, bins)
	raw, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("media: marshal waveform: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("media: write waveform %s: %w", path, err)
	}
	return nil
}
