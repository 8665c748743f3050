package media

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Clip is decoded mono PCM ready for analysis, normalised to [-1, 1].
type Clip struct {
	// Samples is the mono sample stream.
	Samples []float64

	// SampleRate in Hz.
	SampleRate int
}

// DurationMs returns the clip length in milliseconds.
func (c *Clip) DurationMs() int64 {
	if c.SampleRate == 0 {
		return 0
	}
	return int64(float64(len(c.Samples)) / float64(c.SampleRate) * 1000)
}

// ReadWav decodes a PCM WAV file into a mono [Clip]. Multi-channel input is
// downmixed by averaging.
func ReadWav(path string) (*Clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("media: open wav %s: %w", path, err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("media: %s is not a valid wav file", path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("media: decode wav %s: %w", path, err)
	}
	if buf.Format == nil || buf.Format.SampleRate == 0 {
		return nil, fmt.Errorf("media: wav %s has no format info", path)
	}

	channels := buf.Format.NumChannels
	if channels < 1 {
		channels = 1
	}

	// Scale factor from the source bit depth.
	bitDepth := buf.SourceBitDepth
	if bitDepth == 0 {
		bitDepth = 16
	}
	scale := float64(int64(1) << (bitDepth - 1))

	frames := len(buf.Data) / channels
	samples := make([]float64, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for ch := 0; ch < channels; ch++ {
			sum += float64(buf.Data[i*channels+ch])
		}
		samples[i] = sum / float64(channels) / scale
	}

	return &Clip{Samples: samples, SampleRate: buf.Format.SampleRate}, nil
}

// WriteWav encodes clip as a 16-bit mono PCM WAV at path.
func WriteWav(clip *Clip, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("media: create wav dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("media: create wav %s: %w", path, err)
	}
	defer f.Close()

	enc := wav.NewEncoder(f, clip.SampleRate, 16, 1, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: clip.SampleRate},
		SourceBitDepth: 16,
		Data:           make([]int, len(clip.Samples)),
	}
	for i, s := range clip.Samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		buf.Data[i] = int(s * 32767)
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("media: encode wav %s: %w", path, err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("media: finalise wav %s: %w", path, err)
	}
	return nil
}
