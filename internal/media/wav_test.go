package media

import (
	"math"
	"path/filepath"
	"testing"
)

func TestWavReadBack(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "tone.wav")
	orig := sineClip(16000, 2)
	if err := WriteWav(orig, path); err != nil {
		t.Fatalf("WriteWav: %v", err)
	}

	clip, err := ReadWav(path)
	if err != nil {
		t.Fatalf("ReadWav: %v", err)
	}
	if clip.SampleRate != 16000 {
		t.Errorf("sample rate = %d, want 16000", clip.SampleRate)
	}
	if len(clip.Samples) != len(orig.Samples) {
		t.Fatalf("sample count = %d, want %d", len(clip.Samples), len(orig.Samples))
	}
	if got := clip.DurationMs(); got != 2000 {
		t.Errorf("duration = %d ms, want 2000", got)
	}
	// 16-bit quantisation error only.
	for i := 0; i < len(orig.Samples); i += 997 {
		if math.Abs(clip.Samples[i]-orig.Samples[i]) > 1.0/16384 {
			t.Fatalf("sample %d: %f vs %f", i, clip.Samples[i], orig.Samples[i])
		}
	}
}

func TestReadWav_Missing(t *testing.T) {
	t.Parallel()
	if _, err := ReadWav(filepath.Join(t.TempDir(), "nope.wav")); err == nil {
		t.Error("expected error for missing file")
	}
}
