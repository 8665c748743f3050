package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// AnalysisSampleRate is the sample rate all analysis audio is normalised to.
// 16 kHz mono covers the vocal band and keeps VAD and FFT costs low.
const AnalysisSampleRate = 16000

// Converter wraps the ffmpeg invocations used to prepare analysis audio and
// to cut result artifacts.
type Converter struct {
	// Path is the ffmpeg executable. Empty means "ffmpeg" from PATH.
	Path string

	// Runner executes the subprocess. Nil means [ExecRunner].
	Runner Runner
}

func (c *Converter) path() string {
	if c.Path != "" {
		return c.Path
	}
	return "ffmpeg"
}

func (c *Converter) runner() Runner {
	if c.Runner != nil {
		return c.Runner
	}
	return ExecRunner{}
}

// ToAnalysisWav decodes up to durationSec seconds of src into a 16 kHz mono
// PCM WAV at dst. durationSec ≤ 0 converts the whole track.
func (c *Converter) ToAnalysisWav(ctx context.Context, src, dst string, durationSec float64) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("media: create output dir: %w", err)
	}
	args := []string{"-y", "-i", src}
	if durationSec > 0 {
		args = append(args, "-t", fmt.Sprintf("%.3f", durationSec))
	}
	args = append(args,
		"-ac", "1",
		"-ar", fmt.Sprintf("%d", AnalysisSampleRate),
		"-c:a", "pcm_s16le",
		"-vn",
		dst,
	)
	out, err := c.runner().Run(ctx, c.path(), args...)
	if err != nil {
		return fmt.Errorf("media: ffmpeg convert %s: %w: %s", src, err, tail(out))
	}
	return nil
}

// ExtractWindow cuts [startSec, startSec+durationSec) of src into a 16 kHz
// mono WAV at dst. Used by the windowed provider and the expanding scanner so
// the separator only ever sees a small region.
func (c *Converter) ExtractWindow(ctx context.Context, src, dst string, startSec, durationSec float64) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("media: create output dir: %w", err)
	}
	out, err := c.runner().Run(ctx, c.path(),
		"-y",
		"-ss", fmt.Sprintf("%.3f", startSec),
		"-t", fmt.Sprintf("%.3f", durationSec),
		"-i", src,
		"-ac", "1",
		"-ar", fmt.Sprintf("%d", AnalysisSampleRate),
		"-c:a", "pcm_s16le",
		"-vn",
		dst,
	)
	if err != nil {
		return fmt.Errorf("media: ffmpeg extract window of %s: %w: %s", src, err, tail(out))
	}
	return nil
}

// CutPreview writes a PCM WAV preview clip of src centred on gapMs, padded by
// preMs before and postMs after, clamped to track begin. The clip keeps the
// source sample rate so the preview sounds like the original.
func (c *Converter) CutPreview(ctx context.Context, src, dst string, gapMs, preMs, postMs int64) error {
	startMs := gapMs - preMs
	if startMs < 0 {
		startMs = 0
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("media: create output dir: %w", err)
	}
	out, err := c.runner().Run(ctx, c.path(),
		"-y",
		"-ss", fmt.Sprintf("%.3f", float64(startMs)/1000),
		"-t", fmt.Sprintf("%.3f", float64(gapMs-startMs+postMs)/1000),
		"-i", src,
		"-c:a", "pcm_s16le",
		"-vn",
		dst,
	)
	if err != nil {
		return fmt.Errorf("media: ffmpeg preview of %s: %w: %s", src, err, tail(out))
	}
	return nil
}

// tail returns the last part of subprocess output for error messages; full
// ffmpeg output is too noisy to embed in an error chain.
func tail(out []byte) string {
	const max = 400
	if len(out) <= max {
		return string(out)
	}
	return "…" + string(out[len(out)-max:])
}
