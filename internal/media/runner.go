// Package media is the audio I/O layer: ffprobe duration probing, ffmpeg
// conversion and clip extraction, silencedetect parsing, WAV decoding, the
// stem-separator subprocess, and waveform visualisation data.
//
// Everything here treats external tools as black-box, fallible subprocesses.
// Commands run through the [Runner] interface so analysis code can be tested
// against canned tool output without ffmpeg installed.
package media

import (
	"context"
	"os/exec"
)

// Runner executes an external command and returns its combined output.
// Implementations must respect ctx cancellation by killing the process.
type Runner interface {
	// Run executes name with args and returns combined stdout+stderr.
	// A non-zero exit status is returned as an error alongside the output
	// captured so far (ffmpeg filters write their findings to stderr even on
	// success, so output is meaningful in both cases).
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands via os/exec.
type ExecRunner struct{}

// Run implements [Runner].
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	return cmd.CombinedOutput()
}
