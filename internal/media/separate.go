package media

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/vocalgap/vocalgap/internal/breaker"
)

// ErrNoVocalStem is returned when the separator ran but produced no vocals
// output file.
var ErrNoVocalStem = errors.New("media: separator produced no vocal stem")

// Separator runs an external source-separation tool (demucs-style CLI) to
// isolate the vocal stem of an audio file.
//
// The tool is expected to accept "<extra args…> -o <outDir> <input>" and to
// write a file named vocals.wav somewhere below outDir; the exact directory
// layout differs per model, so the stem is located by walking the output
// tree. Invocations are guarded by a circuit breaker: a missing binary or
// broken model weights fail every run after a long start-up delay, and the
// breaker lets queued jobs fail fast instead.
type Separator struct {
	// Command is the separator executable. Empty means "demucs".
	Command string

	// ExtraArgs are inserted before the output/input arguments, e.g.
	// ["--two-stems=vocals", "-n", "htdemucs"].
	ExtraArgs []string

	// Runner executes the subprocess. Nil means [ExecRunner].
	Runner Runner

	// Breaker guards invocations. Nil disables fail-fast behaviour.
	Breaker *breaker.Breaker
}

func (s *Separator) command() string {
	if s.Command != "" {
		return s.Command
	}
	return "demucs"
}

func (s *Separator) runner() Runner {
	if s.Runner != nil {
		return s.Runner
	}
	return ExecRunner{}
}

// SeparateVocals isolates the vocal stem of src, moves it to dst and removes
// the tool's scratch output tree. The scratch tree lives under tempRoot so
// concurrent separations of different files cannot collide.
func (s *Separator) SeparateVocals(ctx context.Context, src, dst, tempRoot string) error {
	outDir, err := os.MkdirTemp(tempRoot, "sep-*")
	if err != nil {
		return fmt.Errorf("media: create separator scratch dir: %w", err)
	}
	defer os.RemoveAll(outDir)

	run := func() error {
		args := append(append([]string{}, s.ExtraArgs...), "-o", outDir, src)
		out, runErr := s.runner().Run(ctx, s.command(), args...)
		if runErr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("media: separator %s: %w: %s", s.command(), runErr, tail(out))
		}
		return nil
	}

	if s.Breaker != nil {
		err = s.Breaker.Do(run)
	} else {
		err = run()
	}
	if err != nil {
		return err
	}

	stem, err := findVocalStem(outDir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("media: create stem dir: %w", err)
	}
	if err := os.Rename(stem, dst); err != nil {
		// Rename fails across filesystems; fall back to copy.
		if copyErr := copyFile(stem, dst); copyErr != nil {
			return fmt.Errorf("media: move vocal stem: %w", copyErr)
		}
	}
	return nil
}

// findVocalStem locates vocals.wav below root. Model-specific subdirectories
// (htdemucs/<track>/vocals.wav etc.) are handled by walking.
func findVocalStem(root string) (string, error) {
	var found string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && d.Name() == "vocals.wav" {
			found = path
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("media: scan separator output: %w", err)
	}
	if found == "" {
		return "", ErrNoVocalStem
	}
	return found, nil
}

func copyFile(src, dst string) error {
	raw, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, raw, 0o644)
}
