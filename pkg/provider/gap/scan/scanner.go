// Package scan implements the expanding-scan gap provider and the
// windowed-expansion onset scanner behind it.
//
// The scanner incrementally widens a search radius around the expected gap.
// Each expansion window is sliced into overlapping chunks on a global time
// grid (so chunks already analysed by a smaller window are never re-fed to
// the model), every new chunk is stem-separated and scored for a vocal
// onset, and near-duplicate onsets (within 1 s) collapse onto the
// first-seen one. As soon as an expansion finishes with at least one onset
// recorded, expansion stops and the onset closest to the expected gap wins;
// even if it was found in an earlier window. No onset within the maximum
// radius means detection failure for this provider; there is no silent
// fallback to zero.
package scan

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/vocalgap/vocalgap/internal/dsp"
	"github.com/vocalgap/vocalgap/internal/media"
	"github.com/vocalgap/vocalgap/pkg/provider/gap"
)

// onsetDuplicateToleranceMs collapses onsets closer than this onto the
// first-seen one.
const onsetDuplicateToleranceMs = 1000

// Params are the search-shape knobs of one scan.
type Params struct {
	// StartRadiusSec is the radius of the first expansion. Zero means 10.
	StartRadiusSec float64

	// IncrementSec is the radius growth per expansion. Zero means 10.
	IncrementSec float64

	// MaxRadiusSec is the largest radius tried. Zero means 60.
	MaxRadiusSec float64

	// ChunkSec is the chunk length fed to the separator. Zero means 10.
	ChunkSec float64

	// OverlapSec is the chunk overlap. Zero means 2.
	OverlapSec float64
}

func (p Params) withDefaults() Params {
	if p.StartRadiusSec <= 0 {
		p.StartRadiusSec = 10
	}
	if p.IncrementSec <= 0 {
		p.IncrementSec = 10
	}
	if p.MaxRadiusSec <= 0 {
		p.MaxRadiusSec = 60
	}
	if p.ChunkSec <= 0 {
		p.ChunkSec = 10
	}
	if p.OverlapSec <= 0 {
		p.OverlapSec = 2
	}
	return p
}

// ChunkAnalyzer turns one chunk of the source audio into an onset
// observation. The production implementation separates the chunk's vocal
// stem and runs onset-strength estimation; tests substitute their own.
type ChunkAnalyzer interface {
	// AnalyzeChunk returns the absolute onset position within the chunk, a
	// normalised onset strength in [0, 1], and whether an onset was found.
	AnalyzeChunk(ctx context.Context, audioFile string, c Chunk) (onsetMs int64, strength float64, found bool, err error)
}

// foundOnset is one recorded (deduplicated) onset.
type foundOnset struct {
	ms       int64
	strength float64
}

// Scanner drives the expanding search. One Scanner serves one detection
// session; the cache it holds is owned by the caller.
type Scanner struct {
	params   Params
	analyzer ChunkAnalyzer
	cache    *SessionCache
}

// NewScanner builds a scanner from the search parameters, chunk analyzer and
// session cache.
func NewScanner(params Params, analyzer ChunkAnalyzer, cache *SessionCache) *Scanner {
	return &Scanner{params: params.withDefaults(), analyzer: analyzer, cache: cache}
}

// ScanResult is the outcome of a successful scan.
type ScanResult struct {
	// OnsetMs is the chosen onset, the recorded one closest to the
	// expected gap.
	OnsetMs int64

	// Confidence is the normalised onset strength of the chosen onset.
	Confidence float64

	// Onsets lists every recorded onset in discovery order.
	Onsets []int64

	// Expansions is how many windows were processed.
	Expansions int
}

// ScanForOnset runs the expanding search. The bool result is false when no
// onset was found within the maximum radius; err is non-nil only for
// analysis failures and cancellation.
func (s *Scanner) ScanForOnset(ctx context.Context, audioFile string, expectedMs, totalMs int64) (ScanResult, bool, error) {
	p := s.params
	gen := newWindowGenerator(expectedMs, totalMs,
		int64(p.StartRadiusSec*1000), int64(p.IncrementSec*1000), int64(p.MaxRadiusSec*1000))
	planner := newChunkPlanner(p.ChunkSec, p.OverlapSec)

	var recorded []foundOnset
	expansions := 0

	for {
		w, ok := gen.next()
		if !ok {
			break
		}
		expansions++

		for _, c := range planner.chunks(w) {
			if err := ctx.Err(); err != nil {
				return ScanResult{}, false, gap.Cancelled(gap.MethodExpandingScan, err)
			}

			onsetMs, strength, found, err := s.analyzeCached(ctx, audioFile, c)
			if err != nil {
				if gap.IsCancelled(err) {
					return ScanResult{}, false, gap.Cancelled(gap.MethodExpandingScan, err)
				}
				return ScanResult{}, false, gap.NewDetectionError(gap.MethodExpandingScan,
					fmt.Errorf("chunk [%.1fs, %.1fs): %w", c.StartSec, c.EndSec, err))
			}
			if !found {
				continue
			}
			if dup, at := isDuplicate(recorded, onsetMs); dup {
				slog.Debug("duplicate onset discarded",
					"onset_ms", onsetMs, "kept_ms", at)
				continue
			}
			recorded = append(recorded, foundOnset{ms: onsetMs, strength: strength})
			slog.Debug("onset recorded",
				"onset_ms", onsetMs, "strength", strength, "expansion", w.Index)
		}

		// A productive expansion ends the search; the winner may come from
		// any earlier window.
		if len(recorded) > 0 {
			best := closest(recorded, expectedMs)
			res := ScanResult{
				OnsetMs:    best.ms,
				Confidence: best.strength,
				Expansions: expansions,
			}
			for _, o := range recorded {
				res.Onsets = append(res.Onsets, o.ms)
			}
			return res, true, nil
		}
	}

	return ScanResult{Expansions: expansions}, false, nil
}

// analyzeCached consults the session cache before invoking the analyzer.
func (s *Scanner) analyzeCached(ctx context.Context, audioFile string, c Chunk) (int64, float64, bool, error) {
	key := chunkKey{startMs: int64(c.StartSec * 1000), endMs: int64(c.EndSec * 1000)}
	if s.cache != nil {
		if o, ok := s.cache.lookup(key); ok {
			return o.onsetMs, o.strength, o.found, nil
		}
	}
	onsetMs, strength, found, err := s.analyzer.AnalyzeChunk(ctx, audioFile, c)
	if err != nil {
		return 0, 0, false, err
	}
	if s.cache != nil {
		s.cache.store(key, chunkOutcome{found: found, onsetMs: onsetMs, strength: strength})
	}
	return onsetMs, strength, found, nil
}

func isDuplicate(recorded []foundOnset, onsetMs int64) (bool, int64) {
	for _, o := range recorded {
		d := onsetMs - o.ms
		if d < 0 {
			d = -d
		}
		if d < onsetDuplicateToleranceMs {
			return true, o.ms
		}
	}
	return false, 0
}

func closest(recorded []foundOnset, expectedMs int64) foundOnset {
	best := recorded[0]
	bestDist := absDiff(best.ms, expectedMs)
	for _, o := range recorded[1:] {
		if d := absDiff(o.ms, expectedMs); d < bestDist {
			best, bestDist = o, d
		}
	}
	return best
}

func absDiff(a, b int64) int64 {
	if a > b {
		return a - b
	}
	return b - a
}

// StemChunkAnalyzer is the production [ChunkAnalyzer]: extract the chunk,
// separate its vocal stem and estimate the onset strength envelope.
type StemChunkAnalyzer struct {
	Converter *media.Converter
	Separator *media.Separator
	Cache     *SessionCache
}

// AnalyzeChunk implements [ChunkAnalyzer]. The returned onset is absolute
// (chunk offset added).
func (a *StemChunkAnalyzer) AnalyzeChunk(ctx context.Context, audioFile string, c Chunk) (int64, float64, bool, error) {
	dir := a.Cache.Dir()
	base := fmt.Sprintf("chunk-%d-%d", int64(c.StartSec*1000), int64(c.EndSec*1000))
	raw := filepath.Join(dir, base+".wav")
	stem := filepath.Join(dir, base+".vocals.wav")

	if err := a.Converter.ExtractWindow(ctx, audioFile, raw, c.StartSec, c.EndSec-c.StartSec); err != nil {
		return 0, 0, false, err
	}
	if err := a.Separator.SeparateVocals(ctx, raw, stem, dir); err != nil {
		return 0, 0, false, err
	}
	clip, err := media.ReadWav(stem)
	if err != nil {
		return 0, 0, false, err
	}

	onset, found := dsp.DetectOnset(clip.Samples, clip.SampleRate)
	if !found {
		return 0, 0, false, nil
	}
	return int64(c.StartSec*1000) + onset.OffsetMs, onset.Strength, true, nil
}
