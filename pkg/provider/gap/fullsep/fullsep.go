// Package fullsep implements the legacy full-track separation gap provider.
//
// It is the historical baseline and the most expensive variant: the whole
// track (up to the configured analysis duration) is run through the stem
// separator, then ffmpeg silencedetect is applied to the resulting vocal
// stem. Boundary semantics are silence periods; confidence is a fixed 0.8.
// There is no fallback, any failure is a hard error.
package fullsep

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/vocalgap/vocalgap/internal/media"
	"github.com/vocalgap/vocalgap/pkg/provider/gap"
)

// legacyConfidence is the fixed score reported for full-separation results.
// The method is trusted but its score was never calibrated, hence a constant.
const legacyConfidence = 0.8

// Provider implements [gap.Provider] via full-track stem separation.
type Provider struct {
	separator *media.Separator
	converter *media.Converter
	silence   *media.SilenceDetector
}

var _ gap.Provider = (*Provider)(nil)

// New creates the legacy full-separation provider from its media tooling.
func New(separator *media.Separator, converter *media.Converter, silence *media.SilenceDetector) *Provider {
	return &Provider{separator: separator, converter: converter, silence: silence}
}

// Method implements [gap.Provider].
func (p *Provider) Method() gap.Method { return gap.MethodFullSeparation }

// DefaultSemantics implements [gap.Provider].
func (p *Provider) DefaultSemantics() gap.Semantics { return gap.SemanticsSilence }

// VocalsFile implements [gap.Provider]. It separates the vocal stem of the
// whole analysed region into req.Destination, reusing an existing stem unless
// req.Overwrite is set.
func (p *Provider) VocalsFile(ctx context.Context, req gap.VocalsRequest) (string, error) {
	if !req.Overwrite {
		if _, err := os.Stat(req.Destination); err == nil {
			slog.Debug("reusing existing vocal stem",
				"provider", p.Method(), "path", req.Destination)
			return req.Destination, nil
		}
	}
	if err := ctx.Err(); err != nil {
		return "", gap.Cancelled(p.Method(), err)
	}

	// Normalise to analysis WAV first so the separator always sees a format
	// it supports; the intermediate is scratch and removed afterwards.
	work := filepath.Join(req.TempRoot, baseKey(req.AudioFile)+".full.wav")
	if err := p.converter.ToAnalysisWav(ctx, req.AudioFile, work, req.DurationSec); err != nil {
		return "", gap.NewDetectionError(p.Method(), err)
	}
	defer os.Remove(work)

	if err := p.separator.SeparateVocals(ctx, work, req.Destination, req.TempRoot); err != nil {
		// No fallback on the legacy path.
		os.Remove(req.Destination)
		return "", gap.NewDetectionError(p.Method(), fmt.Errorf("full separation: %w", err))
	}
	return req.Destination, nil
}

// DetectBoundaries implements [gap.Provider]. The returned intervals are
// silence periods of the vocal stem.
func (p *Provider) DetectBoundaries(ctx context.Context, audioFile, vocalsFile string) (gap.Boundaries, error) {
	if err := ctx.Err(); err != nil {
		return gap.Boundaries{}, gap.Cancelled(p.Method(), err)
	}
	periods, err := p.silence.Detect(ctx, vocalsFile, 0)
	if err != nil {
		return gap.Boundaries{}, gap.NewDetectionError(p.Method(), err)
	}
	return gap.Boundaries{Intervals: periods, Semantics: gap.SemanticsSilence}, nil
}

// Confidence implements [gap.Provider]. The legacy path always reports 0.8.
func (p *Provider) Confidence(ctx context.Context, audioFile string, detectedGapMs int64) float64 {
	return legacyConfidence
}

// baseKey derives a per-audio-file scratch name so concurrent detections of
// different files cannot collide under the same temp root.
func baseKey(audioFile string) string {
	name := filepath.Base(audioFile)
	return name[:len(name)-len(filepath.Ext(name))]
}
