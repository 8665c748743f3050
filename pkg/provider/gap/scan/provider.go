package scan

import (
	"context"
	"fmt"
	"os"

	"github.com/vocalgap/vocalgap/internal/media"
	"github.com/vocalgap/vocalgap/pkg/provider/gap"
)

// unscoredConfidence is reported before (or without) a completed scan.
const unscoredConfidence = 0.5

// Config carries the per-detection inputs of a scan provider.
type Config struct {
	// ExpectedGapMs centres the expansion windows.
	ExpectedGapMs int64

	// TrackLengthMs bounds every window. Required.
	TrackLengthMs int64

	// Params shapes the search. Zero values take defaults.
	Params Params
}

// Provider implements [gap.Provider] with the expanding onset scan. Like the
// windowed provider it is built per detection request.
type Provider struct {
	cfg       Config
	converter *media.Converter
	separator *media.Separator
	tempRoot  string

	// analyzer overrides the stem analyzer when set; tests use this.
	analyzer ChunkAnalyzer

	score  float64
	scored bool
}

var _ gap.Provider = (*Provider)(nil)

// New builds a scan provider.
func New(cfg Config, converter *media.Converter, separator *media.Separator, tempRoot string) *Provider {
	return &Provider{cfg: cfg, converter: converter, separator: separator, tempRoot: tempRoot}
}

// VocalsFile renders the analysis-rate mono signal of the whole track. The
// scan separates vocals chunk by chunk on its own, so the full-track stem is
// never produced here.
func (p *Provider) VocalsFile(ctx context.Context, req gap.VocalsRequest) (string, error) {
	if !req.Overwrite {
		if _, err := os.Stat(req.Destination); err == nil {
			return req.Destination, nil
		}
	}
	if err := p.converter.ToAnalysisWav(ctx, req.AudioFile, req.Destination, req.DurationSec); err != nil {
		return "", gap.NewDetectionError(gap.MethodExpandingScan, err)
	}
	return req.Destination, nil
}

// DetectBoundaries runs the expanding scan and reports every recorded onset
// as a zero-length speech-start boundary. The scratch directory holding the
// per-chunk stems lives only for the duration of the call.
func (p *Provider) DetectBoundaries(ctx context.Context, audioFile, vocalsFile string) (gap.Boundaries, error) {
	cache, err := NewSessionCache(p.tempRoot)
	if err != nil {
		return gap.Boundaries{}, gap.NewDetectionError(gap.MethodExpandingScan, err)
	}
	defer cache.Close()

	analyzer := p.analyzer
	if analyzer == nil {
		analyzer = &StemChunkAnalyzer{Converter: p.converter, Separator: p.separator, Cache: cache}
	}
	scanner := NewScanner(p.cfg.Params, analyzer, cache)

	res, found, err := scanner.ScanForOnset(ctx, audioFile, p.cfg.ExpectedGapMs, p.cfg.TrackLengthMs)
	if err != nil {
		return gap.Boundaries{}, err
	}
	if !found {
		return gap.Boundaries{}, gap.NewDetectionError(gap.MethodExpandingScan,
			fmt.Errorf("no vocal onset within %.0fs of %dms: %w",
				p.cfg.Params.withDefaults().MaxRadiusSec, p.cfg.ExpectedGapMs, gap.ErrNoBoundaries))
	}

	p.score = res.Confidence
	p.scored = true

	b := gap.Boundaries{Semantics: gap.SemanticsSpeechStart}
	for _, ms := range res.Onsets {
		b.Intervals = append(b.Intervals, gap.TimeInterval{StartMs: ms, EndMs: ms})
	}
	return b, nil
}

// Confidence reports the onset strength of the chosen onset, or 0.5 when no
// scan has completed.
func (p *Provider) Confidence(ctx context.Context, audioFile string, gapMs int64) float64 {
	if !p.scored {
		return unscoredConfidence
	}
	if p.score < 0 {
		return 0
	}
	if p.score > 1 {
		return 1
	}
	return p.score
}

// Method implements [gap.Provider].
func (p *Provider) Method() gap.Method { return gap.MethodExpandingScan }

// DefaultSemantics implements [gap.Provider].
func (p *Provider) DefaultSemantics() gap.Semantics { return gap.SemanticsSpeechStart }
