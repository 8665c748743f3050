// Package windowed implements the windowed high-quality gap provider.
//
// It gets stem-separation quality without full-track cost by separating only
// a region around the expected gap, then running silencedetect over the stem
// and mapping the boundaries back to absolute track time. Boundary semantics
// are silence periods; confidence is a fixed 0.85.
//
// On any failure the provider delegates exactly once to the fast-preview
// provider. The delegation decision is made once and sticks for the rest of
// the request: once delegated, boundary detection, confidence and the
// reported method all follow the fast path. Cancellation never triggers
// delegation.
package windowed

import (
	"context"
	"log/slog"
	"os"

	"github.com/vocalgap/vocalgap/internal/media"
	"github.com/vocalgap/vocalgap/pkg/provider/gap"
)

// windowedConfidence is the fixed score for stem-verified windowed results.
const windowedConfidence = 0.85

// Config holds the per-request parameters of a windowed provider instance.
type Config struct {
	// ExpectedGapMs is the user-authored gap estimate the window is centred on.
	ExpectedGapMs int64

	// RadiusSec is how far before the expected gap the window starts.
	// Zero means 15.
	RadiusSec float64
}

// Provider implements [gap.Provider] via windowed separation. Instances are
// per-request: the expected gap is fixed at construction and the delegation
// flag is request-scoped state.
type Provider struct {
	cfg       Config
	converter *media.Converter
	separator *media.Separator
	silence   *media.SilenceDetector
	fallback  gap.Provider

	// windowStartMs offsets stem-relative boundaries back to track time.
	windowStartMs int64

	// delegated is set after the one permitted fallback decision.
	delegated bool

	// lastReq allows the fallback to regenerate its own signal when
	// delegation happens at the boundary stage.
	lastReq gap.VocalsRequest
}

var _ gap.Provider = (*Provider)(nil)

// New creates a windowed provider. fallback must be the fast-preview
// provider; it is the only permitted delegation target and is never chained
// further (the fast path has its own internal silencedetect fallback and
// fails hard beyond that).
func New(cfg Config, converter *media.Converter, separator *media.Separator, silence *media.SilenceDetector, fallback gap.Provider) *Provider {
	if cfg.RadiusSec <= 0 {
		cfg.RadiusSec = 15
	}
	return &Provider{
		cfg:       cfg,
		converter: converter,
		separator: separator,
		silence:   silence,
		fallback:  fallback,
	}
}

// Method implements [gap.Provider]. After delegation it reports the fast
// path's method, so results record which signal actually produced the gap.
func (p *Provider) Method() gap.Method {
	if p.delegated {
		return p.fallback.Method()
	}
	return gap.MethodWindowedHighQuality
}

// DefaultSemantics implements [gap.Provider].
func (p *Provider) DefaultSemantics() gap.Semantics { return gap.SemanticsSilence }

// VocalsFile implements [gap.Provider]. It extracts the search window around
// the expected gap, separates only that region and stores the stem at
// req.Destination.
func (p *Provider) VocalsFile(ctx context.Context, req gap.VocalsRequest) (string, error) {
	p.lastReq = req

	if !req.Overwrite {
		if _, err := os.Stat(req.Destination); err == nil {
			slog.Debug("reusing existing windowed stem",
				"provider", p.Method(), "path", req.Destination)
			p.windowStartMs = p.windowStart()
			return req.Destination, nil
		}
	}
	if err := ctx.Err(); err != nil {
		return "", gap.Cancelled(p.Method(), err)
	}

	path, err := p.separateWindow(ctx, req)
	if err == nil {
		return path, nil
	}
	if gap.IsCancelled(err) {
		return "", gap.Cancelled(p.Method(), err)
	}

	var out string
	if dErr := p.delegate(ctx, err, func() (string, error) {
		return p.fallback.VocalsFile(ctx, p.fallbackRequest(req))
	}, &out); dErr != nil {
		return "", dErr
	}
	return out, nil
}

func (p *Provider) separateWindow(ctx context.Context, req gap.VocalsRequest) (string, error) {
	startMs := p.windowStart()
	durationSec := req.DurationSec
	if durationSec <= 0 {
		durationSec = 2 * p.cfg.RadiusSec
	}

	work := req.Destination + ".window.wav"
	if err := p.converter.ExtractWindow(ctx, req.AudioFile, work, float64(startMs)/1000, durationSec); err != nil {
		return "", err
	}
	defer os.Remove(work)

	if err := p.separator.SeparateVocals(ctx, work, req.Destination, req.TempRoot); err != nil {
		os.Remove(req.Destination)
		return "", err
	}
	p.windowStartMs = startMs
	return req.Destination, nil
}

// windowStart returns the absolute window start: the expected gap minus the
// radius, clamped to track begin.
func (p *Provider) windowStart() int64 {
	start := p.cfg.ExpectedGapMs - int64(p.cfg.RadiusSec*1000)
	if start < 0 {
		start = 0
	}
	return start
}

// DetectBoundaries implements [gap.Provider]. Stem boundaries are shifted by
// the window start so callers always see absolute track time.
func (p *Provider) DetectBoundaries(ctx context.Context, audioFile, vocalsFile string) (gap.Boundaries, error) {
	if p.delegated {
		return p.fallback.DetectBoundaries(ctx, audioFile, vocalsFile)
	}
	if err := ctx.Err(); err != nil {
		return gap.Boundaries{}, gap.Cancelled(p.Method(), err)
	}

	periods, err := p.silence.Detect(ctx, vocalsFile, 0)
	if err == nil {
		for i := range periods {
			periods[i].StartMs += p.windowStartMs
			periods[i].EndMs += p.windowStartMs
		}
		return gap.Boundaries{Intervals: periods, Semantics: gap.SemanticsSilence}, nil
	}
	if gap.IsCancelled(err) {
		return gap.Boundaries{}, gap.Cancelled(p.Method(), err)
	}

	// Boundary-stage delegation: the fast path needs its own signal file.
	var signal string
	if dErr := p.delegate(ctx, err, func() (string, error) {
		return p.fallback.VocalsFile(ctx, p.fallbackRequest(p.lastReq))
	}, &signal); dErr != nil {
		return gap.Boundaries{}, dErr
	}
	return p.fallback.DetectBoundaries(ctx, audioFile, signal)
}

// Confidence implements [gap.Provider].
func (p *Provider) Confidence(ctx context.Context, audioFile string, detectedGapMs int64) float64 {
	if p.delegated {
		return p.fallback.Confidence(ctx, audioFile, detectedGapMs)
	}
	return windowedConfidence
}

// delegate performs the single permitted fallback transition. On success the
// produced value is stored through out and nil is returned; the provider
// stays delegated for the rest of the request.
func (p *Provider) delegate(ctx context.Context, cause error, fn func() (string, error), out *string) error {
	if p.delegated {
		// Already delegated once; a second failure is final.
		return gap.NewDetectionError(p.Method(), cause)
	}
	slog.Warn("windowed separation failed, delegating to fast preview",
		"provider", p.Method(), "error", cause)
	p.delegated = true

	v, err := fn()
	if err != nil {
		return err
	}
	*out = v
	return nil
}

// fallbackRequest rewrites the destination so the fast path's harmonic signal
// never clobbers the (possibly partial) windowed stem.
func (p *Provider) fallbackRequest(req gap.VocalsRequest) gap.VocalsRequest {
	req.Destination += ".preview.wav"
	req.Overwrite = true
	return req
}
