// Package quick implements the fast-preview gap provider.
//
// Instead of full stem separation it analyses only the harmonic component of
// the track (median-filter HPSS) and runs voice activity detection over it,
// finishing in well under two seconds per track. Boundary semantics are
// speech segments; when the VAD backend is unavailable or fails, the provider
// makes exactly one internal fallback to ffmpeg silencedetect and returns
// silence semantics instead.
package quick

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/vocalgap/vocalgap/internal/dsp"
	"github.com/vocalgap/vocalgap/internal/media"
	"github.com/vocalgap/vocalgap/pkg/provider/gap"
	"github.com/vocalgap/vocalgap/pkg/vad"
)

const (
	// vadWeight and fluxWeight blend the two confidence ingredients:
	// aggregate voice-activity probability around the gap and the
	// normalised spectral-flux magnitude there.
	vadWeight  = 0.7
	fluxWeight = 0.3

	// confidenceWindowSec is the region around the detected gap scored by
	// Confidence.
	confidenceWindowSec = 4.0

	// fallbackConfidence is reported when confidence scoring itself fails.
	fallbackConfidence = 0.5
)

// Provider implements [gap.Provider] with HPSS harmonic biasing plus VAD.
type Provider struct {
	converter *media.Converter
	silence   *media.SilenceDetector
	detector  vad.Detector // nil means VAD backend absent
	tempRoot  string
}

var _ gap.Provider = (*Provider)(nil)

// New creates the fast-preview provider. detector may be nil when no VAD
// backend could be constructed; boundary detection then always takes the
// silencedetect fallback.
func New(converter *media.Converter, silence *media.SilenceDetector, detector vad.Detector, tempRoot string) *Provider {
	return &Provider{converter: converter, silence: silence, detector: detector, tempRoot: tempRoot}
}

// Method implements [gap.Provider].
func (p *Provider) Method() gap.Method { return gap.MethodFastPreview }

// DefaultSemantics implements [gap.Provider].
func (p *Provider) DefaultSemantics() gap.Semantics { return gap.SemanticsSpeechStart }

// VocalsFile implements [gap.Provider]. The "vocal signal" of the fast path
// is the harmonic component of the analysis region, not a separated stem.
func (p *Provider) VocalsFile(ctx context.Context, req gap.VocalsRequest) (string, error) {
	if !req.Overwrite {
		if _, err := os.Stat(req.Destination); err == nil {
			slog.Debug("reusing existing harmonic signal",
				"provider", p.Method(), "path", req.Destination)
			return req.Destination, nil
		}
	}
	if err := ctx.Err(); err != nil {
		return "", gap.Cancelled(p.Method(), err)
	}

	work := req.Destination + ".raw.wav"
	if err := p.converter.ToAnalysisWav(ctx, req.AudioFile, work, req.DurationSec); err != nil {
		return "", gap.NewDetectionError(p.Method(), err)
	}
	defer os.Remove(work)

	clip, err := media.ReadWav(work)
	if err != nil {
		return "", gap.NewDetectionError(p.Method(), err)
	}
	if err := ctx.Err(); err != nil {
		return "", gap.Cancelled(p.Method(), err)
	}

	clip.Samples = dsp.Harmonic(clip.Samples, dsp.DefaultFrameSize, dsp.DefaultHopSize)
	if err := media.WriteWav(clip, req.Destination); err != nil {
		os.Remove(req.Destination)
		return "", gap.NewDetectionError(p.Method(), err)
	}
	return req.Destination, nil
}

// DetectBoundaries implements [gap.Provider]. On the primary path it returns
// VAD speech segments; on VAD failure it falls back once to silencedetect and
// tags the result with silence semantics.
func (p *Provider) DetectBoundaries(ctx context.Context, audioFile, vocalsFile string) (gap.Boundaries, error) {
	if err := ctx.Err(); err != nil {
		return gap.Boundaries{}, gap.Cancelled(p.Method(), err)
	}

	segments, err := p.speechSegments(ctx, vocalsFile)
	if err == nil {
		return gap.Boundaries{Intervals: segments, Semantics: gap.SemanticsSpeechStart}, nil
	}
	if gap.IsCancelled(err) {
		return gap.Boundaries{}, gap.Cancelled(p.Method(), err)
	}

	slog.Warn("vad analysis failed, falling back to silencedetect",
		"provider", p.Method(), "error", err)
	periods, fbErr := p.silence.Detect(ctx, vocalsFile, 0)
	if fbErr != nil {
		return gap.Boundaries{}, gap.NewDetectionError(p.Method(),
			fmt.Errorf("vad failed (%v) and silencedetect fallback failed: %w", err, fbErr))
	}
	return gap.Boundaries{Intervals: periods, Semantics: gap.SemanticsSilence}, nil
}

// errNoVAD marks the absence of a VAD backend; it is fallback-eligible.
var errNoVAD = fmt.Errorf("%w: no vad backend configured", gap.ErrFallback)

func (p *Provider) speechSegments(ctx context.Context, vocalsFile string) ([]gap.TimeInterval, error) {
	if p.detector == nil {
		return nil, errNoVAD
	}
	clip, err := media.ReadWav(vocalsFile)
	if err != nil {
		return nil, err
	}
	res, err := p.detector.DetectSegments(ctx, clip.Samples, clip.SampleRate)
	if err != nil {
		return nil, err
	}
	intervals := make([]gap.TimeInterval, len(res.Segments))
	for i, s := range res.Segments {
		intervals[i] = gap.TimeInterval{StartMs: s.StartMs, EndMs: s.EndMs}
	}
	return intervals, nil
}

// Confidence implements [gap.Provider]. It scores a short window around the
// detected gap as 0.7·speech-ratio + 0.3·flux-magnitude and never fails:
// any scoring error degrades to the conservative 0.5 default.
func (p *Provider) Confidence(ctx context.Context, audioFile string, detectedGapMs int64) float64 {
	score, err := p.confidence(ctx, audioFile, detectedGapMs)
	if err != nil {
		slog.Warn("confidence scoring failed, using default",
			"provider", p.Method(), "error", err)
		return fallbackConfidence
	}
	return score
}

func (p *Provider) confidence(ctx context.Context, audioFile string, detectedGapMs int64) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	work, err := os.CreateTemp(p.tempRoot, "confidence-*.wav")
	if err != nil {
		return 0, err
	}
	work.Close()
	defer os.Remove(work.Name())

	startSec := float64(detectedGapMs)/1000 - confidenceWindowSec/2
	if startSec < 0 {
		startSec = 0
	}
	if err := p.converter.ExtractWindow(ctx, audioFile, work.Name(), startSec, confidenceWindowSec); err != nil {
		return 0, err
	}
	clip, err := media.ReadWav(work.Name())
	if err != nil {
		return 0, err
	}

	var speechRatio float64
	if p.detector != nil {
		res, vadErr := p.detector.DetectSegments(ctx, clip.Samples, clip.SampleRate)
		if vadErr != nil {
			if gap.IsCancelled(vadErr) {
				return 0, vadErr
			}
			// Degenerate but scoreable: keep the flux part only.
			speechRatio = 0
		} else {
			speechRatio = res.SpeechRatio
		}
	}

	flux := dsp.PeakFlux(clip.Samples, dsp.DefaultFrameSize, dsp.DefaultHopSize)
	score := vadWeight*speechRatio + fluxWeight*flux
	if score < 0 {
		score = 0
	} else if score > 1 {
		score = 1
	}
	return score, nil
}
