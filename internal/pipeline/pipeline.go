package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/vocalgap/vocalgap/internal/boundary"
	"github.com/vocalgap/vocalgap/internal/media"
	"github.com/vocalgap/vocalgap/internal/observe"
	"github.com/vocalgap/vocalgap/pkg/provider/gap"
)

// Result is the outcome of one successful detection. It is assembled once at
// the end of a run and immutable afterwards.
type Result struct {
	// DetectedGapMs is the corrected vocal start.
	DetectedGapMs int64

	// OriginalGapMs echoes the expected gap the detection started from.
	OriginalGapMs int64

	// Intervals is the boundary list the gap was derived from, in the
	// semantics recorded next to it.
	Intervals []gap.TimeInterval
	Semantics gap.Semantics

	// Method names the provider that produced the result.
	Method gap.Method

	// Confidence is the provider's trust score in [0,1].
	Confidence float64

	// VocalsFile is the analysable vocal signal the boundaries came from.
	VocalsFile string

	// PreviewFile and WaveformFile are best-effort artifacts; empty when
	// their enrichment step failed or was skipped.
	PreviewFile  string
	WaveformFile string

	// Retries counts window expansions, WindowSec is the final window.
	Retries   int
	WindowSec float64
}

// Pipeline orchestrates detections. It holds no per-request state; one
// Pipeline serves any number of sequential or concurrent requests.
type Pipeline struct {
	// Prober supplies track durations for the retry decision. Nil disables
	// lazy probing; retries then require AudioLengthMs on the context.
	Prober *media.Prober

	// Converter builds the preview artifact. Nil skips preview enrichment.
	Converter *media.Converter

	// Metrics records detection telemetry. Nil disables recording.
	Metrics *observe.Metrics
}

// Perform runs one detection with the given provider. It returns a validation
// error, a [gap.DetectionError], or a fully populated [Result]; enrichment
// failures never surface here.
func (p *Pipeline) Perform(ctx context.Context, dctx *DetectionContext, provider gap.Provider) (*Result, error) {
	start := time.Now()
	ctx, span := observe.DetectionSpan(ctx, string(provider.Method()), dctx.AudioFile)
	defer span.End()

	res, err := p.perform(ctx, dctx, provider)
	if p.Metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
			if gap.IsCancelled(err) {
				status = "cancelled"
			}
		}
		p.Metrics.RecordDetection(ctx, string(provider.Method()), status, time.Since(start).Seconds())
	}
	return res, err
}

func (p *Pipeline) perform(ctx context.Context, dctx *DetectionContext, provider gap.Provider) (*Result, error) {
	if err := dctx.validate(); err != nil {
		return nil, err
	}
	settings := dctx.Settings.withDefaults()

	windowSec := CalculateDetectionTime(dctx.OriginalGapMs, settings.DefaultDetectionTimeSec)
	if dctx.AudioLengthMs > 0 && windowSec*1000 > float64(dctx.AudioLengthMs) {
		// Short track: the window never exceeds what exists.
		windowSec = float64(dctx.AudioLengthMs) / 1000
	}

	log := slog.With(
		"audio", filepath.Base(dctx.AudioFile),
		"method", provider.Method(),
		"expected_gap_ms", dctx.OriginalGapMs,
	)
	log.Info("detection started", "window_sec", windowSec)

	var (
		detected  int64
		bounds    gap.Boundaries
		signal    string
		retries   int
		overwrite = dctx.Overwrite
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, gap.Cancelled(provider.Method(), err)
		}

		var err error
		signal, err = provider.VocalsFile(ctx, gap.VocalsRequest{
			AudioFile:   dctx.AudioFile,
			TempRoot:    dctx.TempRoot,
			Destination: p.signalPath(dctx),
			DurationSec: windowSec,
			Overwrite:   overwrite,
		})
		if err != nil {
			p.recordProviderError(ctx, provider, "vocals_file")
			return nil, err
		}

		bounds, err = provider.DetectBoundaries(ctx, dctx.AudioFile, signal)
		if err != nil {
			p.recordProviderError(ctx, provider, "detect_boundaries")
			return nil, err
		}

		detected, err = interpret(bounds, dctx.OriginalGapMs)
		if err != nil {
			return nil, gap.NewDetectionError(provider.Method(), err)
		}

		lengthMs := p.trackLength(ctx, dctx)
		if !ShouldRetry(detected, windowSec, lengthMs) {
			if lengthMs > 0 && detected > lengthMs {
				return nil, gap.NewDetectionError(provider.Method(),
					fmt.Errorf("detected gap %d ms beyond track end %d ms", detected, lengthMs))
			}
			break
		}

		retries++
		if p.Metrics != nil {
			p.Metrics.DetectionRetries.Add(ctx, 1)
		}
		windowSec *= 2
		if windowSec*1000 > float64(lengthMs) {
			windowSec = float64(lengthMs) / 1000
		}
		overwrite = true
		log.Info("gap beyond analysis window, expanding",
			"detected_gap_ms", detected, "window_sec", windowSec, "retry", retries)
	}

	confidence := provider.Confidence(ctx, dctx.AudioFile, detected)
	if p.Metrics != nil {
		p.Metrics.RecordConfidence(ctx, string(provider.Method()), confidence)
		delta := detected - dctx.OriginalGapMs
		if delta < 0 {
			delta = -delta
		}
		p.Metrics.GapCorrection.Record(ctx, float64(delta)/1000)
	}

	res := &Result{
		DetectedGapMs: detected,
		OriginalGapMs: dctx.OriginalGapMs,
		Intervals:     bounds.Intervals,
		Semantics:     bounds.Semantics,
		Method:        provider.Method(),
		Confidence:    confidence,
		VocalsFile:    signal,
		Retries:       retries,
		WindowSec:     windowSec,
	}
	if provider.Method() != gap.MethodFullSeparation {
		p.enrich(ctx, dctx, res)
	}

	log.Info("detection finished",
		"detected_gap_ms", detected, "confidence", confidence, "retries", retries)
	return res, nil
}

// interpret converts a boundary list into a single gap, honouring the
// semantics the provider tagged the list with. An empty speech list is a
// detection failure, never a silent zero; an empty silence list means vocals
// start immediately.
func interpret(b gap.Boundaries, expectedMs int64) (int64, error) {
	switch b.Semantics {
	case gap.SemanticsSpeechStart:
		ms, ok := boundary.GapFromSpeechStart(b.Intervals, expectedMs)
		if !ok {
			return 0, fmt.Errorf("no speech segments detected: %w", gap.ErrNoBoundaries)
		}
		return ms, nil
	default:
		return boundary.GapFromSilence(b.Intervals), nil
	}
}

// trackLength returns the track duration in ms, probing it on first use.
// Zero means unknown; the retry loop then settles for the first candidate.
func (p *Pipeline) trackLength(ctx context.Context, dctx *DetectionContext) int64 {
	if dctx.AudioLengthMs > 0 {
		return dctx.AudioLengthMs
	}
	if p.Prober == nil {
		return 0
	}
	ms, err := p.Prober.DurationMs(ctx, dctx.AudioFile)
	if err != nil {
		slog.Warn("track length probe failed, retry disabled",
			"audio", filepath.Base(dctx.AudioFile), "error", err)
		return 0
	}
	dctx.AudioLengthMs = ms
	return ms
}

// signalPath keys the vocal signal by audio file name so concurrent
// detections of different songs never collide under a shared temp root.
func (p *Pipeline) signalPath(dctx *DetectionContext) string {
	name := filepath.Base(dctx.AudioFile)
	name = strings.TrimSuffix(name, filepath.Ext(name))
	return filepath.Join(dctx.TempRoot, name+".vocals.wav")
}

func (p *Pipeline) recordProviderError(ctx context.Context, provider gap.Provider, op string) {
	if p.Metrics == nil {
		return
	}
	p.Metrics.RecordProviderError(ctx, string(provider.Method()), op)
}
