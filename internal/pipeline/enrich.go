package pipeline

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/vocalgap/vocalgap/internal/media"
)

// enrich attaches the preview clip and waveform JSON to res. Both steps are
// best-effort: a failure is logged and counted, the result field stays empty
// and the detection still succeeds.
func (p *Pipeline) enrich(ctx context.Context, dctx *DetectionContext, res *Result) {
	start := time.Now()
	settings := dctx.Settings.withDefaults()
	base := strings.TrimSuffix(filepath.Base(dctx.AudioFile), filepath.Ext(dctx.AudioFile))

	if p.Converter != nil {
		preview := filepath.Join(dctx.TempRoot, base+".preview.wav")
		err := p.Converter.CutPreview(ctx, dctx.AudioFile, preview,
			res.DetectedGapMs, settings.PreviewPreMs, settings.PreviewPostMs)
		if err != nil {
			slog.Warn("preview clip failed", "audio", base, "error", err)
			if p.Metrics != nil {
				p.Metrics.RecordEnrichmentFailure(ctx, "preview")
			}
		} else {
			res.PreviewFile = preview
		}
	}

	waveform := filepath.Join(dctx.TempRoot, base+".waveform.json")
	if err := p.buildWaveform(res.VocalsFile, waveform, settings.WaveformBins); err != nil {
		slog.Warn("waveform data failed", "audio", base, "error", err)
		if p.Metrics != nil {
			p.Metrics.RecordEnrichmentFailure(ctx, "waveform")
		}
	} else {
		res.WaveformFile = waveform
	}

	if p.Metrics != nil {
		p.Metrics.EnrichmentDuration.Record(ctx, time.Since(start).Seconds())
	}
}

// buildWaveform downsamples the vocal signal into min/max bins for UI
// rendering.
func (p *Pipeline) buildWaveform(signalFile, dst string, bins int) error {
	clip, err := media.ReadWav(signalFile)
	if err != nil {
		return err
	}
	return media.WriteWaveform(clip, bins, dst)
}
