package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/hibiken/asynq"

	"github.com/vocalgap/vocalgap/internal/config"
	"github.com/vocalgap/vocalgap/internal/observe"
	"github.com/vocalgap/vocalgap/internal/pipeline"
	"github.com/vocalgap/vocalgap/internal/songfile"
	"github.com/vocalgap/vocalgap/internal/store"
	"github.com/vocalgap/vocalgap/pkg/provider/gap"
)

// DetectHandler processes gap:detect tasks: it loads the song header, reuses
// a stored result when the audio is unchanged, otherwise runs the detection
// pipeline, then persists the result and rewrites the song's #GAP tag.
type DetectHandler struct {
	// Registry builds detection providers. Required.
	Registry *config.Registry

	// Config returns the current configuration snapshot; a function so the
	// handler picks up hot-reloaded detection tunables. Required.
	Config func() *config.Config

	// Toolkit is the shared media tooling. Required.
	Toolkit config.Toolkit

	// Store persists results. Nil disables persistence and result reuse.
	Store *store.Store

	// Publisher receives progress events. Nil disables publishing.
	Publisher Publisher

	// Metrics records the active-job gauge. Nil disables recording.
	Metrics *observe.Metrics
}

var _ asynq.Handler = (*DetectHandler)(nil)

// ProcessTask implements [asynq.Handler].
func (h *DetectHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p DetectPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("worker: unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}

	if h.Metrics != nil {
		h.Metrics.ActiveJobs.Add(ctx, 1)
		defer h.Metrics.ActiveJobs.Add(ctx, -1)
	}
	h.publish(Progress{JobID: p.JobID, SongFile: p.SongFile, Stage: StageDetecting})

	res, err := h.detect(ctx, p)
	if err != nil {
		h.publish(Progress{JobID: p.JobID, SongFile: p.SongFile, Stage: StageFailed, Error: err.Error()})
		slog.Error("detection job failed", "job", p.JobID, "song", p.SongFile, "err", err)
		return err
	}

	h.publish(Progress{
		JobID:         p.JobID,
		SongFile:      p.SongFile,
		Stage:         StageDone,
		DetectedGapMs: res.DetectedGapMs,
		Confidence:    res.Confidence,
	})
	slog.Info("detection job finished",
		"job", p.JobID,
		"song", p.SongFile,
		"gap_ms", res.DetectedGapMs,
		"confidence", res.Confidence,
		"method", res.Method)
	return nil
}

func (h *DetectHandler) detect(ctx context.Context, p DetectPayload) (*pipeline.Result, error) {
	song, err := songfile.Load(p.SongFile)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	info, err := os.Stat(song.AudioFile)
	if err != nil {
		return nil, fmt.Errorf("worker: audio file: %v: %w", err, asynq.SkipRetry)
	}

	// Unchanged audio reuses the stored result; only the #GAP rewrite and
	// the progress event are repeated.
	if h.Store != nil && !p.Overwrite {
		rec, ok, err := h.Store.Match(ctx, song.AudioFile, info.Size(), info.ModTime())
		if err != nil {
			slog.Warn("result cache lookup failed", "song", p.SongFile, "err", err)
		} else if ok {
			slog.Info("reusing stored detection", "song", p.SongFile, "gap_ms", rec.DetectedGapMs)
			if err := songfile.SetGap(p.SongFile, rec.DetectedGapMs); err != nil {
				return nil, err
			}
			return &pipeline.Result{
				DetectedGapMs: rec.DetectedGapMs,
				OriginalGapMs: rec.OriginalGapMs,
				Intervals:     rec.Intervals,
				Semantics:     rec.Semantics,
				Method:        rec.Method,
				Confidence:    rec.Confidence,
				VocalsFile:    rec.VocalsFile,
				PreviewFile:   rec.PreviewFile,
				WaveformFile:  rec.WaveformFile,
				Retries:       rec.Retries,
				WindowSec:     rec.WindowSec,
			}, nil
		}
	}

	cfg := h.Config()
	det := cfg.Detection

	method := gap.Method(p.Method)
	if method == "" {
		method = gap.Method(det.DefaultProvider)
	}
	if method == "" {
		method = gap.MethodFastPreview
	}
	if !method.IsValid() {
		return nil, fmt.Errorf("worker: unknown detection method %q: %w", method, asynq.SkipRetry)
	}

	// The scan and windowed providers need the track geometry up front.
	var trackLen int64
	if method == gap.MethodExpandingScan || method == gap.MethodWindowedHighQuality {
		trackLen, err = h.Toolkit.Prober.DurationMs(ctx, song.AudioFile)
		if err != nil {
			return nil, fmt.Errorf("worker: probe duration: %w", err)
		}
	}

	provider, err := h.Registry.CreateGap(method, &det, h.Toolkit, config.DetectionRequest{
		ExpectedGapMs: song.GapMs,
		TrackLengthMs: trackLen,
	})
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	tempRoot, err := h.jobTempDir(det.TempRoot, p.JobID)
	if err != nil {
		return nil, err
	}

	settings := pipeline.Settings{
		DefaultDetectionTimeSec: det.DefaultDetectionTimeSec,
		PreviewPreMs:            det.Preview.PreMs,
		PreviewPostMs:           det.Preview.PostMs,
		WaveformBins:            det.WaveformBins,
		ScanStartRadiusSec:      det.Scan.StartRadiusSec,
		ScanRadiusIncrementSec:  det.Scan.RadiusIncrementSec,
		ScanMaxRadiusSec:        det.Scan.MaxRadiusSec,
	}
	dctx, err := pipeline.NewDetectionContext(song.AudioFile, song.GapMs, trackLen, tempRoot, &settings)
	if err != nil {
		if errors.Is(err, pipeline.ErrValidation) {
			return nil, fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return nil, err
	}
	dctx.Overwrite = p.Overwrite

	pipe := &pipeline.Pipeline{
		Prober:    h.Toolkit.Prober,
		Converter: h.Toolkit.Converter,
		Metrics:   h.Metrics,
	}
	res, err := pipe.Perform(ctx, dctx, provider)
	if err != nil {
		return nil, err
	}

	if h.Store != nil {
		rec := store.Record{
			AudioFile:     song.AudioFile,
			FileSize:      info.Size(),
			FileModTime:   info.ModTime(),
			DetectedGapMs: res.DetectedGapMs,
			OriginalGapMs: res.OriginalGapMs,
			Method:        res.Method,
			Semantics:     res.Semantics,
			Confidence:    res.Confidence,
			Intervals:     res.Intervals,
			VocalsFile:    res.VocalsFile,
			PreviewFile:   res.PreviewFile,
			WaveformFile:  res.WaveformFile,
			Retries:       res.Retries,
			WindowSec:     res.WindowSec,
		}
		if err := h.Store.Save(ctx, rec); err != nil {
			slog.Warn("could not persist detection result", "song", p.SongFile, "err", err)
		}
	}

	if err := songfile.SetGap(p.SongFile, res.DetectedGapMs); err != nil {
		return nil, err
	}
	return res, nil
}

// jobTempDir creates a per-job scratch directory so concurrent jobs for
// songs with identical file names cannot clobber each other's artifacts.
func (h *DetectHandler) jobTempDir(root, jobID string) (string, error) {
	if root == "" {
		root = os.TempDir()
	}
	dir := filepath.Join(root, "vocalgap-"+jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("worker: temp dir: %w", err)
	}
	return dir, nil
}

func (h *DetectHandler) publish(p Progress) {
	if h.Publisher != nil {
		h.Publisher.Publish(p)
	}
}
