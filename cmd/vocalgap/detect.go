package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/vocalgap/vocalgap/internal/config"
	"github.com/vocalgap/vocalgap/internal/pipeline"
	"github.com/vocalgap/vocalgap/internal/songfile"
	"github.com/vocalgap/vocalgap/pkg/provider/gap"
)

// detectOutput is the JSON shape printed by one-shot mode.
type detectOutput struct {
	SongFile      string             `json:"song_file,omitempty"`
	AudioFile     string             `json:"audio_file"`
	Method        gap.Method         `json:"method"`
	OriginalGapMs int64              `json:"original_gap_ms"`
	DetectedGapMs int64              `json:"detected_gap_ms"`
	Confidence    float64            `json:"confidence"`
	Semantics     string             `json:"semantics"`
	Intervals     []gap.TimeInterval `json:"intervals"`
	PreviewFile   string             `json:"preview_file,omitempty"`
	WaveformFile  string             `json:"waveform_file,omitempty"`
	Retries       int                `json:"retries"`
	WindowSec     float64            `json:"window_sec"`
	GapWritten    bool               `json:"gap_written"`
}

// runDetect executes one synchronous detection and prints the result as
// JSON on stdout. target is either an UltraStar song text file or an audio
// file; writeGap rewrites the song's #GAP tag on success.
func runDetect(ctx context.Context, cfg *config.Config, target, methodName string, writeGap bool) int {
	audioFile := target
	songPath := ""
	var expectedGapMs int64

	if strings.EqualFold(filepath.Ext(target), ".txt") {
		song, err := songfile.Load(target)
		if err != nil {
			fmt.Fprintf(os.Stderr, "vocalgap: %v\n", err)
			return 1
		}
		songPath = target
		audioFile = song.AudioFile
		expectedGapMs = song.GapMs
	}

	det := cfg.Detection

	method := gap.Method(methodName)
	if method == "" {
		method = gap.Method(det.DefaultProvider)
	}
	if method == "" {
		method = gap.MethodFastPreview
	}
	if !method.IsValid() {
		fmt.Fprintf(os.Stderr, "vocalgap: unknown detection method %q\n", method)
		return 1
	}

	registry := config.DefaultRegistry()
	vadEntry := det.VAD
	if vadEntry.Name == "" {
		vadEntry.Name = "rms"
	}
	vadDet, err := registry.CreateVAD(vadEntry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vocalgap: %v\n", err)
		return 1
	}
	toolkit := config.NewToolkit(cfg, vadDet)

	var trackLen int64
	if method == gap.MethodExpandingScan || method == gap.MethodWindowedHighQuality {
		trackLen, err = toolkit.Prober.DurationMs(ctx, audioFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "vocalgap: probe duration: %v\n", err)
			return 1
		}
	}

	provider, err := registry.CreateGap(method, &det, toolkit, config.DetectionRequest{
		ExpectedGapMs: expectedGapMs,
		TrackLengthMs: trackLen,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "vocalgap: %v\n", err)
		return 1
	}

	tempRoot := filepath.Join(toolkit.TempRoot, "vocalgap-"+uuid.NewString())
	if err := os.MkdirAll(tempRoot, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "vocalgap: temp dir: %v\n", err)
		return 1
	}
	defer os.RemoveAll(tempRoot)

	settings := pipeline.Settings{
		DefaultDetectionTimeSec: det.DefaultDetectionTimeSec,
		PreviewPreMs:            det.Preview.PreMs,
		PreviewPostMs:           det.Preview.PostMs,
		WaveformBins:            det.WaveformBins,
		ScanStartRadiusSec:      det.Scan.StartRadiusSec,
		ScanRadiusIncrementSec:  det.Scan.RadiusIncrementSec,
		ScanMaxRadiusSec:        det.Scan.MaxRadiusSec,
	}
	dctx, err := pipeline.NewDetectionContext(audioFile, expectedGapMs, trackLen, tempRoot, &settings)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vocalgap: %v\n", err)
		return 1
	}

	pipe := &pipeline.Pipeline{
		Prober:    toolkit.Prober,
		Converter: toolkit.Converter,
	}
	res, err := pipe.Perform(ctx, dctx, provider)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vocalgap: detection failed: %v\n", err)
		return 1
	}

	written := false
	if writeGap && songPath != "" {
		if err := songfile.SetGap(songPath, res.DetectedGapMs); err != nil {
			fmt.Fprintf(os.Stderr, "vocalgap: write gap: %v\n", err)
			return 1
		}
		written = true
		slog.Info("gap tag updated", "song", songPath, "gap_ms", res.DetectedGapMs)
	}

	out := detectOutput{
		SongFile:      songPath,
		AudioFile:     audioFile,
		Method:        res.Method,
		OriginalGapMs: res.OriginalGapMs,
		DetectedGapMs: res.DetectedGapMs,
		Confidence:    res.Confidence,
		Semantics:     res.Semantics.String(),
		Intervals:     res.Intervals,
		PreviewFile:   res.PreviewFile,
		WaveformFile:  res.WaveformFile,
		Retries:       res.Retries,
		WindowSec:     res.WindowSec,
		GapWritten:    written,
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintf(os.Stderr, "vocalgap: %v\n", err)
		return 1
	}
	return 0
}
