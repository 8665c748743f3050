package pipeline

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/vocalgap/vocalgap/internal/media"
	"github.com/vocalgap/vocalgap/pkg/provider/gap"
	gapmock "github.com/vocalgap/vocalgap/pkg/provider/gap/mock"
)

type fakeRunner struct {
	calls  [][]string
	handle func(name string, args []string) ([]byte, error)
}

func (r *fakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	r.calls = append(r.calls, append([]string{name}, args...))
	if r.handle == nil {
		return nil, nil
	}
	return r.handle(name, args)
}

// newSong creates a placeholder audio file and returns its path and temp dir.
func newSong(t *testing.T) (string, string) {
	t.Helper()
	tmp := t.TempDir()
	song := filepath.Join(tmp, "song.mp3")
	if err := os.WriteFile(song, []byte("not really audio"), 0o644); err != nil {
		t.Fatalf("newSong: %v", err)
	}
	return song, tmp
}

func newContext(t *testing.T, song, tmp string, gapMs, lengthMs int64) *DetectionContext {
	t.Helper()
	dctx, err := NewDetectionContext(song, gapMs, lengthMs, tmp, &Settings{})
	if err != nil {
		t.Fatalf("NewDetectionContext: %v", err)
	}
	return dctx
}

func TestCalculateDetectionTime(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		gapMs      int64
		defaultSec float64
		want       float64
	}{
		{name: "gap within default", gapMs: 5000, defaultSec: 60, want: 90},
		{name: "one doubling", gapMs: 65000, defaultSec: 60, want: 180},
		{name: "two doublings", gapMs: 200000, defaultSec: 60, want: 360},
		{name: "zero gap", gapMs: 0, defaultSec: 60, want: 90},
		{name: "small default", gapMs: 30000, defaultSec: 10, want: 60},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := CalculateDetectionTime(tc.gapMs, tc.defaultSec); got != tc.want {
				t.Errorf("CalculateDetectionTime(%d, %v) = %v, want %v",
					tc.gapMs, tc.defaultSec, got, tc.want)
			}
		})
	}
}

func TestCalculateDetectionTimeMonotone(t *testing.T) {
	t.Parallel()

	prev := 0.0
	for gapMs := int64(0); gapMs <= 600000; gapMs += 7000 {
		got := CalculateDetectionTime(gapMs, 60)
		if got < prev {
			t.Fatalf("not monotone at %d ms: %v < %v", gapMs, got, prev)
		}
		if got < 60*1.5 {
			t.Fatalf("window %v below the buffered default at %d ms", got, gapMs)
		}
		prev = got
	}
}

func TestShouldRetry(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		gapMs    int64
		window   float64
		lengthMs int64
		want     bool
	}{
		{name: "gap beyond window", gapMs: 70000, window: 60, lengthMs: 120000, want: true},
		{name: "window already covers gap", gapMs: 70000, window: 120, lengthMs: 120000, want: false},
		{name: "gap inside window", gapMs: 50000, window: 60, lengthMs: 120000, want: false},
		{name: "window covers track", gapMs: 200000, window: 120, lengthMs: 120000, want: false},
		{name: "unknown length", gapMs: 70000, window: 60, lengthMs: 0, want: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := ShouldRetry(tc.gapMs, tc.window, tc.lengthMs); got != tc.want {
				t.Errorf("ShouldRetry(%d, %v, %d) = %v, want %v",
					tc.gapMs, tc.window, tc.lengthMs, got, tc.want)
			}
		})
	}
}

func TestPerformSpeechStartSemantics(t *testing.T) {
	t.Parallel()

	song, tmp := newSong(t)
	prov := &gapmock.Provider{
		ProviderMethod: gap.MethodFastPreview,
		Boundaries: gap.Boundaries{
			Semantics: gap.SemanticsSpeechStart,
			Intervals: []gap.TimeInterval{
				{StartMs: 1200, EndMs: 2400},
				{StartMs: 4800, EndMs: 9000},
				{StartMs: 30000, EndMs: 32000},
			},
		},
	}
	p := &Pipeline{}

	res, err := p.Perform(context.Background(), newContext(t, song, tmp, 5000, 180000), prov)
	if err != nil {
		t.Fatalf("Perform: %v", err)
	}
	if res.DetectedGapMs != 4800 {
		t.Errorf("DetectedGapMs = %d, want the start nearest to 5000: 4800", res.DetectedGapMs)
	}
	if res.Method != gap.MethodFastPreview {
		t.Errorf("Method = %v, want fast preview", res.Method)
	}
	if res.Confidence != 0.5 {
		t.Errorf("Confidence = %v, want mock default 0.5", res.Confidence)
	}
	if len(prov.ConfidenceCalls) != 1 || prov.ConfidenceCalls[0].GapMs != 4800 {
		t.Errorf("ConfidenceCalls = %+v, want one call for the accepted gap", prov.ConfidenceCalls)
	}
}

func TestPerformSilenceSemantics(t *testing.T) {
	t.Parallel()

	song, tmp := newSong(t)
	prov := &gapmock.Provider{
		ProviderMethod: gap.MethodFullSeparation,
		Boundaries: gap.Boundaries{
			Semantics: gap.SemanticsSilence,
			Intervals: []gap.TimeInterval{
				{StartMs: 0, EndMs: 1000},
				{StartMs: 5000, EndMs: 6000},
				{StartMs: 10000, EndMs: 11000},
			},
		},
	}
	p := &Pipeline{}

	res, err := p.Perform(context.Background(), newContext(t, song, tmp, 99999, 180000), prov)
	if err != nil {
		t.Fatalf("Perform: %v", err)
	}
	// First silence period's end, later vocal pauses ignored.
	if res.DetectedGapMs != 1000 {
		t.Errorf("DetectedGapMs = %d, want 1000", res.DetectedGapMs)
	}
	// The legacy path gets no preview or waveform.
	if res.PreviewFile != "" || res.WaveformFile != "" {
		t.Errorf("legacy result has artifacts: preview=%q waveform=%q",
			res.PreviewFile, res.WaveformFile)
	}
}

func TestPerformEmptySilenceMeansImmediateVocals(t *testing.T) {
	t.Parallel()

	song, tmp := newSong(t)
	prov := &gapmock.Provider{
		ProviderMethod: gap.MethodFullSeparation,
		Boundaries:     gap.Boundaries{Semantics: gap.SemanticsSilence},
	}
	p := &Pipeline{}

	res, err := p.Perform(context.Background(), newContext(t, song, tmp, 5000, 180000), prov)
	if err != nil {
		t.Fatalf("Perform: %v", err)
	}
	if res.DetectedGapMs != 0 {
		t.Errorf("DetectedGapMs = %d, want 0 for an all-vocal track", res.DetectedGapMs)
	}
}

func TestPerformEmptySpeechListIsError(t *testing.T) {
	t.Parallel()

	song, tmp := newSong(t)
	prov := &gapmock.Provider{
		ProviderMethod: gap.MethodFastPreview,
		Boundaries:     gap.Boundaries{Semantics: gap.SemanticsSpeechStart},
	}
	p := &Pipeline{}

	_, err := p.Perform(context.Background(), newContext(t, song, tmp, 5000, 180000), prov)
	if !errors.Is(err, gap.ErrNoBoundaries) {
		t.Fatalf("err = %v, want ErrNoBoundaries, never a silent zero", err)
	}
}

func TestPerformRetryDoublesWindowAndOverwrites(t *testing.T) {
	t.Parallel()

	song, tmp := newSong(t)
	// The first pass puts the gap beyond the 90 s window; the retry at
	// 180 s accepts it.
	prov := &gapmock.Provider{
		ProviderMethod: gap.MethodFullSeparation,
		Boundaries: gap.Boundaries{
			Semantics: gap.SemanticsSilence,
			Intervals: []gap.TimeInterval{{StartMs: 0, EndMs: 95000}},
		},
	}
	p := &Pipeline{}

	res, err := p.Perform(context.Background(), newContext(t, song, tmp, 5000, 600000), prov)
	if err != nil {
		t.Fatalf("Perform: %v", err)
	}
	if res.DetectedGapMs != 95000 {
		t.Errorf("DetectedGapMs = %d, want 95000", res.DetectedGapMs)
	}
	if res.Retries != 1 {
		t.Errorf("Retries = %d, want 1", res.Retries)
	}
	if len(prov.VocalsFileCalls) != 2 {
		t.Fatalf("VocalsFile calls = %d, want 2", len(prov.VocalsFileCalls))
	}
	first, second := prov.VocalsFileCalls[0].Req, prov.VocalsFileCalls[1].Req
	if first.Overwrite {
		t.Error("first attempt must reuse a cached signal")
	}
	if !second.Overwrite {
		t.Error("retry must force re-analysis at the larger window")
	}
	if second.DurationSec != 2*first.DurationSec {
		t.Errorf("retry window = %v, want doubled %v", second.DurationSec, 2*first.DurationSec)
	}
	if res.WindowSec != 180 {
		t.Errorf("WindowSec = %v, want 180", res.WindowSec)
	}
}

func TestPerformGapBeyondTrackFails(t *testing.T) {
	t.Parallel()

	song, tmp := newSong(t)
	prov := &gapmock.Provider{
		ProviderMethod: gap.MethodFullSeparation,
		Boundaries: gap.Boundaries{
			Semantics: gap.SemanticsSilence,
			Intervals: []gap.TimeInterval{{StartMs: 0, EndMs: 130000}},
		},
	}
	p := &Pipeline{}

	_, err := p.Perform(context.Background(), newContext(t, song, tmp, 5000, 120000), prov)
	if err == nil {
		t.Fatal("expected failure for a gap beyond track end")
	}
	var derr *gap.DetectionError
	if !errors.As(err, &derr) {
		t.Fatalf("err = %v, want DetectionError", err)
	}
	// The window was capped to the track, so at most one retry happened.
	if len(prov.VocalsFileCalls) > 2 {
		t.Errorf("VocalsFile calls = %d, retries must stay bounded", len(prov.VocalsFileCalls))
	}
}

func TestPerformCancelled(t *testing.T) {
	t.Parallel()

	song, tmp := newSong(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	prov := &gapmock.Provider{}
	p := &Pipeline{}

	_, err := p.Perform(ctx, newContext(t, song, tmp, 5000, 180000), prov)
	if !gap.IsCancelled(err) {
		t.Fatalf("err = %v, want cancellation", err)
	}
	if len(prov.VocalsFileCalls) != 0 {
		t.Error("provider invoked after cancellation")
	}
}

func TestNewDetectionContextValidation(t *testing.T) {
	t.Parallel()

	song, tmp := newSong(t)
	settings := &Settings{}

	tests := []struct {
		name     string
		audio    string
		gapMs    int64
		lengthMs int64
		settings *Settings
		wantErr  error
	}{
		{name: "empty path", audio: "", settings: settings, wantErr: ErrValidation},
		{name: "missing file", audio: filepath.Join(tmp, "nope.mp3"), settings: settings, wantErr: os.ErrNotExist},
		{name: "negative gap", audio: song, gapMs: -1, settings: settings, wantErr: ErrValidation},
		{name: "negative length", audio: song, lengthMs: -5, settings: settings, wantErr: ErrValidation},
		{name: "missing settings", audio: song, settings: nil, wantErr: ErrValidation},
		{name: "zero gap is valid", audio: song, gapMs: 0, settings: settings},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewDetectionContext(tc.audio, tc.gapMs, tc.lengthMs, tmp, tc.settings)
			if tc.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("err = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestPerformEnrichment(t *testing.T) {
	t.Parallel()

	song, tmp := newSong(t)

	// A real vocal signal so the waveform step has samples to bin.
	signal := filepath.Join(tmp, "signal.wav")
	samples := make([]float64, media.AnalysisSampleRate)
	for i := range samples {
		samples[i] = 0.3 * math.Sin(2*math.Pi*440*float64(i)/float64(media.AnalysisSampleRate))
	}
	if err := media.WriteWav(&media.Clip{Samples: samples, SampleRate: media.AnalysisSampleRate}, signal); err != nil {
		t.Fatalf("WriteWav: %v", err)
	}

	r := &fakeRunner{}
	r.handle = func(name string, args []string) ([]byte, error) {
		// CutPreview: materialise the preview file.
		if err := os.WriteFile(args[len(args)-1], []byte("wav"), 0o644); err != nil {
			return nil, err
		}
		return nil, nil
	}
	prov := &gapmock.Provider{
		ProviderMethod: gap.MethodFastPreview,
		VocalsPath:     signal,
		Boundaries: gap.Boundaries{
			Semantics: gap.SemanticsSpeechStart,
			Intervals: []gap.TimeInterval{{StartMs: 4800, EndMs: 9000}},
		},
	}
	p := &Pipeline{Converter: &media.Converter{Runner: r}}

	res, err := p.Perform(context.Background(), newContext(t, song, tmp, 5000, 180000), prov)
	if err != nil {
		t.Fatalf("Perform: %v", err)
	}
	if res.PreviewFile == "" {
		t.Error("preview artifact missing")
	}
	if res.WaveformFile == "" {
		t.Fatal("waveform artifact missing")
	}
	if _, err := os.Stat(res.WaveformFile); err != nil {
		t.Errorf("waveform file not written: %v", err)
	}
}

func TestPerformEnrichmentFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	song, tmp := newSong(t)
	r := &fakeRunner{handle: func(string, []string) ([]byte, error) {
		return []byte("boom"), errors.New("exit status 1")
	}}
	prov := &gapmock.Provider{
		ProviderMethod: gap.MethodFastPreview,
		Boundaries: gap.Boundaries{
			Semantics: gap.SemanticsSpeechStart,
			Intervals: []gap.TimeInterval{{StartMs: 4800, EndMs: 9000}},
		},
	}
	p := &Pipeline{Converter: &media.Converter{Runner: r}}

	res, err := p.Perform(context.Background(), newContext(t, song, tmp, 5000, 180000), prov)
	if err != nil {
		t.Fatalf("Perform must succeed despite enrichment failures: %v", err)
	}
	if res.DetectedGapMs != 4800 {
		t.Errorf("DetectedGapMs = %d, want 4800", res.DetectedGapMs)
	}
	if res.PreviewFile != "" || res.WaveformFile != "" {
		t.Errorf("failed artifacts must stay absent: preview=%q waveform=%q",
			res.PreviewFile, res.WaveformFile)
	}
}
