package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/hibiken/asynq"

	"github.com/vocalgap/vocalgap/internal/config"
	"github.com/vocalgap/vocalgap/internal/songfile"
	"github.com/vocalgap/vocalgap/internal/worker"
	"github.com/vocalgap/vocalgap/pkg/provider/gap"
	gapmock "github.com/vocalgap/vocalgap/pkg/provider/gap/mock"
)

// progressRecorder collects published progress events.
type progressRecorder struct {
	mu     sync.Mutex
	events []worker.Progress
}

func (r *progressRecorder) Publish(p worker.Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, p)
}

func (r *progressRecorder) all() []worker.Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]worker.Progress(nil), r.events...)
}

// newSong writes a song dir with a text file and a dummy audio file.
func newSong(t *testing.T, gapMs string) string {
	t.Helper()
	dir := t.TempDir()
	songPath := filepath.Join(dir, "song.txt")
	content := "#TITLE:t\n#ARTIST:a\n#MP3:song.mp3\n#GAP:" + gapMs + "\n: 0 1 1 x\n"
	if err := os.WriteFile(songPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "song.mp3"), []byte("mp3"), 0o644); err != nil {
		t.Fatal(err)
	}
	return songPath
}

// newHandler wires a DetectHandler whose registry returns prov for the
// full-separation method.
func newHandler(t *testing.T, prov *gapmock.Provider, rec *progressRecorder) *worker.DetectHandler {
	t.Helper()
	reg := config.NewRegistry()
	reg.RegisterGap(gap.MethodFullSeparation, func(_ *config.DetectionConfig, _ config.Toolkit, _ config.DetectionRequest) (gap.Provider, error) {
		return prov, nil
	})
	cfg := &config.Config{}
	cfg.Detection.DefaultProvider = string(gap.MethodFullSeparation)
	cfg.Detection.TempRoot = t.TempDir()
	return &worker.DetectHandler{
		Registry:  reg,
		Config:    func() *config.Config { return cfg },
		Publisher: rec,
	}
}

func detectTask(t *testing.T, p worker.DetectPayload) *asynq.Task {
	t.Helper()
	task, err := worker.NewDetectTask(p)
	if err != nil {
		t.Fatalf("NewDetectTask: %v", err)
	}
	return task
}

func TestProcessTaskDetectsAndRewritesGap(t *testing.T) {
	t.Parallel()
	songPath := newSong(t, "1000")
	prov := &gapmock.Provider{
		Boundaries: gap.Boundaries{
			Intervals: []gap.TimeInterval{{StartMs: 0, EndMs: 4500}},
			Semantics: gap.SemanticsSilence,
		},
		Score: 0.8,
	}
	rec := &progressRecorder{}
	h := newHandler(t, prov, rec)

	task := detectTask(t, worker.DetectPayload{JobID: "job-1", SongFile: songPath})
	if err := h.ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("ProcessTask: %v", err)
	}

	song, err := songfile.Load(songPath)
	if err != nil {
		t.Fatalf("Load after detection: %v", err)
	}
	if song.GapMs != 4500 {
		t.Errorf("rewritten gap: got %d, want 4500", song.GapMs)
	}

	events := rec.all()
	if len(events) != 2 {
		t.Fatalf("progress events: got %d, want 2", len(events))
	}
	if events[0].Stage != worker.StageDetecting {
		t.Errorf("first event stage: got %q", events[0].Stage)
	}
	done := events[1]
	if done.Stage != worker.StageDone || done.DetectedGapMs != 4500 || done.JobID != "job-1" {
		t.Errorf("done event: %+v", done)
	}
	if done.Confidence != 0.8 {
		t.Errorf("done confidence: got %.2f, want 0.8", done.Confidence)
	}
}

func TestProcessTaskOverwritePropagates(t *testing.T) {
	t.Parallel()
	songPath := newSong(t, "0")
	prov := &gapmock.Provider{
		Boundaries: gap.Boundaries{Semantics: gap.SemanticsSilence},
	}
	rec := &progressRecorder{}
	h := newHandler(t, prov, rec)

	task := detectTask(t, worker.DetectPayload{SongFile: songPath, Overwrite: true})
	if err := h.ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("ProcessTask: %v", err)
	}

	if len(prov.VocalsFileCalls) == 0 {
		t.Fatal("provider was never asked for a vocal signal")
	}
	if !prov.VocalsFileCalls[0].Req.Overwrite {
		t.Error("overwrite flag did not reach the provider request")
	}
}

func TestProcessTaskMissingSongFails(t *testing.T) {
	t.Parallel()
	rec := &progressRecorder{}
	h := newHandler(t, &gapmock.Provider{}, rec)

	task := detectTask(t, worker.DetectPayload{SongFile: filepath.Join(t.TempDir(), "missing.txt")})
	err := h.ProcessTask(context.Background(), task)
	if err == nil {
		t.Fatal("expected error for missing song file")
	}
	if !errors.Is(err, asynq.SkipRetry) {
		t.Errorf("missing song should not be retried, got: %v", err)
	}

	events := rec.all()
	if len(events) == 0 || events[len(events)-1].Stage != worker.StageFailed {
		t.Errorf("expected a failed progress event, got %+v", events)
	}
}

func TestProcessTaskUnknownMethod(t *testing.T) {
	t.Parallel()
	songPath := newSong(t, "100")
	h := newHandler(t, &gapmock.Provider{}, &progressRecorder{})

	task := detectTask(t, worker.DetectPayload{SongFile: songPath, Method: "turbo"})
	err := h.ProcessTask(context.Background(), task)
	if !errors.Is(err, asynq.SkipRetry) {
		t.Errorf("unknown method should not be retried, got: %v", err)
	}
}

func TestProcessTaskProviderFailure(t *testing.T) {
	t.Parallel()
	songPath := newSong(t, "100")
	prov := &gapmock.Provider{
		BoundariesErr: &gap.DetectionError{Provider: gap.MethodFullSeparation, Cause: gap.ErrNoBoundaries},
	}
	rec := &progressRecorder{}
	h := newHandler(t, prov, rec)

	task := detectTask(t, worker.DetectPayload{SongFile: songPath})
	if err := h.ProcessTask(context.Background(), task); err == nil {
		t.Fatal("expected detection error")
	}

	// The song file keeps its original gap on failure.
	song, err := songfile.Load(songPath)
	if err != nil {
		t.Fatal(err)
	}
	if song.GapMs != 100 {
		t.Errorf("gap after failed detection: got %d, want 100", song.GapMs)
	}
}

func TestNewDetectTaskFillsJobID(t *testing.T) {
	t.Parallel()
	task, err := worker.NewDetectTask(worker.DetectPayload{SongFile: "/srv/songs/a.txt"})
	if err != nil {
		t.Fatalf("NewDetectTask: %v", err)
	}
	if task.Type() != worker.TaskDetectGap {
		t.Errorf("task type: got %q", task.Type())
	}
	var p worker.DetectPayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if p.JobID == "" {
		t.Error("expected a generated job id in the payload")
	}
}

func TestNewDetectTaskRequiresSong(t *testing.T) {
	t.Parallel()
	if _, err := worker.NewDetectTask(worker.DetectPayload{}); err == nil {
		t.Fatal("expected error for empty song file")
	}
}
