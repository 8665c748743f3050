package server_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/vocalgap/vocalgap/internal/config"
	"github.com/vocalgap/vocalgap/internal/health"
	"github.com/vocalgap/vocalgap/internal/server"
	"github.com/vocalgap/vocalgap/internal/worker"
)

// fakeQueue records enqueued payloads and hands out fixed job IDs.
type fakeQueue struct {
	calls []worker.DetectPayload
	jobID string
	err   error
}

func (q *fakeQueue) EnqueueDetect(p worker.DetectPayload) (string, error) {
	q.calls = append(q.calls, p)
	if q.err != nil {
		return "", q.err
	}
	return q.jobID, nil
}

func newTestServer(t *testing.T, cfg server.Config) *httptest.Server {
	t.Helper()
	srv := server.New(cfg)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

// ─── POST /api/v1/detections ────────────────────────────────────────────────────

func TestCreateDetection(t *testing.T) {
	t.Parallel()

	q := &fakeQueue{jobID: "job-42"}
	ts := newTestServer(t, server.Config{Queue: q})

	body := `{"song_file": "/srv/songs/artist - title/song.txt", "method": "fast_preview", "overwrite": true}`
	resp, err := http.Post(ts.URL+"/api/v1/detections", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusAccepted)
	}

	var got struct {
		JobID    string `json:"job_id"`
		SongFile string `json:"song_file"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.JobID != "job-42" {
		t.Errorf("job_id = %q, want %q", got.JobID, "job-42")
	}

	if len(q.calls) != 1 {
		t.Fatalf("enqueue calls = %d, want 1", len(q.calls))
	}
	p := q.calls[0]
	if p.SongFile != "/srv/songs/artist - title/song.txt" {
		t.Errorf("SongFile = %q", p.SongFile)
	}
	if p.Method != "fast_preview" {
		t.Errorf("Method = %q, want fast_preview", p.Method)
	}
	if !p.Overwrite {
		t.Error("Overwrite not propagated")
	}
}

func TestCreateDetection_UnknownMethod(t *testing.T) {
	t.Parallel()

	q := &fakeQueue{jobID: "job-1"}
	ts := newTestServer(t, server.Config{Queue: q})

	body := `{"song_file": "/srv/songs/a/song.txt", "method": "turbo"}`
	resp, err := http.Post(ts.URL+"/api/v1/detections", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
	if len(q.calls) != 0 {
		t.Errorf("enqueue called %d times for invalid request", len(q.calls))
	}
}

func TestCreateDetection_MissingSongFile(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, server.Config{Queue: &fakeQueue{}})

	resp, err := http.Post(ts.URL+"/api/v1/detections", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}

func TestCreateDetection_QueueDisabled(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, server.Config{})

	body := `{"song_file": "/srv/songs/a/song.txt"}`
	resp, err := http.Post(ts.URL+"/api/v1/detections", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusServiceUnavailable)
	}
}

// ─── GET / DELETE /api/v1/detections ────────────────────────────────────────────

func TestListDetections_StoreDisabled(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, server.Config{})

	resp, err := http.Get(ts.URL + "/api/v1/detections")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusServiceUnavailable)
	}
}

func TestDeleteDetection_RequiresAudioFile(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, server.Config{})

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/v1/detections", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusServiceUnavailable)
	}
}

// ─── Health wiring ───────────────────────────────────────────────────────────

func TestHealthEndpointsRegistered(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, server.Config{Health: health.New()})

	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s failed: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, resp.StatusCode)
		}
	}
}

func TestMetricsEndpointRegistered(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, server.Config{})

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestTLSConfigIsOptional(t *testing.T) {
	t.Parallel()

	// New must not require TLS material; plain HTTP is the default.
	srv := server.New(server.Config{Listen: config.ServerConfig{ListenAddr: ":0"}})
	if srv.Handler() == nil {
		t.Fatal("Handler() returned nil")
	}
}
