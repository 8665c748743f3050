package server_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/vocalgap/vocalgap/internal/server"
	"github.com/vocalgap/vocalgap/internal/worker"
)

func dialHub(t *testing.T, hub *server.Hub) *websocket.Conn {
	t.Helper()

	ts := httptest.NewServer(hub)
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	conn, _, err := websocket.Dial(ctx, ts.URL, nil)
	if err != nil {
		t.Fatalf("dial hub: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })

	// Wait for the server side to register the client before publishing.
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered with hub")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func readProgress(t *testing.T, conn *websocket.Conn) worker.Progress {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read progress event: %v", err)
	}
	var p worker.Progress
	if err := json.Unmarshal(data, &p); err != nil {
		t.Fatalf("unmarshal progress event: %v", err)
	}
	return p
}

func TestHubBroadcastsProgress(t *testing.T) {
	t.Parallel()

	hub := server.NewHub()
	conn := dialHub(t, hub)

	hub.Publish(worker.Progress{
		JobID:    "job-7",
		SongFile: "/srv/songs/a/song.txt",
		Stage:    worker.StageDetecting,
	})

	got := readProgress(t, conn)
	if got.JobID != "job-7" {
		t.Errorf("JobID = %q, want job-7", got.JobID)
	}
	if got.Stage != worker.StageDetecting {
		t.Errorf("Stage = %q, want %q", got.Stage, worker.StageDetecting)
	}
}

func TestHubReplaysInFlightJobs(t *testing.T) {
	t.Parallel()

	hub := server.NewHub()

	// Published before anyone is connected.
	hub.Publish(worker.Progress{JobID: "job-live", SongFile: "/srv/songs/a/song.txt", Stage: worker.StageDetecting})
	hub.Publish(worker.Progress{JobID: "job-done", SongFile: "/srv/songs/b/song.txt", Stage: worker.StageDone, DetectedGapMs: 4200})

	conn := dialHub(t, hub)

	got := readProgress(t, conn)
	if got.JobID != "job-live" {
		t.Errorf("replayed JobID = %q, want job-live (finished jobs are not replayed)", got.JobID)
	}
}

func TestHubPublishWithoutClients(t *testing.T) {
	t.Parallel()

	hub := server.NewHub()

	// Must not block or panic.
	hub.Publish(worker.Progress{JobID: "job-1", Stage: worker.StageQueued})
	hub.Publish(worker.Progress{JobID: "job-1", Stage: worker.StageFailed, Error: "boom"})

	if n := hub.ClientCount(); n != 0 {
		t.Errorf("ClientCount = %d, want 0", n)
	}
}

func TestHubClientDisconnect(t *testing.T) {
	t.Parallel()

	hub := server.NewHub()
	conn := dialHub(t, hub)

	conn.Close(websocket.StatusNormalClosure, "")

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("ClientCount = %d after disconnect, want 0", hub.ClientCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}
