package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/vocalgap/vocalgap/internal/worker"
)

// Hub fans detection progress out to connected websocket clients. It
// implements [worker.Publisher]: Publish never blocks, slow clients simply
// miss events. The most recent event per unfinished job is kept so a client
// connecting mid-detection sees the current state immediately.
type Hub struct {
	mu      sync.RWMutex
	clients map[*hubClient]struct{}

	jobsMu sync.RWMutex
	jobs   map[string]json.RawMessage // job ID to last progress payload
}

type hubClient struct {
	send chan []byte
}

// clientBuffer is the per-client send queue depth. A full queue drops
// events rather than stalling the publisher.
const clientBuffer = 64

// NewHub creates an empty progress hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*hubClient]struct{}),
		jobs:    make(map[string]json.RawMessage),
	}
}

// Publish broadcasts a progress event to all connected clients.
func (h *Hub) Publish(p worker.Progress) {
	msg, err := json.Marshal(p)
	if err != nil {
		return
	}

	h.trackJob(p, msg)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
		}
	}
}

// trackJob snapshots in-flight jobs so freshly connected clients can be
// caught up. Terminal stages clear the snapshot.
func (h *Hub) trackJob(p worker.Progress, raw []byte) {
	if p.JobID == "" {
		return
	}
	h.jobsMu.Lock()
	defer h.jobsMu.Unlock()
	switch p.Stage {
	case worker.StageDone, worker.StageFailed:
		delete(h.jobs, p.JobID)
	default:
		h.jobs[p.JobID] = raw
	}
}

// replayJobs queues the last known state of every in-flight job to a newly
// connected client.
func (h *Hub) replayJobs(c *hubClient) {
	h.jobsMu.RLock()
	defer h.jobsMu.RUnlock()
	for _, msg := range h.jobs {
		select {
		case c.send <- msg:
		default:
		}
	}
}

func (h *Hub) addClient(c *hubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *Hub) removeClient(c *hubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		close(c.send)
		delete(h.clients, c)
	}
}

// ClientCount reports the number of connected websocket clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request to a websocket connection and streams
// progress events until the client disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Debug("websocket accept failed", "err", err)
		return
	}

	c := &hubClient{send: make(chan []byte, clientBuffer)}
	h.addClient(c)
	h.replayJobs(c)
	defer h.removeClient(c)

	ctx := r.Context()

	go func() {
		defer conn.Close(websocket.StatusNormalClosure, "")
		for msg := range c.send {
			if err := conn.Write(ctx, websocket.MessageText, msg); err != nil {
				return
			}
		}
	}()

	// Drain the read side so pings are answered and we notice disconnects.
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return
		}
	}
}

var _ worker.Publisher = (*Hub)(nil)
