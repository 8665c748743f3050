// Package server exposes the vocalgap HTTP API: detection job submission,
// stored result lookup, a websocket progress stream, health endpoints and
// Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vocalgap/vocalgap/internal/config"
	"github.com/vocalgap/vocalgap/internal/health"
	"github.com/vocalgap/vocalgap/internal/observe"
	"github.com/vocalgap/vocalgap/internal/store"
	"github.com/vocalgap/vocalgap/internal/worker"
	"github.com/vocalgap/vocalgap/pkg/provider/gap"
)

// Enqueuer submits detection jobs. Satisfied by [worker.Queue].
type Enqueuer interface {
	EnqueueDetect(p worker.DetectPayload) (string, error)
}

// Config holds the server's dependencies. Store and Queue may be nil when
// persistence or the job queue is disabled; the affected endpoints then
// answer 503.
type Config struct {
	Listen config.ServerConfig

	Store   *store.Store
	Queue   Enqueuer
	Hub     *Hub
	Health  *health.Handler
	Metrics *observe.Metrics
}

// Server is the vocalgap HTTP front end.
type Server struct {
	cfg  Config
	hub  *Hub
	http *http.Server
}

// New builds the server and its route table. The hub from cfg is used when
// set, otherwise a fresh one is created; either way it is reachable via
// [Server.Hub] so the worker can publish into it.
func New(cfg Config) *Server {
	s := &Server{cfg: cfg, hub: cfg.Hub}
	if s.hub == nil {
		s.hub = NewHub()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/detections", s.createDetection)
	mux.HandleFunc("GET /api/v1/detections", s.listDetections)
	mux.HandleFunc("DELETE /api/v1/detections", s.deleteDetection)
	mux.Handle("GET /ws/progress", s.hub)
	mux.Handle("GET /metrics", promhttp.Handler())
	if cfg.Health != nil {
		cfg.Health.Register(mux)
	}

	var handler http.Handler = mux
	if cfg.Metrics != nil {
		handler = observe.Middleware(cfg.Metrics)(handler)
	}

	s.http = &http.Server{
		Addr:              cfg.Listen.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Hub returns the progress hub so detection workers can publish into it.
func (s *Server) Hub() *Hub { return s.hub }

// Handler returns the root HTTP handler, useful for tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// Run serves HTTP (or HTTPS when TLS is configured) until ctx is cancelled,
// then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls := s.cfg.Listen.TLS; tls != nil {
			slog.Info("server listening", "addr", s.http.Addr, "tls", true)
			err = s.http.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			slog.Info("server listening", "addr", s.http.Addr, "tls", false)
			err = s.http.ListenAndServe()
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return ctx.Err()
}

// ─── Handlers ────────────────────────────────────────────────────────────────

// detectRequest is the POST /api/v1/detections body.
type detectRequest struct {
	// SongFile is the UltraStar song text file to analyse.
	SongFile string `json:"song_file"`

	// Method optionally overrides the configured default detection method.
	Method string `json:"method,omitempty"`

	// Overwrite forces re-detection even when a stored result matches the
	// audio file's current size and mtime.
	Overwrite bool `json:"overwrite,omitempty"`
}

type detectResponse struct {
	JobID    string `json:"job_id"`
	SongFile string `json:"song_file"`
}

func (s *Server) createDetection(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Queue == nil {
		writeError(w, http.StatusServiceUnavailable, "job queue is disabled")
		return
	}

	var req detectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if req.SongFile == "" {
		writeError(w, http.StatusBadRequest, "song_file is required")
		return
	}
	if req.Method != "" && !gap.Method(req.Method).IsValid() {
		writeError(w, http.StatusBadRequest, "unknown detection method "+strconv.Quote(req.Method))
		return
	}

	jobID, err := s.cfg.Queue.EnqueueDetect(worker.DetectPayload{
		SongFile:  req.SongFile,
		Method:    req.Method,
		Overwrite: req.Overwrite,
	})
	if err != nil {
		slog.Error("enqueue detection failed", "song", req.SongFile, "err", err)
		writeError(w, http.StatusInternalServerError, "enqueue failed")
		return
	}

	s.hub.Publish(worker.Progress{JobID: jobID, SongFile: req.SongFile, Stage: worker.StageQueued})
	writeJSON(w, http.StatusAccepted, detectResponse{JobID: jobID, SongFile: req.SongFile})
}

// listDetections serves stored results. With ?audio_file= it returns the
// single matching record, otherwise the most recent records (?limit=,
// default 50).
func (s *Server) listDetections(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "result persistence is disabled")
		return
	}

	if audioFile := r.URL.Query().Get("audio_file"); audioFile != "" {
		rec, err := s.cfg.Store.Get(r.Context(), audioFile)
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no result for "+strconv.Quote(audioFile))
			return
		}
		if err != nil {
			slog.Error("result lookup failed", "audio", audioFile, "err", err)
			writeError(w, http.StatusInternalServerError, "lookup failed")
			return
		}
		writeJSON(w, http.StatusOK, rec)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	recs, err := s.cfg.Store.Recent(r.Context(), limit)
	if err != nil {
		slog.Error("recent results query failed", "err", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

// deleteDetection removes the stored result for ?audio_file=, forcing a
// fresh detection on the song's next pass through the queue.
func (s *Server) deleteDetection(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "result persistence is disabled")
		return
	}

	audioFile := r.URL.Query().Get("audio_file")
	if audioFile == "" {
		writeError(w, http.StatusBadRequest, "audio_file is required")
		return
	}

	if err := s.cfg.Store.Delete(r.Context(), audioFile); err != nil {
		slog.Error("result delete failed", "audio", audioFile, "err", err)
		writeError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ─── JSON helpers ────────────────────────────────────────────────────────────

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("response encode failed", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
