// Package app wires all vocalgap subsystems into a running service.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes them until the context is cancelled, and
// Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithStore,
// WithRegistry, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/vocalgap/vocalgap/internal/config"
	"github.com/vocalgap/vocalgap/internal/health"
	"github.com/vocalgap/vocalgap/internal/observe"
	"github.com/vocalgap/vocalgap/internal/server"
	"github.com/vocalgap/vocalgap/internal/store"
	"github.com/vocalgap/vocalgap/internal/watcher"
	"github.com/vocalgap/vocalgap/internal/worker"
	"github.com/vocalgap/vocalgap/pkg/vad"
)

// Version is the service version reported in telemetry. Overridden at build
// time via -ldflags.
var Version = "dev"

// App owns all subsystem lifetimes for the vocalgap service.
type App struct {
	registry *config.Registry
	toolkit  config.Toolkit
	metrics  *observe.Metrics

	// current is the live configuration snapshot. The config watcher
	// swaps it on hot reload; detection jobs read it per task.
	current atomic.Pointer[config.Config]

	// logLevel, when set, is adjusted on hot reload.
	logLevel *slog.LevelVar

	store   *store.Store
	queue   *worker.Queue
	hub     *server.Hub
	srv     *server.Server
	songs   *watcher.Watcher
	vaddet  vad.Detector

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a result store instead of connecting from config.
func WithStore(s *store.Store) Option {
	return func(a *App) { a.store = s }
}

// WithRegistry injects a provider registry instead of [config.DefaultRegistry].
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithVAD injects a voice activity detector instead of building one from the
// configured backend.
func WithVAD(d vad.Detector) Option {
	return func(a *App) { a.vaddet = d }
}

// WithMetrics injects a metrics recorder. New then leaves the global OTel
// providers untouched, which keeps tests from re-registering the Prometheus
// exporter.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel hands the process log level to the app so configuration hot
// reloads can adjust verbosity.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together: telemetry, the
// provider registry, the media toolkit, the result store, the job queue, the
// song library watcher and the HTTP server. Optional subsystems (store,
// queue, watcher) are skipped when their configuration is empty.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{hub: server.NewHub()}
	a.current.Store(cfg)
	for _, o := range opts {
		o(a)
	}

	// ── 1. Telemetry ─────────────────────────────────────────────────────
	if err := a.initTelemetry(ctx); err != nil {
		return nil, fmt.Errorf("app: init telemetry: %w", err)
	}

	// ── 2. Registry + media toolkit ──────────────────────────────────────
	if err := a.initToolkit(cfg); err != nil {
		return nil, fmt.Errorf("app: init toolkit: %w", err)
	}

	// ── 3. Result store ──────────────────────────────────────────────────
	if err := a.initStore(ctx, cfg); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 4. Job queue + detection handler ─────────────────────────────────
	a.initQueue(cfg)

	// ── 5. Song library watcher ──────────────────────────────────────────
	if err := a.initWatcher(cfg); err != nil {
		return nil, fmt.Errorf("app: init watcher: %w", err)
	}

	// ── 6. HTTP server ───────────────────────────────────────────────────
	a.initServer(cfg)

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initTelemetry sets up the OTel metric and trace providers with the
// Prometheus exporter, so /metrics serves everything the pipeline records.
func (a *App) initTelemetry(ctx context.Context) error {
	if a.metrics != nil {
		return nil // injected; leave the global providers alone
	}

	shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: Version,
	})
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func() error {
		return shutdown(context.Background())
	})

	m, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		return err
	}
	a.metrics = m
	return nil
}

// initToolkit builds the VAD detector and the shared media toolkit. The
// toolkit is created once per process: the separator's circuit breaker keeps
// its failure history for the whole run.
func (a *App) initToolkit(cfg *config.Config) error {
	if a.registry == nil {
		a.registry = config.DefaultRegistry()
	}

	if a.vaddet == nil {
		entry := cfg.Detection.VAD
		if entry.Name == "" {
			entry.Name = "rms"
		}
		det, err := a.registry.CreateVAD(entry)
		if err != nil {
			return err
		}
		a.vaddet = det
	}

	a.toolkit = config.NewToolkit(cfg, a.vaddet)
	return nil
}

// initStore connects the PostgreSQL result store when a DSN is configured.
func (a *App) initStore(ctx context.Context, cfg *config.Config) error {
	if a.store != nil {
		return nil
	}
	if cfg.Store.PostgresDSN == "" {
		slog.Info("result persistence disabled, no postgres_dsn configured")
		return nil
	}

	st, err := store.New(ctx, cfg.Store.PostgresDSN)
	if err != nil {
		return err
	}
	a.store = st
	a.closers = append(a.closers, func() error {
		st.Close()
		return nil
	})
	return nil
}

// initQueue creates the asynq queue and registers the detection handler.
// Without a Redis address the queue stays nil and the API answers 503 for
// job submission.
func (a *App) initQueue(cfg *config.Config) {
	if cfg.Queue.RedisAddr == "" {
		slog.Info("job queue disabled, no redis_addr configured")
		return
	}

	a.queue = worker.NewQueue(cfg.Queue.RedisAddr, cfg.Queue.Concurrency)
	a.queue.Handle(&worker.DetectHandler{
		Registry:  a.registry,
		Config:    a.current.Load,
		Toolkit:   a.toolkit,
		Store:     a.store,
		Publisher: a.hub,
		Metrics:   a.metrics,
	})
	a.closers = append(a.closers, func() error {
		a.queue.Stop()
		return nil
	})
}

// initWatcher starts watching the configured song library roots. Each
// settled song file becomes a detection job.
func (a *App) initWatcher(cfg *config.Config) error {
	if len(cfg.Watcher.Dirs) == 0 {
		return nil
	}
	if a.queue == nil {
		slog.Warn("song watcher configured but the job queue is disabled, skipping watcher")
		return nil
	}

	w, err := watcher.New(watcher.Config{
		Dirs:     cfg.Watcher.Dirs,
		Debounce: watcherDebounce(cfg),
		OnSong: func(path string) {
			if _, err := a.queue.EnqueueDetect(worker.DetectPayload{SongFile: path}); err != nil {
				slog.Error("enqueue watched song failed", "song", path, "err", err)
			}
		},
		Metrics: a.metrics,
	})
	if err != nil {
		return err
	}
	a.songs = w
	return nil
}

// initServer assembles the HTTP front end with its health checkers.
func (a *App) initServer(cfg *config.Config) {
	checkers := []health.Checker{
		{Name: "ffmpeg", Check: lookPathChecker(cfg.Media.FFmpegPath, "ffmpeg")},
		{Name: "ffprobe", Check: lookPathChecker(cfg.Media.FFprobePath, "ffprobe")},
	}
	if a.store != nil {
		checkers = append(checkers, health.Checker{Name: "store", Check: a.store.Ping})
	}
	if a.queue != nil {
		checkers = append(checkers, health.Checker{Name: "queue", Check: a.queue.Ping})
	}

	srvCfg := server.Config{
		Listen:  cfg.Server,
		Store:   a.store,
		Hub:     a.hub,
		Health:  health.New(checkers...),
		Metrics: a.metrics,
	}
	if a.queue != nil {
		srvCfg.Queue = a.queue
	}
	a.srv = server.New(srvCfg)
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the HTTP server, the job queue and the song library watcher,
// and blocks until ctx is cancelled or a subsystem fails.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.srv.Run(ctx)
	})

	if a.queue != nil {
		if err := a.queue.Start(); err != nil {
			return fmt.Errorf("app: start queue: %w", err)
		}
	}

	if a.songs != nil {
		g.Go(func() error {
			return a.songs.Run(ctx)
		})
	}

	cfg := a.current.Load()
	slog.Info("vocalgap running",
		"listen_addr", cfg.Server.ListenAddr,
		"queue", a.queue != nil,
		"store", a.store != nil,
		"watch_dirs", len(cfg.Watcher.Dirs),
	)

	return g.Wait()
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// OnConfigChange applies a reloaded configuration. Wire it as the callback
// of a [config.Watcher]. Request-scoped detection tunables and the log level
// take effect immediately; everything else (listen address, media tooling,
// queue, watch roots) requires a restart and is logged as such.
func (a *App) OnConfigChange(old, new *config.Config) {
	d := config.Diff(old, new)

	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}

	if d.DetectionChanged {
		slog.Info("detection settings updated, applying to new jobs")
	}

	if d.WatchDirsChanged {
		for _, ch := range d.WatchDirChanges {
			slog.Warn("watch directory change requires a restart",
				"dir", ch.Dir, "added", ch.Added, "removed", ch.Removed)
		}
	}

	a.current.Store(new)
}

// Config returns the current configuration snapshot.
func (a *App) Config() *config.Config {
	return a.current.Load()
}

// Hub returns the progress hub, mainly for tests.
func (a *App) Hub() *server.Hub { return a.hub }

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// lookPathChecker reports whether the given executable (or fallback on
// PATH) can be resolved.
func lookPathChecker(path, fallback string) func(context.Context) error {
	if path == "" {
		path = fallback
	}
	return func(context.Context) error {
		_, err := exec.LookPath(path)
		return err
	}
}

// watcherDebounce converts the configured debounce to a duration, leaving
// zero for the watcher's own default.
func watcherDebounce(cfg *config.Config) time.Duration {
	if cfg.Watcher.DebounceMs <= 0 {
		return 0
	}
	return time.Duration(cfg.Watcher.DebounceMs) * time.Millisecond
}

// slogLevel maps a config log level to its slog equivalent.
func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
