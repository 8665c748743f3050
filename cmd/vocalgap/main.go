// Command vocalgap is the main entry point for the vocalgap detection server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vocalgap/vocalgap/internal/app"
	"github.com/vocalgap/vocalgap/internal/config"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	detectTarget := flag.String("detect", "", "one-shot mode: detect the gap for a song text or audio file and print JSON")
	detectMethod := flag.String("method", "", "detection method for -detect (default from config)")
	writeGap := flag.Bool("write", false, "with -detect: rewrite the song file's #GAP tag")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		// One-shot detection works without a config file; server mode needs one.
		if errors.Is(err, os.ErrNotExist) && *detectTarget != "" {
			cfg = &config.Config{}
		} else if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "vocalgap: config file %q not found (copy configs/example.yaml to get started)\n", *configPath)
			return 1
		} else {
			fmt.Fprintf(os.Stderr, "vocalgap: %v\n", err)
			return 1
		}
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── One-shot mode ─────────────────────────────────────────────────────────
	if *detectTarget != "" {
		return runDetect(ctx, cfg, *detectTarget, *detectMethod, *writeGap)
	}

	slog.Info("vocalgap starting",
		"version", app.Version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, app.WithLogLevel(level))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	cfgWatcher, err := config.NewWatcher(*configPath, application.OnConfigChange)
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer cfgWatcher.Stop()
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          vocalgap startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printSetting("Method", orDefault(cfg.Detection.DefaultProvider, "fast_preview"))
	printSetting("VAD", orDefault(cfg.Detection.VAD.Name, "rms"))
	printSetting("Store", enabledWhen(cfg.Store.PostgresDSN != ""))
	printSetting("Queue", enabledWhen(cfg.Queue.RedisAddr != ""))
	fmt.Printf("║  Watch dirs      : %-19d ║\n", len(cfg.Watcher.Dirs))
	if cfg.Server.ListenAddr != "" {
		printSetting("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printSetting(name, value string) {
	fmt.Printf("║  %-15s : %-19s ║\n", name, value)
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func enabledWhen(on bool) string {
	if on {
		return "enabled"
	}
	return "(disabled)"
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// slogLevel maps the configured log level onto slog's levels.
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
