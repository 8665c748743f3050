package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/vocalgap/vocalgap/pkg/provider/gap"
	"gopkg.in/yaml.v3"
)

// ValidVADNames lists the known voice-activity-detection backends. Used by
// [Validate] to warn about unrecognised names.
var ValidVADNames = []string{"silero", "rms"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Detection
	det := cfg.Detection
	if det.DefaultProvider != "" && !gap.Method(det.DefaultProvider).IsValid() {
		errs = append(errs, fmt.Errorf("detection.default_provider %q is invalid; valid values: %s, %s, %s, %s",
			det.DefaultProvider,
			gap.MethodFullSeparation, gap.MethodFastPreview,
			gap.MethodWindowedHighQuality, gap.MethodExpandingScan))
	}
	if det.DefaultDetectionTimeSec < 0 {
		errs = append(errs, fmt.Errorf("detection.default_detection_time_sec %.1f must not be negative", det.DefaultDetectionTimeSec))
	}
	if det.Silence.NoiseDB > 0 {
		errs = append(errs, fmt.Errorf("detection.silence.noise_db %.1f must be zero or negative dBFS", det.Silence.NoiseDB))
	}
	if det.Silence.MinDurationSec < 0 {
		errs = append(errs, fmt.Errorf("detection.silence.min_duration_sec %.2f must not be negative", det.Silence.MinDurationSec))
	}
	if det.VAD.Name != "" && !slices.Contains(ValidVADNames, det.VAD.Name) {
		slog.Warn("unknown vad backend name, may be a typo",
			"name", det.VAD.Name, "known", ValidVADNames)
	}
	if det.VAD.Name == "silero" && det.VAD.ModelPath == "" {
		errs = append(errs, errors.New("detection.vad.model_path is required for the silero backend"))
	}
	if det.Scan.StartRadiusSec < 0 || det.Scan.RadiusIncrementSec < 0 || det.Scan.MaxRadiusSec < 0 {
		errs = append(errs, errors.New("detection.scan radii must not be negative"))
	}
	if det.Scan.MaxRadiusSec > 0 && det.Scan.StartRadiusSec > det.Scan.MaxRadiusSec {
		errs = append(errs, fmt.Errorf("detection.scan.start_radius_sec %.1f exceeds max_radius_sec %.1f",
			det.Scan.StartRadiusSec, det.Scan.MaxRadiusSec))
	}
	if det.Scan.OverlapSec < 0 {
		errs = append(errs, fmt.Errorf("detection.scan.overlap_sec %.1f must not be negative", det.Scan.OverlapSec))
	} else if det.Scan.ChunkSec > 0 && det.Scan.OverlapSec >= det.Scan.ChunkSec {
		errs = append(errs, fmt.Errorf("detection.scan.overlap_sec %.1f must be less than chunk_sec %.1f",
			det.Scan.OverlapSec, det.Scan.ChunkSec))
	}
	if det.Preview.PreMs < 0 || det.Preview.PostMs < 0 {
		errs = append(errs, errors.New("detection.preview padding must not be negative"))
	}
	if det.WaveformBins < 0 {
		errs = append(errs, fmt.Errorf("detection.waveform_bins %d must not be negative", det.WaveformBins))
	}
	if det.Separator.BreakerThreshold < 0 {
		errs = append(errs, fmt.Errorf("detection.separator.breaker_threshold %d must not be negative", det.Separator.BreakerThreshold))
	}

	// Queue
	if cfg.Queue.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("queue.concurrency %d must not be negative", cfg.Queue.Concurrency))
	}
	if cfg.Queue.RedisAddr == "" && len(cfg.Watcher.Dirs) > 0 {
		slog.Warn("watcher.dirs is set but queue.redis_addr is empty; watched songs cannot be scheduled for detection")
	}

	// Store availability
	if cfg.Store.PostgresDSN == "" {
		slog.Warn("store.postgres_dsn is empty; detection results will not be persisted")
	}

	// Watcher
	for i, dir := range cfg.Watcher.Dirs {
		if dir == "" {
			errs = append(errs, fmt.Errorf("watcher.dirs[%d] is empty", i))
		}
	}
	if cfg.Watcher.DebounceMs < 0 {
		errs = append(errs, fmt.Errorf("watcher.debounce_ms %d must not be negative", cfg.Watcher.DebounceMs))
	}

	return errors.Join(errs...)
}
