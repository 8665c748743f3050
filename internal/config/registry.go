package config

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cast"

	"github.com/vocalgap/vocalgap/internal/breaker"
	"github.com/vocalgap/vocalgap/internal/media"
	"github.com/vocalgap/vocalgap/pkg/provider/gap"
	"github.com/vocalgap/vocalgap/pkg/provider/gap/fullsep"
	"github.com/vocalgap/vocalgap/pkg/provider/gap/quick"
	"github.com/vocalgap/vocalgap/pkg/provider/gap/scan"
	"github.com/vocalgap/vocalgap/pkg/provider/gap/windowed"
	"github.com/vocalgap/vocalgap/pkg/vad"
	"github.com/vocalgap/vocalgap/pkg/vad/rms"
	"github.com/vocalgap/vocalgap/pkg/vad/silero"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Toolkit bundles the shared media tooling every gap-provider factory builds
// on. It is constructed once per process from the loaded configuration and
// reused across detection requests; the breaker inside the separator keeps
// its failure history that way.
type Toolkit struct {
	Converter *media.Converter
	Prober    *media.Prober
	Separator *media.Separator
	Silence   *media.SilenceDetector

	// VAD is the speech detector the fast-preview path uses. Nil means the
	// fast path skips VAD and relies on its silencedetect fallback.
	VAD vad.Detector

	// TempRoot is the scratch and artifact directory.
	TempRoot string
}

// NewToolkit assembles the media tooling from cfg. det may be nil; callers
// usually obtain it from [Registry.CreateVAD] first.
func NewToolkit(cfg *Config, det vad.Detector) Toolkit {
	return Toolkit{
		Converter: &media.Converter{Path: cfg.Media.FFmpegPath},
		Prober:    &media.Prober{Path: cfg.Media.FFprobePath},
		Separator: &media.Separator{
			Command:   cfg.Detection.Separator.Command,
			ExtraArgs: cfg.Detection.Separator.ExtraArgs,
			Breaker: breaker.New(breaker.Config{
				Name:      "separator",
				Threshold: cfg.Detection.Separator.BreakerThreshold,
				CoolDown:  time.Duration(cfg.Detection.Separator.BreakerCoolDownSec * float64(time.Second)),
			}),
		},
		Silence: &media.SilenceDetector{
			FFmpegPath:     cfg.Media.FFmpegPath,
			NoiseDB:        cfg.Detection.Silence.NoiseDB,
			MinDurationSec: cfg.Detection.Silence.MinDurationSec,
		},
		VAD:      det,
		TempRoot: cfg.Detection.TempRoot,
	}
}

// DetectionRequest carries the per-song inputs a gap-provider factory needs.
// The windowed and scan providers centre their work on the expected gap, so
// unlike the toolkit they are built fresh for every request.
type DetectionRequest struct {
	// ExpectedGapMs is the gap currently recorded in the song file.
	ExpectedGapMs int64

	// TrackLengthMs bounds windows and scans. Zero means unknown.
	TrackLengthMs int64
}

// GapFactory builds a detection provider for one request.
type GapFactory func(det *DetectionConfig, tk Toolkit, req DetectionRequest) (gap.Provider, error)

// Registry maps backend names to their constructor functions. It is safe for
// concurrent use.
type Registry struct {
	mu  sync.RWMutex
	vad map[string]func(ProviderEntry) (vad.Detector, error)
	gap map[gap.Method]GapFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		vad: make(map[string]func(ProviderEntry) (vad.Detector, error)),
		gap: make(map[gap.Method]GapFactory),
	}
}

// RegisterVAD registers a VAD backend factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterVAD(name string, factory func(ProviderEntry) (vad.Detector, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vad[name] = factory
}

// RegisterGap registers a detection-provider factory under method.
func (r *Registry) RegisterGap(method gap.Method, factory GapFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gap[method] = factory
}

// CreateVAD instantiates a VAD backend using the factory registered under
// entry.Name. Returns [ErrProviderNotRegistered] if no factory has been
// registered for that name.
func (r *Registry) CreateVAD(entry ProviderEntry) (vad.Detector, error) {
	r.mu.RLock()
	factory, ok := r.vad[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: vad/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateGap instantiates a detection provider for one request using the
// factory registered under method.
func (r *Registry) CreateGap(method gap.Method, det *DetectionConfig, tk Toolkit, req DetectionRequest) (gap.Provider, error) {
	r.mu.RLock()
	factory, ok := r.gap[method]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: gap/%q", ErrProviderNotRegistered, method)
	}
	return factory(det, tk, req)
}

// DefaultRegistry returns a [Registry] with all built-in backends registered:
// the "silero" and "rms" VAD detectors and the four detection methods.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	r.RegisterVAD("silero", func(entry ProviderEntry) (vad.Detector, error) {
		return silero.New(silero.Config{
			ModelPath:    entry.ModelPath,
			Threshold:    cast.ToFloat32(entry.Options["threshold"]),
			MinSilenceMs: cast.ToInt(entry.Options["min_silence_ms"]),
		}, media.AnalysisSampleRate)
	})
	r.RegisterVAD("rms", func(entry ProviderEntry) (vad.Detector, error) {
		return rms.New(rms.Config{
			SpeechThreshold:  cast.ToFloat64(entry.Options["speech_threshold"]),
			SilenceThreshold: cast.ToFloat64(entry.Options["silence_threshold"]),
			FrameMs:          cast.ToInt(entry.Options["frame_ms"]),
			SpeechFrames:     cast.ToInt(entry.Options["speech_frames"]),
			SilenceFrames:    cast.ToInt(entry.Options["silence_frames"]),
		}), nil
	})

	r.RegisterGap(gap.MethodFullSeparation, func(_ *DetectionConfig, tk Toolkit, _ DetectionRequest) (gap.Provider, error) {
		return fullsep.New(tk.Separator, tk.Converter, tk.Silence), nil
	})
	r.RegisterGap(gap.MethodFastPreview, func(_ *DetectionConfig, tk Toolkit, _ DetectionRequest) (gap.Provider, error) {
		return quick.New(tk.Converter, tk.Silence, tk.VAD, tk.TempRoot), nil
	})
	r.RegisterGap(gap.MethodWindowedHighQuality, func(det *DetectionConfig, tk Toolkit, req DetectionRequest) (gap.Provider, error) {
		fallback := quick.New(tk.Converter, tk.Silence, tk.VAD, tk.TempRoot)
		return windowed.New(windowed.Config{
			ExpectedGapMs: req.ExpectedGapMs,
			RadiusSec:     det.Window.RadiusSec,
		}, tk.Converter, tk.Separator, tk.Silence, fallback), nil
	})
	r.RegisterGap(gap.MethodExpandingScan, func(det *DetectionConfig, tk Toolkit, req DetectionRequest) (gap.Provider, error) {
		if req.TrackLengthMs <= 0 {
			return nil, fmt.Errorf("config: gap/%q requires a known track length", gap.MethodExpandingScan)
		}
		return scan.New(scan.Config{
			ExpectedGapMs: req.ExpectedGapMs,
			TrackLengthMs: req.TrackLengthMs,
			Params: scan.Params{
				StartRadiusSec: det.Scan.StartRadiusSec,
				IncrementSec:   det.Scan.RadiusIncrementSec,
				MaxRadiusSec:   det.Scan.MaxRadiusSec,
				ChunkSec:       det.Scan.ChunkSec,
				OverlapSec:     det.Scan.OverlapSec,
			},
		}, tk.Converter, tk.Separator, tk.TempRoot), nil
	})

	return r
}
