// Package gap defines the Provider interface for vocal gap detection
// backends and the shared types flowing between them.
//
// A gap provider turns a raw audio track into a "stem-like" vocal signal and
// a list of time boundaries from which the start of vocals (the "gap") can be
// derived. The provider set is closed: exactly four variants exist, each with
// materially different cost and boundary semantics, and callers select one
// explicitly rather than discovering implementations dynamically.
//
//	Variant                  Semantics     Cost            Fallback
//	full_separation          silence       30–60 s/track   none (hard error)
//	fast_preview             speech-start  0.5–2 s/track   silencedetect on VAD failure
//	windowed_high_quality    silence       3–5 s/track     fast_preview on any failure
//	expanding_scan           speech-start  chunk-bounded   none
//
// All provider methods are synchronous and blocking; responsiveness comes
// from the context threaded through every long-running call, polled between
// subprocess invocations and analysis chunks. Implementations hold no shared
// mutable state beyond their own temp-file namespace, which is keyed by audio
// file path, so distinct detection requests may run concurrently.
package gap

import "context"

// VocalsRequest describes one invocation of [Provider.VocalsFile].
type VocalsRequest struct {
	// AudioFile is the path of the source track.
	AudioFile string

	// TempRoot is the scratch directory the provider may write intermediate
	// files under. Providers must remove their own scratch files on both
	// success and failure.
	TempRoot string

	// Destination is the path the vocal signal file should end up at.
	Destination string

	// DurationSec bounds how much of the track is analysed, in seconds.
	DurationSec float64

	// Overwrite forces regeneration even when Destination already exists.
	// When false, a pre-existing Destination is treated as valid and reused;
	// cache invalidation is the caller's responsibility.
	Overwrite bool
}

// Provider is the uniform capability set of the four detection variants.
type Provider interface {
	// VocalsFile produces (or reuses) a file representing the audio's
	// vocal-relevant content and returns its path. Fails with a
	// [*DetectionError] on irrecoverable processing errors.
	VocalsFile(ctx context.Context, req VocalsRequest) (string, error)

	// DetectBoundaries analyses the vocal signal file and returns the
	// boundary list together with the semantics it must be interpreted
	// under. Providers attempt at most one internal fallback before
	// propagating a [*DetectionError].
	DetectBoundaries(ctx context.Context, audioFile, vocalsFile string) (Boundaries, error)

	// Confidence scores trust in a detected gap on [0, 1]. It never returns
	// an error: when the scoring method itself fails, a conservative 0.5 is
	// returned.
	Confidence(ctx context.Context, audioFile string, detectedGapMs int64) float64

	// Method returns the stable identifier of this variant.
	Method() Method

	// DefaultSemantics is the semantics this variant produces on its primary
	// path. The authoritative tag for any concrete detection is carried by
	// the [Boundaries] value itself.
	DefaultSemantics() Semantics
}
