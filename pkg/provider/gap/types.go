package gap

// TimeInterval is a half-open-ish (start, end) pair in milliseconds with
// Start ≤ End. Providers return interval lists ordered ascending by Start and
// non-overlapping; consumers rely on that ordering and do not re-sort.
type TimeInterval struct {
	// StartMs is the interval start, in milliseconds from track begin.
	StartMs int64

	// EndMs is the interval end, in milliseconds from track begin.
	EndMs int64
}

// Semantics declares what the intervals in a boundary list mean. Interpreting
// a list with the wrong semantics silently produces plausible-looking but
// wrong gaps, so the semantics always travel with the list.
type Semantics int

const (
	// SemanticsSilence means the intervals are silence periods. The end of
	// the first period is the conventional proxy for vocal onset.
	SemanticsSilence Semantics = iota

	// SemanticsSpeechStart means the intervals are speech/vocal segments.
	// The segment start nearest the expected gap is the vocal onset proxy.
	SemanticsSpeechStart
)

// String returns the human-readable name of the semantics tag.
func (s Semantics) String() string {
	switch s {
	case SemanticsSilence:
		return "silence"
	case SemanticsSpeechStart:
		return "speech-start"
	default:
		return "unknown"
	}
}

// Boundaries is the result of a boundary detection pass: an ordered interval
// list tagged with the semantics it must be interpreted under. The tag is
// attached to the value rather than the provider because a provider's
// internal fallback may legally switch semantics (e.g. the fast-preview
// provider falls back from speech segments to silence periods when its VAD
// backend is unavailable).
type Boundaries struct {
	// Intervals is ascending by StartMs and non-overlapping.
	Intervals []TimeInterval

	// Semantics tells callers how to interpret Intervals.
	Semantics Semantics
}

// Method identifies one of the four detection provider variants. The values
// are stable: they are persisted in results and matched for downstream
// branching, so they must never be renamed.
type Method string

const (
	// MethodFullSeparation is the legacy full-track stem separation path.
	MethodFullSeparation Method = "full_separation"

	// MethodFastPreview is the harmonic + VAD fast path.
	MethodFastPreview Method = "fast_preview"

	// MethodWindowedHighQuality separates only a window around the expected gap.
	MethodWindowedHighQuality Method = "windowed_high_quality"

	// MethodExpandingScan is the model-based expanding onset scan.
	MethodExpandingScan Method = "expanding_scan"
)

// IsValid reports whether m is one of the four known methods.
func (m Method) IsValid() bool {
	switch m {
	case MethodFullSeparation, MethodFastPreview, MethodWindowedHighQuality, MethodExpandingScan:
		return true
	}
	return false
}
