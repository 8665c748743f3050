// Package boundary holds the pure functions that turn a provider's boundary
// list plus an expected position into a single detected-gap value.
//
// The three interpreter functions are intentionally distinct and must not be
// unified: which one applies depends on which provider produced the list, and
// the differences (first-period-end vs. nearest-start vs. nearest-any-edge)
// were found to matter for accuracy.
package boundary

import "github.com/vocalgap/vocalgap/pkg/provider/gap"

// GapFromSilence derives the gap from a list of silence periods. Silence is
// assumed to start at track begin, so the end of the first period marks the
// vocal onset; later silence periods are vocal pauses and are ignored. An
// empty list means the vocals start immediately, so the gap is 0.
//
// The expected position plays no role here; the parameter-free shape is kept
// deliberately narrow so it cannot drift toward nearest-boundary behaviour.
func GapFromSilence(periods []gap.TimeInterval) int64 {
	if len(periods) == 0 {
		return 0
	}
	return periods[0].EndMs
}

// GapFromSpeechStart derives the gap from a list of speech segments: among
// all segment starts it returns the one nearest expectedMs. The second return
// is false when periods is empty; callers must treat that as a detection
// failure, never as gap zero.
func GapFromSpeechStart(periods []gap.TimeInterval, expectedMs int64) (int64, bool) {
	if len(periods) == 0 {
		return 0, false
	}
	best := periods[0].StartMs
	for _, p := range periods[1:] {
		if absDiff(p.StartMs, expectedMs) < absDiff(best, expectedMs) {
			best = p.StartMs
		}
	}
	return best, true
}

// GapFromNearestBoundary evaluates both edges of every period and returns the
// single boundary nearest expectedMs. It is used when boundary semantics are
// ambiguous (the legacy silence-boundary path). The second return is false
// when periods is empty.
func GapFromNearestBoundary(periods []gap.TimeInterval, expectedMs int64) (int64, bool) {
	if len(periods) == 0 {
		return 0, false
	}
	best := periods[0].StartMs
	for _, p := range periods {
		for _, edge := range [2]int64{p.StartMs, p.EndMs} {
			if absDiff(edge, expectedMs) < absDiff(best, expectedMs) {
				best = edge
			}
		}
	}
	return best, true
}

func absDiff(a, b int64) int64 {
	if a > b {
		return a - b
	}
	return b - a
}
