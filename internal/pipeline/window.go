package pipeline

// CalculateDetectionTime sizes the first analysis window in seconds. The
// window starts at defaultSec, doubles until it covers the expected gap
// position, then gains a 1.5× safety buffer. Doubling (never adding) keeps
// the number of possible retries logarithmic in track length.
func CalculateDetectionTime(originalGapMs int64, defaultSec float64) float64 {
	if defaultSec <= 0 {
		defaultSec = 60
	}
	t := defaultSec
	for t*1000 <= float64(originalGapMs) {
		t *= 2
	}
	return t * 1.5
}

// ShouldRetry reports whether a detection should re-run with a doubled
// window: the candidate gap landed at or beyond the window edge, and the
// window does not already cover the whole track.
func ShouldRetry(detectedGapMs int64, detectionTimeSec float64, audioLengthMs int64) bool {
	windowMs := int64(detectionTimeSec * 1000)
	return detectedGapMs >= windowMs && windowMs < audioLengthMs
}
