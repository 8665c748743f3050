package scan

// ExpansionWindow is one step of the widening search around the expected gap.
type ExpansionWindow struct {
	// Index is the 0-based expansion number.
	Index int

	// RadiusMs is the search radius of this expansion.
	RadiusMs int64

	// StartMs and EndMs bound the absolute search region, clamped to
	// [0, total duration].
	StartMs int64
	EndMs   int64
}

// windowGenerator yields expansion windows of monotonically growing radius.
// Windows are produced lazily so an early hit never computes later regions.
type windowGenerator struct {
	expectedMs int64
	totalMs    int64

	radiusMs    int64
	incrementMs int64
	maxRadiusMs int64

	index int
}

func newWindowGenerator(expectedMs, totalMs, startRadiusMs, incrementMs, maxRadiusMs int64) *windowGenerator {
	return &windowGenerator{
		expectedMs:  expectedMs,
		totalMs:     totalMs,
		radiusMs:    startRadiusMs,
		incrementMs: incrementMs,
		maxRadiusMs: maxRadiusMs,
	}
}

// next returns the following expansion window, or false when the maximum
// radius has been exhausted.
func (g *windowGenerator) next() (ExpansionWindow, bool) {
	if g.radiusMs > g.maxRadiusMs {
		return ExpansionWindow{}, false
	}

	w := ExpansionWindow{
		Index:    g.index,
		RadiusMs: g.radiusMs,
		StartMs:  g.expectedMs - g.radiusMs,
		EndMs:    g.expectedMs + g.radiusMs,
	}
	if w.StartMs < 0 {
		w.StartMs = 0
	}
	if g.totalMs > 0 && w.EndMs > g.totalMs {
		w.EndMs = g.totalMs
	}

	g.index++
	g.radiusMs += g.incrementMs
	return w, true
}
