package scan

// Chunk is a sub-interval of audio fed to the separation model, in seconds.
type Chunk struct {
	StartSec float64
	EndSec   float64
}

// chunkKey identifies a chunk by its millisecond boundaries for
// deduplication across expansions.
type chunkKey struct {
	startMs int64
	endMs   int64
}

// chunkPlanner slices a window into overlapping chunks and remembers every
// chunk it has already emitted, so a larger expansion never re-feeds a
// region the model has seen in an earlier, smaller one.
type chunkPlanner struct {
	chunkSec   float64
	overlapSec float64
	seen       map[chunkKey]struct{}
}

func newChunkPlanner(chunkSec, overlapSec float64) *chunkPlanner {
	if chunkSec <= 0 {
		chunkSec = 10
	}
	if overlapSec < 0 || overlapSec >= chunkSec {
		overlapSec = 0
	}
	return &chunkPlanner{
		chunkSec:   chunkSec,
		overlapSec: overlapSec,
		seen:       make(map[chunkKey]struct{}),
	}
}

// chunks returns the not-yet-emitted chunks covering w, in ascending order.
// Consecutive chunks overlap by overlapSec so an onset on a chunk edge is
// fully contained in at least one chunk. Chunk starts are aligned to a
// global step grid: expansions share the same grid, so the regions a smaller
// window already covered produce identical chunk boundaries and are skipped.
func (p *chunkPlanner) chunks(w ExpansionWindow) []Chunk {
	start := float64(w.StartMs) / 1000
	end := float64(w.EndMs) / 1000
	step := p.chunkSec - p.overlapSec

	// Snap down to the grid.
	first := float64(int(start/step)) * step
	if first < 0 {
		first = 0
	}

	var out []Chunk
	for s := first; s < end; s += step {
		e := s + p.chunkSec
		if e > end {
			e = end
		}
		c := Chunk{StartSec: s, EndSec: e}
		if c.EndSec-c.StartSec < 0.25 {
			// Slivers at the window edge carry no usable signal.
			break
		}
		key := chunkKey{startMs: int64(c.StartSec * 1000), endMs: int64(c.EndSec * 1000)}
		if _, dup := p.seen[key]; dup {
			continue
		}
		p.seen[key] = struct{}{}
		out = append(out, c)
		if e == end {
			break
		}
	}
	return out
}
