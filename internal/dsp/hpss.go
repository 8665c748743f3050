package dsp

import "sort"

// hpssKernel is the median-filter length used for both the time (harmonic)
// and frequency (percussive) directions. 17 frames/bins matches the common
// librosa default of 31 at half our spectral resolution.
const hpssKernel = 17

// Harmonic returns the harmonic component of samples via median-filter
// harmonic/percussive source separation (Fitzgerald 2010): sustained tonal
// content (vocals, melody) survives, transients (drums) are suppressed.
// The result has the same length as the input.
func Harmonic(samples []float64, frameSize, hop int) []float64 {
	spec := stftComplex(samples, frameSize, hop)
	if len(spec) == 0 {
		// Too short to analyse; the caller gets the input back unchanged.
		out := make([]float64, len(samples))
		copy(out, samples)
		return out
	}

	frames := len(spec)
	bins := len(spec[0])

	mag := make([][]float64, frames)
	for f := range spec {
		row := make([]float64, bins)
		for b, c := range spec[f] {
			row[b] = cmplxAbs(c)
		}
		mag[f] = row
	}

	// Harmonic enhancement: median filter along time for each bin.
	harm := make([][]float64, frames)
	for f := range harm {
		harm[f] = make([]float64, bins)
	}
	column := make([]float64, frames)
	for b := 0; b < bins; b++ {
		for f := 0; f < frames; f++ {
			column[f] = mag[f][b]
		}
		filtered := medianFilter(column, hpssKernel)
		for f := 0; f < frames; f++ {
			harm[f][b] = filtered[f]
		}
	}

	// Percussive enhancement: median filter along frequency for each frame.
	perc := make([][]float64, frames)
	for f := 0; f < frames; f++ {
		perc[f] = medianFilter(mag[f], hpssKernel)
	}

	// Wiener-style soft mask, then masked reconstruction.
	masked := make([][]complex128, frames)
	for f := 0; f < frames; f++ {
		row := make([]complex128, bins)
		for b := 0; b < bins; b++ {
			h2 := harm[f][b] * harm[f][b]
			p2 := perc[f][b] * perc[f][b]
			var m float64
			if h2+p2 > 1e-12 {
				m = h2 / (h2 + p2)
			}
			row[b] = spec[f][b] * complex(m, 0)
		}
		masked[f] = row
	}

	return istft(masked, frameSize, hop, len(samples))
}

// medianFilter applies a centred running median of the given odd kernel
// length; edges are handled by shrinking the window.
func medianFilter(v []float64, kernel int) []float64 {
	half := kernel / 2
	out := make([]float64, len(v))
	buf := make([]float64, 0, kernel)
	for i := range v {
		lo := i - half
		if lo < 0 {
			lo = 0
		}
		hi := i + half + 1
		if hi > len(v) {
			hi = len(v)
		}
		buf = append(buf[:0], v[lo:hi]...)
		sort.Float64s(buf)
		out[i] = buf[len(buf)/2]
	}
	return out
}
