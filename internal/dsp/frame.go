// Package dsp holds the signal-processing primitives behind the fast-preview
// and expanding-scan providers: framing, short-time Fourier analysis,
// spectral flux, harmonic/percussive separation, and onset strength.
//
// Everything operates on mono float64 sample slices as produced by
// internal/media. The package is pure computation with no I/O.
package dsp

import "math"

const (
	// DefaultFrameSize is the analysis frame length in samples (64 ms at 16 kHz).
	DefaultFrameSize = 1024

	// DefaultHopSize is the analysis hop in samples (32 ms at 16 kHz).
	DefaultHopSize = 512
)

// HannWindow returns an n-point Hann window.
func HannWindow(n int) []float64 {
	w := make([]float64, n)
	if n == 1 {
		w[0] = 1
		return w
	}
	for i := range w {
		w[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
	}
	return w
}

// RMS returns the root-mean-square level of samples, zero for an empty slice.
func RMS(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s * s
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// FrameCount returns how many full frames of frameSize fit into n samples
// with the given hop.
func FrameCount(n, frameSize, hop int) int {
	if n < frameSize || frameSize <= 0 || hop <= 0 {
		return 0
	}
	return 1 + (n-frameSize)/hop
}
