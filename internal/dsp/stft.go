package dsp

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// STFT computes a magnitude spectrogram of samples using Hann-windowed frames.
// The result is indexed [frame][bin] with frameSize/2+1 bins per frame.
func STFT(samples []float64, frameSize, hop int) [][]float64 {
	frames := FrameCount(len(samples), frameSize, hop)
	if frames == 0 {
		return nil
	}

	fft := fourier.NewFFT(frameSize)
	window := HannWindow(frameSize)
	windowed := make([]float64, frameSize)
	coeffs := make([]complex128, frameSize/2+1)

	mag := make([][]float64, frames)
	for f := 0; f < frames; f++ {
		off := f * hop
		for i := 0; i < frameSize; i++ {
			windowed[i] = samples[off+i] * window[i]
		}
		fft.Coefficients(coeffs, windowed)
		row := make([]float64, len(coeffs))
		for i, c := range coeffs {
			row[i] = cmplxAbs(c)
		}
		mag[f] = row
	}
	return mag
}

// stftComplex is like [STFT] but keeps the complex coefficients, needed for
// masked reconstruction in HPSS.
func stftComplex(samples []float64, frameSize, hop int) [][]complex128 {
	frames := FrameCount(len(samples), frameSize, hop)
	if frames == 0 {
		return nil
	}

	fft := fourier.NewFFT(frameSize)
	window := HannWindow(frameSize)
	windowed := make([]float64, frameSize)

	spec := make([][]complex128, frames)
	for f := 0; f < frames; f++ {
		off := f * hop
		for i := 0; i < frameSize; i++ {
			windowed[i] = samples[off+i] * window[i]
		}
		coeffs := make([]complex128, frameSize/2+1)
		fft.Coefficients(coeffs, windowed)
		spec[f] = coeffs
	}
	return spec
}

// istft reconstructs a time signal from complex frames by windowed
// overlap-add, normalised by the summed squared window.
func istft(spec [][]complex128, frameSize, hop, length int) []float64 {
	if len(spec) == 0 {
		return nil
	}

	fft := fourier.NewFFT(frameSize)
	window := HannWindow(frameSize)
	frame := make([]float64, frameSize)

	out := make([]float64, length)
	norm := make([]float64, length)

	for f, coeffs := range spec {
		fft.Sequence(frame, coeffs)
		off := f * hop
		for i := 0; i < frameSize && off+i < length; i++ {
			// gonum's Sequence returns the unnormalised inverse transform.
			out[off+i] += frame[i] / float64(frameSize) * window[i]
			norm[off+i] += window[i] * window[i]
		}
	}
	for i := range out {
		if norm[i] > 1e-12 {
			out[i] /= norm[i]
		}
	}
	return out
}

// SpectralFlux returns the half-wave rectified spectral flux of a magnitude
// spectrogram: for each frame, the summed positive bin-wise increase over the
// previous frame. The first frame has flux 0.
func SpectralFlux(mag [][]float64) []float64 {
	flux := make([]float64, len(mag))
	for f := 1; f < len(mag); f++ {
		var sum float64
		prev, cur := mag[f-1], mag[f]
		for b := range cur {
			if d := cur[b] - prev[b]; d > 0 {
				sum += d
			}
		}
		flux[f] = sum
	}
	return flux
}

// NormalizeMax scales v in place so its maximum becomes 1. A zero vector is
// left unchanged.
func NormalizeMax(v []float64) {
	var max float64
	for _, x := range v {
		if x > max {
			max = x
		}
	}
	if max <= 0 {
		return
	}
	for i := range v {
		v[i] /= max
	}
}

func cmplxAbs(c complex128) float64 {
	return math.Hypot(real(c), imag(c))
}
