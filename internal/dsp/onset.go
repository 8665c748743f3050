package dsp

import "math"

// Onset is a detected energy onset within one analysed clip.
type Onset struct {
	// OffsetMs is the onset position in milliseconds from clip start.
	OffsetMs int64

	// Strength is the normalised onset strength in [0, 1] relative to the
	// strongest flux peak of the clip.
	Strength float64
}

// OnsetStrength computes the onset strength envelope of samples: the
// half-wave rectified spectral flux, lightly smoothed to suppress
// single-frame noise spikes.
func OnsetStrength(samples []float64, frameSize, hop int) []float64 {
	flux := SpectralFlux(STFT(samples, frameSize, hop))
	return smooth3(flux)
}

// DetectOnset finds the first significant vocal-energy onset in samples.
// It thresholds the onset envelope at mean + 1.5·stddev (with a small
// absolute floor so a silent clip never fires) and returns the first frame
// crossing it. The bool result is false when no onset is found.
func DetectOnset(samples []float64, sampleRate int) (Onset, bool) {
	env := OnsetStrength(samples, DefaultFrameSize, DefaultHopSize)
	if len(env) == 0 {
		return Onset{}, false
	}

	var max float64
	for _, v := range env {
		if v > max {
			max = v
		}
	}
	if max < 1e-6 {
		// Effectively silent.
		return Onset{}, false
	}

	mean, std := meanStd(env)
	threshold := mean + 1.5*std
	if floor := 0.1 * max; threshold < floor {
		threshold = floor
	}

	for f, v := range env {
		if v >= threshold {
			ms := int64(float64(f*DefaultHopSize) / float64(sampleRate) * 1000)
			return Onset{OffsetMs: ms, Strength: v / max}, true
		}
	}
	return Onset{}, false
}

// PeakFlux returns the maximum of the onset envelope normalised against the
// envelope's total energy, as a rough [0, 1] "how onset-like is the loudest
// moment" score used in confidence blending.
func PeakFlux(samples []float64, frameSize, hop int) float64 {
	env := OnsetStrength(samples, frameSize, hop)
	if len(env) == 0 {
		return 0
	}
	var max, sum float64
	for _, v := range env {
		if v > max {
			max = v
		}
		sum += v
	}
	if sum <= 0 {
		return 0
	}
	score := max / (sum / float64(len(env))) / 10
	if score > 1 {
		score = 1
	}
	return score
}

func smooth3(v []float64) []float64 {
	if len(v) < 3 {
		return v
	}
	out := make([]float64, len(v))
	out[0] = v[0]
	out[len(v)-1] = v[len(v)-1]
	for i := 1; i < len(v)-1; i++ {
		out[i] = (v[i-1] + v[i] + v[i+1]) / 3
	}
	return out
}

func meanStd(v []float64) (mean, std float64) {
	if len(v) == 0 {
		return 0, 0
	}
	for _, x := range v {
		mean += x
	}
	mean /= float64(len(v))
	for _, x := range v {
		std += (x - mean) * (x - mean)
	}
	std = math.Sqrt(std / float64(len(v)))
	return mean, std
}
