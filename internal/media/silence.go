package media

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/vocalgap/vocalgap/pkg/provider/gap"
)

// SilenceDetector runs ffmpeg's silencedetect filter and parses its stderr
// log into ordered silence intervals.
type SilenceDetector struct {
	// FFmpegPath is the ffmpeg executable. Empty means "ffmpeg" from PATH.
	FFmpegPath string

	// NoiseDB is the silence threshold in dBFS (negative). Zero means -30.
	NoiseDB float64

	// MinDurationSec is the minimum silence length reported. Zero means 0.5.
	MinDurationSec float64

	// Runner executes the subprocess. Nil means [ExecRunner].
	Runner Runner
}

func (d *SilenceDetector) noiseDB() float64 {
	if d.NoiseDB != 0 {
		return d.NoiseDB
	}
	return -30
}

func (d *SilenceDetector) minDuration() float64 {
	if d.MinDurationSec > 0 {
		return d.MinDurationSec
	}
	return 0.5
}

// Detect returns the silence periods of audioFile, ascending and
// non-overlapping, in milliseconds. maxDurationSec ≤ 0 analyses the whole
// file. A trailing silence that is still open when the file ends is closed at
// the end of the analysed region.
func (d *SilenceDetector) Detect(ctx context.Context, audioFile string, maxDurationSec float64) ([]gap.TimeInterval, error) {
	ffmpeg := d.FFmpegPath
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	runner := d.Runner
	if runner == nil {
		runner = ExecRunner{}
	}

	args := []string{"-i", audioFile}
	if maxDurationSec > 0 {
		args = append(args, "-t", fmt.Sprintf("%.3f", maxDurationSec))
	}
	args = append(args,
		"-af", fmt.Sprintf("silencedetect=n=%.1fdB:d=%.2f", d.noiseDB(), d.minDuration()),
		"-vn", "-f", "null", "-",
	)

	out, err := runner.Run(ctx, ffmpeg, args...)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("media: silencedetect %s: %w: %s", audioFile, err, tail(out))
	}

	periods := ParseSilenceDetect(string(out))
	sort.Slice(periods, func(i, j int) bool { return periods[i].StartMs < periods[j].StartMs })
	return periods, nil
}

var (
	silenceStartRe = regexp.MustCompile(`silence_start:\s*(-?\d+\.?\d*)`)
	silenceEndRe   = regexp.MustCompile(`silence_end:\s*(-?\d+\.?\d*)`)
	timeRe         = regexp.MustCompile(`time=(\d+):(\d+):(\d+\.?\d*)`)
)

// ParseSilenceDetect extracts silence intervals from silencedetect filter
// output. An unterminated silence_start (silence running into end of file) is
// closed at the last progress timestamp ffmpeg printed, so a track ending in
// silence still yields a complete interval.
func ParseSilenceDetect(output string) []gap.TimeInterval {
	var (
		periods   []gap.TimeInterval
		start     float64
		startSet  bool
		lastKnown float64
	)

	for _, line := range strings.Split(output, "\n") {
		if tm := timeRe.FindStringSubmatch(line); len(tm) == 4 {
			h, _ := strconv.ParseFloat(tm[1], 64)
			m, _ := strconv.ParseFloat(tm[2], 64)
			s, _ := strconv.ParseFloat(tm[3], 64)
			if t := h*3600 + m*60 + s; t > lastKnown {
				lastKnown = t
			}
		}
		if sm := silenceStartRe.FindStringSubmatch(line); len(sm) == 2 {
			start, _ = strconv.ParseFloat(sm[1], 64)
			if start < 0 {
				start = 0
			}
			startSet = true
			continue
		}
		if em := silenceEndRe.FindStringSubmatch(line); len(em) == 2 && startSet {
			end, _ := strconv.ParseFloat(em[1], 64)
			periods = append(periods, interval(start, end))
			startSet = false
		}
	}

	if startSet && lastKnown > start {
		periods = append(periods, interval(start, lastKnown))
	}
	return periods
}

func interval(startSec, endSec float64) gap.TimeInterval {
	if endSec < startSec {
		endSec = startSec
	}
	return gap.TimeInterval{
		StartMs: int64(startSec * 1000),
		EndMs:   int64(endSec * 1000),
	}
}
