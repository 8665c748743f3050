package media

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
)

// Prober wraps ffprobe for duration and stream inspection.
type Prober struct {
	// Path is the ffprobe executable. Empty means "ffprobe" from PATH.
	Path string

	// Runner executes the subprocess. Nil means [ExecRunner].
	Runner Runner
}

// probeResult mirrors the subset of ffprobe's JSON output we consume.
type probeResult struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType  string `json:"codec_type"`
		CodecName  string `json:"codec_name"`
		SampleRate string `json:"sample_rate"`
		Channels   int    `json:"channels"`
	} `json:"streams"`
}

func (p *Prober) path() string {
	if p.Path != "" {
		return p.Path
	}
	return "ffprobe"
}

func (p *Prober) runner() Runner {
	if p.Runner != nil {
		return p.Runner
	}
	return ExecRunner{}
}

// DurationSec returns the track duration in seconds, or an error when the
// file cannot be probed. Callers that can tolerate an unknown duration should
// treat the error as "duration unavailable" rather than fatal.
func (p *Prober) DurationSec(ctx context.Context, audioFile string) (float64, error) {
	out, err := p.runner().Run(ctx, p.path(),
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		audioFile,
	)
	if err != nil {
		return 0, fmt.Errorf("media: ffprobe %s: %w", audioFile, err)
	}

	var res probeResult
	if err := json.Unmarshal(out, &res); err != nil {
		return 0, fmt.Errorf("media: parse ffprobe output for %s: %w", audioFile, err)
	}
	dur, err := strconv.ParseFloat(res.Format.Duration, 64)
	if err != nil {
		return 0, fmt.Errorf("media: ffprobe reported no duration for %s", audioFile)
	}
	return dur, nil
}

// DurationMs returns the track duration in milliseconds.
func (p *Prober) DurationMs(ctx context.Context, audioFile string) (int64, error) {
	sec, err := p.DurationSec(ctx, audioFile)
	if err != nil {
		return 0, err
	}
	return int64(sec * 1000), nil
}
