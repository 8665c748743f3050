// Package worker runs gap detections as background jobs on an asynq queue.
// One task type exists: gap:detect, keyed uniquely per song file so a song
// saved twice in quick succession is analysed once.
package worker

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// TaskDetectGap is the asynq task type for one song detection.
const TaskDetectGap = "gap:detect"

// DetectPayload is the JSON payload of a [TaskDetectGap] task.
type DetectPayload struct {
	// JobID identifies the job in progress events. Filled with a fresh
	// UUID by [NewDetectTask] when empty.
	JobID string `json:"job_id"`

	// SongFile is the song text file whose audio gets analysed.
	SongFile string `json:"song_file"`

	// Method overrides the configured default detection method.
	Method string `json:"method,omitempty"`

	// Overwrite forces regeneration of cached signals and stored results.
	Overwrite bool `json:"overwrite,omitempty"`
}

// NewDetectTask builds the asynq task for p. The task ID is derived from the
// song file, so concurrent enqueues for the same song conflict instead of
// queueing twice.
func NewDetectTask(p DetectPayload) (*asynq.Task, error) {
	if p.SongFile == "" {
		return nil, fmt.Errorf("worker: song file is required")
	}
	if p.JobID == "" {
		p.JobID = uuid.NewString()
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("worker: marshal payload: %w", err)
	}
	return asynq.NewTask(TaskDetectGap, data, asynq.TaskID(TaskDetectGap+":"+p.SongFile)), nil
}

// Stage names a phase of a detection job's lifecycle.
type Stage string

const (
	StageQueued    Stage = "queued"
	StageDetecting Stage = "detecting"
	StageDone      Stage = "done"
	StageFailed    Stage = "failed"
)

// Progress is one job lifecycle event, published after each stage change.
type Progress struct {
	JobID    string `json:"job_id"`
	SongFile string `json:"song_file"`
	Stage    Stage  `json:"stage"`

	// DetectedGapMs and Confidence are set on StageDone.
	DetectedGapMs int64   `json:"detected_gap_ms,omitempty"`
	Confidence    float64 `json:"confidence,omitempty"`

	// Error is set on StageFailed.
	Error string `json:"error,omitempty"`
}

// Publisher receives progress events. Implementations must not block; the
// detection job continues regardless of delivery.
type Publisher interface {
	Publish(p Progress)
}
