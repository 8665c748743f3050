package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// Queue wraps the asynq client and server for the detection task.
type Queue struct {
	client *asynq.Client
	server *asynq.Server
	mux    *asynq.ServeMux
}

// NewQueue connects to the Redis instance at redisAddr. concurrency bounds
// simultaneous detections; stem separation saturates a machine on its own,
// so values above 1 only make sense on beefy hosts. Zero means 1.
func NewQueue(redisAddr string, concurrency int) *Queue {
	if concurrency <= 0 {
		concurrency = 1
	}
	redisOpt := asynq.RedisClientOpt{Addr: redisAddr}
	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: concurrency,
		Logger:      slogAdapter{},
	})
	return &Queue{
		client: asynq.NewClient(redisOpt),
		server: server,
		mux:    asynq.NewServeMux(),
	}
}

// EnqueueDetect schedules a detection for p and returns the job ID. A task
// for the same song already pending or running is not queued again; the
// existing job's work covers this request.
func (q *Queue) EnqueueDetect(p DetectPayload) (string, error) {
	if p.JobID == "" {
		p.JobID = uuid.NewString()
	}
	task, err := NewDetectTask(p)
	if err != nil {
		return "", err
	}
	if _, err := q.client.Enqueue(task); err != nil {
		if errors.Is(err, asynq.ErrDuplicateTask) || errors.Is(err, asynq.ErrTaskIDConflict) {
			slog.Info("detection already queued for song", "song", p.SongFile)
			return p.JobID, nil
		}
		return "", fmt.Errorf("worker: enqueue: %w", err)
	}
	return p.JobID, nil
}

// Ping verifies the Redis connection backing the queue.
func (q *Queue) Ping(_ context.Context) error {
	return q.client.Ping()
}

// Handle registers h for the detection task type.
func (q *Queue) Handle(h asynq.Handler) {
	q.mux.Handle(TaskDetectGap, h)
}

// Start runs the queue server. It returns once the server has started;
// processing continues in asynq's own goroutines until [Queue.Stop].
func (q *Queue) Start() error {
	if err := q.server.Start(q.mux); err != nil {
		return fmt.Errorf("worker: start server: %w", err)
	}
	return nil
}

// Stop shuts the queue down, waiting for in-flight tasks to finish.
func (q *Queue) Stop() {
	q.server.Shutdown()
	q.client.Close()
}

// slogAdapter routes asynq's internal logging onto log/slog.
type slogAdapter struct{}

func (slogAdapter) Debug(args ...any) { slog.Debug(fmt.Sprint(args...)) }
func (slogAdapter) Info(args ...any)  { slog.Info(fmt.Sprint(args...)) }
func (slogAdapter) Warn(args ...any)  { slog.Warn(fmt.Sprint(args...)) }
func (slogAdapter) Error(args ...any) { slog.Error(fmt.Sprint(args...)) }
func (slogAdapter) Fatal(args ...any) { slog.Error(fmt.Sprint(args...)) }
