package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/quartzlabs/mailpilot/internal/store"
)

type WorkerOptions struct {
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
	MaxRetryDelay     time.Duration
}

// Worker polls the job store, claims one eligible job at a time and
// dispatches it to the registered handler. Any number of workers may run
// concurrently; claiming is a single conditional update so racing workers
// never both proceed.
type Worker struct {
	jobs              store.JobStore
	registry          *Registry
	pollInterval      time.Duration
	heartbeatInterval time.Duration
	maxRetryDelay     time.Duration
}

func NewWorker(jobs store.JobStore, registry *Registry, opts WorkerOptions) *Worker {
	poll := opts.PollInterval
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	heartbeat := opts.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	maxRetry := opts.MaxRetryDelay
	if maxRetry <= 0 {
		maxRetry = 300 * time.Second
	}

	return &Worker{
		jobs:              jobs,
		registry:          registry,
		pollInterval:      poll,
		heartbeatInterval: heartbeat,
		maxRetryDelay:     maxRetry,
	}
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		worked, err := w.processOne(ctx)
		if err != nil {
			slog.Error("job worker cycle failed", "error", err)
		}
		if worked {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *Worker) processOne(ctx context.Context) (bool, error) {
	job, err := w.jobs.ClaimNextJob(ctx)
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	handler := w.registry.Handler(job.Type)
	if handler == nil {
		if err := w.jobs.FailJob(ctx, job.ID, "no handler registered for type "+job.Type); err != nil {
			return true, fmt.Errorf("mark job failed after missing handler: %w", err)
		}
		return true, nil
	}

	handlerErr := w.runWithHeartbeat(ctx, job.ID, func(hctx context.Context) error {
		return handler(hctx, job)
	})
	if handlerErr == nil {
		if err := w.jobs.CompleteJob(ctx, job.ID); err != nil {
			// A cooperative cancel may have flipped the row while the
			// handler ran; the result is discarded, not an error.
			if err == store.ErrInvalidTransition {
				return true, nil
			}
			return true, fmt.Errorf("mark job completed: %w", err)
		}
		return true, nil
	}

	if IsFatal(handlerErr) || job.LastAttempt() {
		if err := w.jobs.FailJob(ctx, job.ID, handlerErr.Error()); err != nil {
			if err == store.ErrInvalidTransition {
				return true, nil
			}
			return true, fmt.Errorf("mark job failed: %w", err)
		}
		return true, nil
	}

	nextRun := time.Now().UTC().Add(w.retryDelay(job.Attempts))
	if err := w.jobs.RetryJob(ctx, job.ID, nextRun, handlerErr.Error()); err != nil {
		if err == store.ErrInvalidTransition {
			return true, nil
		}
		return true, fmt.Errorf("mark job retry: %w", err)
	}
	return true, nil
}

// runWithHeartbeat extends the job's liveness timestamp while the handler
// runs so the stale-job supervisor does not reschedule it.
func (w *Worker) runWithHeartbeat(ctx context.Context, jobID int64, fn func(context.Context) error) error {
	hctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		ticker := time.NewTicker(w.heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-hctx.Done():
				return
			case <-ticker.C:
				if err := w.jobs.HeartbeatJob(hctx, jobID); err != nil && err != store.ErrInvalidTransition {
					slog.Error("job heartbeat failed", "job_id", jobID, "error", err)
				}
			}
		}
	}()

	return fn(hctx)
}

// retryDelay is min(2^attempts, cap) seconds with ±25% jitter.
func (w *Worker) retryDelay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	secs := math.Pow(2, float64(attempts))
	if capSecs := w.maxRetryDelay.Seconds(); secs > capSecs {
		secs = capSecs
	}
	jitter := 1 + (rand.Float64()*0.5 - 0.25)
	return time.Duration(secs * jitter * float64(time.Second))
}
