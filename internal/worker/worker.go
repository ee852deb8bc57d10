// Package worker implements the job execution loop.
package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mgoodale/webscout/internal/metrics"
	"github.com/mgoodale/webscout/internal/research"
)

// Runner executes a single job to a terminal state.
type Runner interface {
	Run(ctx context.Context, jobID string) error
}

// Config controls Worker behavior.
type Config struct {
	// MaxRetries is how many times a failed Run call is retried
	// before the item is dropped. Zero means no retries.
	MaxRetries int
	// RetryBackoffBase is the delay before the first retry; each
	// further retry doubles it.
	RetryBackoffBase time.Duration
}

// Worker consumes queue items and executes jobs.
type Worker struct {
	queue  research.Queue
	runner Runner
	cfg    Config
	logger *zap.Logger
}

// New constructs a Worker.
func New(queue research.Queue, runner Runner, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RetryBackoffBase <= 0 {
		cfg.RetryBackoffBase = time.Second
	}
	return &Worker{
		queue:  queue,
		runner: runner,
		cfg:    cfg,
		logger: logger,
	}
}

// Run blocks, consuming queue items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID))
		w.processItem(ctx, item)
	}
}

func (w *Worker) processItem(ctx context.Context, item research.QueueItem) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	backoff := w.cfg.RetryBackoffBase
	for attempt := 0; ; attempt++ {
		err := w.runner.Run(ctx, item.JobID)
		if err == nil {
			return
		}
		if ctx.Err() != nil {
			return
		}
		if attempt >= w.cfg.MaxRetries {
			w.logger.Error("job abandoned after retries",
				zap.String("job_id", item.JobID),
				zap.Int("attempts", attempt+1),
				zap.Error(err))
			return
		}
		w.logger.Warn("job run failed, retrying",
			zap.String("job_id", item.JobID),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}
