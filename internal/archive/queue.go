package archive

import (
	"context"
	"log/slog"
	"time"

	"psymetric/internal/platform/metrics"
	"psymetric/internal/result/models"
)

const maxAttempts = 5

// Queue decouples archive writes from the request path. A result is durably
// stored once the canonical write succeeds; the snapshot is archived in the
// background with bounded retries. Exhausting the retry budget surfaces as
// archive lag in metrics, never as a caller-visible failure.
type Queue struct {
	writer  *Writer
	logger  *slog.Logger
	metrics *metrics.Metrics

	retryBase time.Duration
	inbox     chan *models.Result
	done      chan struct{}
}

// NewQueue builds a queue with the given buffer size. retryBase is the first
// backoff delay; each attempt doubles it.
func NewQueue(writer *Writer, logger *slog.Logger, m *metrics.Metrics, size int, retryBase time.Duration) *Queue {
	if size <= 0 {
		size = 1024
	}
	if retryBase <= 0 {
		retryBase = 100 * time.Millisecond
	}
	return &Queue{
		writer:    writer,
		logger:    logger,
		metrics:   m,
		retryBase: retryBase,
		inbox:     make(chan *models.Result, size),
		done:      make(chan struct{}),
	}
}

// Enqueue submits a snapshot for archival. Returns false if the queue is
// full; the reconciliation scanner will pick up the gap on its next run.
func (q *Queue) Enqueue(result *models.Result) bool {
	select {
	case q.inbox <- result.Clone():
		return true
	default:
		q.metrics.ArchiveLag.Inc()
		q.logger.Warn("archive queue full, deferring to reconciliation",
			"result_id", result.ID)
		return false
	}
}

// Run drains the queue until the context is cancelled. Call in a goroutine.
func (q *Queue) Run(ctx context.Context) {
	defer close(q.done)
	for {
		select {
		case <-ctx.Done():
			return
		case result := <-q.inbox:
			q.archiveWithRetry(ctx, result)
		}
	}
}

// Wait blocks until Run has returned.
func (q *Queue) Wait() {
	<-q.done
}

func (q *Queue) archiveWithRetry(ctx context.Context, result *models.Result) {
	delay := q.retryBase
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		path, err := q.writer.Archive(ctx, result)
		if err == nil {
			q.metrics.ArchiveWrites.Inc()
			q.logger.Debug("archived result", "result_id", result.ID, "path", path)
			return
		}
		if ctx.Err() != nil {
			return
		}

		q.logger.Warn("archive write failed",
			"result_id", result.ID,
			"attempt", attempt,
			"error", err,
		)
		if attempt == maxAttempts {
			break
		}
		q.metrics.ArchiveRetries.Inc()

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
	}

	q.metrics.ArchiveLag.Inc()
	q.logger.Error("archive retry budget exhausted, result lagging",
		"result_id", result.ID,
		"attempts", maxAttempts,
	)
}
