package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"psymetric/internal/platform/metrics"
	"psymetric/internal/platform/sentinel"
	"psymetric/internal/requestcontext"
)

const drainBatchSize = 64

// Mirror is an optional secondary sink for audit events (e.g. a Kafka topic
// feeding a SIEM). Mirror failures never fail the ledger append.
type Mirror interface {
	Publish(ctx context.Context, event Event) error
}

// Logger is the single append path into the ledger.
//
// HIGH and CRITICAL events are written synchronously and fail closed: if the
// append fails, the error propagates wrapped in ErrAuditWrite and the caller
// must abort the guarded operation. LOW and NORMAL events go through a
// bounded ring buffer drained by a background worker; under pressure the
// oldest buffered events are dropped and counted.
type Logger struct {
	store   Store
	logger  *slog.Logger
	metrics *metrics.Metrics
	mirror  Mirror
	clock   func() time.Time

	buffer *ringBuffer
	notify chan struct{}
	done   chan struct{}
}

// Option configures the Logger.
type Option func(*Logger)

// WithMirror attaches a best-effort secondary sink.
func WithMirror(mirror Mirror) Option {
	return func(l *Logger) { l.mirror = mirror }
}

// WithClock overrides the timestamp source for tests.
func WithClock(clock func() time.Time) Option {
	return func(l *Logger) {
		if clock != nil {
			l.clock = clock
		}
	}
}

// WithBufferSize sets the async buffer capacity.
func WithBufferSize(size int) Option {
	return func(l *Logger) { l.buffer = newRingBuffer(size) }
}

// NewLogger builds the audit logger. Call Run in a goroutine to drain the
// async buffer.
func NewLogger(store Store, logger *slog.Logger, m *metrics.Metrics, opts ...Option) *Logger {
	l := &Logger{
		store:   store,
		logger:  logger,
		metrics: m,
		clock:   time.Now,
		buffer:  newRingBuffer(0),
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Record appends the event to the ledger and returns its assigned ID.
// Missing severity defaults from the action; missing timestamp, source IP
// and device come from the clock and request context.
func (l *Logger) Record(ctx context.Context, event Event) (uuid.UUID, error) {
	event = l.enrich(ctx, event)

	if event.Severity.failClosed() {
		if err := l.store.Append(ctx, event); err != nil {
			l.logger.ErrorContext(ctx, "CRITICAL: audit append failed",
				"action", event.Action,
				"actor_id", event.ActorID,
				"error", err,
			)
			return uuid.Nil, fmt.Errorf("append %s event: %w: %w", event.Action, sentinel.ErrAuditWrite, err)
		}
		l.observe(ctx, event)
		return event.EventID, nil
	}

	if l.buffer.enqueue(event) {
		l.metrics.AuditBufferDrops.Inc()
	}
	select {
	case l.notify <- struct{}{}:
	default:
	}
	l.observe(ctx, event)
	return event.EventID, nil
}

// RecordSync appends synchronously regardless of severity, for callers that
// need the write confirmed before acknowledging their own caller.
func (l *Logger) RecordSync(ctx context.Context, event Event) (uuid.UUID, error) {
	event = l.enrich(ctx, event)
	if err := l.store.Append(ctx, event); err != nil {
		return uuid.Nil, fmt.Errorf("append %s event: %w: %w", event.Action, sentinel.ErrAuditWrite, err)
	}
	l.observe(ctx, event)
	return event.EventID, nil
}

func (l *Logger) enrich(ctx context.Context, event Event) Event {
	event.EventID = uuid.New()
	if event.Severity == "" {
		event.Severity = event.Action.DefaultSeverity()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = l.clock()
	}
	if event.SourceIP == "" {
		event.SourceIP = requestcontext.ClientIP(ctx)
	}
	if event.Device == (Device{}) {
		event.Device = DeviceFromContext(ctx)
	}
	return event
}

func (l *Logger) observe(ctx context.Context, event Event) {
	l.metrics.AuditEventsRecorded.WithLabelValues(string(event.Action), string(event.Severity)).Inc()
	if event.Action == ActionUnauthorizedAttempt {
		l.metrics.UnauthorizedAttempts.Inc()
	}
	if l.mirror != nil {
		if err := l.mirror.Publish(ctx, event); err != nil {
			l.logger.WarnContext(ctx, "audit mirror publish failed",
				"event_id", event.EventID,
				"error", err,
			)
		}
	}
}

// Run drains buffered low-severity events until the context is cancelled,
// then flushes whatever remains.
func (l *Logger) Run(ctx context.Context) {
	defer close(l.done)
	for {
		select {
		case <-ctx.Done():
			l.flush(context.WithoutCancel(ctx))
			return
		case <-l.notify:
			l.flush(ctx)
		}
	}
}

// Wait blocks until Run has returned.
func (l *Logger) Wait() {
	<-l.done
}

func (l *Logger) flush(ctx context.Context) {
	for {
		batch := l.buffer.dequeueBatch(drainBatchSize)
		if len(batch) == 0 {
			return
		}
		for _, event := range batch {
			if err := l.store.Append(ctx, event); err != nil {
				// Best-effort tier: log and move on, the event is lost.
				l.logger.Error("buffered audit append failed",
					"event_id", event.EventID,
					"action", event.Action,
					"error", err,
				)
			}
		}
	}
}

// BufferedEvents reports the current async backlog, for health reporting.
func (l *Logger) BufferedEvents() int {
	return l.buffer.len()
}

// DroppedEvents reports the lifetime count of dropped buffered events.
func (l *Logger) DroppedEvents() int64 {
	return l.buffer.droppedTotal()
}
