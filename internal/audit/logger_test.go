package audit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"psymetric/internal/platform/logger"
	"psymetric/internal/platform/metrics"
	"psymetric/internal/platform/sentinel"
)

// One registration per test binary; promauto registers globally.
var testMetrics = metrics.New()

// failingStore rejects every append, simulating a ledger outage.
type failingStore struct {
	*InMemoryStore
}

func (s *failingStore) Append(context.Context, Event) error {
	return fmt.Errorf("ledger unavailable")
}

type LoggerSuite struct {
	suite.Suite
	ctx   context.Context
	store *InMemoryStore
	now   time.Time
}

func TestLoggerSuite(t *testing.T) {
	suite.Run(t, new(LoggerSuite))
}

func (s *LoggerSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = NewInMemoryStore()
	s.now = time.Date(2026, 3, 20, 9, 0, 0, 0, time.UTC)
}

func (s *LoggerSuite) newLogger(store Store, opts ...Option) *Logger {
	opts = append([]Option{WithClock(func() time.Time { return s.now })}, opts...)
	return NewLogger(store, logger.New(), testMetrics, opts...)
}

func (s *LoggerSuite) ledger() []Event {
	page, err := s.store.Query(s.ctx, Filter{}, Page{Limit: 100})
	s.Require().NoError(err)
	return page.Events
}

func (s *LoggerSuite) TestRecordEnrichesDefaults() {
	log := s.newLogger(s.store)

	id, err := log.Record(s.ctx, Event{ActorID: "u1", Action: ActionExportData})
	s.Require().NoError(err)
	s.NotEqual(uuid.Nil, id)

	events := s.ledger()
	s.Require().Len(events, 1)
	s.Equal(id, events[0].EventID)
	s.Equal(SeverityHigh, events[0].Severity)
	s.True(events[0].Timestamp.Equal(s.now))
}

func (s *LoggerSuite) TestHighSeverityFailsClosed() {
	log := s.newLogger(&failingStore{s.store})

	id, err := log.Record(s.ctx, Event{ActorID: "u1", Action: ActionDeleteData})
	s.Require().Error(err)
	s.ErrorIs(err, sentinel.ErrAuditWrite)
	s.Equal(uuid.Nil, id)
}

func (s *LoggerSuite) TestNormalSeveritySurvivesLedgerOutage() {
	log := s.newLogger(&failingStore{s.store})

	_, err := log.Record(s.ctx, Event{ActorID: "u1", Action: ActionQueryResult})
	s.NoError(err)
	s.Equal(1, log.BufferedEvents())
}

func (s *LoggerSuite) TestRunDrainsBufferedEvents() {
	log := s.newLogger(s.store)

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	go log.Run(ctx)

	_, err := log.Record(s.ctx, Event{ActorID: "u1", Action: ActionQueryResult, TargetResultID: "r1"})
	s.Require().NoError(err)

	s.Require().Eventually(func() bool {
		return len(s.ledger()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	log.Wait()

	events := s.ledger()
	s.Require().Len(events, 1)
	s.Equal(ActionQueryResult, events[0].Action)
	s.Equal("r1", events[0].TargetResultID)
}

func (s *LoggerSuite) TestShutdownFlushesBacklog() {
	log := s.newLogger(s.store)

	_, err := log.Record(s.ctx, Event{ActorID: "u1", Action: ActionQueryResult})
	s.Require().NoError(err)

	ctx, cancel := context.WithCancel(s.ctx)
	cancel()
	go log.Run(ctx)
	log.Wait()

	s.Len(s.ledger(), 1)
	s.Zero(log.BufferedEvents())
}

func (s *LoggerSuite) TestFullBufferDropsOldest() {
	log := s.newLogger(s.store, WithBufferSize(1))

	_, err := log.Record(s.ctx, Event{ActorID: "u1", Action: ActionQueryResult})
	s.Require().NoError(err)
	_, err = log.Record(s.ctx, Event{ActorID: "u2", Action: ActionQueryResult})
	s.Require().NoError(err)

	s.Equal(1, log.BufferedEvents())
	s.Equal(int64(1), log.DroppedEvents())
}

func (s *LoggerSuite) TestRecordSyncBypassesBuffer() {
	log := s.newLogger(s.store)

	_, err := log.RecordSync(s.ctx, Event{ActorID: "u1", Action: ActionLogin})
	s.Require().NoError(err)
	s.Len(s.ledger(), 1)
	s.Zero(log.BufferedEvents())
}
