//go:build integration

package audit

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"psymetric/internal/testutil/containers"
)

const auditSchema = `
CREATE TABLE IF NOT EXISTS audit_events (
    id               UUID PRIMARY KEY,
    actor_id         TEXT NOT NULL,
    action           TEXT NOT NULL,
    severity         TEXT NOT NULL,
    timestamp        TIMESTAMPTZ NOT NULL,
    source_ip        TEXT NOT NULL DEFAULT '',
    device           JSONB NOT NULL DEFAULT '{}',
    target_result_id TEXT NOT NULL DEFAULT '',
    metadata         JSONB NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS audit_events_actor_ts_idx
    ON audit_events (actor_id, timestamp DESC, id DESC);
`

type PostgresLedgerSuite struct {
	suite.Suite
	ctx   context.Context
	pg    *containers.PostgresContainer
	store *PostgresStore
	base  time.Time
}

func TestPostgresLedgerSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresLedgerSuite))
}

func (s *PostgresLedgerSuite) SetupSuite() {
	s.ctx = context.Background()
	s.pg = containers.NewPostgresContainer(s.T())
	s.pg.MustExec(s.T(), auditSchema)
}

func (s *PostgresLedgerSuite) SetupTest() {
	s.pg.MustExec(s.T(), "TRUNCATE audit_events")
	s.store = NewPostgresStore(s.pg.DB)
	s.base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func (s *PostgresLedgerSuite) append(actorID string, action Action, at time.Time) Event {
	event := Event{
		EventID:   uuid.New(),
		ActorID:   actorID,
		Action:    action,
		Severity:  action.DefaultSeverity(),
		Timestamp: at,
		SourceIP:  "203.0.113.42",
		Device:    Device{Platform: "Linux", Browser: "Firefox"},
		Metadata:  EventMetadata{Endpoint: "/results", Method: "GET", StatusCode: 200},
	}
	s.Require().NoError(s.store.Append(s.ctx, event))
	return event
}

func (s *PostgresLedgerSuite) TestAppendAndQueryRoundTrip() {
	appended := s.append("u1", ActionQueryResult, s.base)

	page, err := s.store.Query(s.ctx, Filter{}, Page{})
	s.Require().NoError(err)
	s.Require().Len(page.Events, 1)

	got := page.Events[0]
	s.Equal(appended.EventID, got.EventID)
	s.Equal("u1", got.ActorID)
	s.Equal(ActionQueryResult, got.Action)
	s.Equal("203.0.113.42", got.SourceIP)
	s.Equal("Firefox", got.Device.Browser)
	s.Equal("/results", got.Metadata.Endpoint)
}

func (s *PostgresLedgerSuite) TestAppendIsIdempotentOnEventID() {
	event := s.append("u1", ActionQueryResult, s.base)
	s.Require().NoError(s.store.Append(s.ctx, event))

	page, err := s.store.Query(s.ctx, Filter{}, Page{})
	s.Require().NoError(err)
	s.Equal(1, page.Total)
}

func (s *PostgresLedgerSuite) TestQueryOrderingAndFilters() {
	s.append("u1", ActionQueryResult, s.base)
	s.append("u2", ActionExportData, s.base.Add(time.Hour))
	s.append("u1", ActionDeleteData, s.base.Add(2*time.Hour))

	page, err := s.store.Query(s.ctx, Filter{}, Page{})
	s.Require().NoError(err)
	s.Require().Len(page.Events, 3)
	s.Equal(ActionDeleteData, page.Events[0].Action)
	s.Equal(ActionQueryResult, page.Events[2].Action)

	page, err = s.store.Query(s.ctx, Filter{ActorID: "u1"}, Page{})
	s.Require().NoError(err)
	s.Len(page.Events, 2)

	page, err = s.store.Query(s.ctx, Filter{Severity: SeverityHigh}, Page{})
	s.Require().NoError(err)
	s.Len(page.Events, 2)

	page, err = s.store.Query(s.ctx, Filter{
		DateFrom: s.base.Add(30 * time.Minute),
		DateTo:   s.base.Add(90 * time.Minute),
	}, Page{})
	s.Require().NoError(err)
	s.Require().Len(page.Events, 1)
	s.Equal(ActionExportData, page.Events[0].Action)
}

func (s *PostgresLedgerSuite) TestAggregate() {
	s.append("u1", ActionQueryResult, s.base)
	s.append("u1", ActionQueryResult, s.base.Add(time.Minute))
	s.append("u2", ActionExportData, s.base.Add(time.Hour))
	s.append("u3", ActionLogin, s.base.Add(-48*time.Hour))

	stats, err := s.store.Aggregate(s.ctx, s.base.Add(-time.Hour), 2)
	s.Require().NoError(err)

	s.Equal(2, stats.ByAction[ActionQueryResult])
	s.Equal(1, stats.ByAction[ActionExportData])
	s.Zero(stats.ByAction[ActionLogin])
	s.Equal(1, stats.BySeverity[SeverityHigh])

	s.Require().Len(stats.TopActors, 2)
	s.Equal("u1", stats.TopActors[0].ActorID)
	s.Equal(2, stats.TopActors[0].Count)
}
