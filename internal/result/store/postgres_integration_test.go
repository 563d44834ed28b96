//go:build integration

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"psymetric/internal/platform/sentinel"
	"psymetric/internal/result/models"
	"psymetric/internal/testutil/containers"
)

const resultsSchema = `
CREATE TABLE IF NOT EXISTS results (
    id               TEXT PRIMARY KEY,
    owner_id         TEXT NOT NULL,
    test_id          TEXT NOT NULL,
    session_id       TEXT NOT NULL DEFAULT '',
    completed_at     TIMESTAMPTZ NOT NULL,
    duration_seconds INTEGER NOT NULL DEFAULT 0,
    overall_score    DOUBLE PRECISION,
    dimension_scores JSONB NOT NULL DEFAULT '{}',
    metadata         JSONB NOT NULL DEFAULT '{}',
    interpretation   TEXT NOT NULL DEFAULT '',
    recommendations  JSONB NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS results_owner_completed_idx
    ON results (owner_id, completed_at DESC, id DESC);
`

type PostgresStoreSuite struct {
	suite.Suite
	ctx   context.Context
	pg    *containers.PostgresContainer
	store *Postgres
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.ctx = context.Background()
	s.pg = containers.NewPostgresContainer(s.T())
	s.pg.MustExec(s.T(), resultsSchema)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.pg.MustExec(s.T(), "TRUNCATE results")
	s.store = NewPostgres(s.pg.DB)
}

func (s *PostgresStoreSuite) TestPutGetRoundTrip() {
	r := newResult("r1", "u1", time.Date(2026, 3, 15, 10, 30, 0, 0, time.UTC))
	s.Require().NoError(s.store.Put(s.ctx, r))

	found, err := s.store.Get(s.ctx, "r1")
	s.Require().NoError(err)
	s.Equal("u1", found.OwnerID)
	s.Equal(85.0, *found.OverallScore)
	s.Equal(72.0, found.DimensionScores["openness"])
	s.Equal("personality", found.TestType())
}

func (s *PostgresStoreSuite) TestPutIsIdempotent() {
	r := newResult("r1", "u1", time.Now().UTC())
	s.Require().NoError(s.store.Put(s.ctx, r))
	s.Require().NoError(s.store.Put(s.ctx, r))

	page, err := s.store.ListByOwner(s.ctx, "u1", Filter{}, Page{})
	s.Require().NoError(err)
	s.Equal(1, page.Total)
}

func (s *PostgresStoreSuite) TestIdentityCollision() {
	s.Require().NoError(s.store.Put(s.ctx, newResult("r1", "u1", time.Now().UTC())))

	err := s.store.Put(s.ctx, newResult("r1", "u2", time.Now().UTC()))
	s.Require().Error(err)
	s.ErrorIs(err, sentinel.ErrConflict)

	found, err := s.store.Get(s.ctx, "r1")
	s.Require().NoError(err)
	s.Equal("u1", found.OwnerID)
}

func (s *PostgresStoreSuite) TestListOrderingFiltersAndPagination() {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cognitive := newResult("r1", "u1", base)
	cognitive.Metadata[models.MetaTestType] = "cognitive"
	cognitive.Metadata[models.MetaTestName] = "Matrix Reasoning"
	s.Require().NoError(s.store.Put(s.ctx, cognitive))
	s.Require().NoError(s.store.Put(s.ctx, newResult("r2", "u1", base.Add(time.Hour))))
	s.Require().NoError(s.store.Put(s.ctx, newResult("r3", "u1", base.Add(time.Hour))))
	s.Require().NoError(s.store.Put(s.ctx, newResult("other", "u2", base)))

	page, err := s.store.ListByOwner(s.ctx, "u1", Filter{}, Page{Limit: 2})
	s.Require().NoError(err)
	s.Equal(3, page.Total)
	s.Require().Len(page.Results, 2)
	s.Equal("r3", page.Results[0].ID)
	s.Equal("r2", page.Results[1].ID)

	page, err = s.store.ListByOwner(s.ctx, "u1", Filter{TestType: "cognitive"}, Page{})
	s.Require().NoError(err)
	s.Require().Len(page.Results, 1)
	s.Equal("r1", page.Results[0].ID)

	page, err = s.store.ListByOwner(s.ctx, "u1", Filter{Search: "matrix"}, Page{})
	s.Require().NoError(err)
	s.Require().Len(page.Results, 1)
	s.Equal("r1", page.Results[0].ID)

	page, err = s.store.ListByOwner(s.ctx, "u1", Filter{DateFrom: base.Add(30 * time.Minute)}, Page{})
	s.Require().NoError(err)
	s.Len(page.Results, 2)
}

func (s *PostgresStoreSuite) TestDeleteRunsHooks() {
	var hooked []string
	s.store.RegisterDeleteHook(func(_ context.Context, r *models.Result) error {
		hooked = append(hooked, r.ID)
		return nil
	})

	s.Require().NoError(s.store.Put(s.ctx, newResult("r1", "u1", time.Now().UTC())))
	s.Require().NoError(s.store.Delete(s.ctx, "r1"))
	s.Equal([]string{"r1"}, hooked)

	_, err := s.store.Get(s.ctx, "r1")
	s.ErrorIs(err, sentinel.ErrNotFound)

	s.ErrorIs(s.store.Delete(s.ctx, "r1"), sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestListIDsUpTo() {
	watermark := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.Require().NoError(s.store.Put(s.ctx, newResult("r1", "u1", watermark.Add(-time.Hour))))
	s.Require().NoError(s.store.Put(s.ctx, newResult("r2", "u1", watermark)))
	s.Require().NoError(s.store.Put(s.ctx, newResult("r3", "u1", watermark.Add(time.Second))))

	ids, err := s.store.ListIDsUpTo(s.ctx, watermark)
	s.Require().NoError(err)
	s.Equal([]string{"r1", "r2"}, ids)
}
