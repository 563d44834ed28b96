package archive

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"psymetric/internal/result/models"
)

type WriterSuite struct {
	suite.Suite
	writer *Writer
	root   string
	ctx    context.Context
}

func TestWriterSuite(t *testing.T) {
	suite.Run(t, new(WriterSuite))
}

func (s *WriterSuite) SetupTest() {
	s.root = s.T().TempDir()
	writer, err := NewWriter(s.root)
	s.Require().NoError(err)
	s.writer = writer
	s.ctx = context.Background()
}

func (s *WriterSuite) newResult(id string) *models.Result {
	score := 85.0
	return &models.Result{
		ID:              id,
		OwnerID:         "u1",
		TestID:          "test-1",
		CompletedAt:     time.Date(2026, 3, 15, 10, 30, 0, 0, time.UTC),
		DurationSeconds: 600,
		OverallScore:    &score,
		DimensionScores: map[string]float64{"openness": 72},
		Metadata:        map[string]any{models.MetaTestType: "personality"},
	}
}

func (s *WriterSuite) TestPathIsDeterministic() {
	r := s.newResult("r1")
	want := filepath.Join(s.root, "results", "2026", "03", "personality", "r1.json")
	s.Equal(want, s.writer.Path(r))
	s.Equal(want, s.writer.Path(r.Clone()))
}

func (s *WriterSuite) TestPathDefaultsTestType() {
	r := s.newResult("r1")
	r.Metadata = nil
	s.Contains(s.writer.Path(r), filepath.Join("general", "r1.json"))
}

func (s *WriterSuite) TestArchiveIsIdempotent() {
	r := s.newResult("r1")

	path1, err := s.writer.Archive(s.ctx, r)
	s.Require().NoError(err)
	path2, err := s.writer.Archive(s.ctx, r)
	s.Require().NoError(err)
	s.Equal(path1, path2)

	// A repeat write overwrites itself rather than duplicating the entry.
	var count int
	s.Require().NoError(s.writer.Walk(s.ctx, func(string, *Snapshot) error {
		count++
		return nil
	}))
	s.Equal(1, count)
}

func (s *WriterSuite) TestArchiveOverwritesChangedContent() {
	r := s.newResult("r1")
	path, err := s.writer.Archive(s.ctx, r)
	s.Require().NoError(err)

	updated := r.Clone()
	newScore := 90.0
	updated.OverallScore = &newScore
	path2, err := s.writer.Archive(s.ctx, updated)
	s.Require().NoError(err)
	s.Equal(path, path2)

	snapshot, err := s.writer.Read(s.ctx, path)
	s.Require().NoError(err)
	s.Equal(90.0, *snapshot.OverallScore)
}

func (s *WriterSuite) TestHealSetsReconciledAt() {
	r := s.newResult("r1")
	healedAt := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	path, err := s.writer.Heal(s.ctx, r, healedAt)
	s.Require().NoError(err)

	snapshot, err := s.writer.Read(s.ctx, path)
	s.Require().NoError(err)
	s.Require().NotNil(snapshot.ReconciledAt)
	s.True(snapshot.ReconciledAt.Equal(healedAt))
}

func (s *WriterSuite) TestTombstone() {
	r := s.newResult("r1")
	path, err := s.writer.Archive(s.ctx, r)
	s.Require().NoError(err)

	s.Require().NoError(s.writer.Tombstone(s.ctx, r))
	_, err = os.Stat(path)
	s.True(os.IsNotExist(err))

	// Tombstoning an unarchived result is fine.
	s.NoError(s.writer.Tombstone(s.ctx, s.newResult("never-archived")))
}

func (s *WriterSuite) TestWalkSkipsTempFiles() {
	r := s.newResult("r1")
	path, err := s.writer.Archive(s.ctx, r)
	s.Require().NoError(err)

	// Simulate an in-flight atomic write next to the real snapshot.
	tmp := filepath.Join(filepath.Dir(path), ".tmp-12345")
	s.Require().NoError(os.WriteFile(tmp, []byte("partial"), 0o644))

	var ids []string
	s.Require().NoError(s.writer.Walk(s.ctx, func(_ string, snapshot *Snapshot) error {
		ids = append(ids, snapshot.ID)
		return nil
	}))
	s.Equal([]string{"r1"}, ids)
}

func (s *WriterSuite) TestWalkEmptyArchive() {
	s.NoError(s.writer.Walk(s.ctx, func(string, *Snapshot) error {
		s.Fail("unexpected snapshot")
		return nil
	}))
}
