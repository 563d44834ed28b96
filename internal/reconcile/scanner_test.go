package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"psymetric/internal/archive"
	"psymetric/internal/platform/logger"
	"psymetric/internal/platform/metrics"
	"psymetric/internal/result/models"
	"psymetric/internal/result/store"
)

// One registration per test binary; promauto registers globally.
var testMetrics = metrics.New()

type ScannerSuite struct {
	suite.Suite
	ctx        context.Context
	primary    *store.InMemory
	writer     *archive.Writer
	watermarks *MemoryWatermarks
	now        time.Time
}

func TestScannerSuite(t *testing.T) {
	suite.Run(t, new(ScannerSuite))
}

func (s *ScannerSuite) SetupTest() {
	s.ctx = context.Background()
	s.primary = store.NewInMemory()
	writer, err := archive.NewWriter(s.T().TempDir())
	s.Require().NoError(err)
	s.writer = writer
	s.watermarks = NewMemoryWatermarks()
	s.now = time.Date(2026, 3, 20, 9, 0, 0, 0, time.UTC)
}

func (s *ScannerSuite) newScanner() *Scanner {
	clock := func() time.Time { return s.now }
	return NewScanner(s.primary, s.writer, s.watermarks, clock, logger.New(), testMetrics)
}

func (s *ScannerSuite) newResult(id string, completedAt time.Time) *models.Result {
	score := 85.0
	return &models.Result{
		ID:              id,
		OwnerID:         "u1",
		TestID:          "test-1",
		CompletedAt:     completedAt,
		DurationSeconds: 600,
		OverallScore:    &score,
		Metadata:        map[string]any{models.MetaTestType: "personality"},
	}
}

func (s *ScannerSuite) TestHealsMissingArchiveEntry() {
	r := s.newResult("r1", s.now.Add(-time.Hour))
	s.Require().NoError(s.primary.Put(s.ctx, r))

	report, err := s.newScanner().Run(s.ctx)
	s.Require().NoError(err)

	s.Equal(1, report.MissingInArchive)
	s.Equal(1, report.Healed)
	s.Equal([]string{"r1"}, report.MissingIDs)

	snapshot, err := s.writer.Read(s.ctx, s.writer.Path(r))
	s.Require().NoError(err)
	s.Require().NotNil(snapshot.ReconciledAt)
	s.True(snapshot.ReconciledAt.Equal(s.now))
}

func (s *ScannerSuite) TestFlagsOrphanWithoutDeleting() {
	r := s.newResult("ghost", s.now.Add(-time.Hour))
	path, err := s.writer.Archive(s.ctx, r)
	s.Require().NoError(err)

	report, err := s.newScanner().Run(s.ctx)
	s.Require().NoError(err)

	s.Equal(1, report.OrphanedInArchive)
	s.Equal([]string{"ghost"}, report.OrphanedIDs)

	// Orphans go to manual review; the scan must not remove them.
	_, err = s.writer.Read(s.ctx, path)
	s.NoError(err)
}

func (s *ScannerSuite) TestOverwritesConflictingPayload() {
	canonical := s.newResult("r1", s.now.Add(-time.Hour))
	s.Require().NoError(s.primary.Put(s.ctx, canonical))

	stale := canonical.Clone()
	staleScore := 12.0
	stale.OverallScore = &staleScore
	path, err := s.writer.Archive(s.ctx, stale)
	s.Require().NoError(err)

	report, err := s.newScanner().Run(s.ctx)
	s.Require().NoError(err)

	s.Equal(1, report.ConflictingPayload)
	s.Equal(1, report.Healed)

	// The canonical store wins.
	snapshot, err := s.writer.Read(s.ctx, path)
	s.Require().NoError(err)
	s.Equal(85.0, *snapshot.OverallScore)
	s.NotNil(snapshot.ReconciledAt)
}

func (s *ScannerSuite) TestCleanStoresProduceEmptyReport() {
	r := s.newResult("r1", s.now.Add(-time.Hour))
	s.Require().NoError(s.primary.Put(s.ctx, r))
	_, err := s.writer.Archive(s.ctx, r)
	s.Require().NoError(err)

	report, err := s.newScanner().Run(s.ctx)
	s.Require().NoError(err)

	s.Zero(report.MissingInArchive)
	s.Zero(report.OrphanedInArchive)
	s.Zero(report.ConflictingPayload)
	s.Zero(report.Healed)
}

func (s *ScannerSuite) TestWatermarkExcludesInFlightWrites() {
	// Completed after the scan started: invisible on both sides, so a write
	// mid-flight is never misreported as missing.
	late := s.newResult("late", s.now.Add(time.Minute))
	s.Require().NoError(s.primary.Put(s.ctx, late))

	lateArchived := s.newResult("late-archived", s.now.Add(time.Minute))
	_, err := s.writer.Archive(s.ctx, lateArchived)
	s.Require().NoError(err)

	report, err := s.newScanner().Run(s.ctx)
	s.Require().NoError(err)

	s.Zero(report.MissingInArchive)
	s.Zero(report.OrphanedInArchive)
}

func (s *ScannerSuite) TestResumesInterruptedScanWatermark() {
	interrupted := s.now.Add(-30 * time.Minute)
	s.Require().NoError(s.watermarks.Put(s.ctx, interrupted))

	// Completed after the interrupted scan's watermark: out of scope for the
	// resumed run even though it predates the current clock.
	r := s.newResult("r1", s.now.Add(-10*time.Minute))
	s.Require().NoError(s.primary.Put(s.ctx, r))

	report, err := s.newScanner().Run(s.ctx)
	s.Require().NoError(err)

	s.True(report.Watermark.Equal(interrupted))
	s.Zero(report.MissingInArchive)

	// A completed scan clears the watermark so the next run captures fresh.
	_, ok, err := s.watermarks.Get(s.ctx)
	s.Require().NoError(err)
	s.False(ok)
}
