// Package reconcile detects and heals divergence between the canonical
// result store and the file archive. Scans run out-of-band and are read-only
// against the canonical store; only the archive and the scan report are ever
// written.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"psymetric/internal/archive"
	"psymetric/internal/platform/metrics"
	"psymetric/internal/platform/sentinel"
	"psymetric/internal/result/store"
)

// Classification names for report entries and metrics labels.
const (
	ClassMissingInArchive   = "missing_in_archive"
	ClassOrphanedInArchive  = "orphaned_in_archive"
	ClassConflictingPayload = "conflicting_payload"
)

// reportIDCap bounds the per-classification ID lists in the report; the
// counts are always exact.
const reportIDCap = 100

// Report is the structured outcome of one scan.
type Report struct {
	Watermark time.Time     `json:"watermark"`
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`

	MissingInArchive   int `json:"missingInArchive"`
	OrphanedInArchive  int `json:"orphanedInArchive"`
	ConflictingPayload int `json:"conflictingPayload"`
	Healed             int `json:"healed"`

	// Capped ID lists for operator review. Truncated reports whether any
	// list hit the cap.
	MissingIDs     []string `json:"missingIds,omitempty"`
	OrphanedIDs    []string `json:"orphanedIds,omitempty"`
	ConflictingIDs []string `json:"conflictingIds,omitempty"`
	Truncated      bool     `json:"truncated,omitempty"`
}

// Clock supplies timestamps; injected for watermark tests.
type Clock func() time.Time

// Scanner walks both stores and reconciles them. Results newer than the
// watermark are ignored on both sides, so records mid-write when the scan
// starts are never classified as missing.
type Scanner struct {
	primary    store.Store
	writer     *archive.Writer
	watermarks WatermarkStore
	clock      Clock
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewScanner builds a scanner. A nil clock defaults to time.Now.
func NewScanner(primary store.Store, writer *archive.Writer, watermarks WatermarkStore, clock Clock, logger *slog.Logger, m *metrics.Metrics) *Scanner {
	if clock == nil {
		clock = time.Now
	}
	return &Scanner{
		primary:    primary,
		writer:     writer,
		watermarks: watermarks,
		clock:      clock,
		logger:     logger,
		metrics:    m,
	}
}

// Run executes one full scan. A watermark left over from an interrupted scan
// is reused; a fresh scan captures and persists a new one. The watermark is
// cleared only after the scan completes.
func (s *Scanner) Run(ctx context.Context) (*Report, error) {
	startedAt := s.clock()

	watermark, resumed, err := s.watermarks.Get(ctx)
	if err != nil {
		return nil, err
	}
	if !resumed {
		watermark = startedAt
		if err := s.watermarks.Put(ctx, watermark); err != nil {
			return nil, err
		}
	} else {
		s.logger.Info("resuming interrupted scan", "watermark", watermark)
	}

	primaryIDs, archived, err := s.enumerate(ctx, watermark)
	if err != nil {
		return nil, err
	}

	report := &Report{Watermark: watermark, StartedAt: startedAt}

	primarySet := make(map[string]struct{}, len(primaryIDs))
	for _, id := range primaryIDs {
		primarySet[id] = struct{}{}
	}

	for _, id := range primaryIDs {
		snapshot, inArchive := archived[id]
		if !inArchive {
			report.MissingInArchive++
			report.MissingIDs = appendCapped(report.MissingIDs, id, report)
			if err := s.heal(ctx, id, report); err != nil {
				return nil, err
			}
			continue
		}

		canonical, err := s.primary.Get(ctx, id)
		if err != nil {
			// Deleted between enumeration and comparison; the next scan
			// will classify any leftover archive file as an orphan.
			if errors.Is(err, sentinel.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if canonical.ContentHash() != snapshot.Result.ContentHash() {
			report.ConflictingPayload++
			report.ConflictingIDs = appendCapped(report.ConflictingIDs, id, report)
			s.logger.Warn("archive diverged from canonical store, overwriting",
				"result_id", id)
			if _, err := s.writer.Heal(ctx, canonical, s.clock()); err != nil {
				return nil, fmt.Errorf("heal conflicting result %s: %w", id, err)
			}
			report.Healed++
		}
	}

	for id := range archived {
		if _, ok := primarySet[id]; !ok {
			// Could be a legitimately deleted-but-untombstoned record or a
			// tombstoning failure; flagged for manual review, never deleted
			// automatically.
			report.OrphanedInArchive++
			report.OrphanedIDs = appendCapped(report.OrphanedIDs, id, report)
		}
	}

	if err := s.watermarks.Clear(ctx); err != nil {
		return nil, err
	}

	report.Duration = s.clock().Sub(startedAt)
	s.observe(report)
	s.logger.Info("reconciliation scan complete",
		"watermark", report.Watermark,
		"missing_in_archive", report.MissingInArchive,
		"orphaned_in_archive", report.OrphanedInArchive,
		"conflicting_payload", report.ConflictingPayload,
		"healed", report.Healed,
	)
	return report, nil
}

// enumerate collects both sides concurrently: primary IDs up to the
// watermark and archived snapshots whose completion time is within it.
func (s *Scanner) enumerate(ctx context.Context, watermark time.Time) ([]string, map[string]*archive.Snapshot, error) {
	var (
		primaryIDs []string
		archived   = make(map[string]*archive.Snapshot)
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ids, err := s.primary.ListIDsUpTo(gctx, watermark)
		if err != nil {
			return fmt.Errorf("enumerate primary store: %w", err)
		}
		primaryIDs = ids
		return nil
	})
	g.Go(func() error {
		err := s.writer.Walk(gctx, func(path string, snapshot *archive.Snapshot) error {
			if snapshot.CompletedAt.After(watermark) {
				return nil
			}
			archived[snapshot.ID] = snapshot
			return nil
		})
		if err != nil {
			return fmt.Errorf("walk archive: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return primaryIDs, archived, nil
}

// heal re-archives a result missing from the archive. A record deleted since
// enumeration is skipped silently.
func (s *Scanner) heal(ctx context.Context, id string, report *Report) error {
	canonical, err := s.primary.Get(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil
		}
		return err
	}
	if _, err := s.writer.Heal(ctx, canonical, s.clock()); err != nil {
		return fmt.Errorf("re-archive result %s: %w", id, err)
	}
	report.Healed++
	return nil
}

func (s *Scanner) observe(report *Report) {
	if s.metrics == nil {
		return
	}
	s.metrics.ReconcileRuns.Inc()
	s.metrics.ReconcileFindings.WithLabelValues(ClassMissingInArchive).Add(float64(report.MissingInArchive))
	s.metrics.ReconcileFindings.WithLabelValues(ClassOrphanedInArchive).Add(float64(report.OrphanedInArchive))
	s.metrics.ReconcileFindings.WithLabelValues(ClassConflictingPayload).Add(float64(report.ConflictingPayload))
}

func appendCapped(ids []string, id string, report *Report) []string {
	if len(ids) >= reportIDCap {
		report.Truncated = true
		return ids
	}
	return append(ids, id)
}
