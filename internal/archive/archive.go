// Package archive maintains the file-based secondary copy of results. The
// archive is organized by time and test type for backup and bulk analysis;
// it is never authoritative while the canonical store holds the record.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"psymetric/internal/result/models"
)

// Snapshot is the archived form of a result: the full record plus a marker
// set when the reconciliation scanner healed this entry.
type Snapshot struct {
	models.Result
	ReconciledAt *time.Time `json:"reconciledAt,omitempty"`
}

// Writer writes result snapshots into the archive hierarchy. All writes are
// atomic (temp file + rename) so concurrent readers never observe a partial
// file.
type Writer struct {
	root string
}

// NewWriter creates the archive root if needed and returns a writer for it.
func NewWriter(root string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Join(root, "results"), 0o755); err != nil {
		return nil, fmt.Errorf("create archive root: %w", err)
	}
	return &Writer{root: root}, nil
}

// Path derives the archive location from the result's own fields:
// results/{year}/{month}/{testType}/{id}.json. The derivation is pure, so a
// repeat write for the same ID lands on the same file and overwrites itself
// rather than duplicating the entry.
func (w *Writer) Path(result *models.Result) string {
	completed := result.CompletedAt.UTC()
	return filepath.Join(w.root, "results",
		fmt.Sprintf("%04d", completed.Year()),
		fmt.Sprintf("%02d", int(completed.Month())),
		sanitizeSegment(result.TestType()),
		result.ID+".json",
	)
}

// Archive writes the snapshot to its derived path. Writing unchanged content
// is a no-op; changed content overwrites in place. Returns the path written
// (or matched).
func (w *Writer) Archive(ctx context.Context, result *models.Result) (string, error) {
	return w.write(ctx, Snapshot{Result: *result})
}

// Heal rewrites the snapshot with a reconciledAt marker. Used only by the
// reconciliation scanner.
func (w *Writer) Heal(ctx context.Context, result *models.Result, reconciledAt time.Time) (string, error) {
	return w.write(ctx, Snapshot{Result: *result, ReconciledAt: &reconciledAt})
}

func (w *Writer) write(ctx context.Context, snapshot Snapshot) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	path := w.Path(&snapshot.Result)

	// Unchanged content short-circuits; idempotency check is on the payload
	// hash, not file mtime.
	if existing, err := w.read(path); err == nil {
		if existing.Result.ContentHash() == snapshot.Result.ContentHash() && !snapshot.overridesMarker(existing) {
			return path, nil
		}
	}

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}

	if err := atomicWrite(path, data); err != nil {
		return "", err
	}
	return path, nil
}

// overridesMarker reports whether writing s over existing would change the
// reconciledAt marker.
func (s Snapshot) overridesMarker(existing *Snapshot) bool {
	if s.ReconciledAt == nil {
		return false
	}
	return existing.ReconciledAt == nil || !existing.ReconciledAt.Equal(*s.ReconciledAt)
}

// Tombstone removes the archive entry for a deleted result. A missing file
// is fine (the result may never have been archived); any other failure is
// returned so the caller can raise a high-severity audit event - retained
// personal data after deletion is a compliance issue.
func (w *Writer) Tombstone(ctx context.Context, result *models.Result) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path := w.Path(result)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("tombstone %s: %w", path, err)
	}
	return nil
}

// Read loads and decodes a snapshot by archive path.
func (w *Writer) Read(ctx context.Context, path string) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return w.read(path)
}

func (w *Writer) read(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", path, err)
	}
	return &snapshot, nil
}

// Walk visits every snapshot in the hierarchy. Temp files from in-flight
// atomic writes are skipped. The callback receives the archive path and the
// decoded snapshot; returning an error aborts the walk.
func (w *Writer) Walk(ctx context.Context, fn func(path string, snapshot *Snapshot) error) error {
	resultsRoot := filepath.Join(w.root, "results")
	return filepath.WalkDir(resultsRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".json") || strings.HasPrefix(d.Name(), ".tmp-") {
			return nil
		}

		snapshot, err := w.read(path)
		if err != nil {
			// A file deleted mid-walk (concurrent tombstone) is not an error.
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		return fn(path, snapshot)
	})
}

// atomicWrite writes data via a temp file in the destination directory and
// renames it into place.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create archive dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename snapshot into place: %w", err)
	}

	success = true
	return nil
}

// sanitizeSegment keeps derived path segments free of separators and parent
// references.
func sanitizeSegment(segment string) string {
	segment = strings.ReplaceAll(segment, string(os.PathSeparator), "-")
	segment = strings.ReplaceAll(segment, "..", "-")
	if segment == "" {
		return "general"
	}
	return segment
}
