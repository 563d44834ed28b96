package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"psymetric/internal/platform/sentinel"
	"psymetric/internal/result/models"
)

// Postgres persists results in PostgreSQL via database/sql (pgx stdlib
// driver). Dimension scores, metadata and recommendations live in JSONB
// columns because their schema is test-defined and variable.
//
// Expected schema:
//
//	CREATE TABLE results (
//	    id               TEXT PRIMARY KEY,
//	    owner_id         TEXT NOT NULL,
//	    test_id          TEXT NOT NULL,
//	    session_id       TEXT NOT NULL DEFAULT '',
//	    completed_at     TIMESTAMPTZ NOT NULL,
//	    duration_seconds INTEGER NOT NULL DEFAULT 0,
//	    overall_score    DOUBLE PRECISION,
//	    dimension_scores JSONB NOT NULL DEFAULT '{}',
//	    metadata         JSONB NOT NULL DEFAULT '{}',
//	    interpretation   TEXT NOT NULL DEFAULT '',
//	    recommendations  JSONB NOT NULL DEFAULT '[]'
//	);
//	CREATE INDEX results_owner_completed_idx ON results (owner_id, completed_at DESC, id DESC);
type Postgres struct {
	db *sql.DB

	mu    sync.Mutex
	hooks []DeleteHook
}

// NewPostgres constructs a PostgreSQL-backed result store.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Put upserts the result. The WHERE clause on the conflict update enforces
// the identity invariant in a single statement: an upsert against a row with
// a different owner updates nothing, which we detect via RETURNING.
func (s *Postgres) Put(ctx context.Context, result *models.Result) error {
	if err := result.Validate(); err != nil {
		return err
	}

	dims, err := json.Marshal(result.DimensionScores)
	if err != nil {
		return fmt.Errorf("marshal dimension scores: %w", err)
	}
	meta, err := json.Marshal(result.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	recs, err := json.Marshal(result.Recommendations)
	if err != nil {
		return fmt.Errorf("marshal recommendations: %w", err)
	}

	query := `
		INSERT INTO results (
			id, owner_id, test_id, session_id, completed_at,
			duration_seconds, overall_score, dimension_scores,
			metadata, interpretation, recommendations
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			test_id          = EXCLUDED.test_id,
			session_id       = EXCLUDED.session_id,
			completed_at     = EXCLUDED.completed_at,
			duration_seconds = EXCLUDED.duration_seconds,
			overall_score    = EXCLUDED.overall_score,
			dimension_scores = EXCLUDED.dimension_scores,
			metadata         = EXCLUDED.metadata,
			interpretation   = EXCLUDED.interpretation,
			recommendations  = EXCLUDED.recommendations
		WHERE results.owner_id = EXCLUDED.owner_id
		RETURNING id
	`

	var returned string
	err = s.db.QueryRowContext(ctx, query,
		result.ID, result.OwnerID, result.TestID, result.SessionID,
		result.CompletedAt, result.DurationSeconds, result.OverallScore,
		dims, meta, result.Interpretation, recs,
	).Scan(&returned)
	if errors.Is(err, sql.ErrNoRows) {
		// Conflict update matched a row with a different owner.
		return fmt.Errorf("result %s owned by another subject: %w", result.ID, sentinel.ErrConflict)
	}
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("result %s: %w", result.ID, sentinel.ErrConflict)
		}
		return fmt.Errorf("upsert result: %w", err)
	}
	return nil
}

const resultColumns = `
	id, owner_id, test_id, session_id, completed_at,
	duration_seconds, overall_score, dimension_scores,
	metadata, interpretation, recommendations
`

// Get fetches a single record by ID.
func (s *Postgres) Get(ctx context.Context, id string) (*models.Result, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+resultColumns+` FROM results WHERE id = $1`, id)

	result, err := scanResult(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("result %s: %w", id, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query result: %w", err)
	}
	return result, nil
}

// ListByOwner pages through the owner's results, newest first with ID as the
// deterministic tie-break. Metadata-derived filters use JSONB operators.
func (s *Postgres) ListByOwner(ctx context.Context, ownerID string, filter Filter, page Page) (*ResultPage, error) {
	page = normalizePage(page)

	conditions := []string{"owner_id = $1"}
	args := []any{ownerID}

	addArg := func(cond string, value any) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(cond, len(args)))
	}

	if filter.TestType != "" {
		addArg("COALESCE(metadata->>'testType', 'general') = $%d", filter.TestType)
	}
	if filter.CategoryID != "" {
		addArg("metadata->>'categoryId' = $%d", filter.CategoryID)
	}
	if !filter.DateFrom.IsZero() {
		addArg("completed_at >= $%d", filter.DateFrom)
	}
	if !filter.DateTo.IsZero() {
		addArg("completed_at <= $%d", filter.DateTo)
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		n := len(args)
		conditions = append(conditions, fmt.Sprintf(
			"(metadata->>'testName' ILIKE $%d OR metadata->>'description' ILIKE $%d)", n, n))
	}

	where := strings.Join(conditions, " AND ")

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM results WHERE `+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count results: %w", err)
	}

	args = append(args, page.Limit, page.Offset)
	query := fmt.Sprintf(`
		SELECT %s FROM results
		WHERE %s
		ORDER BY completed_at DESC, id DESC
		LIMIT $%d OFFSET $%d
	`, resultColumns, where, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	var results []*models.Result
	for rows.Next() {
		result, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}

	return &ResultPage{Results: results, Total: total, Limit: page.Limit, Offset: page.Offset}, nil
}

// Delete removes the record and runs delete hooks with the removed snapshot.
func (s *Postgres) Delete(ctx context.Context, id string) error {
	row := s.db.QueryRowContext(ctx,
		`DELETE FROM results WHERE id = $1 RETURNING `+resultColumns, id)

	result, err := scanResult(row)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("result %s: %w", id, sentinel.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("delete result: %w", err)
	}

	s.mu.Lock()
	hooks := append([]DeleteHook(nil), s.hooks...)
	s.mu.Unlock()

	for _, hook := range hooks {
		if err := hook(ctx, result); err != nil {
			return err
		}
	}
	return nil
}

// ListIDsUpTo returns IDs of results completed at or before the watermark.
func (s *Postgres) ListIDsUpTo(ctx context.Context, watermark time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM results WHERE completed_at <= $1 ORDER BY id`, watermark)
	if err != nil {
		return nil, fmt.Errorf("list result ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan result id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate result ids: %w", err)
	}
	return ids, nil
}

// RegisterDeleteHook adds a post-delete hook.
func (s *Postgres) RegisterDeleteHook(hook DeleteHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, hook)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResult(row rowScanner) (*models.Result, error) {
	var (
		result models.Result
		score  sql.NullFloat64
		dims   []byte
		meta   []byte
		recs   []byte
	)

	err := row.Scan(
		&result.ID, &result.OwnerID, &result.TestID, &result.SessionID,
		&result.CompletedAt, &result.DurationSeconds, &score,
		&dims, &meta, &result.Interpretation, &recs,
	)
	if err != nil {
		return nil, err
	}

	if score.Valid {
		result.OverallScore = &score.Float64
	}
	if len(dims) > 0 {
		if err := json.Unmarshal(dims, &result.DimensionScores); err != nil {
			return nil, fmt.Errorf("unmarshal dimension scores: %w", err)
		}
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &result.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	if len(recs) > 0 {
		if err := json.Unmarshal(recs, &result.Recommendations); err != nil {
			return nil, fmt.Errorf("unmarshal recommendations: %w", err)
		}
	}
	return &result, nil
}
