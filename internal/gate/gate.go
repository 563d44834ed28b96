// Package gate is the single entry point for result reads/writes and audit
// queries. It resolves policy for the caller's identity, forwards to the
// stores, and guarantees every terminal state passes through the audit
// logger. No business logic lives here.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"psymetric/internal/archive"
	"psymetric/internal/audit"
	"psymetric/internal/platform/metrics"
	"psymetric/internal/platform/sentinel"
	"psymetric/internal/result/models"
	"psymetric/internal/result/store"
)

// Role is the caller's resolved authorization level. Role resolution itself
// belongs to the external auth collaborator.
type Role string

const (
	RoleUser    Role = "user"
	RoleAdmin   Role = "admin"
	RoleAuditor Role = "auditor"
)

// Identity is the explicit caller value passed into every gate call. There
// is no ambient request-global identity anywhere in this codebase.
type Identity struct {
	ActorID       string
	Role          Role
	Authenticated bool
}

// Privileged reports whether the identity may read other subjects' data.
func (i Identity) Privileged() bool {
	return i.Role == RoleAdmin || i.Role == RoleAuditor
}

func (i Identity) auditCaller() audit.Caller {
	return audit.Caller{ID: i.ActorID, Privileged: i.Privileged()}
}

// Gate wraps the canonical store, the archive queue and the audit ledger
// behind authorization policy.
type Gate struct {
	results    store.Store
	archiveQ   *archive.Queue
	auditLog   *audit.Logger
	auditQuery *audit.QueryService
	logger     *slog.Logger
	metrics    *metrics.Metrics
	tracer     trace.Tracer
}

// New wires the gate and registers the archive tombstone hook on the result
// store, so every canonical delete propagates to the archive.
func New(results store.Store, writer *archive.Writer, queue *archive.Queue, auditLog *audit.Logger, auditQuery *audit.QueryService, logger *slog.Logger, m *metrics.Metrics) *Gate {
	g := &Gate{
		results:    results,
		archiveQ:   queue,
		auditLog:   auditLog,
		auditQuery: auditQuery,
		logger:     logger,
		metrics:    m,
		tracer:     otel.Tracer("psymetric/gate"),
	}

	results.RegisterDeleteHook(func(ctx context.Context, result *models.Result) error {
		if err := writer.Tombstone(ctx, result); err != nil {
			// Retained personal data after deletion is a compliance issue:
			// the failure is audited at HIGH severity, never swallowed.
			g.logger.ErrorContext(ctx, "archive tombstone failed",
				"result_id", result.ID,
				"error", err,
			)
			if _, auditErr := auditLog.Record(ctx, audit.Event{
				ActorID:        result.OwnerID,
				Action:         audit.ActionDeleteData,
				Severity:       audit.SeverityHigh,
				TargetResultID: result.ID,
				Metadata:       audit.EventMetadata{Error: fmt.Sprintf("archive tombstone failed: %v", err)},
			}); auditErr != nil {
				return auditErr
			}
		}
		return nil
	})

	return g
}

// deny records exactly one HIGH-severity UNAUTHORIZED_ATTEMPT for the
// rejected operation. Auditing happens even for denied requests; a failed
// audit write aborts with ErrAuditWrite instead of the policy error.
func (g *Gate) deny(ctx context.Context, caller Identity, endpoint, targetID string, policyErr error) error {
	if _, err := g.auditLog.Record(ctx, audit.Event{
		ActorID:        caller.ActorID,
		Action:         audit.ActionUnauthorizedAttempt,
		Severity:       audit.SeverityHigh,
		TargetResultID: targetID,
		Metadata:       audit.EventMetadata{Endpoint: endpoint, Error: policyErr.Error()},
	}); err != nil {
		return err
	}
	return policyErr
}

// StoreResult commits a finalized result to the canonical store, then hands
// the snapshot to the background archive queue. The result counts as durably
// stored once the canonical write succeeds, regardless of archive status.
func (g *Gate) StoreResult(ctx context.Context, caller Identity, result *models.Result) error {
	ctx, span := g.tracer.Start(ctx, "gate.StoreResult",
		trace.WithAttributes(attribute.String("result.id", result.ID)))
	defer span.End()

	if !caller.Authenticated {
		return g.deny(ctx, caller, "/results", result.ID, fmt.Errorf("store result: %w", sentinel.ErrForbidden))
	}
	if caller.ActorID != result.OwnerID && caller.Role != RoleAdmin {
		return g.deny(ctx, caller, "/results", result.ID, fmt.Errorf("store result for another subject: %w", sentinel.ErrForbidden))
	}

	if err := g.results.Put(ctx, result); err != nil {
		return err
	}
	g.metrics.ResultsStored.Inc()
	g.archiveQ.Enqueue(result)

	_, err := g.auditLog.Record(ctx, audit.Event{
		ActorID:        caller.ActorID,
		Action:         audit.ActionStoreResult,
		TargetResultID: result.ID,
		Metadata:       audit.EventMetadata{Endpoint: "/results", Method: "POST", StatusCode: 201},
	})
	return err
}

// GetResult returns the canonical record for its owner or a privileged role.
// Anyone else gets ErrNotFound - never ErrForbidden - so the existence of
// other subjects' records cannot be probed.
func (g *Gate) GetResult(ctx context.Context, caller Identity, resultID string) (*models.Result, error) {
	ctx, span := g.tracer.Start(ctx, "gate.GetResult",
		trace.WithAttributes(attribute.String("result.id", resultID)))
	defer span.End()

	if !caller.Authenticated {
		return nil, g.deny(ctx, caller, "/results/"+resultID, resultID, fmt.Errorf("get result: %w", sentinel.ErrForbidden))
	}

	result, err := g.results.Get(ctx, resultID)
	if err != nil {
		return nil, err
	}
	if result.OwnerID != caller.ActorID && !caller.Privileged() {
		return nil, g.deny(ctx, caller, "/results/"+resultID, resultID,
			fmt.Errorf("result %s: %w", resultID, sentinel.ErrNotFound))
	}

	if _, err := g.auditLog.Record(ctx, audit.Event{
		ActorID:        caller.ActorID,
		Action:         audit.ActionQueryResult,
		TargetResultID: resultID,
		Metadata:       audit.EventMetadata{Endpoint: "/results/" + resultID, Method: "GET", StatusCode: 200},
	}); err != nil {
		return nil, err
	}
	return result, nil
}

// ListResults pages through an owner's results. Non-privileged callers are
// always scoped to their own data regardless of the requested owner.
func (g *Gate) ListResults(ctx context.Context, caller Identity, ownerID string, filter store.Filter, page store.Page) (*store.ResultPage, error) {
	ctx, span := g.tracer.Start(ctx, "gate.ListResults")
	defer span.End()

	if !caller.Authenticated {
		return nil, g.deny(ctx, caller, "/results", "", fmt.Errorf("list results: %w", sentinel.ErrForbidden))
	}
	if ownerID == "" || !caller.Privileged() {
		ownerID = caller.ActorID
	}

	resultPage, err := g.results.ListByOwner(ctx, ownerID, filter, page)
	if err != nil {
		return nil, err
	}

	if _, err := g.auditLog.Record(ctx, audit.Event{
		ActorID:  caller.ActorID,
		Action:   audit.ActionQueryResult,
		Metadata: audit.EventMetadata{Endpoint: "/results", Method: "GET", StatusCode: 200},
	}); err != nil {
		return nil, err
	}
	return resultPage, nil
}

// PatchResult merges the patchable fields (metadata, interpretation,
// recommendations) into an owned result. Everything else is immutable after
// creation.
func (g *Gate) PatchResult(ctx context.Context, caller Identity, resultID string, metadata map[string]any, interpretation *string, recommendations []string) (*models.Result, error) {
	ctx, span := g.tracer.Start(ctx, "gate.PatchResult",
		trace.WithAttributes(attribute.String("result.id", resultID)))
	defer span.End()

	if !caller.Authenticated {
		return nil, g.deny(ctx, caller, "/results/"+resultID, resultID, fmt.Errorf("patch result: %w", sentinel.ErrForbidden))
	}

	result, err := g.results.Get(ctx, resultID)
	if err != nil {
		return nil, err
	}
	if result.OwnerID != caller.ActorID {
		return nil, g.deny(ctx, caller, "/results/"+resultID, resultID,
			fmt.Errorf("result %s: %w", resultID, sentinel.ErrNotFound))
	}

	result.ApplyPatch(metadata, interpretation, recommendations)
	if err := g.results.Put(ctx, result); err != nil {
		return nil, err
	}
	g.archiveQ.Enqueue(result)

	if _, err := g.auditLog.Record(ctx, audit.Event{
		ActorID:        caller.ActorID,
		Action:         audit.ActionModifyData,
		TargetResultID: resultID,
		Metadata:       audit.EventMetadata{Endpoint: "/results/" + resultID, Method: "PATCH", StatusCode: 200},
	}); err != nil {
		return nil, err
	}
	return result, nil
}

// DeleteResult hard-deletes an owned result. The registered store hook
// tombstones the archive copy. DELETE_DATA is HIGH severity, so the audit
// write is fail-closed: an unaudited delete is reported as a failure.
func (g *Gate) DeleteResult(ctx context.Context, caller Identity, resultID string) error {
	ctx, span := g.tracer.Start(ctx, "gate.DeleteResult",
		trace.WithAttributes(attribute.String("result.id", resultID)))
	defer span.End()

	if !caller.Authenticated {
		return g.deny(ctx, caller, "/results/"+resultID, resultID, fmt.Errorf("delete result: %w", sentinel.ErrForbidden))
	}

	result, err := g.results.Get(ctx, resultID)
	if err != nil {
		return err
	}
	if result.OwnerID != caller.ActorID {
		return g.deny(ctx, caller, "/results/"+resultID, resultID,
			fmt.Errorf("result %s: %w", resultID, sentinel.ErrNotFound))
	}

	if err := g.results.Delete(ctx, resultID); err != nil {
		return err
	}

	_, err = g.auditLog.Record(ctx, audit.Event{
		ActorID:        caller.ActorID,
		Action:         audit.ActionDeleteData,
		TargetResultID: resultID,
		Metadata:       audit.EventMetadata{Endpoint: "/results/" + resultID, Method: "DELETE", StatusCode: 204},
	})
	return err
}

// ExportResults returns the caller's full result set for export. EXPORT_DATA
// is HIGH severity and fail-closed: if the audit write fails the export is
// denied - better an unserved export than an unaudited one.
func (g *Gate) ExportResults(ctx context.Context, caller Identity) ([]*models.Result, error) {
	ctx, span := g.tracer.Start(ctx, "gate.ExportResults")
	defer span.End()

	if !caller.Authenticated {
		return nil, g.deny(ctx, caller, "/results/export", "", fmt.Errorf("export results: %w", sentinel.ErrForbidden))
	}

	var all []*models.Result
	offset := 0
	for {
		page, err := g.results.ListByOwner(ctx, caller.ActorID, store.Filter{}, store.Page{Limit: 500, Offset: offset})
		if err != nil {
			return nil, err
		}
		all = append(all, page.Results...)
		offset += len(page.Results)
		if offset >= page.Total || len(page.Results) == 0 {
			break
		}
	}

	if _, err := g.auditLog.Record(ctx, audit.Event{
		ActorID:  caller.ActorID,
		Action:   audit.ActionExportData,
		Metadata: audit.EventMetadata{Endpoint: "/results/export", Method: "GET", StatusCode: 200},
	}); err != nil {
		return nil, err
	}
	return all, nil
}

// QueryAuditEvents forwards to the ledger query service, which applies actor
// scoping and redaction.
func (g *Gate) QueryAuditEvents(ctx context.Context, caller Identity, filter audit.Filter, page audit.Page) (*audit.EventPage, error) {
	ctx, span := g.tracer.Start(ctx, "gate.QueryAuditEvents")
	defer span.End()

	if !caller.Authenticated {
		return nil, g.deny(ctx, caller, "/audit/events", "", fmt.Errorf("query audit events: %w", sentinel.ErrForbidden))
	}
	return g.auditQuery.Query(ctx, caller.auditCaller(), filter, page)
}

// AuditStats forwards to the privileged-only aggregate endpoint.
func (g *Gate) AuditStats(ctx context.Context, caller Identity) (*audit.Stats, error) {
	ctx, span := g.tracer.Start(ctx, "gate.AuditStats")
	defer span.End()

	if !caller.Authenticated {
		return nil, g.deny(ctx, caller, "/audit/stats", "", fmt.Errorf("audit stats: %w", sentinel.ErrForbidden))
	}
	return g.auditQuery.Aggregate(ctx, caller.auditCaller())
}

// IsNotFound reports whether the error maps to a 404 response.
func IsNotFound(err error) bool { return errors.Is(err, sentinel.ErrNotFound) }

// IsForbidden reports whether the error maps to a 403 response.
func IsForbidden(err error) bool { return errors.Is(err, sentinel.ErrForbidden) }
