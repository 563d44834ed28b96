package audit

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"psymetric/internal/platform/sentinel"
)

const (
	// maxQueryLimit caps page sizes on ledger queries.
	maxQueryLimit = 50
	// hardQueryLimit is the absolute cap even for privileged callers.
	hardQueryLimit = 100

	statsWindow = 30 * 24 * time.Hour
	statsTopN   = 10

	ipMaskToken = "xxx"
)

// Caller identifies who is querying the ledger. Privileged callers (admin or
// audit roles) may query any actor and see unredacted fields.
type Caller struct {
	ID         string
	Privileged bool
}

// QueryService is the role-aware read side of the ledger. Redaction happens
// here, before data leaves the audit package.
type QueryService struct {
	store  Store
	logger *Logger
	slog   *slog.Logger
	clock  func() time.Time
}

// NewQueryService builds the query service. The audit logger is required so
// denied privileged operations can themselves be audited.
func NewQueryService(store Store, auditLogger *Logger, slogger *slog.Logger) *QueryService {
	clock := time.Now
	if auditLogger != nil {
		clock = auditLogger.clock
	}
	return &QueryService{store: store, logger: auditLogger, slog: slogger, clock: clock}
}

// Query returns a redacted page of ledger events.
//
// A non-privileged caller is always scoped to its own events: an explicit
// actor filter is overwritten, never honored. Silently honoring it would be
// exactly the data leak this service exists to prevent.
func (q *QueryService) Query(ctx context.Context, caller Caller, filter Filter, page Page) (*EventPage, error) {
	if !caller.Privileged {
		filter.ActorID = caller.ID
	}
	if page.Limit <= 0 {
		page.Limit = maxQueryLimit
	}
	if page.Limit > hardQueryLimit {
		page.Limit = hardQueryLimit
	}

	result, err := q.store.Query(ctx, filter, page)
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}

	if !caller.Privileged {
		for i := range result.Events {
			result.Events[i] = Redact(result.Events[i])
		}
	}
	return result, nil
}

// Aggregate returns event counts by action and severity over the last 30
// days plus the ten most active actors. Privileged callers only; a denied
// call is itself audited before the error returns.
func (q *QueryService) Aggregate(ctx context.Context, caller Caller) (*Stats, error) {
	if !caller.Privileged {
		q.slog.WarnContext(ctx, "audit stats denied", "caller_id", caller.ID)
		if _, err := q.logger.Record(ctx, Event{
			ActorID:  caller.ID,
			Action:   ActionUnauthorizedAttempt,
			Severity: SeverityHigh,
			Metadata: EventMetadata{Endpoint: "/audit/stats", Error: "privileged operation"},
		}); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("audit stats: %w", sentinel.ErrForbidden)
	}

	since := q.clock().Add(-statsWindow)
	stats, err := q.store.Aggregate(ctx, since, statsTopN)
	if err != nil {
		return nil, fmt.Errorf("aggregate ledger: %w", err)
	}
	stats.Window = statsWindow
	return stats, nil
}

// Redact strips the fields a non-privileged viewer must not see: the final
// IP segment, the browser identification, and error message detail.
// Endpoint, method and status stay visible.
func Redact(event Event) Event {
	event.SourceIP = MaskIP(event.SourceIP)
	event.Device.Browser = ""
	event.Metadata.Error = ""
	return event
}

// MaskIP replaces the last octet of an IPv4 address (or the last group of an
// IPv6 address) with a mask token. Unparseable values are masked wholesale
// rather than passed through.
func MaskIP(ip string) string {
	if ip == "" {
		return ""
	}
	if strings.Contains(ip, ".") {
		parts := strings.Split(ip, ".")
		parts[len(parts)-1] = ipMaskToken
		return strings.Join(parts, ".")
	}
	if strings.Contains(ip, ":") {
		parts := strings.Split(ip, ":")
		parts[len(parts)-1] = ipMaskToken
		return strings.Join(parts, ":")
	}
	return ipMaskToken
}
