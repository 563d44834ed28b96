// Package audit maintains the append-only ledger of every access to
// personal assessment data. Events are never mutated or deleted by any code
// path reachable from normal operation; retention is a separate
// administrative concern.
package audit

import (
	"time"

	"github.com/google/uuid"
)

// Action enumerates the auditable operations.
type Action string

const (
	ActionStoreResult         Action = "STORE_RESULT"
	ActionQueryResult         Action = "QUERY_RESULT"
	ActionExportData          Action = "EXPORT_DATA"
	ActionUnauthorizedAttempt Action = "UNAUTHORIZED_ATTEMPT"
	ActionLogin               Action = "LOGIN"
	ActionLogout              Action = "LOGOUT"
	ActionModifyData          Action = "MODIFY_DATA"
	ActionDeleteData          Action = "DELETE_DATA"
)

// Severity classifies events for routing and for the durability contract:
// HIGH and CRITICAL events are persisted synchronously and fail closed.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityNormal   Severity = "NORMAL"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// defaultSeverities maps each action to the severity it carries unless the
// caller overrides it.
var defaultSeverities = map[Action]Severity{
	ActionStoreResult:         SeverityNormal,
	ActionQueryResult:         SeverityNormal,
	ActionExportData:          SeverityHigh,
	ActionUnauthorizedAttempt: SeverityHigh,
	ActionLogin:               SeverityNormal,
	ActionLogout:              SeverityLow,
	ActionModifyData:          SeverityNormal,
	ActionDeleteData:          SeverityHigh,
}

// DefaultSeverity returns the severity for this action. Unknown actions get
// NORMAL.
func (a Action) DefaultSeverity() Severity {
	if sev, ok := defaultSeverities[a]; ok {
		return sev
	}
	return SeverityNormal
}

// failClosed reports whether events of this severity must be durably
// appended before the guarded operation may complete.
func (s Severity) failClosed() bool {
	return s == SeverityHigh || s == SeverityCritical
}

// Device captures best-effort client platform information. No fingerprinting
// beyond platform, browser, language and timezone.
type Device struct {
	Platform string `json:"platform"`
	Browser  string `json:"browser"`
	Language string `json:"language"`
	Timezone string `json:"timezone"`
}

// EventMetadata carries request-level details of the audited operation.
type EventMetadata struct {
	Endpoint   string        `json:"endpoint,omitempty"`
	Method     string        `json:"method,omitempty"`
	StatusCode int           `json:"statusCode,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// Event is one access or mutation of personal data. EventID is assigned on
// append. Ordering for pagination is (timestamp, eventId) descending -
// monotonic per actor, not a global total order.
type Event struct {
	EventID        uuid.UUID     `json:"eventId"`
	ActorID        string        `json:"actorId"`
	Action         Action        `json:"action"`
	Severity       Severity      `json:"severity"`
	Timestamp      time.Time     `json:"timestamp"`
	SourceIP       string        `json:"sourceIp"`
	Device         Device        `json:"device"`
	TargetResultID string        `json:"targetResultId,omitempty"`
	Metadata       EventMetadata `json:"metadata"`
}
