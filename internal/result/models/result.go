// Package models defines the canonical assessment result record.
package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Metadata keys with typed accessors. The metadata map is intentionally open
// (its schema is test-defined), but known sub-fields go through accessors so
// a typo cannot silently read an empty value.
const (
	MetaCalculationMethod = "calculationMethod"
	MetaTestVersion       = "testVersion"
	MetaTestType          = "testType"
	MetaCategoryID        = "categoryId"
	MetaTestName          = "testName"
	MetaDescription       = "description"
)

// Result is one completed assessment outcome. ID is the stable identity key
// across the canonical store and the archive. Fields other than Metadata,
// Interpretation and Recommendations are immutable after creation.
type Result struct {
	ID              string             `json:"id"`
	OwnerID         string             `json:"ownerId"`
	TestID          string             `json:"testId"`
	SessionID       string             `json:"sessionId"`
	CompletedAt     time.Time          `json:"completedAt"`
	DurationSeconds int                `json:"durationSeconds"`
	OverallScore    *float64           `json:"overallScore,omitempty"`
	DimensionScores map[string]float64 `json:"dimensionScores,omitempty"`
	Metadata        map[string]any     `json:"metadata,omitempty"`
	Interpretation  string             `json:"interpretation,omitempty"`
	Recommendations []string           `json:"recommendations,omitempty"`
}

// Validate checks the fields every result must carry before it can be stored.
func (r *Result) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("result id is required")
	}
	if r.OwnerID == "" {
		return fmt.Errorf("result ownerId is required")
	}
	if r.TestID == "" {
		return fmt.Errorf("result testId is required")
	}
	if r.CompletedAt.IsZero() {
		return fmt.Errorf("result completedAt is required")
	}
	return nil
}

// metaString reads a string-valued metadata key, tolerating absent maps.
func (r *Result) metaString(key string) string {
	if r.Metadata == nil {
		return ""
	}
	if v, ok := r.Metadata[key].(string); ok {
		return v
	}
	return ""
}

// CalculationMethod returns the scoring method recorded by the scoring engine.
func (r *Result) CalculationMethod() string { return r.metaString(MetaCalculationMethod) }

// TestVersion returns the content version the result was scored against.
func (r *Result) TestVersion() string { return r.metaString(MetaTestVersion) }

// TestType returns the test type, defaulting to "general" when the scoring
// engine did not set one. The archive path derivation relies on this default
// being stable.
func (r *Result) TestType() string {
	if t := r.metaString(MetaTestType); t != "" {
		return t
	}
	return "general"
}

// CategoryID returns the category the test belongs to, if any.
func (r *Result) CategoryID() string { return r.metaString(MetaCategoryID) }

// TestName returns the display name of the test, if recorded.
func (r *Result) TestName() string { return r.metaString(MetaTestName) }

// Description returns the test description, if recorded.
func (r *Result) Description() string { return r.metaString(MetaDescription) }

// MatchesText reports whether the free-text query matches the test name or
// description (case-insensitive substring).
func (r *Result) MatchesText(query string) bool {
	if query == "" {
		return true
	}
	q := strings.ToLower(query)
	return strings.Contains(strings.ToLower(r.TestName()), q) ||
		strings.Contains(strings.ToLower(r.Description()), q)
}

// ContentHash returns a hex SHA-256 over a canonical encoding of the result.
// Map iteration order must not influence the hash, so dimension scores and
// metadata are folded in key-sorted order.
func (r *Result) ContentHash() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s|%s|%d|", r.ID, r.OwnerID, r.TestID, r.SessionID,
		r.CompletedAt.UTC().Format(time.RFC3339Nano), r.DurationSeconds)
	if r.OverallScore != nil {
		fmt.Fprintf(h, "%g|", *r.OverallScore)
	}

	dims := make([]string, 0, len(r.DimensionScores))
	for k := range r.DimensionScores {
		dims = append(dims, k)
	}
	sort.Strings(dims)
	for _, k := range dims {
		fmt.Fprintf(h, "%s=%g|", k, r.DimensionScores[k])
	}

	metaKeys := make([]string, 0, len(r.Metadata))
	for k := range r.Metadata {
		metaKeys = append(metaKeys, k)
	}
	sort.Strings(metaKeys)
	for _, k := range metaKeys {
		// JSON-encode values so nested structures hash deterministically
		// enough for change detection.
		b, _ := json.Marshal(r.Metadata[k])
		fmt.Fprintf(h, "%s=%s|", k, b)
	}

	fmt.Fprintf(h, "%s|", r.Interpretation)
	for _, rec := range r.Recommendations {
		fmt.Fprintf(h, "%s|", rec)
	}

	return hex.EncodeToString(h.Sum(nil))
}

// Clone returns a deep copy so store callers cannot mutate shared state.
func (r *Result) Clone() *Result {
	clone := *r
	if r.OverallScore != nil {
		score := *r.OverallScore
		clone.OverallScore = &score
	}
	if r.DimensionScores != nil {
		clone.DimensionScores = make(map[string]float64, len(r.DimensionScores))
		for k, v := range r.DimensionScores {
			clone.DimensionScores[k] = v
		}
	}
	if r.Metadata != nil {
		clone.Metadata = make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			clone.Metadata[k] = v
		}
	}
	if r.Recommendations != nil {
		clone.Recommendations = append([]string(nil), r.Recommendations...)
	}
	return &clone
}

// ApplyPatch merges the patchable fields into the result. Identity and score
// fields are immutable after creation and are never touched here.
func (r *Result) ApplyPatch(metadata map[string]any, interpretation *string, recommendations []string) {
	if metadata != nil {
		if r.Metadata == nil {
			r.Metadata = make(map[string]any, len(metadata))
		}
		for k, v := range metadata {
			r.Metadata[k] = v
		}
	}
	if interpretation != nil {
		r.Interpretation = *interpretation
	}
	if recommendations != nil {
		r.Recommendations = append([]string(nil), recommendations...)
	}
}
