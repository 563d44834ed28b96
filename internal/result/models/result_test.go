package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleResult() *Result {
	score := 85.0
	return &Result{
		ID:              "r1",
		OwnerID:         "u1",
		TestID:          "test-1",
		SessionID:       "session-1",
		CompletedAt:     time.Date(2026, 3, 15, 10, 30, 0, 0, time.UTC),
		DurationSeconds: 600,
		OverallScore:    &score,
		DimensionScores: map[string]float64{"openness": 72, "rigor": 81},
		Metadata: map[string]any{
			MetaTestType: "personality",
			MetaTestName: "Big Five Inventory",
		},
	}
}

func TestValidate(t *testing.T) {
	r := sampleResult()
	require.NoError(t, r.Validate())

	for name, mutate := range map[string]func(*Result){
		"missing id":          func(r *Result) { r.ID = "" },
		"missing owner":       func(r *Result) { r.OwnerID = "" },
		"missing test":        func(r *Result) { r.TestID = "" },
		"missing completedAt": func(r *Result) { r.CompletedAt = time.Time{} },
	} {
		t.Run(name, func(t *testing.T) {
			broken := sampleResult()
			mutate(broken)
			assert.Error(t, broken.Validate())
		})
	}
}

func TestTestTypeDefaultsToGeneral(t *testing.T) {
	r := sampleResult()
	assert.Equal(t, "personality", r.TestType())

	r.Metadata = nil
	assert.Equal(t, "general", r.TestType())

	// Non-string values fall back too.
	r.Metadata = map[string]any{MetaTestType: 42}
	assert.Equal(t, "general", r.TestType())
}

func TestMatchesText(t *testing.T) {
	r := sampleResult()
	assert.True(t, r.MatchesText(""))
	assert.True(t, r.MatchesText("big five"))
	assert.True(t, r.MatchesText("INVENTORY"))
	assert.False(t, r.MatchesText("raven"))
}

func TestContentHashIsOrderIndependent(t *testing.T) {
	a := sampleResult()
	b := sampleResult()
	// Rebuild the maps in a different insertion order.
	b.DimensionScores = map[string]float64{"rigor": 81, "openness": 72}
	b.Metadata = map[string]any{
		MetaTestName: "Big Five Inventory",
		MetaTestType: "personality",
	}

	assert.Equal(t, a.ContentHash(), b.ContentHash())

	b.DimensionScores["openness"] = 73
	assert.NotEqual(t, a.ContentHash(), b.ContentHash())
}

func TestCloneIsDeep(t *testing.T) {
	r := sampleResult()
	clone := r.Clone()

	clone.DimensionScores["openness"] = 0
	clone.Metadata[MetaTestType] = "cognitive"
	*clone.OverallScore = 1

	assert.Equal(t, 72.0, r.DimensionScores["openness"])
	assert.Equal(t, "personality", r.TestType())
	assert.Equal(t, 85.0, *r.OverallScore)
}

func TestApplyPatchLeavesIdentityAlone(t *testing.T) {
	r := sampleResult()
	interpretation := "high openness"

	r.ApplyPatch(map[string]any{"reviewed": true}, &interpretation, []string{"retest in 6 months"})

	assert.Equal(t, "high openness", r.Interpretation)
	assert.Equal(t, true, r.Metadata["reviewed"])
	assert.Equal(t, []string{"retest in 6 months"}, r.Recommendations)
	// Existing metadata keys survive a partial patch.
	assert.Equal(t, "personality", r.TestType())
	assert.Equal(t, "r1", r.ID)
	assert.Equal(t, 85.0, *r.OverallScore)

	// Nil arguments leave fields untouched.
	r.ApplyPatch(nil, nil, nil)
	assert.Equal(t, "high openness", r.Interpretation)
}
