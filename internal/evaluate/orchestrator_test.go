package evaluate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearproof/preflight/internal/core"
)

func TestDecide_Boundaries(t *testing.T) {
	cases := []struct {
		name    string
		matched bool
		conf    float64
		want    core.Decision
	}{
		{"no template", false, 0.99, core.DecisionNew},
		{"below floor", true, 0.49, core.DecisionNew},
		{"exactly at floor", true, 0.50, core.DecisionReview},
		{"mid band", true, 0.70, core.DecisionReview},
		{"just under match", true, 0.849, core.DecisionReview},
		{"at match threshold", true, 0.85, core.DecisionMatch},
		{"exact fingerprint", true, 1.0, core.DecisionMatch},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Decide(tc.matched, tc.conf))
		})
	}
}

func TestReplayHash_DeterministicAndDistinct(t *testing.T) {
	const doc = "a3f2b1c4d5e6f708192a3b4c5d6e7f8090a1b2c3d4e5f60718293a4b5c6d7e8f"
	id := "0191d2a0-0000-7000-8000-000000000001"

	a := ReplayHash(id, doc, core.DecisionMatch)
	b := ReplayHash(id, doc, core.DecisionMatch)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	assert.NotEqual(t, a, ReplayHash(id, doc, core.DecisionReview))
	assert.NotEqual(t, a, ReplayHash(NewEvaluationID(), doc, core.DecisionMatch))
}

func TestNewEvaluationID_TimeOrdered(t *testing.T) {
	a := NewEvaluationID()
	b := NewEvaluationID()
	require.NotEqual(t, a, b)
	// UUIDv7 sorts by creation time lexicographically.
	assert.True(t, strings.Compare(a, b) < 0, "ids must be monotonically increasing")
}

func TestBuildAlerts_MatchedThresholds(t *testing.T) {
	alerts := BuildAlerts(true, 0.45, 0.62, []string{"WARN: no bounding boxes reported"})
	require.Len(t, alerts, 3)
	assert.Equal(t, "High drift detected: 0.45", alerts[0])
	assert.Equal(t, "Low reliability: 0.62", alerts[1])
	assert.Equal(t, "WARN: no bounding boxes reported", alerts[2])
}

func TestBuildAlerts_QuietWhenHealthy(t *testing.T) {
	assert.Empty(t, BuildAlerts(true, 0.10, 0.95, nil))
}

func TestBuildAlerts_NewDecisionSkipsScoreAlerts(t *testing.T) {
	// A NEW decision has zero scores by construction; neither should alert.
	alerts := BuildAlerts(false, 0, 0, []string{"WARN: zero text density with 3 text blocks"})
	require.Len(t, alerts, 1)
	assert.True(t, strings.HasPrefix(alerts[0], "WARN:"))
}

func TestBuildAlerts_BoundaryValuesDoNotAlert(t *testing.T) {
	assert.Empty(t, BuildAlerts(true, core.HighDriftAlertThreshold, core.LowReliabilityAlertThreshold, nil))
}
