package workflow

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearproof/preflight/internal/core"
)

func TestDecodeTask_RejectsMissingIdentity(t *testing.T) {
	payload, _ := json.Marshal(Task{WorkflowID: "", TenantID: "t1"})
	_, err := decodeTask(payload)
	assert.Error(t, err)

	payload, _ = json.Marshal(Task{WorkflowID: "wf1", TenantID: ""})
	_, err = decodeTask(payload)
	assert.Error(t, err)
}

func TestDecodeTask_RejectsMalformedPayload(t *testing.T) {
	_, err := decodeTask([]byte("{not json"))
	assert.Error(t, err)
}

func TestDecodeTask_RoundTrip(t *testing.T) {
	in := Task{
		WorkflowID: "0191d2a0-0000-7000-8000-000000000001",
		TenantID:   "0191d2a0-0000-7000-8000-000000000002",
		APIKeyID:   "0191d2a0-0000-7000-8000-000000000003",
		RequestID:  "a1b2c3d4e5f60718a1b2c3d4e5f60718",
		Request: core.EvaluateRequest{
			LayoutFingerprint:   "ab",
			ClientCorrelationID: "batch-42",
			StructuralFeatures:  core.StructuralFeatures{ElementCount: 10, PageCount: 1},
			ExtractorMetadata:   core.ExtractorMetadata{Vendor: "tesseract", Confidence: 0.8},
		},
		EnqueuedAt: time.Now().UTC().Truncate(time.Second),
	}
	payload, err := json.Marshal(in)
	require.NoError(t, err)

	got, err := decodeTask(payload)
	require.NoError(t, err)
	assert.Equal(t, in.WorkflowID, got.WorkflowID)
	assert.Equal(t, in.TenantID, got.TenantID)
	assert.Equal(t, "batch-42", got.Request.ClientCorrelationID)
	assert.Equal(t, 10, got.Request.StructuralFeatures.ElementCount)
}

func TestState_CloneIsIndependent(t *testing.T) {
	in := state{"matched": true, "drift": 0.2}
	out := in.clone()
	out["drift"] = 0.9
	out["extra"] = "x"

	assert.Equal(t, 0.2, in["drift"])
	_, ok := in["extra"]
	assert.False(t, ok, "activities must not see later mutations")
}
