package httpapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearproof/preflight/internal/match"
)

func TestResolveFingerprint(t *testing.T) {
	f := validEvaluateBody().StructuralFeatures

	derived, err := match.Fingerprint(f)
	require.NoError(t, err)

	got, err := resolveFingerprint("", f)
	require.NoError(t, err)
	assert.Equal(t, derived, got, "omitted fingerprint derives from the features")

	got, err = resolveFingerprint(derived, f)
	require.NoError(t, err)
	assert.Equal(t, derived, got)

	_, err = resolveFingerprint(validHex, f)
	assert.ErrorIs(t, err, errFingerprintMismatch,
		"a fingerprint that disagrees with the features must be rejected")
}
