package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateKey_Format(t *testing.T) {
	clear, hash, prefix, err := GenerateKey("test-salt")
	require.NoError(t, err)

	assert.Len(t, clear, 35)
	assert.Regexp(t, `^cp_[0-9a-f]{32}$`, clear)
	assert.Len(t, hash, 64)
	assert.Equal(t, clear[:8], prefix)
}

func TestHashKey_Deterministic(t *testing.T) {
	const key = "cp_0123456789abcdef0123456789abcdef"
	assert.Equal(t, HashKey("salt", key), HashKey("salt", key))
	assert.NotEqual(t, HashKey("salt-a", key), HashKey("salt-b", key),
		"different salts must produce different digests")
}

func TestKeyFormat_RejectsMalformed(t *testing.T) {
	for _, key := range []string{
		"",
		"cp_",
		"cp_SHOUTING9abcdef0123456789abcdef",     // uppercase hex
		"ak_0123456789abcdef0123456789abcdef",    // wrong prefix
		"cp_0123456789abcdef0123456789abcde",     // 31 hex chars
		"cp_0123456789abcdef0123456789abcdef0",   // 33 hex chars
		"cp_0123456789abcdef 123456789abcdef",    // whitespace
	} {
		assert.False(t, keyFormat.MatchString(key), "key %q should be rejected", key)
	}
	assert.True(t, keyFormat.MatchString("cp_0123456789abcdef0123456789abcdef"))
}

func TestSafePrefix_Truncates(t *testing.T) {
	assert.Equal(t, "cp_01234", safePrefix("cp_0123456789abcdef0123456789abcdef"))
	assert.Equal(t, "cp_", safePrefix("cp_"))
}
