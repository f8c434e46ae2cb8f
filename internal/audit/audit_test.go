package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitize_RedactsSensitiveKeys(t *testing.T) {
	in := map[string]any{
		"password":      "hunter2hunter2",
		"api_key":       "cp_0123456789abcdef",
		"Authorization": "Bearer eyJhbGciOi",
		"jwt_token":     "short",
		"decision":      "MATCH",
		"count":         3,
	}

	out := Sanitize(in)

	assert.Equal(t, "hunt...REDACTED", out["password"])
	assert.Equal(t, "cp_0...REDACTED", out["api_key"])
	assert.Equal(t, "Bear...REDACTED", out["Authorization"])
	assert.Equal(t, "REDACTED", out["jwt_token"], "strings of 8 chars or fewer are fully redacted")
	assert.Equal(t, "MATCH", out["decision"])
	assert.Equal(t, 3, out["count"])
}

func TestSanitize_RecursesNestedMaps(t *testing.T) {
	in := map[string]any{
		"request": map[string]any{
			"headers": map[string]any{
				"X-API-Key": "cp_deadbeefdeadbeef",
				"Accept":    "application/json",
			},
		},
	}

	out := Sanitize(in)

	headers := out["request"].(map[string]any)["headers"].(map[string]any)
	assert.Equal(t, "cp_d...REDACTED", headers["X-API-Key"])
	assert.Equal(t, "application/json", headers["Accept"])
}

func TestSanitize_NonStringSensitiveValue(t *testing.T) {
	out := Sanitize(map[string]any{"secret_number": 42})
	assert.Equal(t, "REDACTED", out["secret_number"])
}

func TestSanitize_NilPassthrough(t *testing.T) {
	assert.Nil(t, Sanitize(nil))
}

func TestSanitize_DoesNotMutateInput(t *testing.T) {
	in := map[string]any{"token": "0123456789"}
	_ = Sanitize(in)
	assert.Equal(t, "0123456789", in["token"])
}
