package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Stable error codes surfaced in the envelope.
const (
	CodeMissingAPIKey      = "MISSING_API_KEY"
	CodeInvalidAPIKey      = "INVALID_API_KEY"
	CodeRevokedAPIKey      = "REVOKED_API_KEY"
	CodeTenantDenied       = "TENANT_ACCESS_DENIED"
	CodeInsufficientScope  = "INSUFFICIENT_PERMISSIONS"
	CodeTemplateNotFound   = "TEMPLATE_NOT_FOUND"
	CodeEvaluationNotFound = "EVALUATION_NOT_FOUND"
	CodeWorkflowNotFound   = "WORKFLOW_NOT_FOUND"
	CodeTemplateExists     = "TEMPLATE_ALREADY_EXISTS"
	CodeNoFieldsToUpdate   = "NO_FIELDS_TO_UPDATE"
	CodeInvalidRequest     = "INVALID_REQUEST"
	CodeRateLimited        = "RATE_LIMIT_EXCEEDED"
	CodeConflict           = "CONFLICT"
	CodeRequestTooLarge    = "REQUEST_TOO_LARGE"
	CodeInternal           = "INTERNAL_ERROR"
)

// envelope is the wire shape of every non-2xx response.
type envelope struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		json.NewEncoder(w).Encode(body)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string, details map[string]any) {
	writeJSON(w, status, envelope{Code: code, Message: message, Details: details})
}

// writeInternal hides the underlying failure from the client and logs it
// with request correlation.
func writeInternal(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	logger.Error("request failed",
		"method", r.Method, "path", r.URL.Path,
		"request_id", requestIDFrom(r.Context()), "error", err)
	writeError(w, http.StatusInternalServerError, CodeInternal, "internal error", nil)
}
