package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/clearproof/preflight/internal/admin"
	"github.com/clearproof/preflight/internal/database"
)

func adminMeta(r *http.Request) admin.Meta {
	return admin.Meta{
		IPAddress: clientIP(r),
		RequestID: requestIDFrom(r.Context()),
	}
}

// writeAdminError maps admin-service failures onto the envelope. Forbidden
// tenant probes surface as TENANT_ACCESS_DENIED, not as existence hints.
func (s *Server) writeAdminError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, admin.ErrForbidden):
		writeError(w, http.StatusForbidden, CodeTenantDenied, "cross-tenant access denied", nil)
	case errors.Is(err, admin.ErrTenantNotFound):
		writeError(w, http.StatusNotFound, CodeInvalidRequest, "tenant not found", nil)
	case errors.Is(err, admin.ErrKeyNotFound):
		writeError(w, http.StatusNotFound, CodeInvalidRequest, "api key not found", nil)
	case errors.Is(err, admin.ErrAlreadyRevoked):
		writeError(w, http.StatusConflict, CodeConflict, "api key already revoked", nil)
	default:
		writeInternal(w, r, s.logger, err)
	}
}

func (s *Server) handleCreateTenant(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	var body struct {
		Name     string         `json:"name"`
		Settings map[string]any `json:"settings"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Name == "" {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "name is required", nil)
		return
	}

	tenant, err := s.admin.CreateTenant(r.Context(), p, body.Name, body.Settings, adminMeta(r))
	if err != nil {
		s.writeAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tenant)
}

func (s *Server) handleListTenants(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	tenants, err := s.admin.ListTenants(r.Context(), p, queryInt(r, "limit", 50, 200), queryInt(r, "offset", 0, 1<<30))
	if err != nil {
		s.writeAdminError(w, r, err)
		return
	}
	if tenants == nil {
		tenants = []*database.Tenant{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tenants": tenants})
}

func (s *Server) handleGetTenant(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	tenant, err := s.admin.GetTenant(r.Context(), p, mux.Vars(r)["id"])
	if err != nil {
		s.writeAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tenant)
}

func (s *Server) handleCreateKey(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	var spec admin.KeySpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil || spec.Name == "" {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "name is required", nil)
		return
	}

	created, err := s.admin.CreateKey(r.Context(), p, mux.Vars(r)["id"], spec, adminMeta(r))
	if err != nil {
		s.writeAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListKeys(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	keys, err := s.admin.ListKeys(r.Context(), p, mux.Vars(r)["id"])
	if err != nil {
		s.writeAdminError(w, r, err)
		return
	}
	if keys == nil {
		keys = []*database.APIKey{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": keys})
}

func (s *Server) handleRevokeKey(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	if err := s.admin.RevokeKey(r.Context(), p, mux.Vars(r)["id"], adminMeta(r)); err != nil {
		s.writeAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"revoked": true})
}

func (s *Server) handleRotateKey(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	created, err := s.admin.RotateKey(r.Context(), p, mux.Vars(r)["id"], adminMeta(r))
	if err != nil {
		s.writeAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, created)
}

func (s *Server) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	q := database.AuditQuery{
		TenantID: r.URL.Query().Get("tenant_id"),
		Action:   r.URL.Query().Get("action"),
		Limit:    queryInt(r, "limit", 100, 500),
		Offset:   queryInt(r, "offset", 0, 1<<30),
	}
	if raw := r.URL.Query().Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, CodeInvalidRequest, "since must be RFC 3339", nil)
			return
		}
		q.Since = &since
	}

	entries, err := s.admin.AuditLogs(r.Context(), p, q)
	if err != nil {
		s.writeAdminError(w, r, err)
		return
	}
	if entries == nil {
		entries = []*database.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
