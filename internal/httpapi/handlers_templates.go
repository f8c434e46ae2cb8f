package httpapi

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/clearproof/preflight/internal/audit"
	"github.com/clearproof/preflight/internal/core"
	"github.com/clearproof/preflight/internal/database"
	"github.com/clearproof/preflight/internal/match"
)

// templateSpec is the registration body. The fingerprint is optional; when
// omitted it is derived from the features. The baseline is a pointer so an
// explicit zero is distinguishable from an omitted field.
type templateSpec struct {
	TemplateID          string                  `json:"template_id"`
	Version             string                  `json:"version"`
	Fingerprint         string                  `json:"fingerprint"`
	StructuralFeatures  core.StructuralFeatures `json:"structural_features"`
	BaselineReliability *float64                `json:"baseline_reliability"`
	CorrectionRules     []core.CorrectionRule   `json:"correction_rules"`
}

var errFingerprintMismatch = errors.New("httpapi: fingerprint does not match structural features")

// resolveFingerprint returns the canonical fingerprint of the features. A
// client-supplied value must equal the derived one; a template stored under
// a foreign fingerprint would never be found by exact-match lookup.
func resolveFingerprint(supplied string, f core.StructuralFeatures) (string, error) {
	derived, err := match.Fingerprint(f)
	if err != nil {
		return "", err
	}
	if supplied != "" && supplied != derived {
		return "", errFingerprintMismatch
	}
	return derived, nil
}

func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	var spec templateSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "malformed JSON body", nil)
		return
	}
	if details := validateTemplateSpec(spec.TemplateID, spec.Version, spec.Fingerprint, spec.BaselineReliability, &spec.StructuralFeatures); details != nil {
		writeError(w, http.StatusUnprocessableEntity, CodeInvalidRequest, "request failed validation", details)
		return
	}

	fingerprint, err := resolveFingerprint(spec.Fingerprint, spec.StructuralFeatures)
	if errors.Is(err, errFingerprintMismatch) {
		writeError(w, http.StatusUnprocessableEntity, CodeInvalidRequest, "request failed validation",
			map[string]any{"fields": []fieldError{{Field: "fingerprint", Reason: "does not match structural_features"}}})
		return
	}
	if err != nil {
		writeInternal(w, r, s.logger, err)
		return
	}
	baseline := 0.85
	if spec.BaselineReliability != nil {
		baseline = *spec.BaselineReliability
	}
	if spec.CorrectionRules == nil {
		spec.CorrectionRules = []core.CorrectionRule{}
	}

	t := &database.Template{
		ID:                  newRowID(),
		TenantID:            p.TenantID,
		TemplateID:          spec.TemplateID,
		Version:             spec.Version,
		Fingerprint:         fingerprint,
		StructuralFeatures:  spec.StructuralFeatures,
		BaselineReliability: baseline,
		CorrectionRules:     spec.CorrectionRules,
		Status:              core.TemplateActive,
		CreatedAt:           time.Now().UTC(),
		CreatedBy:           &p.APIKeyID,
	}

	err = s.store.WithTenant(r.Context(), p.TenantID, func(tx *sql.Tx) error {
		if err := database.CreateTemplate(r.Context(), tx, t); err != nil {
			return err
		}
		return s.audit.LogTx(r.Context(), tx, audit.Event{
			Action:       audit.ActionTemplateCreated,
			TenantID:     p.TenantID,
			ActorID:      p.APIKeyID,
			ResourceType: "template",
			ResourceID:   t.ID,
			Details:      map[string]any{"template_id": t.TemplateID, "version": t.Version},
			RequestID:    requestIDFrom(r.Context()),
		})
	})
	var dup *database.ErrDuplicate
	if errors.As(err, &dup) {
		writeError(w, http.StatusConflict, CodeTemplateExists,
			"template with this id and version already exists", nil)
		return
	}
	if err != nil {
		writeInternal(w, r, s.logger, err)
		return
	}

	s.matcher.IndexTemplate(r.Context(), t)
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	status := r.URL.Query().Get("status_filter")
	switch status {
	case "", string(core.TemplateActive), string(core.TemplateDeprecated), string(core.TemplateReview):
	default:
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "unknown status_filter", nil)
		return
	}
	limit := queryInt(r, "limit", 50, 200)
	offset := queryInt(r, "offset", 0, 1<<30)

	var out []*database.Template
	err := s.store.WithTenant(r.Context(), p.TenantID, func(tx *sql.Tx) error {
		var err error
		out, err = database.ListTemplates(r.Context(), tx, status, limit, offset)
		return err
	})
	if err != nil {
		writeInternal(w, r, s.logger, err)
		return
	}
	if out == nil {
		out = []*database.Template{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"templates": out, "limit": limit, "offset": offset})
}

func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	id := mux.Vars(r)["id"]

	var t *database.Template
	err := s.store.WithTenant(r.Context(), p.TenantID, func(tx *sql.Tx) error {
		var err error
		t, err = database.GetTemplate(r.Context(), tx, id)
		return err
	})
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusNotFound, CodeTemplateNotFound, "template not found", nil)
		return
	}
	if err != nil {
		writeInternal(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleUpdateTemplate(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	id := mux.Vars(r)["id"]

	var body struct {
		BaselineReliability *float64              `json:"baseline_reliability"`
		CorrectionRules     []core.CorrectionRule `json:"correction_rules"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "malformed JSON body", nil)
		return
	}
	if body.BaselineReliability == nil && body.CorrectionRules == nil {
		writeError(w, http.StatusBadRequest, CodeNoFieldsToUpdate, "no fields to update", nil)
		return
	}
	if body.BaselineReliability != nil && (*body.BaselineReliability < 0 || *body.BaselineReliability > 1) {
		writeError(w, http.StatusUnprocessableEntity, CodeInvalidRequest, "baseline_reliability must be in [0,1]", nil)
		return
	}

	var t *database.Template
	err := s.store.WithTenant(r.Context(), p.TenantID, func(tx *sql.Tx) error {
		if err := database.UpdateTemplate(r.Context(), tx, id, body.BaselineReliability, body.CorrectionRules); err != nil {
			return err
		}
		var err error
		if t, err = database.GetTemplate(r.Context(), tx, id); err != nil {
			return err
		}
		return s.audit.LogTx(r.Context(), tx, audit.Event{
			Action:       audit.ActionTemplateUpdated,
			TenantID:     p.TenantID,
			ActorID:      p.APIKeyID,
			ResourceType: "template",
			ResourceID:   id,
			RequestID:    requestIDFrom(r.Context()),
		})
	})
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusNotFound, CodeTemplateNotFound, "template not found", nil)
		return
	}
	if err != nil {
		writeInternal(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleTemplateStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status core.TemplateStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "malformed JSON body", nil)
		return
	}
	switch body.Status {
	case core.TemplateActive, core.TemplateDeprecated, core.TemplateReview:
	default:
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "unknown status", nil)
		return
	}
	s.transitionTemplate(w, r, body.Status)
}

// handleActivateTemplate is sugar for PATCH status=ACTIVE.
func (s *Server) handleActivateTemplate(w http.ResponseWriter, r *http.Request) {
	s.transitionTemplate(w, r, core.TemplateActive)
}

// handleDeleteTemplate is a soft delete: the row survives as DEPRECATED for
// evaluation history.
func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	s.transitionTemplate(w, r, core.TemplateDeprecated)
}

func (s *Server) transitionTemplate(w http.ResponseWriter, r *http.Request, status core.TemplateStatus) {
	p := principalFrom(r.Context())
	id := mux.Vars(r)["id"]

	var t *database.Template
	err := s.store.WithTenant(r.Context(), p.TenantID, func(tx *sql.Tx) error {
		var err error
		if t, err = database.GetTemplate(r.Context(), tx, id); err != nil {
			return err
		}
		if t.Status == status {
			return errUnchanged
		}
		if err := database.UpdateTemplateStatus(r.Context(), tx, id, status); err != nil {
			return err
		}
		return s.audit.LogTx(r.Context(), tx, audit.Event{
			Action:       audit.ActionTemplateStatusChanged,
			TenantID:     p.TenantID,
			ActorID:      p.APIKeyID,
			ResourceType: "template",
			ResourceID:   id,
			Details:      map[string]any{"from": string(t.Status), "to": string(status)},
			RequestID:    requestIDFrom(r.Context()),
		})
	})
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusNotFound, CodeTemplateNotFound, "template not found", nil)
		return
	}
	if errors.Is(err, errUnchanged) {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "status unchanged", nil)
		return
	}
	if err != nil {
		writeInternal(w, r, s.logger, err)
		return
	}

	t.Status = status
	switch status {
	case core.TemplateActive:
		s.matcher.IndexTemplate(r.Context(), t)
	case core.TemplateDeprecated:
		s.matcher.UnindexTemplate(r.Context(), t)
	}
	writeJSON(w, http.StatusOK, t)
}

var errUnchanged = errors.New("httpapi: status unchanged")

func newRowID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
