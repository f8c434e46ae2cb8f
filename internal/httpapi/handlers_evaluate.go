package httpapi

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/clearproof/preflight/internal/core"
	"github.com/clearproof/preflight/internal/database"
	"github.com/clearproof/preflight/internal/workflow"
)

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	var req core.EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "malformed JSON body", nil)
		return
	}
	if details := validateEvaluateRequest(&req); details != nil {
		writeError(w, http.StatusUnprocessableEntity, CodeInvalidRequest, "request failed validation", details)
		return
	}

	resp, err := s.eval.Evaluate(r.Context(), p, &req, requestIDFrom(r.Context()))
	if err != nil {
		writeInternal(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleEvaluateAsync enqueues the evaluation on the workflow queue and
// returns 202 with the workflow id.
func (s *Server) handleEvaluateAsync(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	var req core.EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "malformed JSON body", nil)
		return
	}
	if details := validateEvaluateRequest(&req); details != nil {
		writeError(w, http.StatusUnprocessableEntity, CodeInvalidRequest, "request failed validation", details)
		return
	}

	id, err := s.wf.Submit(r.Context(), p, &req, requestIDFrom(r.Context()))
	if err != nil {
		writeInternal(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"workflow_id": id,
		"status":      workflow.StatusPending,
	})
}

func (s *Server) handleWorkflowResult(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	id := mux.Vars(r)["id"]

	result, tenantID, err := s.wf.Result(r.Context(), id)
	if errors.Is(err, workflow.ErrNotFound) || (err == nil && tenantID != p.TenantID) {
		// Cross-tenant probes and unknown ids are indistinguishable.
		writeError(w, http.StatusNotFound, CodeWorkflowNotFound, "workflow not found", nil)
		return
	}
	if err != nil {
		writeInternal(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListEvaluations(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	limit := queryInt(r, "limit", 50, 200)
	offset := queryInt(r, "offset", 0, 1<<30)

	var out []*database.Evaluation
	err := s.store.WithTenant(r.Context(), p.TenantID, func(tx *sql.Tx) error {
		var err error
		out, err = database.ListEvaluations(r.Context(), tx, limit, offset)
		return err
	})
	if err != nil {
		writeInternal(w, r, s.logger, err)
		return
	}
	if out == nil {
		out = []*database.Evaluation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"evaluations": out, "limit": limit, "offset": offset})
}

func (s *Server) handleGetEvaluation(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	id := mux.Vars(r)["id"]

	var out *database.Evaluation
	err := s.store.WithTenant(r.Context(), p.TenantID, func(tx *sql.Tx) error {
		var err error
		out, err = database.GetEvaluation(r.Context(), tx, id)
		return err
	})
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusNotFound, CodeEvaluationNotFound, "evaluation not found", nil)
		return
	}
	if err != nil {
		writeInternal(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func queryInt(r *http.Request, name string, fallback, max int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	if n > max {
		return max
	}
	return n
}
