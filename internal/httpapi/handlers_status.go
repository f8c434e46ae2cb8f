package httpapi

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/clearproof/preflight/internal/database"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "preflight",
		"docs":    docsHint(s.cfg.EnableDocs),
	})
}

func docsHint(enabled bool) string {
	if enabled {
		return "/docs"
	}
	return "disabled"
}

// probe is one dependency's health reading.
type probe struct {
	Status    string  `json:"status"`
	LatencyMS float64 `json:"latency_ms"`
	Error     string  `json:"error,omitempty"`
}

// handleStatus checks each dependency with a short deadline. A degraded
// dependency degrades the overall status without failing the endpoint.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	probes := map[string]probe{
		"postgres": s.runProbe(r, func() error { return s.store.Ping(r.Context()) }),
		"redis":    s.runProbe(r, func() error { return s.cache.Ping(r.Context()) }),
	}

	overall := "healthy"
	for _, p := range probes {
		if p.Status != "healthy" {
			overall = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       overall,
		"dependencies": probes,
	})
}

func (s *Server) runProbe(r *http.Request, ping func() error) probe {
	start := time.Now()
	err := ping()
	p := probe{
		Status:    "healthy",
		LatencyMS: float64(time.Since(start)) / float64(time.Millisecond),
	}
	if err != nil {
		p.Status = "unhealthy"
		p.Error = err.Error()
	}
	return p
}

func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	var out []*database.ExtractorProvider
	err := s.store.WithTenant(r.Context(), p.TenantID, func(tx *sql.Tx) error {
		var err error
		out, err = database.ListProviders(r.Context(), tx)
		return err
	})
	if err != nil {
		writeInternal(w, r, s.logger, err)
		return
	}
	if out == nil {
		out = []*database.ExtractorProvider{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": out})
}
