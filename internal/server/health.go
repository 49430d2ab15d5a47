package server

import (
	"encoding/json"
	"net/http"
	"time"

	apperrors "github.com/ricesearch/receval/internal/pkg/errors"
)

// HealthResponse is the body of /healthz.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
	History string `json:"history"`
}

// handleHealth answers 503 once shutdown has begun.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if s.stopping.Load() {
		apperrors.WriteError(w, apperrors.ServiceUnavailableError("receval"))
		return
	}

	historyState := "disabled"
	if s.history != nil {
		historyState = "enabled"
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: s.cfg.Version,
		Uptime:  time.Since(s.startTime).Round(time.Second).String(),
		History: historyState,
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.cfg.Version})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
