package core

import (
	"context"
	"net/http"

	"smsdispatch/internal/scheduler"
	"smsdispatch/internal/types"
)

// processResponse is the body of a successful POST /v1/messages/process.
type processResponse struct {
	Processed int `json:"processed"`
}

// reclaimResponse is the body of a successful POST /v1/messages/reclaim.
type reclaimResponse struct {
	Reset int `json:"reset"`
}

// triggerErrorResponse is the failure body of both trigger endpoints.
type triggerErrorResponse struct {
	Error string `json:"error"`
}

// HandleProcess runs one scheduler pass and reports how many messages were
// attempted. Per-message failures are not errors; only a failed selection
// yields 500.
func (s *Server) HandleProcess(w http.ResponseWriter, r *http.Request) {
	n, err := s.Runner.Run(s.triggerContext(r), scheduler.TaskProcessScheduled, s.Clock.Now().UTC())
	if err != nil {
		s.Logger.ErrorContext(r.Context(), "manual scheduler run failed", "error", err)
		JSON(w, r, http.StatusInternalServerError, triggerErrorResponse{Error: err.Error()})
		return
	}
	JSON(w, r, http.StatusOK, processResponse{Processed: n})
}

// HandleReclaim runs one stuck-message sweep.
func (s *Server) HandleReclaim(w http.ResponseWriter, r *http.Request) {
	n, err := s.Runner.Run(s.triggerContext(r), scheduler.TaskReclaimStuck, s.Clock.Now().UTC())
	if err != nil {
		s.Logger.ErrorContext(r.Context(), "manual reclaim failed", "error", err)
		JSON(w, r, http.StatusInternalServerError, triggerErrorResponse{Error: err.Error()})
		return
	}
	JSON(w, r, http.StatusOK, reclaimResponse{Reset: n})
}

// triggerContext keeps the authenticated actor, or marks the request as an
// HTTP trigger when authentication is disabled.
func (s *Server) triggerContext(r *http.Request) context.Context {
	if _, ok := types.GetActor(r.Context()); ok {
		return r.Context()
	}
	return scheduler.WithSource(r.Context(), scheduler.SourceHTTP)
}
