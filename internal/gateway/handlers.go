package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/loamlabs/loam/internal/workflow"
	"github.com/loamlabs/loam/internal/workflow/store"
	"github.com/loamlabs/loam/pkg/models"
)

// ChatRequest is the POST /api/chat body. Override fields are optional;
// unset fields fall back to the server configuration.
type ChatRequest = models.ChatRequest

// runConfig merges the request's preset and overrides onto the
// configured defaults. Precedence: overrides > preset > config.
func (s *Server) runConfig(req *ChatRequest) (models.WorkflowConfig, error) {
	cfg, err := s.cfg.ApplyPreset(s.cfg.RunConfig(), req.PresetID)
	if err != nil {
		return cfg, err
	}
	if req.Provider != "" {
		cfg.Provider = req.Provider
	}
	if req.Model != "" {
		cfg.Model = req.Model
	}
	if req.Host != "" {
		cfg.Host = req.Host
	}
	if len(req.EnabledTools) > 0 {
		cfg.EnabledTools = req.EnabledTools
	}
	if req.MaxSteps > 0 {
		cfg.MaxSteps = req.MaxSteps
	}
	if req.MaxRePlans != nil {
		replans := *req.MaxRePlans
		cfg.MaxRePlans = &replans
	}
	if req.TimeoutMs > 0 {
		cfg.TimeoutMs = req.TimeoutMs
	}
	if req.StepTimeoutMs > 0 {
		cfg.StepTimeoutMs = req.StepTimeoutMs
	}
	if req.EnablePlanning != nil {
		cfg.EnablePlanning = *req.EnablePlanning
	}
	if req.EnableReflection != nil {
		cfg.EnableReflection = *req.EnableReflection
	}
	return cfg, nil
}

// handleChat starts a workflow and streams its events as NDJSON, one
// event object per line, until the terminal event.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.Message == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("message is required"))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}

	runCfg, err := s.runConfig(&req)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	run, err := s.manager.Start(r.Context(), workflow.StartRequest{
		WorkflowID:     req.WorkflowID,
		ConversationID: req.ConversationID,
		UserMessage:    req.Message,
		History:        req.ConversationHistory,
		Config:         runCfg,
	})
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Workflow-Id", run.WorkflowID())
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	enc := json.NewEncoder(w)
	clientGone := r.Context().Done()
	for {
		select {
		case event, ok := <-run.Events():
			if !ok {
				return
			}
			if err := enc.Encode(event); err != nil {
				// Writer is broken; cancel and drain so the run can finish.
				run.Cancel()
				s.drain(run)
				return
			}
			flusher.Flush()
		case <-clientGone:
			run.Cancel()
			s.drain(run)
			return
		}
	}
}

// drain consumes remaining events after the client went away. The
// emitter blocks on an abandoned consumer otherwise.
func (s *Server) drain(run *workflow.Run) {
	for range run.Events() {
	}
}

func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	limit := 50
	summaries, err := s.manager.List(r.Context(), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if summaries == nil {
		summaries = []store.Summary{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"workflows": summaries})
}

func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	state, err := s.manager.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, fmt.Errorf("workflow %s not found", id))
			return
		}
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, state)
}

// handleCancelWorkflow requests cancellation. It is idempotent: the
// response reports whether this call actually interrupted a live run.
func (s *Server) handleCancelWorkflow(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	cancelled := s.manager.Cancel(id)
	s.writeJSON(w, http.StatusAccepted, map[string]any{
		"workflow_id": id,
		"cancelled":   cancelled,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn(context.Background(), "response encode failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
