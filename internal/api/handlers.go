package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/kausalhq/kausal/internal/capability"
	"github.com/kausalhq/kausal/internal/job"
	"github.com/kausalhq/kausal/internal/worker"
)

type submitRequest struct {
	WorkspaceID   string `json:"workspace_id"`
	Query         string `json:"query"`
	Source        string `json:"source"`
	ThreadHistory []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"thread_history"`
	Slack *struct {
		ChannelID string `json:"channel_id"`
		ThreadTS  string `json:"thread_ts"`
	} `json:"slack"`
}

type jobView struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspace_id"`
	Status      string    `json:"status"`
	Source      string    `json:"source"`
	Report      string    `json:"report,omitempty"`
	Error       string    `json:"error,omitempty"`
	ErrorType   string    `json:"error_type,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	CompletedAt time.Time `json:"completed_at,omitzero"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sub := worker.SubmitRequest{
		WorkspaceID: req.WorkspaceID,
		Query:       req.Query,
		Source:      job.Source(req.Source),
	}
	for _, turn := range req.ThreadHistory {
		sub.ThreadHistory = append(sub.ThreadHistory, capability.Turn{
			Role:    turn.Role,
			Content: turn.Content,
		})
	}
	if req.Slack != nil {
		sub.Slack = &job.SlackRef{ChannelID: req.Slack.ChannelID, ThreadTS: req.Slack.ThreadTS}
	}

	j, err := s.cfg.Submitter.Submit(r.Context(), sub)
	if err != nil {
		s.logger.Warn("job submission rejected: %v", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id": j.ID,
		"status": string(j.Status),
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	j, err := s.cfg.Jobs.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, job.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.logger.ErrorWithErr("job lookup failed", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, jobView{
		ID:          j.ID,
		WorkspaceID: j.WorkspaceID,
		Status:      string(j.Status),
		Source:      string(j.Source),
		Report:      j.Report,
		Error:       j.Error,
		ErrorType:   string(j.ErrorType),
		CreatedAt:   j.CreatedAt,
		CompletedAt: j.CompletedAt,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
