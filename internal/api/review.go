package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kausalhq/kausal/internal/review"
)

func (s *Server) handleServiceMapping(w http.ResponseWriter, r *http.Request) {
	workspaceID := r.PathValue("id")

	var repos []string
	for _, repo := range strings.Split(r.URL.Query().Get("repos"), ",") {
		if repo = strings.TrimSpace(repo); repo != "" {
			repos = append(repos, repo)
		}
	}
	if len(repos) == 0 {
		writeError(w, http.StatusBadRequest, "repos query parameter is required")
		return
	}

	mapping, err := s.cfg.Scanner.ServiceMapping(r.Context(), workspaceID, repos)
	if err != nil {
		s.logger.ErrorWithErr("service mapping for workspace %s failed", err, workspaceID)
		writeError(w, http.StatusBadGateway, "scanning repositories failed")
		return
	}
	writeJSON(w, http.StatusOK, mapping)
}

type createReviewRequest struct {
	WorkspaceID  string `json:"workspace_id"`
	Service      string `json:"service"`
	CadenceHours int    `json:"cadence_hours"`
}

type scheduleView struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspace_id"`
	Service     string    `json:"service"`
	Cadence     string    `json:"cadence"`
	LastRunAt   time.Time `json:"last_run_at,omitzero"`
}

func viewOfSchedule(s review.Schedule) scheduleView {
	cadence := s.Cadence
	if cadence <= 0 {
		cadence = review.DefaultCadence
	}
	return scheduleView{
		ID:          s.ID,
		WorkspaceID: s.WorkspaceID,
		Service:     s.Service,
		Cadence:     cadence.String(),
		LastRunAt:   s.LastRunAt,
	}
}

func (s *Server) handleCreateReview(w http.ResponseWriter, r *http.Request) {
	var req createReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sched := review.Schedule{
		ID:          uuid.NewString(),
		WorkspaceID: req.WorkspaceID,
		Service:     req.Service,
		Cadence:     time.Duration(req.CadenceHours) * time.Hour,
	}
	if err := s.cfg.Reviews.AddSchedule(r.Context(), sched); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, viewOfSchedule(sched))
}

func (s *Server) handleListReviews(w http.ResponseWriter, r *http.Request) {
	schedules, err := s.cfg.Reviews.ListSchedules(r.Context())
	if err != nil {
		s.logger.ErrorWithErr("listing review schedules failed", err)
		writeError(w, http.StatusInternalServerError, "listing schedules failed")
		return
	}

	views := make([]scheduleView, 0, len(schedules))
	for _, sched := range schedules {
		views = append(views, viewOfSchedule(sched))
	}
	writeJSON(w, http.StatusOK, views)
}
