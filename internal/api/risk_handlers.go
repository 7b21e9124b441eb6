package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fitflow/retention/internal/pkg/httputil"
	"github.com/fitflow/retention/internal/service/risk"
)

type recalculateRequest struct {
	Cursor          string `json:"cursor"`
	BatchSize       int    `json:"batch_size"`
	Workers         int    `json:"workers"`
	DeadlineSeconds int    `json:"deadline_seconds"`
}

// handleRecalculate scores one batch of the organization's active members
// and fires the active no_check_in playbook for members crossing into the
// high band. Callers page through large rosters by re-posting the returned
// batch.next_cursor.
func (s *Server) handleRecalculate(w http.ResponseWriter, r *http.Request) {
	var req recalculateRequest
	if r.ContentLength > 0 {
		if !httputil.Decode(w, r, &req) {
			return
		}
	}

	opts := risk.BatchOptions{
		Cursor:    req.Cursor,
		BatchSize: req.BatchSize,
		Workers:   req.Workers,
	}
	if req.DeadlineSeconds > 0 {
		opts.Deadline = time.Duration(req.DeadlineSeconds) * time.Second
	}

	result, err := s.playbooks.RecalculateAndTrigger(r.Context(), orgID(r), opts)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.Data(w, result)
}

func (s *Server) handleHeatmap(w http.ResponseWriter, r *http.Request) {
	heatmap, err := s.risk.BuildHeatmap(r.Context(), orgID(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.Data(w, heatmap)
}

func (s *Server) handleAtRisk(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	scores, err := s.risk.FetchAtRiskMembers(r.Context(), orgID(r), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.Data(w, scores)
}

func (s *Server) handleGetMemberScore(w http.ResponseWriter, r *http.Request) {
	score, err := s.risk.GetScore(r.Context(), orgID(r), chi.URLParam(r, "memberID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.Data(w, score)
}

func (s *Server) handleRecalcMemberScore(w http.ResponseWriter, r *http.Request) {
	score, err := s.risk.CalculateForMember(r.Context(), orgID(r), chi.URLParam(r, "memberID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.Data(w, score)
}

func (s *Server) handleGetRetentionSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.risk.EffectiveSettings(r.Context(), orgID(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.Data(w, settings)
}

func (s *Server) handlePutRetentionSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.risk.EffectiveSettings(r.Context(), orgID(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	// Decode over the effective settings so omitted fields keep their
	// current values instead of zeroing out.
	if !httputil.Decode(w, r, &settings) {
		return
	}
	settings.OrganizationID = orgID(r)

	if err := s.risk.SaveSettings(r.Context(), settings); err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.Data(w, settings)
}
