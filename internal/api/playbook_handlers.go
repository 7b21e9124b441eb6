package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/fitflow/retention/internal/domain"
	"github.com/fitflow/retention/internal/pkg/httputil"
	"github.com/fitflow/retention/internal/service/playbook"
)

func (s *Server) handleListPlaybooks(w http.ResponseWriter, r *http.Request) {
	params := ParsePagination(r, 20, 100)
	filter := playbook.ListFilter{
		Status:      r.URL.Query().Get("status"),
		TriggerType: r.URL.Query().Get("trigger_type"),
		Limit:       params.Limit,
		Offset:      params.Offset,
	}

	playbooks, total, err := s.playbooks.List(r.Context(), orgID(r), filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, NewPaginatedResponse(playbooks, params, total))
}

func (s *Server) handleCreatePlaybook(w http.ResponseWriter, r *http.Request) {
	var input playbook.CreateInput
	if !httputil.Decode(w, r, &input) {
		return
	}

	pb, err := s.playbooks.Create(r.Context(), orgID(r), input)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.CreatedData(w, pb)
}

func (s *Server) handleGetPlaybook(w http.ResponseWriter, r *http.Request) {
	pb, err := s.playbooks.Get(r.Context(), orgID(r), chi.URLParam(r, "playbookID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.Data(w, pb)
}

type updatePlaybookRequest struct {
	Name            *string                 `json:"name"`
	Trigger         *domain.TriggerConfig   `json:"trigger_config"`
	Channels        *domain.ChannelStrategy `json:"channels"`
	Throttle        *domain.ThrottleRules   `json:"throttle"`
	QuietHoursStart *domain.MinuteOfDay     `json:"quiet_hours_start"`
	QuietHoursEnd   *domain.MinuteOfDay     `json:"quiet_hours_end"`
	TemplateID      *string                 `json:"template_id"`
}

func (s *Server) handleUpdatePlaybook(w http.ResponseWriter, r *http.Request) {
	var req updatePlaybookRequest
	if !httputil.Decode(w, r, &req) {
		return
	}

	id := chi.URLParam(r, "playbookID")
	err := s.playbooks.Update(r.Context(), orgID(r), id, playbook.UpdateFields{
		Name:            req.Name,
		Trigger:         req.Trigger,
		Channels:        req.Channels,
		Throttle:        req.Throttle,
		QuietHoursStart: req.QuietHoursStart,
		QuietHoursEnd:   req.QuietHoursEnd,
		TemplateID:      req.TemplateID,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	pb, err := s.playbooks.Get(r.Context(), orgID(r), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.Data(w, pb)
}

func (s *Server) handleActivatePlaybook(w http.ResponseWriter, r *http.Request) {
	s.transitionPlaybook(w, r, s.playbooks.Activate)
}

func (s *Server) handlePausePlaybook(w http.ResponseWriter, r *http.Request) {
	s.transitionPlaybook(w, r, s.playbooks.Pause)
}

func (s *Server) handleArchivePlaybook(w http.ResponseWriter, r *http.Request) {
	s.transitionPlaybook(w, r, s.playbooks.Archive)
}

func (s *Server) transitionPlaybook(w http.ResponseWriter, r *http.Request, transition func(ctx context.Context, orgID, id string) error) {
	id := chi.URLParam(r, "playbookID")
	if err := transition(r.Context(), orgID(r), id); err != nil {
		writeServiceError(w, err)
		return
	}

	pb, err := s.playbooks.Get(r.Context(), orgID(r), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.Data(w, pb)
}

type triggerRequest struct {
	MemberID string          `json:"member_id"`
	Context  json.RawMessage `json:"context"`
}

// handleTriggerPlaybook fires one playbook for one member. Skips (throttled,
// opted out, over cap) come back as a skipped execution, not an error.
func (s *Server) handleTriggerPlaybook(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.MemberID == "" {
		httputil.BadRequest(w, "member_id is required")
		return
	}

	exec, err := s.playbooks.TriggerForMember(r.Context(), orgID(r), req.MemberID, chi.URLParam(r, "playbookID"), req.Context)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.CreatedData(w, exec)
}

// handleListExecutions serves both the per-playbook and the per-member
// audit listings; the owning resource comes from the URL.
func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	params := ParsePagination(r, 50, 200)
	filter := playbook.ExecutionFilter{
		PlaybookID: chi.URLParam(r, "playbookID"),
		MemberID:   chi.URLParam(r, "memberID"),
		Status:     r.URL.Query().Get("status"),
		Limit:      params.Limit,
		Offset:     params.Offset,
	}

	executions, total, err := s.playbooks.ListExecutions(r.Context(), orgID(r), filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, NewPaginatedResponse(executions, params, total))
}

func (s *Server) handleResolveFreeze(w http.ResponseWriter, r *http.Request) {
	exec, err := s.playbooks.ResolveFreeze(r.Context(), orgID(r), chi.URLParam(r, "freezeID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.Data(w, exec)
}

// handleTriggerWinBack evaluates recently canceled members against the
// active win_back playbook. The days query param overrides the playbook's
// own cancellation window.
func (s *Server) handleTriggerWinBack(w http.ResponseWriter, r *http.Request) {
	days, _ := strconv.Atoi(r.URL.Query().Get("days"))

	triggered, err := s.playbooks.TriggerForRecentCancels(r.Context(), orgID(r), days)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.Data(w, map[string]int{"triggered": triggered})
}
