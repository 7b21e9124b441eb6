package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/fitflow/retention/internal/domain"
	"github.com/fitflow/retention/internal/pkg/httputil"
)

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := s.templates.ListTemplates(r.Context(), orgID(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.Data(w, templates)
}

func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	tmpl, err := s.templates.GetTemplate(r.Context(), orgID(r), chi.URLParam(r, "templateID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.Data(w, tmpl)
}

type createTemplateRequest struct {
	Name    string         `json:"name"`
	Channel domain.Channel `json:"channel"`
	Subject string         `json:"subject"`
	Body    string         `json:"body"`
}

func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req createTemplateRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.Name == "" || req.Body == "" {
		httputil.BadRequest(w, "name and body are required")
		return
	}

	// Reject templates that do not parse before they can reach a send path.
	if _, err := s.previewer.RenderPreview(req.Body, nil); err != nil {
		httputil.BadRequest(w, "template body does not parse: "+err.Error())
		return
	}

	now := time.Now().UTC()
	tmpl := &domain.MessageTemplate{
		ID:             uuid.New().String(),
		OrganizationID: orgID(r),
		Name:           req.Name,
		Channel:        req.Channel,
		Subject:        req.Subject,
		Body:           req.Body,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.templates.CreateTemplate(r.Context(), tmpl); err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.CreatedData(w, tmpl)
}

type previewRequest struct {
	Source string         `json:"source"`
	Vars   map[string]any `json:"vars"`
}

func (s *Server) handlePreviewTemplate(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.Source == "" {
		httputil.BadRequest(w, "source is required")
		return
	}

	rendered, err := s.previewer.RenderPreview(req.Source, req.Vars)
	if err != nil {
		httputil.BadRequest(w, "render failed: "+err.Error())
		return
	}
	httputil.Data(w, map[string]string{"rendered": rendered})
}
