package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/fitflow/retention/internal/domain"
	"github.com/fitflow/retention/internal/service/playbook"
	"github.com/fitflow/retention/internal/service/risk"
)

// RiskService is the scoring surface the API exposes. Organization-wide
// recalculation goes through PlaybookService.RecalculateAndTrigger so that
// band crossings fire playbooks in the same pass.
type RiskService interface {
	CalculateForMember(ctx context.Context, orgID, memberID string) (*domain.RiskScore, error)
	GetScore(ctx context.Context, orgID, memberID string) (*domain.RiskScore, error)
	BuildHeatmap(ctx context.Context, orgID string) (*domain.Heatmap, error)
	FetchAtRiskMembers(ctx context.Context, orgID string, limit int) ([]domain.RiskScore, error)
	EffectiveSettings(ctx context.Context, orgID string) (domain.RetentionSettings, error)
	SaveSettings(ctx context.Context, settings domain.RetentionSettings) error
}

// PlaybookService is the playbook and policy surface the API exposes.
type PlaybookService interface {
	Get(ctx context.Context, orgID, id string) (*domain.Playbook, error)
	List(ctx context.Context, orgID string, f playbook.ListFilter) ([]domain.Playbook, int, error)
	Create(ctx context.Context, orgID string, input playbook.CreateInput) (*domain.Playbook, error)
	Update(ctx context.Context, orgID, id string, u playbook.UpdateFields) error
	Activate(ctx context.Context, orgID, id string) error
	Pause(ctx context.Context, orgID, id string) error
	Archive(ctx context.Context, orgID, id string) error
	ListExecutions(ctx context.Context, orgID string, f playbook.ExecutionFilter) ([]domain.PlaybookExecution, int, error)
	EffectiveCommunicationPolicy(ctx context.Context, orgID string) (domain.CommunicationPolicy, error)
	SaveCommunicationPolicy(ctx context.Context, p domain.CommunicationPolicy) error
	OptOut(ctx context.Context, orgID, memberID string, channel domain.Channel, scope domain.OptOutScope) error
	TriggerForMember(ctx context.Context, orgID, memberID, playbookID string, trigCtx json.RawMessage) (*domain.PlaybookExecution, error)
	TriggerForRecentCancels(ctx context.Context, orgID string, days int) (int, error)
	RecalculateAndTrigger(ctx context.Context, orgID string, opts risk.BatchOptions) (*playbook.SweepResult, error)
	ResolveFreeze(ctx context.Context, orgID, freezeID string) (*domain.PlaybookExecution, error)
}

// TemplateStore reads and writes message templates.
type TemplateStore interface {
	GetTemplate(ctx context.Context, orgID, id string) (*domain.MessageTemplate, error)
	ListTemplates(ctx context.Context, orgID string) ([]domain.MessageTemplate, error)
	CreateTemplate(ctx context.Context, t *domain.MessageTemplate) error
}

// Previewer renders an ad-hoc template source without persisting it.
type Previewer interface {
	RenderPreview(source string, vars map[string]any) (string, error)
}

// MessageReader lists queued and sent messages for a member.
type MessageReader interface {
	ListForMember(ctx context.Context, orgID, memberID string, limit int) ([]domain.Message, error)
}

// MemberDirectory resolves members from contact lookup hashes.
type MemberDirectory interface {
	FindMemberByContactHash(ctx context.Context, orgID, hash string) (*domain.Member, error)
}

// Server holds the handler dependencies and builds the router.
type Server struct {
	risk      RiskService
	playbooks PlaybookService
	templates TemplateStore
	previewer Previewer
	messages  MessageReader
	directory MemberDirectory
}

func NewServer(riskSvc RiskService, playbooks PlaybookService, templates TemplateStore, previewer Previewer, messages MessageReader, directory MemberDirectory) *Server {
	return &Server{
		risk:      riskSvc,
		playbooks: playbooks,
		templates: templates,
		previewer: previewer,
		messages:  messages,
		directory: directory,
	}
}

// Router wires all routes. Organization scoping comes from the URL; every
// resource below /api/orgs/{orgID} is read and written within that
// organization only.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api/orgs/{orgID}", func(r chi.Router) {
		r.Route("/risk", func(r chi.Router) {
			r.Post("/recalculate", s.handleRecalculate)
			r.Get("/heatmap", s.handleHeatmap)
			r.Get("/at-risk", s.handleAtRisk)
		})

		r.Get("/members/lookup", s.handleLookupMember)
		r.Route("/members/{memberID}", func(r chi.Router) {
			r.Get("/risk-score", s.handleGetMemberScore)
			r.Post("/risk-score/recalculate", s.handleRecalcMemberScore)
			r.Post("/opt-outs", s.handleOptOut)
			r.Get("/messages", s.handleListMemberMessages)
			r.Get("/executions", s.handleListExecutions)
		})

		r.Route("/settings", func(r chi.Router) {
			r.Get("/retention", s.handleGetRetentionSettings)
			r.Put("/retention", s.handlePutRetentionSettings)
			r.Get("/communication", s.handleGetCommunicationPolicy)
			r.Put("/communication", s.handlePutCommunicationPolicy)
		})

		r.Route("/playbooks", func(r chi.Router) {
			r.Get("/", s.handleListPlaybooks)
			r.Post("/", s.handleCreatePlaybook)
			r.Route("/{playbookID}", func(r chi.Router) {
				r.Get("/", s.handleGetPlaybook)
				r.Put("/", s.handleUpdatePlaybook)
				r.Delete("/", s.handleArchivePlaybook)
				r.Post("/activate", s.handleActivatePlaybook)
				r.Post("/pause", s.handlePausePlaybook)
				r.Post("/archive", s.handleArchivePlaybook)
				r.Post("/trigger", s.handleTriggerPlaybook)
				r.Get("/executions", s.handleListExecutions)
			})
		})

		r.Post("/freeze-requests/{freezeID}/resolve", s.handleResolveFreeze)
		r.Post("/win-back", s.handleTriggerWinBack)

		r.Route("/templates", func(r chi.Router) {
			r.Get("/", s.handleListTemplates)
			r.Post("/", s.handleCreateTemplate)
			r.Post("/preview", s.handlePreviewTemplate)
			r.Get("/{templateID}", s.handleGetTemplate)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

func orgID(r *http.Request) string {
	return chi.URLParam(r, "orgID")
}
