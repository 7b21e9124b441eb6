package playbook

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/fitflow/retention/internal/domain"
)

// TemplateRenderer renders a message template with member variables.
type TemplateRenderer interface {
	Render(ctx context.Context, orgID, templateID string, vars map[string]any) (subject, body string, err error)
}

// SendCounter tracks per-member outbound message counts for cap enforcement.
// Counts are kept per local day and per local ISO week.
type SendCounter interface {
	SentCounts(ctx context.Context, orgID, memberID string, nowLocal time.Time) (day int, week int, err error)
	RecordSend(ctx context.Context, orgID, memberID string, nowLocal time.Time) error
}

// AuditPublisher receives a copy of every recorded execution for downstream
// consumers. Implementations must not block the trigger path on failure.
type AuditPublisher interface {
	ExecutionRecorded(ctx context.Context, exec domain.PlaybookExecution)
}

// Service implements playbook lifecycle management and the trigger engine.
type Service struct {
	repo     Repository
	scores   ScoreRecalculator
	renderer TemplateRenderer
	counter  SendCounter
	audit    AuditPublisher
}

// NewService creates a playbook service. audit may be nil when no downstream
// consumer is configured.
func NewService(repo Repository, scores ScoreRecalculator, renderer TemplateRenderer, counter SendCounter, audit AuditPublisher) *Service {
	return &Service{repo: repo, scores: scores, renderer: renderer, counter: counter, audit: audit}
}

// Get returns a single playbook.
func (s *Service) Get(ctx context.Context, orgID, id string) (*domain.Playbook, error) {
	return s.repo.Get(ctx, orgID, id)
}

// List returns playbooks matching the filter.
func (s *Service) List(ctx context.Context, orgID string, f ListFilter) ([]domain.Playbook, int, error) {
	return s.repo.List(ctx, orgID, f)
}

// CreateInput holds the fields for creating a new playbook.
type CreateInput struct {
	Name            string               `json:"name"`
	TriggerType     domain.TriggerType   `json:"trigger_type"`
	Trigger         domain.TriggerConfig `json:"trigger_config"`
	Channel         domain.Channel       `json:"channel"`
	MaxPerWeek      int                  `json:"max_per_week"`
	QuietHoursStart *domain.MinuteOfDay  `json:"quiet_hours_start"`
	QuietHoursEnd   *domain.MinuteOfDay  `json:"quiet_hours_end"`
	TemplateID      string               `json:"template_id"`
}

// Create validates and persists a new playbook in draft status.
func (s *Service) Create(ctx context.Context, orgID string, input CreateInput) (*domain.Playbook, error) {
	if input.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidConfig)
	}
	if input.TemplateID == "" {
		return nil, fmt.Errorf("%w: template_id is required", ErrInvalidConfig)
	}
	if input.Channel != domain.ChannelSMS && input.Channel != domain.ChannelEmail {
		return nil, fmt.Errorf("%w: unknown channel %q", ErrInvalidConfig, input.Channel)
	}
	if err := input.Trigger.Validate(input.TriggerType); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	now := time.Now().UTC()
	p := &domain.Playbook{
		ID:              uuid.New().String(),
		OrganizationID:  orgID,
		Name:            input.Name,
		Status:          domain.PlaybookDraft,
		TriggerType:     input.TriggerType,
		Trigger:         input.Trigger,
		Channels:        domain.ChannelStrategy{Primary: input.Channel},
		Throttle:        domain.ThrottleRules{MaxPerWeek: input.MaxPerWeek},
		QuietHoursStart: input.QuietHoursStart,
		QuietHoursEnd:   input.QuietHoursEnd,
		TemplateID:      input.TemplateID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Update modifies mutable playbook fields. Trigger config changes are
// re-validated against the playbook's trigger type.
func (s *Service) Update(ctx context.Context, orgID, id string, u UpdateFields) error {
	if u.Trigger != nil {
		p, err := s.repo.Get(ctx, orgID, id)
		if err != nil {
			return err
		}
		if err := u.Trigger.Validate(p.TriggerType); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}
	return s.repo.Update(ctx, orgID, id, u)
}

// Activate transitions a playbook to active. At most one playbook per
// (organization, trigger type) may be active; a conflicting activation
// returns ErrActiveConflict.
func (s *Service) Activate(ctx context.Context, orgID, id string) error {
	p, err := s.repo.Get(ctx, orgID, id)
	if err != nil {
		return err
	}
	if p.Status != domain.PlaybookDraft && p.Status != domain.PlaybookPaused {
		return fmt.Errorf("%w: cannot activate from %s", ErrInvalidTransition, p.Status)
	}
	if err := p.Trigger.Validate(p.TriggerType); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return s.repo.Activate(ctx, orgID, id, time.Now().UTC())
}

// Pause suspends an active playbook.
func (s *Service) Pause(ctx context.Context, orgID, id string) error {
	p, err := s.repo.Get(ctx, orgID, id)
	if err != nil {
		return err
	}
	if p.Status != domain.PlaybookActive {
		return fmt.Errorf("%w: cannot pause from %s", ErrInvalidTransition, p.Status)
	}
	return s.repo.UpdateStatus(ctx, orgID, id, domain.PlaybookPaused, nil)
}

// Archive retires a playbook. Archived is terminal.
func (s *Service) Archive(ctx context.Context, orgID, id string) error {
	p, err := s.repo.Get(ctx, orgID, id)
	if err != nil {
		return err
	}
	if p.IsTerminal() {
		return fmt.Errorf("%w: already archived", ErrInvalidTransition)
	}
	return s.repo.UpdateStatus(ctx, orgID, id, domain.PlaybookArchived, nil)
}

// ListExecutions returns the execution audit trail.
func (s *Service) ListExecutions(ctx context.Context, orgID string, f ExecutionFilter) ([]domain.PlaybookExecution, int, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Limit > 200 {
		f.Limit = 200
	}
	return s.repo.ListExecutions(ctx, orgID, f)
}

// EffectiveCommunicationPolicy returns the organization's send policy,
// falling back to engine defaults when none is stored.
func (s *Service) EffectiveCommunicationPolicy(ctx context.Context, orgID string) (domain.CommunicationPolicy, error) {
	p, err := s.repo.GetCommunicationPolicy(ctx, orgID)
	if errors.Is(err, ErrNotFound) {
		return domain.DefaultCommunicationPolicy(orgID), nil
	}
	if err != nil {
		return domain.CommunicationPolicy{}, fmt.Errorf("load communication policy: %w", err)
	}
	return *p, nil
}

// SaveCommunicationPolicy validates and upserts the organization's send policy.
func (s *Service) SaveCommunicationPolicy(ctx context.Context, p domain.CommunicationPolicy) error {
	if p.DailySendCap < 0 || p.WeeklySendCap < 0 {
		return fmt.Errorf("%w: send caps must not be negative", ErrInvalidConfig)
	}
	if p.TimezoneStrategy != domain.TimezoneMemberPreference && p.TimezoneStrategy != domain.TimezoneOrganization {
		return fmt.Errorf("%w: unknown timezone strategy %q", ErrInvalidConfig, p.TimezoneStrategy)
	}
	return s.repo.SaveCommunicationPolicy(ctx, &p)
}

// OptOut records that a member (or the whole organization) must not be
// contacted on a channel.
func (s *Service) OptOut(ctx context.Context, orgID, memberID string, channel domain.Channel, scope domain.OptOutScope) error {
	if channel != domain.ChannelSMS && channel != domain.ChannelEmail {
		return fmt.Errorf("%w: unknown channel %q", ErrInvalidConfig, channel)
	}
	o := &domain.CommunicationOptOut{
		ID:             uuid.New().String(),
		OrganizationID: orgID,
		MemberID:       memberID,
		Channel:        channel,
		Scope:          scope,
	}
	if err := s.repo.CreateOptOut(ctx, o); err != nil {
		return err
	}
	log.Printf("[playbook.Service] Opt-out recorded: org=%s member=%s channel=%s scope=%s", orgID, memberID, channel, scope)
	return nil
}
