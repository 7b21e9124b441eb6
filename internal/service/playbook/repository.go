package playbook

import (
	"context"
	"encoding/json"
	"time"

	"github.com/fitflow/retention/internal/domain"
)

// Repository defines the data access contract for playbooks, executions,
// communication policies, and the member rows the trigger path touches.
// Implementations must be safe for concurrent use.
type Repository interface {
	// Get returns a single playbook. Returns ErrNotFound if it doesn't exist.
	Get(ctx context.Context, orgID, id string) (*domain.Playbook, error)

	// List returns playbooks matching the filter, newest first.
	List(ctx context.Context, orgID string, f ListFilter) ([]domain.Playbook, int, error)

	// Create inserts a new playbook in draft status.
	Create(ctx context.Context, p *domain.Playbook) error

	// Update modifies mutable playbook fields. Only non-nil fields in the
	// update are applied.
	Update(ctx context.Context, orgID, id string, u UpdateFields) error

	// UpdateStatus transitions a playbook's lifecycle status.
	UpdateStatus(ctx context.Context, orgID, id string, status domain.PlaybookStatus, activatedAt *time.Time) error

	// Activate transitions a draft or paused playbook to active. Returns
	// ErrActiveConflict when another playbook with the same trigger type is
	// already active for the organization.
	Activate(ctx context.Context, orgID, id string, at time.Time) error

	// FindActive returns the organization's active playbook for a trigger
	// type. Returns ErrNotFound when none is active.
	FindActive(ctx context.Context, orgID string, t domain.TriggerType) (*domain.Playbook, error)

	// InsertExecution records a trigger attempt. For non-skipped executions
	// the (playbook, member, throttleBucket) triple is unique; a second
	// non-skipped insert in the same bucket returns ErrDuplicateExecution.
	InsertExecution(ctx context.Context, exec *domain.PlaybookExecution, throttleBucket string) error

	// UpdateExecution applies the outcome transition to an execution.
	UpdateExecution(ctx context.Context, id string, u ExecutionUpdate) error

	// ListExecutions returns the execution audit trail, newest first.
	ListExecutions(ctx context.Context, orgID string, f ExecutionFilter) ([]domain.PlaybookExecution, int, error)

	// GetOrganization returns the tenant row.
	GetOrganization(ctx context.Context, orgID string) (*domain.Organization, error)

	// GetMember returns one member. Returns ErrMemberNotFound if absent.
	GetMember(ctx context.Context, orgID, memberID string) (*domain.Member, error)

	// ListRecentCancels returns members canceled at or after since.
	ListRecentCancels(ctx context.Context, orgID string, since time.Time) ([]domain.Member, error)

	// GetCommunicationPolicy returns the organization's send policy. Returns
	// ErrNotFound when the organization has never customized it.
	GetCommunicationPolicy(ctx context.Context, orgID string) (*domain.CommunicationPolicy, error)

	// SaveCommunicationPolicy upserts the organization's send policy.
	SaveCommunicationPolicy(ctx context.Context, p *domain.CommunicationPolicy) error

	// ListOptOuts returns the opt-out records relevant to a member: their own
	// plus any organization-wide channel shutoffs.
	ListOptOuts(ctx context.Context, orgID, memberID string) ([]domain.CommunicationOptOut, error)

	// CreateOptOut records a member or organization opt-out.
	CreateOptOut(ctx context.Context, o *domain.CommunicationOptOut) error

	// CreateMessage inserts a queued outbound message.
	CreateMessage(ctx context.Context, m *domain.Message) error

	// GetFreezeRequest returns a freeze request. Returns ErrFreezeNotFound
	// if absent.
	GetFreezeRequest(ctx context.Context, orgID, id string) (*domain.FreezeRequest, error)

	// ResolveFreezeRequest stamps resolved_at on an unresolved freeze request.
	ResolveFreezeRequest(ctx context.Context, orgID, id string, at time.Time) error
}

// ListFilter controls pagination and filtering for playbook lists.
type ListFilter struct {
	Status      string
	TriggerType string
	Limit       int
	Offset      int
}

// ExecutionFilter controls pagination and filtering for execution lists.
type ExecutionFilter struct {
	PlaybookID string
	MemberID   string
	Status     string
	Limit      int
	Offset     int
}

// UpdateFields holds the mutable fields for a playbook update.
// Nil fields are not applied.
type UpdateFields struct {
	Name            *string
	Trigger         *domain.TriggerConfig
	Channels        *domain.ChannelStrategy
	Throttle        *domain.ThrottleRules
	QuietHoursStart *domain.MinuteOfDay
	QuietHoursEnd   *domain.MinuteOfDay
	TemplateID      *string
}

// ExecutionUpdate holds the outcome transition for an execution.
type ExecutionUpdate struct {
	Status      domain.ExecutionStatus
	SkipReason  domain.SkipReason
	MessageID   *string
	Outcome     json.RawMessage
	ProcessedAt time.Time
}
