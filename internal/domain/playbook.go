package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// PlaybookStatus enumerates the lifecycle states of a playbook.
// Archived is terminal.
type PlaybookStatus string

const (
	PlaybookDraft    PlaybookStatus = "draft"
	PlaybookActive   PlaybookStatus = "active"
	PlaybookPaused   PlaybookStatus = "paused"
	PlaybookArchived PlaybookStatus = "archived"
)

// TriggerType enumerates the events a playbook can fire on.
type TriggerType string

const (
	TriggerNoCheckIn     TriggerType = "no_check_in"
	TriggerFreezeRequest TriggerType = "freeze_request"
	TriggerWinBack       TriggerType = "win_back"
)

// Channel enumerates outbound message channels.
type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
)

// TriggerConfig is the closed set of per-trigger-type parameters. Exactly one
// variant is populated, matching the playbook's trigger type. Validation
// happens at playbook-save time so the trigger path never sees a malformed
// config.
type TriggerConfig struct {
	NoCheckIn     *NoCheckInConfig     `json:"no_check_in,omitempty"`
	FreezeRequest *FreezeRequestConfig `json:"freeze_request,omitempty"`
	WinBack       *WinBackConfig       `json:"win_back,omitempty"`
}

// NoCheckInConfig parameterizes no_check_in playbooks.
type NoCheckInConfig struct {
	Days int `json:"days"`
}

// FreezeRequestConfig parameterizes freeze_request playbooks.
type FreezeRequestConfig struct {
	SLAHours int `json:"sla_hours"`
}

// WinBackConfig parameterizes win_back playbooks.
type WinBackConfig struct {
	Days int `json:"days"`
}

// Validate checks that exactly the variant for trigger type t is populated
// and well-formed.
func (c TriggerConfig) Validate(t TriggerType) error {
	switch t {
	case TriggerNoCheckIn:
		if c.NoCheckIn == nil {
			return fmt.Errorf("no_check_in playbook requires no_check_in config")
		}
		if c.NoCheckIn.Days <= 0 {
			return fmt.Errorf("no_check_in.days must be positive, got %d", c.NoCheckIn.Days)
		}
	case TriggerFreezeRequest:
		if c.FreezeRequest == nil {
			return fmt.Errorf("freeze_request playbook requires freeze_request config")
		}
		if c.FreezeRequest.SLAHours <= 0 {
			return fmt.Errorf("freeze_request.sla_hours must be positive, got %d", c.FreezeRequest.SLAHours)
		}
	case TriggerWinBack:
		if c.WinBack == nil {
			return fmt.Errorf("win_back playbook requires win_back config")
		}
		if c.WinBack.Days <= 0 {
			return fmt.Errorf("win_back.days must be positive, got %d", c.WinBack.Days)
		}
	default:
		return fmt.Errorf("unknown trigger type %q", t)
	}
	return nil
}

// ChannelStrategy selects the outbound channel for a playbook's messages.
type ChannelStrategy struct {
	Primary Channel `json:"primary"`
}

// ThrottleRules limit how often a playbook may re-fire for the same member.
// MaxPerWeek translates to a minimum interval of 7/MaxPerWeek days; zero means
// the default of one trigger per 7 days.
type ThrottleRules struct {
	MaxPerWeek int `json:"max_per_week"`
}

// WindowDays returns the throttle window as a day count.
func (t ThrottleRules) WindowDays() int {
	if t.MaxPerWeek <= 0 {
		return 7
	}
	d := 7 / t.MaxPerWeek
	if d < 1 {
		d = 1
	}
	return d
}

// Playbook is a tenant-scoped automation definition mapping a trigger
// condition to a channel and message template.
type Playbook struct {
	ID              string          `json:"id" db:"id"`
	OrganizationID  string          `json:"organization_id" db:"organization_id"`
	Name            string          `json:"name" db:"name"`
	Status          PlaybookStatus  `json:"status" db:"status"`
	TriggerType     TriggerType     `json:"trigger_type" db:"trigger_type"`
	Trigger         TriggerConfig   `json:"trigger_config" db:"trigger_config"`
	Channels        ChannelStrategy `json:"channel_strategy" db:"channel_strategy"`
	Throttle        ThrottleRules   `json:"throttle_rules" db:"throttle_rules"`
	QuietHoursStart *MinuteOfDay    `json:"quiet_hours_start" db:"quiet_hours_start"`
	QuietHoursEnd   *MinuteOfDay    `json:"quiet_hours_end" db:"quiet_hours_end"`
	TemplateID      string          `json:"template_id" db:"template_id"`
	ActivatedAt     *time.Time      `json:"activated_at" db:"activated_at"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`
}

// IsTerminal reports whether the playbook has reached its final state.
func (p *Playbook) IsTerminal() bool { return p.Status == PlaybookArchived }

// ExecutionStatus enumerates the outcome states of a playbook execution.
// "sent" means handed off to delivery, not delivered.
type ExecutionStatus string

const (
	ExecutionPending ExecutionStatus = "pending"
	ExecutionSkipped ExecutionStatus = "skipped"
	ExecutionSent    ExecutionStatus = "sent"
	ExecutionFailed  ExecutionStatus = "failed"
)

// SkipReason explains a skipped execution.
type SkipReason string

const (
	SkipPlaybookInactive SkipReason = "playbook_inactive"
	SkipThrottled        SkipReason = "throttled"
	SkipOptedOut         SkipReason = "opted_out"
	SkipCapExceeded      SkipReason = "cap_exceeded"
	SkipInfraError       SkipReason = "infra_error"
)

// PlaybookExecution is the append-only audit record of one trigger attempt.
// Immutable after creation except the status/outcome transition.
type PlaybookExecution struct {
	ID          string          `json:"id" db:"id"`
	PlaybookID  string          `json:"playbook_id" db:"playbook_id"`
	MemberID    string          `json:"member_id" db:"member_id"`
	Status      ExecutionStatus `json:"status" db:"status"`
	SkipReason  SkipReason      `json:"skip_reason,omitempty" db:"skip_reason"`
	MessageID   *string         `json:"message_id" db:"message_id"`
	Context     json.RawMessage `json:"context" db:"context"`
	Outcome     json.RawMessage `json:"outcome" db:"outcome"`
	TriggeredAt time.Time       `json:"triggered_at" db:"triggered_at"`
	ProcessedAt *time.Time      `json:"processed_at" db:"processed_at"`
}
