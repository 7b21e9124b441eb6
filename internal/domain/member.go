package domain

import "time"

// MemberStatus enumerates the soft lifecycle states of a member.
type MemberStatus string

const (
	MemberActive   MemberStatus = "active"
	MemberFrozen   MemberStatus = "frozen"
	MemberCanceled MemberStatus = "canceled"
)

// Member represents a gym member within an organization. Contact details are
// stored encrypted at rest; the engine identifies members by the deterministic
// contact hash and never needs the plaintext.
type Member struct {
	ID             string       `json:"id" db:"id"`
	OrganizationID string       `json:"organization_id" db:"organization_id"`
	FirstName      string       `json:"first_name" db:"first_name"`
	LastName       string       `json:"last_name" db:"last_name"`
	EmailEncrypted []byte       `json:"-" db:"email_encrypted"`
	EmailHash      string       `json:"-" db:"email_hash"`
	PhoneEncrypted []byte       `json:"-" db:"phone_encrypted"`
	PhoneHash      string       `json:"-" db:"phone_hash"`
	PlanID         *string      `json:"plan_id" db:"plan_id"`
	Status         MemberStatus `json:"status" db:"status"`
	Timezone       string       `json:"timezone" db:"timezone"`

	// Per-member communication overrides. When QuietHoursOverride is true the
	// member's own quiet-hour and cap fields take precedence field-by-field;
	// nil fields still fall back to the organization policy.
	QuietHoursOverride bool         `json:"quiet_hours_override" db:"quiet_hours_override"`
	QuietHoursStart    *MinuteOfDay `json:"quiet_hours_start" db:"quiet_hours_start"`
	QuietHoursEnd      *MinuteOfDay `json:"quiet_hours_end" db:"quiet_hours_end"`
	DailySendCap       *int         `json:"daily_send_cap" db:"daily_send_cap"`
	WeeklySendCap      *int         `json:"weekly_send_cap" db:"weekly_send_cap"`

	JoinedAt   time.Time  `json:"joined_at" db:"joined_at"`
	CanceledAt *time.Time `json:"canceled_at" db:"canceled_at"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at" db:"updated_at"`
}

// Organization is the tenant. All core entities are scoped by organization id.
type Organization struct {
	ID              string    `json:"id" db:"id"`
	Name            string    `json:"name" db:"name"`
	PrimaryTimezone string    `json:"primary_timezone" db:"primary_timezone"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}
