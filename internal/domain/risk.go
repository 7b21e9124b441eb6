package domain

import "time"

// ReasonCode identifies a risk signal that contributed to a score.
type ReasonCode string

const (
	ReasonNoCheckIn      ReasonCode = "no_check_in"
	ReasonNeverCheckedIn ReasonCode = "never_checked_in"
	ReasonMissedBookings ReasonCode = "missed_bookings"
	ReasonBillingOverdue ReasonCode = "billing_overdue"
	ReasonFreezePending  ReasonCode = "freeze_pending"
)

// RiskReason is one triggered signal with a human-readable detail string.
type RiskReason struct {
	Code   ReasonCode `json:"code"`
	Detail string     `json:"detail"`
}

// RiskScore is the current risk assessment for a member. Exactly one exists
// per member; each recalculation snapshots the previous value before
// overwriting.
type RiskScore struct {
	MemberID       string       `json:"member_id" db:"member_id"`
	OrganizationID string       `json:"organization_id" db:"organization_id"`
	Score          int          `json:"score" db:"score"`
	Reasons        []RiskReason `json:"reasons" db:"reasons"`
	CalculatedAt   time.Time    `json:"calculated_at" db:"calculated_at"`
}

// RiskScoreSnapshot is an append-only historical copy of a prior RiskScore.
type RiskScoreSnapshot struct {
	ID           string       `json:"id" db:"id"`
	MemberID     string       `json:"member_id" db:"member_id"`
	Score        int          `json:"score" db:"score"`
	Reasons      []RiskReason `json:"reasons" db:"reasons"`
	CalculatedAt time.Time    `json:"calculated_at" db:"calculated_at"`
	SnapshotAt   time.Time    `json:"snapshot_at" db:"snapshot_at"`
}

// Heatmap counts current scores per configured band. Scores falling outside
// every band land in Unbucketed so misconfigured bands are visible.
type Heatmap struct {
	Low        int `json:"low"`
	Medium     int `json:"medium"`
	High       int `json:"high"`
	Critical   int `json:"critical"`
	Unbucketed int `json:"unbucketed"`
}
