package domain

import "time"

// CheckIn records a member entering the gym.
type CheckIn struct {
	ID        string    `json:"id" db:"id"`
	MemberID  string    `json:"member_id" db:"member_id"`
	CheckedAt time.Time `json:"checked_at" db:"checked_at"`
}

// BookingStatus enumerates class booking outcomes.
type BookingStatus string

const (
	BookingBooked   BookingStatus = "booked"
	BookingAttended BookingStatus = "attended"
	BookingNoShow   BookingStatus = "no_show"
	BookingCanceled BookingStatus = "canceled"
)

// Booking is a class reservation by a member.
type Booking struct {
	ID       string        `json:"id" db:"id"`
	MemberID string        `json:"member_id" db:"member_id"`
	ClassID  string        `json:"class_id" db:"class_id"`
	Status   BookingStatus `json:"status" db:"status"`
	ClassAt  time.Time     `json:"class_at" db:"class_at"`
}

// PaymentStatus enumerates billing states relevant to risk scoring.
type PaymentStatus string

const (
	PaymentPaid    PaymentStatus = "paid"
	PaymentPending PaymentStatus = "pending"
	PaymentOverdue PaymentStatus = "overdue"
)

// Payment is a billing record for a member.
type Payment struct {
	ID       string        `json:"id" db:"id"`
	MemberID string        `json:"member_id" db:"member_id"`
	Amount   float64       `json:"amount" db:"amount"`
	Status   PaymentStatus `json:"status" db:"status"`
	DueOn    time.Time     `json:"due_on" db:"due_on"`
	PaidAt   *time.Time    `json:"paid_at" db:"paid_at"`
}

// FreezeRequest is a member's request to freeze their membership. Unresolved
// requests feed the freeze_pending risk signal; resolving one fires the
// freeze_request playbook.
type FreezeRequest struct {
	ID          string     `json:"id" db:"id"`
	MemberID    string     `json:"member_id" db:"member_id"`
	Reason      string     `json:"reason" db:"reason"`
	RequestedAt time.Time  `json:"requested_at" db:"requested_at"`
	ResolvedAt  *time.Time `json:"resolved_at" db:"resolved_at"`
}

// MemberSignals is the read-only bundle of behavioral inputs the risk engine
// scores a member on. The repository assembles it; scoring is a pure function
// of this plus settings and "now".
type MemberSignals struct {
	LastCheckInAt    *time.Time `json:"last_check_in_at"`
	TotalCheckIns    int        `json:"total_check_ins"`
	NoShowsInWindow  int        `json:"no_shows_in_window"`
	OverduePayment   *Payment   `json:"overdue_payment"`
	PendingFreeze    bool       `json:"pending_freeze"`
	JoinedAt         time.Time  `json:"joined_at"`
}
