package domain

import "time"

// MessageStatus enumerates the delivery lifecycle of an outbound message.
// The trigger engine only ever creates messages in Queued; the delivery
// worker owns every later transition.
type MessageStatus string

const (
	MessageQueued    MessageStatus = "queued"
	MessageSent      MessageStatus = "sent"
	MessageDelivered MessageStatus = "delivered"
	MessageFailed    MessageStatus = "failed"
)

// Message is a queued or sent communication to a member.
type Message struct {
	ID             string        `json:"id" db:"id"`
	OrganizationID string        `json:"organization_id" db:"organization_id"`
	MemberID       string        `json:"member_id" db:"member_id"`
	Channel        Channel       `json:"channel" db:"channel"`
	TemplateID     string        `json:"template_id" db:"template_id"`
	Subject        string        `json:"subject" db:"subject"`
	Body           string        `json:"body" db:"body"`
	Status         MessageStatus `json:"status" db:"status"`
	DeferredUntil  *time.Time    `json:"deferred_until" db:"deferred_until"`
	QueuedAt       time.Time     `json:"queued_at" db:"queued_at"`
	SentAt         *time.Time    `json:"sent_at" db:"sent_at"`
	DeliveredAt    *time.Time    `json:"delivered_at" db:"delivered_at"`
	FailedAt       *time.Time    `json:"failed_at" db:"failed_at"`
	ErrorCode      string        `json:"error_code" db:"error_code"`
	ErrorMessage   string        `json:"error_message" db:"error_message"`
}
