package domain

import "time"

// MessageTemplate is a tenant-scoped Liquid template for playbook messages.
// Subject is ignored for SMS.
type MessageTemplate struct {
	ID             string    `json:"id" db:"id"`
	OrganizationID string    `json:"organization_id" db:"organization_id"`
	Name           string    `json:"name" db:"name"`
	Channel        Channel   `json:"channel" db:"channel"`
	Subject        string    `json:"subject" db:"subject"`
	Body           string    `json:"body" db:"body"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}
