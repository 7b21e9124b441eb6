package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/fitflow/retention/internal/domain"
)

// MessageRepo reads the outbound message history. Message creation happens on
// the trigger path via PlaybookRepo; the delivery worker owns later
// transitions.
type MessageRepo struct{ db *sql.DB }

// NewMessageRepo creates a Postgres-backed message repository.
func NewMessageRepo(db *sql.DB) *MessageRepo { return &MessageRepo{db: db} }

// CountMessagesSince backs cap enforcement when Redis counters are
// unavailable. Failed messages do not count against caps.
func (r *MessageRepo) CountMessagesSince(ctx context.Context, orgID, memberID string, dayStart, weekStart time.Time) (int, int, error) {
	var day, week int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FILTER (WHERE queued_at >= $3),
		       COUNT(*) FILTER (WHERE queued_at >= $4)
		FROM messages
		WHERE organization_id = $1 AND member_id = $2 AND status <> 'failed'
	`, orgID, memberID, dayStart, weekStart).Scan(&day, &week)
	if err != nil {
		return 0, 0, fmt.Errorf("count messages: %w", err)
	}
	return day, week, nil
}

// ListForMember returns a member's message history, newest first.
func (r *MessageRepo) ListForMember(ctx context.Context, orgID, memberID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, organization_id, member_id, channel, template_id,
		       COALESCE(subject, ''), body, status, deferred_until, queued_at,
		       sent_at, delivered_at, failed_at, COALESCE(error_code, ''), COALESCE(error_message, '')
		FROM messages
		WHERE organization_id = $1 AND member_id = $2
		ORDER BY queued_at DESC
		LIMIT $3
	`, orgID, memberID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(&m.ID, &m.OrganizationID, &m.MemberID, &m.Channel, &m.TemplateID,
			&m.Subject, &m.Body, &m.Status, &m.DeferredUntil, &m.QueuedAt,
			&m.SentAt, &m.DeliveredAt, &m.FailedAt, &m.ErrorCode, &m.ErrorMessage); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// OrgRepo enumerates tenants for the sweep worker.
type OrgRepo struct{ db *sql.DB }

// NewOrgRepo creates a Postgres-backed organization repository.
func NewOrgRepo(db *sql.DB) *OrgRepo { return &OrgRepo{db: db} }

func (r *OrgRepo) ListOrganizationIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM organizations ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan organization id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
