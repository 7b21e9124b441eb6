package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fitflow/retention/internal/domain"
	"github.com/fitflow/retention/internal/template"
)

// TemplateRepo implements template.Store against PostgreSQL.
type TemplateRepo struct{ db *sql.DB }

// NewTemplateRepo creates a Postgres-backed template repository.
func NewTemplateRepo(db *sql.DB) *TemplateRepo { return &TemplateRepo{db: db} }

func (r *TemplateRepo) GetTemplate(ctx context.Context, orgID, id string) (*domain.MessageTemplate, error) {
	t := &domain.MessageTemplate{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, organization_id, name, channel, COALESCE(subject, ''), body, created_at, updated_at
		FROM message_templates
		WHERE id = $1 AND organization_id = $2
	`, id, orgID).Scan(&t.ID, &t.OrganizationID, &t.Name, &t.Channel, &t.Subject, &t.Body, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, template.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	return t, nil
}

func (r *TemplateRepo) ListTemplates(ctx context.Context, orgID string) ([]domain.MessageTemplate, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, organization_id, name, channel, COALESCE(subject, ''), body, created_at, updated_at
		FROM message_templates
		WHERE organization_id = $1
		ORDER BY created_at DESC
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var out []domain.MessageTemplate
	for rows.Next() {
		var t domain.MessageTemplate
		if err := rows.Scan(&t.ID, &t.OrganizationID, &t.Name, &t.Channel, &t.Subject, &t.Body, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *TemplateRepo) CreateTemplate(ctx context.Context, t *domain.MessageTemplate) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO message_templates (id, organization_id, name, channel, subject, body, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, t.ID, t.OrganizationID, t.Name, t.Channel, t.Subject, t.Body, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create template: %w", err)
	}
	return nil
}
