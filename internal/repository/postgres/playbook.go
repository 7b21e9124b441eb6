package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/fitflow/retention/internal/domain"
	"github.com/fitflow/retention/internal/service/playbook"
)

// PlaybookRepo implements playbook.Repository against PostgreSQL.
//
// Two partial unique indexes back the service's invariants:
//
//	uq_playbooks_active ON playbooks (organization_id, trigger_type) WHERE status = 'active'
//	uq_executions_bucket ON playbook_executions (playbook_id, member_id, throttle_bucket) WHERE status <> 'skipped'
type PlaybookRepo struct{ db *sql.DB }

// NewPlaybookRepo creates a Postgres-backed playbook repository.
func NewPlaybookRepo(db *sql.DB) *PlaybookRepo { return &PlaybookRepo{db: db} }

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	pqErr, ok := err.(*pq.Error)
	return ok && string(pqErr.Code) == uniqueViolation
}

const playbookColumns = `
	id, organization_id, name, status, trigger_type, trigger_config,
	channel_strategy, throttle_rules, quiet_hours_start, quiet_hours_end,
	template_id, activated_at, created_at, updated_at`

func scanPlaybook(row interface{ Scan(...any) error }) (*domain.Playbook, error) {
	p := &domain.Playbook{}
	var trigger, channels, throttle []byte
	var quietStart, quietEnd sql.NullInt64
	err := row.Scan(
		&p.ID, &p.OrganizationID, &p.Name, &p.Status, &p.TriggerType, &trigger,
		&channels, &throttle, &quietStart, &quietEnd,
		&p.TemplateID, &p.ActivatedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(trigger, &p.Trigger); err != nil {
		return nil, fmt.Errorf("decode trigger config: %w", err)
	}
	if err := json.Unmarshal(channels, &p.Channels); err != nil {
		return nil, fmt.Errorf("decode channel strategy: %w", err)
	}
	if err := json.Unmarshal(throttle, &p.Throttle); err != nil {
		return nil, fmt.Errorf("decode throttle rules: %w", err)
	}
	if quietStart.Valid {
		v := domain.MinuteOfDay(quietStart.Int64)
		p.QuietHoursStart = &v
	}
	if quietEnd.Valid {
		v := domain.MinuteOfDay(quietEnd.Int64)
		p.QuietHoursEnd = &v
	}
	return p, nil
}

func (r *PlaybookRepo) Get(ctx context.Context, orgID, id string) (*domain.Playbook, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+playbookColumns+`
		FROM playbooks
		WHERE id = $1 AND organization_id = $2
	`, id, orgID)
	p, err := scanPlaybook(row)
	if err == sql.ErrNoRows {
		return nil, playbook.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get playbook: %w", err)
	}
	return p, nil
}

func (r *PlaybookRepo) List(ctx context.Context, orgID string, f playbook.ListFilter) ([]domain.Playbook, int, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	countQ := `SELECT COUNT(*) FROM playbooks WHERE organization_id = $1`
	args := []interface{}{orgID}
	idx := 2
	if f.Status != "" {
		countQ += fmt.Sprintf(" AND status = $%d", idx)
		args = append(args, f.Status)
		idx++
	}
	if f.TriggerType != "" {
		countQ += fmt.Sprintf(" AND trigger_type = $%d", idx)
		args = append(args, f.TriggerType)
		idx++
	}

	var total int
	if err := r.db.QueryRowContext(ctx, countQ, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count playbooks: %w", err)
	}

	q := `SELECT ` + playbookColumns + ` FROM playbooks WHERE organization_id = $1`
	qArgs := []interface{}{orgID}
	qIdx := 2
	if f.Status != "" {
		q += fmt.Sprintf(" AND status = $%d", qIdx)
		qArgs = append(qArgs, f.Status)
		qIdx++
	}
	if f.TriggerType != "" {
		q += fmt.Sprintf(" AND trigger_type = $%d", qIdx)
		qArgs = append(qArgs, f.TriggerType)
		qIdx++
	}
	q += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", qIdx, qIdx+1)
	qArgs = append(qArgs, limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, q, qArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("list playbooks: %w", err)
	}
	defer rows.Close()

	var out []domain.Playbook
	for rows.Next() {
		p, err := scanPlaybook(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan playbook: %w", err)
		}
		out = append(out, *p)
	}
	return out, total, rows.Err()
}

func (r *PlaybookRepo) Create(ctx context.Context, p *domain.Playbook) error {
	trigger, err := json.Marshal(p.Trigger)
	if err != nil {
		return fmt.Errorf("encode trigger config: %w", err)
	}
	channels, err := json.Marshal(p.Channels)
	if err != nil {
		return fmt.Errorf("encode channel strategy: %w", err)
	}
	throttle, err := json.Marshal(p.Throttle)
	if err != nil {
		return fmt.Errorf("encode throttle rules: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO playbooks (id, organization_id, name, status, trigger_type, trigger_config,
		                       channel_strategy, throttle_rules, quiet_hours_start, quiet_hours_end,
		                       template_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, p.ID, p.OrganizationID, p.Name, p.Status, p.TriggerType, trigger,
		channels, throttle, minutePtr(p.QuietHoursStart), minutePtr(p.QuietHoursEnd),
		p.TemplateID, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create playbook: %w", err)
	}
	return nil
}

func minutePtr(m *domain.MinuteOfDay) any {
	if m == nil {
		return nil
	}
	return int(*m)
}

func (r *PlaybookRepo) Update(ctx context.Context, orgID, id string, u playbook.UpdateFields) error {
	set := []string{"updated_at = NOW()"}
	args := []interface{}{}
	idx := 1

	add := func(col string, v interface{}) {
		set = append(set, fmt.Sprintf("%s = $%d", col, idx))
		args = append(args, v)
		idx++
	}

	if u.Name != nil {
		add("name", *u.Name)
	}
	if u.Trigger != nil {
		b, err := json.Marshal(u.Trigger)
		if err != nil {
			return fmt.Errorf("encode trigger config: %w", err)
		}
		add("trigger_config", b)
	}
	if u.Channels != nil {
		b, err := json.Marshal(u.Channels)
		if err != nil {
			return fmt.Errorf("encode channel strategy: %w", err)
		}
		add("channel_strategy", b)
	}
	if u.Throttle != nil {
		b, err := json.Marshal(u.Throttle)
		if err != nil {
			return fmt.Errorf("encode throttle rules: %w", err)
		}
		add("throttle_rules", b)
	}
	if u.QuietHoursStart != nil {
		add("quiet_hours_start", int(*u.QuietHoursStart))
	}
	if u.QuietHoursEnd != nil {
		add("quiet_hours_end", int(*u.QuietHoursEnd))
	}
	if u.TemplateID != nil {
		add("template_id", *u.TemplateID)
	}

	q := fmt.Sprintf("UPDATE playbooks SET %s WHERE id = $%d AND organization_id = $%d",
		joinSet(set), idx, idx+1)
	args = append(args, id, orgID)

	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("update playbook: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return playbook.ErrNotFound
	}
	return nil
}

func joinSet(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out
}

func (r *PlaybookRepo) UpdateStatus(ctx context.Context, orgID, id string, status domain.PlaybookStatus, activatedAt *time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE playbooks
		SET status = $1, activated_at = COALESCE($2, activated_at), updated_at = NOW()
		WHERE id = $3 AND organization_id = $4
	`, status, activatedAt, id, orgID)
	if err != nil {
		return fmt.Errorf("update playbook status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return playbook.ErrNotFound
	}
	return nil
}

func (r *PlaybookRepo) Activate(ctx context.Context, orgID, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE playbooks
		SET status = 'active', activated_at = $1, updated_at = NOW()
		WHERE id = $2 AND organization_id = $3
	`, at, id, orgID)
	if err != nil {
		if isUniqueViolation(err) {
			return playbook.ErrActiveConflict
		}
		return fmt.Errorf("activate playbook: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return playbook.ErrNotFound
	}
	return nil
}

func (r *PlaybookRepo) FindActive(ctx context.Context, orgID string, t domain.TriggerType) (*domain.Playbook, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+playbookColumns+`
		FROM playbooks
		WHERE organization_id = $1 AND trigger_type = $2 AND status = 'active'
		LIMIT 1
	`, orgID, t)
	p, err := scanPlaybook(row)
	if err == sql.ErrNoRows {
		return nil, playbook.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find active playbook: %w", err)
	}
	return p, nil
}

func (r *PlaybookRepo) InsertExecution(ctx context.Context, exec *domain.PlaybookExecution, throttleBucket string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO playbook_executions (id, playbook_id, member_id, status, skip_reason,
		                                 message_id, context, outcome, throttle_bucket,
		                                 triggered_at, processed_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9, $10, $11)
	`, exec.ID, exec.PlaybookID, exec.MemberID, exec.Status, string(exec.SkipReason),
		exec.MessageID, nullableJSON(exec.Context), nullableJSON(exec.Outcome), throttleBucket,
		exec.TriggeredAt, exec.ProcessedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return playbook.ErrDuplicateExecution
		}
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

func (r *PlaybookRepo) UpdateExecution(ctx context.Context, id string, u playbook.ExecutionUpdate) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE playbook_executions
		SET status = $1, skip_reason = NULLIF($2, ''), message_id = $3,
		    outcome = $4, processed_at = $5
		WHERE id = $6
	`, u.Status, string(u.SkipReason), u.MessageID, nullableJSON(u.Outcome), u.ProcessedAt, id)
	if err != nil {
		return fmt.Errorf("update execution: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return playbook.ErrNotFound
	}
	return nil
}

func (r *PlaybookRepo) ListExecutions(ctx context.Context, orgID string, f playbook.ExecutionFilter) ([]domain.PlaybookExecution, int, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	where := `WHERE p.organization_id = $1`
	args := []interface{}{orgID}
	idx := 2
	if f.PlaybookID != "" {
		where += fmt.Sprintf(" AND e.playbook_id = $%d", idx)
		args = append(args, f.PlaybookID)
		idx++
	}
	if f.MemberID != "" {
		where += fmt.Sprintf(" AND e.member_id = $%d", idx)
		args = append(args, f.MemberID)
		idx++
	}
	if f.Status != "" {
		where += fmt.Sprintf(" AND e.status = $%d", idx)
		args = append(args, f.Status)
		idx++
	}

	var total int
	countQ := `SELECT COUNT(*) FROM playbook_executions e JOIN playbooks p ON p.id = e.playbook_id ` + where
	if err := r.db.QueryRowContext(ctx, countQ, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count executions: %w", err)
	}

	q := `
		SELECT e.id, e.playbook_id, e.member_id, e.status, COALESCE(e.skip_reason, ''),
		       e.message_id, e.context, e.outcome, e.triggered_at, e.processed_at
		FROM playbook_executions e
		JOIN playbooks p ON p.id = e.playbook_id ` + where +
		fmt.Sprintf(" ORDER BY e.triggered_at DESC LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var out []domain.PlaybookExecution
	for rows.Next() {
		var e domain.PlaybookExecution
		var execCtx, outcome []byte
		if err := rows.Scan(&e.ID, &e.PlaybookID, &e.MemberID, &e.Status, &e.SkipReason,
			&e.MessageID, &execCtx, &outcome, &e.TriggeredAt, &e.ProcessedAt); err != nil {
			return nil, 0, fmt.Errorf("scan execution: %w", err)
		}
		e.Context = execCtx
		e.Outcome = outcome
		out = append(out, e)
	}
	return out, total, rows.Err()
}

func (r *PlaybookRepo) GetOrganization(ctx context.Context, orgID string) (*domain.Organization, error) {
	o := &domain.Organization{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, COALESCE(primary_timezone, 'UTC'), created_at
		FROM organizations
		WHERE id = $1
	`, orgID).Scan(&o.ID, &o.Name, &o.PrimaryTimezone, &o.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, playbook.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get organization: %w", err)
	}
	return o, nil
}

func (r *PlaybookRepo) GetMember(ctx context.Context, orgID, memberID string) (*domain.Member, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+memberColumns+`
		FROM members
		WHERE id = $1 AND organization_id = $2
	`, memberID, orgID)
	m, err := scanMember(row)
	if err == sql.ErrNoRows {
		return nil, playbook.ErrMemberNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get member: %w", err)
	}
	return m, nil
}

func (r *PlaybookRepo) ListRecentCancels(ctx context.Context, orgID string, since time.Time) ([]domain.Member, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+memberColumns+`
		FROM members
		WHERE organization_id = $1 AND status = 'canceled' AND canceled_at >= $2
		ORDER BY canceled_at DESC
	`, orgID, since)
	if err != nil {
		return nil, fmt.Errorf("list recent cancels: %w", err)
	}
	defer rows.Close()

	var out []domain.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (r *PlaybookRepo) GetCommunicationPolicy(ctx context.Context, orgID string) (*domain.CommunicationPolicy, error) {
	p := &domain.CommunicationPolicy{}
	err := r.db.QueryRowContext(ctx, `
		SELECT organization_id, quiet_hours_start, quiet_hours_end,
		       daily_send_cap, weekly_send_cap, timezone_strategy, enforce_stop_keywords
		FROM communication_policies
		WHERE organization_id = $1
	`, orgID).Scan(&p.OrganizationID, &p.QuietHoursStart, &p.QuietHoursEnd,
		&p.DailySendCap, &p.WeeklySendCap, &p.TimezoneStrategy, &p.EnforceStopKeywords)
	if err == sql.ErrNoRows {
		return nil, playbook.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get communication policy: %w", err)
	}
	return p, nil
}

func (r *PlaybookRepo) SaveCommunicationPolicy(ctx context.Context, p *domain.CommunicationPolicy) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO communication_policies (organization_id, quiet_hours_start, quiet_hours_end,
		                                    daily_send_cap, weekly_send_cap, timezone_strategy, enforce_stop_keywords)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (organization_id) DO UPDATE
		SET quiet_hours_start = EXCLUDED.quiet_hours_start,
		    quiet_hours_end = EXCLUDED.quiet_hours_end,
		    daily_send_cap = EXCLUDED.daily_send_cap,
		    weekly_send_cap = EXCLUDED.weekly_send_cap,
		    timezone_strategy = EXCLUDED.timezone_strategy,
		    enforce_stop_keywords = EXCLUDED.enforce_stop_keywords
	`, p.OrganizationID, int(p.QuietHoursStart), int(p.QuietHoursEnd),
		p.DailySendCap, p.WeeklySendCap, p.TimezoneStrategy, p.EnforceStopKeywords)
	if err != nil {
		return fmt.Errorf("save communication policy: %w", err)
	}
	return nil
}

func (r *PlaybookRepo) ListOptOuts(ctx context.Context, orgID, memberID string) ([]domain.CommunicationOptOut, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, organization_id, COALESCE(member_id, ''), channel, scope
		FROM communication_opt_outs
		WHERE organization_id = $1 AND (member_id = $2 OR scope = 'organization')
	`, orgID, memberID)
	if err != nil {
		return nil, fmt.Errorf("list opt-outs: %w", err)
	}
	defer rows.Close()

	var out []domain.CommunicationOptOut
	for rows.Next() {
		var o domain.CommunicationOptOut
		if err := rows.Scan(&o.ID, &o.OrganizationID, &o.MemberID, &o.Channel, &o.Scope); err != nil {
			return nil, fmt.Errorf("scan opt-out: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (r *PlaybookRepo) CreateOptOut(ctx context.Context, o *domain.CommunicationOptOut) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO communication_opt_outs (id, organization_id, member_id, channel, scope)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5)
		ON CONFLICT DO NOTHING
	`, o.ID, o.OrganizationID, o.MemberID, o.Channel, o.Scope)
	if err != nil {
		return fmt.Errorf("create opt-out: %w", err)
	}
	return nil
}

func (r *PlaybookRepo) CreateMessage(ctx context.Context, m *domain.Message) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO messages (id, organization_id, member_id, channel, template_id,
		                      subject, body, status, deferred_until, queued_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, m.ID, m.OrganizationID, m.MemberID, m.Channel, m.TemplateID,
		m.Subject, m.Body, m.Status, m.DeferredUntil, m.QueuedAt)
	if err != nil {
		return fmt.Errorf("create message: %w", err)
	}
	return nil
}

func (r *PlaybookRepo) GetFreezeRequest(ctx context.Context, orgID, id string) (*domain.FreezeRequest, error) {
	fr := &domain.FreezeRequest{}
	err := r.db.QueryRowContext(ctx, `
		SELECT f.id, f.member_id, COALESCE(f.reason, ''), f.requested_at, f.resolved_at
		FROM freeze_requests f
		JOIN members m ON m.id = f.member_id
		WHERE f.id = $1 AND m.organization_id = $2
	`, id, orgID).Scan(&fr.ID, &fr.MemberID, &fr.Reason, &fr.RequestedAt, &fr.ResolvedAt)
	if err == sql.ErrNoRows {
		return nil, playbook.ErrFreezeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get freeze request: %w", err)
	}
	return fr, nil
}

func (r *PlaybookRepo) ResolveFreezeRequest(ctx context.Context, orgID, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE freeze_requests f
		SET resolved_at = $1
		FROM members m
		WHERE f.id = $2 AND m.id = f.member_id AND m.organization_id = $3
		  AND f.resolved_at IS NULL
	`, at, id, orgID)
	if err != nil {
		return fmt.Errorf("resolve freeze request: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return playbook.ErrFreezeNotFound
	}
	return nil
}
