// Package postgres implements the service repository contracts against
// PostgreSQL using database/sql and lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fitflow/retention/internal/domain"
	"github.com/fitflow/retention/internal/service/risk"
)

// RiskRepo implements risk.Repository against PostgreSQL.
type RiskRepo struct{ db *sql.DB }

// NewRiskRepo creates a Postgres-backed risk repository.
func NewRiskRepo(db *sql.DB) *RiskRepo { return &RiskRepo{db: db} }

const memberColumns = `
	id, organization_id, first_name, last_name,
	COALESCE(email_encrypted,''::bytea), COALESCE(email_hash,''),
	COALESCE(phone_encrypted,''::bytea), COALESCE(phone_hash,''),
	plan_id, status, COALESCE(timezone,''),
	quiet_hours_override, quiet_hours_start, quiet_hours_end,
	daily_send_cap, weekly_send_cap,
	joined_at, canceled_at, created_at, updated_at`

func scanMember(row interface{ Scan(...any) error }) (*domain.Member, error) {
	m := &domain.Member{}
	var quietStart, quietEnd sql.NullInt64
	err := row.Scan(
		&m.ID, &m.OrganizationID, &m.FirstName, &m.LastName,
		&m.EmailEncrypted, &m.EmailHash, &m.PhoneEncrypted, &m.PhoneHash,
		&m.PlanID, &m.Status, &m.Timezone,
		&m.QuietHoursOverride, &quietStart, &quietEnd,
		&m.DailySendCap, &m.WeeklySendCap,
		&m.JoinedAt, &m.CanceledAt, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if quietStart.Valid {
		v := domain.MinuteOfDay(quietStart.Int64)
		m.QuietHoursStart = &v
	}
	if quietEnd.Valid {
		v := domain.MinuteOfDay(quietEnd.Int64)
		m.QuietHoursEnd = &v
	}
	return m, nil
}

func (r *RiskRepo) GetMember(ctx context.Context, orgID, memberID string) (*domain.Member, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+memberColumns+`
		FROM members
		WHERE id = $1 AND organization_id = $2
	`, memberID, orgID)
	m, err := scanMember(row)
	if err == sql.ErrNoRows {
		return nil, risk.ErrMemberNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get member: %w", err)
	}
	return m, nil
}

// FindMemberByContactHash resolves a member from the deterministic lookup
// hash of an email or phone number. Plaintext contact values never reach
// the query.
func (r *RiskRepo) FindMemberByContactHash(ctx context.Context, orgID, hash string) (*domain.Member, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+memberColumns+`
		FROM members
		WHERE organization_id = $1 AND (email_hash = $2 OR phone_hash = $2)
	`, orgID, hash)
	m, err := scanMember(row)
	if err == sql.ErrNoRows {
		return nil, risk.ErrMemberNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find member by contact hash: %w", err)
	}
	return m, nil
}

func (r *RiskRepo) ListActiveMembers(ctx context.Context, orgID, afterID string, limit int) ([]domain.Member, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+memberColumns+`
		FROM members
		WHERE organization_id = $1 AND status = 'active' AND id > $2
		ORDER BY id
		LIMIT $3
	`, orgID, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list active members: %w", err)
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

func (r *RiskRepo) LoadSignals(ctx context.Context, orgID, memberID string, noShowWindowDays int, now time.Time) (*domain.MemberSignals, error) {
	sig := &domain.MemberSignals{}

	var lastCheckIn sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		SELECT m.joined_at, MAX(c.checked_at), COUNT(c.id)
		FROM members m
		LEFT JOIN check_ins c ON c.member_id = m.id
		WHERE m.id = $1 AND m.organization_id = $2
		GROUP BY m.joined_at
	`, memberID, orgID).Scan(&sig.JoinedAt, &lastCheckIn, &sig.TotalCheckIns)
	if err == sql.ErrNoRows {
		return nil, risk.ErrMemberNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load check-in signals: %w", err)
	}
	if lastCheckIn.Valid {
		sig.LastCheckInAt = &lastCheckIn.Time
	}

	windowStart := now.AddDate(0, 0, -noShowWindowDays)
	err = r.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM bookings
		WHERE member_id = $1 AND status = 'no_show' AND class_at >= $2
	`, memberID, windowStart).Scan(&sig.NoShowsInWindow)
	if err != nil {
		return nil, fmt.Errorf("load booking signals: %w", err)
	}

	p := domain.Payment{MemberID: memberID, Status: domain.PaymentOverdue}
	err = r.db.QueryRowContext(ctx, `
		SELECT id, amount, due_on
		FROM payments
		WHERE member_id = $1 AND status = 'overdue'
		ORDER BY due_on
		LIMIT 1
	`, memberID).Scan(&p.ID, &p.Amount, &p.DueOn)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("load payment signals: %w", err)
	}
	if err == nil {
		sig.OverduePayment = &p
	}

	err = r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM freeze_requests
			WHERE member_id = $1 AND resolved_at IS NULL
		)
	`, memberID).Scan(&sig.PendingFreeze)
	if err != nil {
		return nil, fmt.Errorf("load freeze signals: %w", err)
	}
	return sig, nil
}

func (r *RiskRepo) GetScore(ctx context.Context, orgID, memberID string) (*domain.RiskScore, error) {
	s := &domain.RiskScore{}
	var reasons []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT member_id, organization_id, score, reasons, calculated_at
		FROM risk_scores
		WHERE member_id = $1 AND organization_id = $2
	`, memberID, orgID).Scan(&s.MemberID, &s.OrganizationID, &s.Score, &reasons, &s.CalculatedAt)
	if err == sql.ErrNoRows {
		return nil, risk.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get score: %w", err)
	}
	if err := json.Unmarshal(reasons, &s.Reasons); err != nil {
		return nil, fmt.Errorf("decode reasons: %w", err)
	}
	return s, nil
}

// UpsertScore snapshots the prior score and overwrites it in one transaction.
// The row lock serializes concurrent writers for the same member.
func (r *RiskRepo) UpsertScore(ctx context.Context, score *domain.RiskScore) (*int, error) {
	reasons, err := json.Marshal(score.Reasons)
	if err != nil {
		return nil, fmt.Errorf("encode reasons: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var prevScore int
	var prevReasons []byte
	var prevCalc time.Time
	err = tx.QueryRowContext(ctx, `
		SELECT score, reasons, calculated_at
		FROM risk_scores
		WHERE member_id = $1
		FOR UPDATE
	`, score.MemberID).Scan(&prevScore, &prevReasons, &prevCalc)

	var previous *int
	switch {
	case err == sql.ErrNoRows:
		// First scoring pass, nothing to snapshot.
	case err != nil:
		return nil, fmt.Errorf("lock prior score: %w", err)
	default:
		previous = &prevScore
		_, err = tx.ExecContext(ctx, `
			INSERT INTO risk_score_snapshots (id, member_id, score, reasons, calculated_at, snapshot_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, uuid.New().String(), score.MemberID, prevScore, prevReasons, prevCalc, score.CalculatedAt)
		if err != nil {
			return nil, fmt.Errorf("insert snapshot: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO risk_scores (member_id, organization_id, score, reasons, calculated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (member_id) DO UPDATE
		SET score = EXCLUDED.score,
		    reasons = EXCLUDED.reasons,
		    calculated_at = EXCLUDED.calculated_at
	`, score.MemberID, score.OrganizationID, score.Score, reasons, score.CalculatedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert score: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return previous, nil
}

func (r *RiskRepo) ListTopScores(ctx context.Context, orgID string, limit int) ([]domain.RiskScore, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT member_id, organization_id, score, reasons, calculated_at
		FROM risk_scores
		WHERE organization_id = $1
		ORDER BY score DESC, calculated_at DESC
		LIMIT $2
	`, orgID, limit)
	if err != nil {
		return nil, fmt.Errorf("list top scores: %w", err)
	}
	defer rows.Close()

	var out []domain.RiskScore
	for rows.Next() {
		var s domain.RiskScore
		var reasons []byte
		if err := rows.Scan(&s.MemberID, &s.OrganizationID, &s.Score, &reasons, &s.CalculatedAt); err != nil {
			return nil, fmt.Errorf("scan score: %w", err)
		}
		if err := json.Unmarshal(reasons, &s.Reasons); err != nil {
			return nil, fmt.Errorf("decode reasons: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *RiskRepo) ListScoreValues(ctx context.Context, orgID string) ([]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT score FROM risk_scores WHERE organization_id = $1
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list score values: %w", err)
	}
	defer rows.Close()

	var out []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan score value: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (r *RiskRepo) GetSettings(ctx context.Context, orgID string) (*domain.RetentionSettings, error) {
	s := &domain.RetentionSettings{}
	var bands, missed, billing, weights []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT organization_id, risk_bands, streak_break_days,
		       missed_bookings_threshold, billing_risk, signal_weights
		FROM retention_settings
		WHERE organization_id = $1
	`, orgID).Scan(&s.OrganizationID, &bands, &s.StreakBreakDays, &missed, &billing, &weights)
	if err == sql.ErrNoRows {
		return nil, risk.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get settings: %w", err)
	}
	for _, f := range []struct {
		raw []byte
		dst any
	}{
		{bands, &s.Bands},
		{missed, &s.MissedBookings},
		{billing, &s.Billing},
		{weights, &s.Weights},
	} {
		if err := json.Unmarshal(f.raw, f.dst); err != nil {
			return nil, fmt.Errorf("decode settings: %w", err)
		}
	}
	return s, nil
}

func (r *RiskRepo) SaveSettings(ctx context.Context, settings *domain.RetentionSettings) error {
	bands, err := json.Marshal(settings.Bands)
	if err != nil {
		return fmt.Errorf("encode bands: %w", err)
	}
	missed, err := json.Marshal(settings.MissedBookings)
	if err != nil {
		return fmt.Errorf("encode threshold: %w", err)
	}
	billing, err := json.Marshal(settings.Billing)
	if err != nil {
		return fmt.Errorf("encode billing: %w", err)
	}
	weights, err := json.Marshal(settings.Weights)
	if err != nil {
		return fmt.Errorf("encode weights: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO retention_settings (organization_id, risk_bands, streak_break_days,
		                                missed_bookings_threshold, billing_risk, signal_weights)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (organization_id) DO UPDATE
		SET risk_bands = EXCLUDED.risk_bands,
		    streak_break_days = EXCLUDED.streak_break_days,
		    missed_bookings_threshold = EXCLUDED.missed_bookings_threshold,
		    billing_risk = EXCLUDED.billing_risk,
		    signal_weights = EXCLUDED.signal_weights
	`, settings.OrganizationID, bands, settings.StreakBreakDays, missed, billing, weights)
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}
