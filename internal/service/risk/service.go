package risk

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/fitflow/retention/internal/domain"
)

// Service implements risk scoring business logic. All public methods are safe
// for concurrent use if the underlying repository is concurrency-safe.
type Service struct {
	repo Repository
}

// NewService creates a risk service backed by the given repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// BatchOptions tune one CalculateForOrganization invocation.
type BatchOptions struct {
	// Cursor resumes a previous batch; pass BatchResult.NextCursor.
	Cursor string
	// BatchSize caps the number of members scored in one invocation.
	BatchSize int
	// Workers is the scoring fan-out width.
	Workers int
	// Deadline is a soft time budget; members not dispatched before it
	// expires are left for the continuation.
	Deadline time.Duration
}

func (o BatchOptions) withDefaults() BatchOptions {
	if o.BatchSize <= 0 {
		o.BatchSize = 500
	}
	if o.Workers <= 0 {
		o.Workers = 8
	}
	if o.Deadline <= 0 {
		o.Deadline = 30 * time.Second
	}
	return o
}

// MemberFailure reports one member whose scoring failed without aborting the
// batch.
type MemberFailure struct {
	MemberID string `json:"member_id"`
	Error    string `json:"error"`
}

// Update pairs a freshly computed score with the value it replaced. Previous
// is nil on a member's first scoring pass.
type Update struct {
	Score    domain.RiskScore `json:"score"`
	Previous *int             `json:"previous_score,omitempty"`
}

// BatchResult is the outcome of one batched scoring pass.
type BatchResult struct {
	Scores     []Update        `json:"scores"`
	Failed     []MemberFailure `json:"failed,omitempty"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// CalculateForOrganization scores one page of the organization's active
// members. Settings are loaded once and held fixed for the whole pass.
// Scoring fans out across a bounded worker pool; each member is handled by
// exactly one worker, so score writes are serialized per member. Per-member
// repository failures are collected in the result, not propagated. A
// non-empty NextCursor means more members remain.
func (s *Service) CalculateForOrganization(ctx context.Context, orgID string, opts BatchOptions) (*BatchResult, error) {
	opts = opts.withDefaults()

	settings, err := s.EffectiveSettings(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}

	members, err := s.repo.ListActiveMembers(ctx, orgID, opts.Cursor, opts.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}

	now := time.Now().UTC()
	cutoff := now.Add(opts.Deadline)

	result := &BatchResult{Scores: make([]Update, 0, len(members))}
	var mu sync.Mutex
	var wg sync.WaitGroup

	jobs := make(chan domain.Member)
	for i := 0; i < opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for m := range jobs {
				upd, err := s.scoreAndStore(ctx, m, settings, now)
				mu.Lock()
				if err != nil {
					result.Failed = append(result.Failed, MemberFailure{MemberID: m.ID, Error: err.Error()})
				} else {
					result.Scores = append(result.Scores, *upd)
				}
				mu.Unlock()
			}
		}()
	}

	dispatched := 0
	lastID := opts.Cursor
dispatch:
	for _, m := range members {
		if time.Now().UTC().After(cutoff) {
			break
		}
		select {
		case <-ctx.Done():
			break dispatch
		case jobs <- m:
			dispatched++
			lastID = m.ID
		}
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if dispatched < len(members) || len(members) == opts.BatchSize {
		result.NextCursor = lastID
	}

	log.Printf("[risk.Service] Org %s: scored %d members (%d failed), continuation=%v",
		orgID, len(result.Scores), len(result.Failed), result.NextCursor != "")
	return result, nil
}

// CalculateForMember recomputes a single member's score on demand.
func (s *Service) CalculateForMember(ctx context.Context, orgID, memberID string) (*domain.RiskScore, error) {
	settings, err := s.EffectiveSettings(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}

	m, err := s.repo.GetMember(ctx, orgID, memberID)
	if err != nil {
		return nil, err
	}
	upd, err := s.scoreAndStore(ctx, *m, settings, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	return &upd.Score, nil
}

func (s *Service) scoreAndStore(ctx context.Context, m domain.Member, settings domain.RetentionSettings, now time.Time) (*Update, error) {
	sig, err := s.repo.LoadSignals(ctx, m.OrganizationID, m.ID, settings.MissedBookings.WindowDays, now)
	if err != nil {
		return nil, fmt.Errorf("load signals: %w", err)
	}

	value, reasons := Calculate(*sig, settings, now)
	score := &domain.RiskScore{
		MemberID:       m.ID,
		OrganizationID: m.OrganizationID,
		Score:          value,
		Reasons:        reasons,
		CalculatedAt:   now,
	}
	prev, err := s.repo.UpsertScore(ctx, score)
	if err != nil {
		return nil, fmt.Errorf("store score: %w", err)
	}
	return &Update{Score: *score, Previous: prev}, nil
}

// GetScore returns a member's current score.
func (s *Service) GetScore(ctx context.Context, orgID, memberID string) (*domain.RiskScore, error) {
	return s.repo.GetScore(ctx, orgID, memberID)
}

// BuildHeatmap counts current scores per configured band. Scores matching no
// band are reported in Unbucketed rather than dropped.
func (s *Service) BuildHeatmap(ctx context.Context, orgID string) (*domain.Heatmap, error) {
	settings, err := s.EffectiveSettings(ctx, orgID)
	if err != nil {
		return nil, err
	}

	values, err := s.repo.ListScoreValues(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("list scores: %w", err)
	}

	var h domain.Heatmap
	for _, v := range values {
		switch {
		case settings.Bands.Low.Contains(v):
			h.Low++
		case settings.Bands.Medium.Contains(v):
			h.Medium++
		case settings.Bands.High.Contains(v):
			h.High++
		case settings.Bands.Critical.Contains(v):
			h.Critical++
		default:
			h.Unbucketed++
		}
	}
	return &h, nil
}

// FetchAtRiskMembers returns the top current scores, highest first, ties
// broken by most recent calculation.
func (s *Service) FetchAtRiskMembers(ctx context.Context, orgID string, limit int) ([]domain.RiskScore, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	return s.repo.ListTopScores(ctx, orgID, limit)
}

// EffectiveSettings returns the organization's retention settings, falling
// back to engine defaults when none are stored.
func (s *Service) EffectiveSettings(ctx context.Context, orgID string) (domain.RetentionSettings, error) {
	settings, err := s.repo.GetSettings(ctx, orgID)
	if errors.Is(err, ErrNotFound) {
		return domain.DefaultRetentionSettings(orgID), nil
	}
	if err != nil {
		return domain.RetentionSettings{}, fmt.Errorf("load settings: %w", err)
	}
	return *settings, nil
}

// SaveSettings validates and upserts the organization's retention settings.
func (s *Service) SaveSettings(ctx context.Context, settings domain.RetentionSettings) error {
	if err := settings.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	return s.repo.SaveSettings(ctx, &settings)
}
