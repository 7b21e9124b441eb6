package playbook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/fitflow/retention/internal/domain"
	"github.com/fitflow/retention/internal/pkg/logger"
	"github.com/fitflow/retention/internal/service/policy"
	"github.com/fitflow/retention/internal/service/risk"
)

// ScoreRecalculator is the slice of the risk service the orchestration path
// consumes.
type ScoreRecalculator interface {
	CalculateForOrganization(ctx context.Context, orgID string, opts risk.BatchOptions) (*risk.BatchResult, error)
	EffectiveSettings(ctx context.Context, orgID string) (domain.RetentionSettings, error)
}

// TriggerForMember runs the per-member eligibility state machine for one
// playbook and records the outcome as an execution. Business outcomes (skip,
// throttle, opt-out, cap, quiet-hour deferral) are statuses on the returned
// execution, never errors; only infrastructure failures propagate.
func (s *Service) TriggerForMember(ctx context.Context, orgID, memberID, playbookID string, trigCtx json.RawMessage) (*domain.PlaybookExecution, error) {
	pb, err := s.repo.Get(ctx, orgID, playbookID)
	if err != nil {
		return nil, err
	}
	member, err := s.repo.GetMember(ctx, orgID, memberID)
	if err != nil {
		return nil, err
	}
	return s.trigger(ctx, *pb, *member, trigCtx)
}

func (s *Service) trigger(ctx context.Context, pb domain.Playbook, member domain.Member, trigCtx json.RawMessage) (*domain.PlaybookExecution, error) {
	now := time.Now().UTC()
	bucket := throttleBucket(pb, now)

	if pb.Status != domain.PlaybookActive {
		return s.recordSkip(ctx, pb, member, domain.SkipPlaybookInactive, trigCtx, bucket, now)
	}

	// Insert the execution as pending first. The unique throttle bucket on
	// non-skipped rows turns the dedup race into an insert conflict; the
	// loser records a throttled skip instead.
	exec := &domain.PlaybookExecution{
		ID:          uuid.New().String(),
		PlaybookID:  pb.ID,
		MemberID:    member.ID,
		Status:      domain.ExecutionPending,
		Context:     trigCtx,
		TriggeredAt: now,
	}
	if err := s.repo.InsertExecution(ctx, exec, bucket); err != nil {
		if errors.Is(err, ErrDuplicateExecution) {
			return s.recordSkip(ctx, pb, member, domain.SkipThrottled, trigCtx, bucket, now)
		}
		return nil, fmt.Errorf("insert execution: %w", err)
	}

	org, err := s.repo.GetOrganization(ctx, pb.OrganizationID)
	if err != nil {
		s.releasePending(ctx, exec, err)
		return nil, fmt.Errorf("load organization: %w", err)
	}
	orgPolicy, err := s.EffectiveCommunicationPolicy(ctx, pb.OrganizationID)
	if err != nil {
		s.releasePending(ctx, exec, err)
		return nil, err
	}
	eff := policy.ResolveEffectivePolicy(*org, &orgPolicy, &pb, member)

	optOuts, err := s.repo.ListOptOuts(ctx, pb.OrganizationID, member.ID)
	if err != nil {
		s.releasePending(ctx, exec, err)
		return nil, fmt.Errorf("load opt-outs: %w", err)
	}
	if policy.IsOptedOut(eff, member, pb.Channels.Primary, optOuts) {
		return exec, s.finishSkip(ctx, exec, domain.SkipOptedOut, now)
	}

	nowLocal := eff.Localize(now)
	sentToday, sentThisWeek, err := s.counter.SentCounts(ctx, pb.OrganizationID, member.ID, nowLocal)
	if err != nil {
		s.releasePending(ctx, exec, err)
		return nil, fmt.Errorf("load send counts: %w", err)
	}
	if !policy.HasCapacityRemaining(eff, sentToday, sentThisWeek) {
		return exec, s.finishSkip(ctx, exec, domain.SkipCapExceeded, now)
	}

	// Quiet hours defer delivery rather than skipping: the message is still
	// queued, stamped with the end of the quiet window.
	var deferredUntil *time.Time
	if policy.IsWithinQuietHours(eff, nowLocal) {
		end := policy.QuietWindowEnd(eff, nowLocal).UTC()
		deferredUntil = &end
	}

	subject, body, err := s.renderer.Render(ctx, pb.OrganizationID, pb.TemplateID, templateVars(member))
	if err != nil {
		outcome, _ := json.Marshal(map[string]string{"error": err.Error()})
		ferr := s.repo.UpdateExecution(ctx, exec.ID, ExecutionUpdate{
			Status:      domain.ExecutionFailed,
			Outcome:     outcome,
			ProcessedAt: now,
		})
		if ferr != nil {
			return nil, fmt.Errorf("mark execution failed: %v (render: %w)", ferr, err)
		}
		exec.Status = domain.ExecutionFailed
		exec.Outcome = outcome
		exec.ProcessedAt = &now
		s.publish(ctx, *exec)
		return exec, nil
	}

	msg := &domain.Message{
		ID:             uuid.New().String(),
		OrganizationID: pb.OrganizationID,
		MemberID:       member.ID,
		Channel:        pb.Channels.Primary,
		TemplateID:     pb.TemplateID,
		Subject:        subject,
		Body:           body,
		Status:         domain.MessageQueued,
		DeferredUntil:  deferredUntil,
		QueuedAt:       now,
	}
	if err := s.repo.CreateMessage(ctx, msg); err != nil {
		s.releasePending(ctx, exec, err)
		return nil, fmt.Errorf("queue message: %w", err)
	}
	logger.Info("message queued",
		"organization_id", pb.OrganizationID,
		"playbook_id", pb.ID,
		"member_id", member.ID,
		"channel", string(pb.Channels.Primary),
		"deferred", deferredUntil != nil)

	if err := s.counter.RecordSend(ctx, pb.OrganizationID, member.ID, nowLocal); err != nil {
		log.Printf("[playbook.Service] Record send count failed for member %s: %v", member.ID, err)
	}

	outcomeFields := map[string]any{"message_id": msg.ID}
	if deferredUntil != nil {
		outcomeFields["deferred_until"] = deferredUntil.Format(time.RFC3339)
	}
	outcome, _ := json.Marshal(outcomeFields)

	// "sent" means handed off to delivery, not delivered.
	if err := s.repo.UpdateExecution(ctx, exec.ID, ExecutionUpdate{
		Status:      domain.ExecutionSent,
		MessageID:   &msg.ID,
		Outcome:     outcome,
		ProcessedAt: now,
	}); err != nil {
		return nil, fmt.Errorf("finalize execution: %w", err)
	}
	exec.Status = domain.ExecutionSent
	exec.MessageID = &msg.ID
	exec.Outcome = outcome
	exec.ProcessedAt = &now
	s.publish(ctx, *exec)
	return exec, nil
}

// recordSkip inserts a fresh execution already in skipped state. Skipped rows
// never occupy a throttle bucket.
func (s *Service) recordSkip(ctx context.Context, pb domain.Playbook, member domain.Member, reason domain.SkipReason, trigCtx json.RawMessage, bucket string, now time.Time) (*domain.PlaybookExecution, error) {
	exec := &domain.PlaybookExecution{
		ID:          uuid.New().String(),
		PlaybookID:  pb.ID,
		MemberID:    member.ID,
		Status:      domain.ExecutionSkipped,
		SkipReason:  reason,
		Context:     trigCtx,
		TriggeredAt: now,
		ProcessedAt: &now,
	}
	if err := s.repo.InsertExecution(ctx, exec, bucket); err != nil {
		return nil, fmt.Errorf("record skip: %w", err)
	}
	s.publish(ctx, *exec)
	return exec, nil
}

// releasePending transitions an orphaned pending execution to skipped when an
// infrastructure failure aborts the trigger after the insert. A pending row
// occupies its throttle bucket, so without the release a retry of the same
// member would collide with the orphan and be recorded as throttled. The
// release is best effort; the original error still propagates to the caller.
func (s *Service) releasePending(ctx context.Context, exec *domain.PlaybookExecution, cause error) {
	outcome, _ := json.Marshal(map[string]string{"error": cause.Error()})
	if err := s.repo.UpdateExecution(ctx, exec.ID, ExecutionUpdate{
		Status:      domain.ExecutionSkipped,
		SkipReason:  domain.SkipInfraError,
		Outcome:     outcome,
		ProcessedAt: time.Now().UTC(),
	}); err != nil {
		log.Printf("[playbook.Service] Release pending execution %s failed: %v", exec.ID, err)
	}
}

// finishSkip transitions an already-inserted pending execution to skipped.
func (s *Service) finishSkip(ctx context.Context, exec *domain.PlaybookExecution, reason domain.SkipReason, now time.Time) error {
	if err := s.repo.UpdateExecution(ctx, exec.ID, ExecutionUpdate{
		Status:      domain.ExecutionSkipped,
		SkipReason:  reason,
		ProcessedAt: now,
	}); err != nil {
		return fmt.Errorf("mark execution skipped: %w", err)
	}
	exec.Status = domain.ExecutionSkipped
	exec.SkipReason = reason
	exec.ProcessedAt = &now
	s.publish(ctx, *exec)
	return nil
}

func (s *Service) publish(ctx context.Context, exec domain.PlaybookExecution) {
	if s.audit != nil {
		s.audit.ExecutionRecorded(ctx, exec)
	}
}

// throttleBucket maps "now" to a fixed window index for the playbook's
// throttle interval. Two non-skipped executions in the same bucket for the
// same (playbook, member) violate the dedup constraint.
func throttleBucket(pb domain.Playbook, now time.Time) string {
	window := int64(pb.Throttle.WindowDays()) * 86400
	return fmt.Sprintf("%d", now.Unix()/window)
}

func templateVars(m domain.Member) map[string]any {
	return map[string]any{
		"first_name": m.FirstName,
		"last_name":  m.LastName,
		"member_id":  m.ID,
	}
}

// SweepResult summarizes one orchestrated trigger pass.
type SweepResult struct {
	Batch     *risk.BatchResult `json:"batch"`
	Evaluated int               `json:"evaluated"`
	Triggered int               `json:"triggered"`
	Skipped   int               `json:"skipped"`
}

// RecalculateAndTrigger recomputes one batch of the organization's scores and
// fires the active no_check_in playbook for every member whose new score
// crossed into the high band (critical included). Members already high on the
// previous cycle are not re-triggered here; the throttle window is the
// re-trigger cadence.
func (s *Service) RecalculateAndTrigger(ctx context.Context, orgID string, opts risk.BatchOptions) (*SweepResult, error) {
	batch, err := s.scores.CalculateForOrganization(ctx, orgID, opts)
	if err != nil {
		return nil, err
	}
	result := &SweepResult{Batch: batch}

	settings, err := s.scores.EffectiveSettings(ctx, orgID)
	if err != nil {
		return nil, err
	}
	highMin := settings.Bands.High.Min

	pb, err := s.repo.FindActive(ctx, orgID, domain.TriggerNoCheckIn)
	if errors.Is(err, ErrNotFound) {
		return result, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find active playbook: %w", err)
	}

	for _, upd := range batch.Scores {
		if upd.Score.Score < highMin {
			continue
		}
		if upd.Previous != nil && *upd.Previous >= highMin {
			continue
		}
		result.Evaluated++

		member, err := s.repo.GetMember(ctx, orgID, upd.Score.MemberID)
		if err != nil {
			log.Printf("[playbook.Service] Skipping trigger, member %s: %v", upd.Score.MemberID, err)
			continue
		}
		trigCtx, _ := json.Marshal(map[string]any{
			"trigger":        "risk_recalculation",
			"score":          upd.Score.Score,
			"previous_score": upd.Previous,
		})
		exec, err := s.trigger(ctx, *pb, *member, trigCtx)
		if err != nil {
			log.Printf("[playbook.Service] Trigger failed for member %s: %v", member.ID, err)
			continue
		}
		if exec.Status == domain.ExecutionSkipped {
			result.Skipped++
		} else {
			result.Triggered++
		}
	}

	log.Printf("[playbook.Service] Org %s: recalculate-and-trigger evaluated=%d triggered=%d skipped=%d",
		orgID, result.Evaluated, result.Triggered, result.Skipped)
	return result, nil
}

// TriggerForRecentCancels fires the active win_back playbook for members
// canceled within the trailing day count and returns the number of
// non-skipped triggers. A zero days value uses the playbook's configured
// win-back window.
func (s *Service) TriggerForRecentCancels(ctx context.Context, orgID string, days int) (int, error) {
	pb, err := s.repo.FindActive(ctx, orgID, domain.TriggerWinBack)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("find active playbook: %w", err)
	}
	if days <= 0 && pb.Trigger.WinBack != nil {
		days = pb.Trigger.WinBack.Days
	}
	if days <= 0 {
		days = 30
	}

	since := time.Now().UTC().AddDate(0, 0, -days)
	members, err := s.repo.ListRecentCancels(ctx, orgID, since)
	if err != nil {
		return 0, fmt.Errorf("list recent cancels: %w", err)
	}

	triggered := 0
	for _, m := range members {
		trigCtx, _ := json.Marshal(map[string]any{"trigger": "win_back_sweep", "days": days})
		exec, err := s.trigger(ctx, *pb, m, trigCtx)
		if err != nil {
			log.Printf("[playbook.Service] Win-back trigger failed for member %s: %v", m.ID, err)
			continue
		}
		if exec.Status != domain.ExecutionSkipped {
			triggered++
		}
	}
	return triggered, nil
}

// ResolveFreeze stamps a freeze request resolved and fires the active
// freeze_request playbook for the member, if one exists. The returned
// execution is nil when no freeze playbook is active.
func (s *Service) ResolveFreeze(ctx context.Context, orgID, freezeID string) (*domain.PlaybookExecution, error) {
	fr, err := s.repo.GetFreezeRequest(ctx, orgID, freezeID)
	if err != nil {
		return nil, err
	}
	if fr.ResolvedAt != nil {
		return nil, fmt.Errorf("%w: freeze request already resolved", ErrInvalidTransition)
	}

	now := time.Now().UTC()
	if err := s.repo.ResolveFreezeRequest(ctx, orgID, freezeID, now); err != nil {
		return nil, fmt.Errorf("resolve freeze request: %w", err)
	}

	pb, err := s.repo.FindActive(ctx, orgID, domain.TriggerFreezeRequest)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find active playbook: %w", err)
	}

	member, err := s.repo.GetMember(ctx, orgID, fr.MemberID)
	if err != nil {
		return nil, err
	}
	trigCtx, _ := json.Marshal(map[string]any{"trigger": "freeze_resolved", "freeze_request_id": freezeID})
	return s.trigger(ctx, *pb, *member, trigCtx)
}
