package risk

import (
	"fmt"
	"time"

	"github.com/fitflow/retention/internal/domain"
)

// Calculate scores one member from their signals. Pure: same signals, same
// settings, same now always produce the same score and reasons. Each signal
// contributes its full weight or nothing; the sum is clamped to [0,100].
func Calculate(sig domain.MemberSignals, settings domain.RetentionSettings, now time.Time) (int, []domain.RiskReason) {
	score := 0
	reasons := make([]domain.RiskReason, 0, 4)

	// Inactivity and never-checked-in share one weight bucket.
	if sig.LastCheckInAt != nil {
		days := daysBetween(*sig.LastCheckInAt, now)
		if days >= settings.StreakBreakDays {
			score += settings.Weights.Inactivity
			reasons = append(reasons, domain.RiskReason{
				Code:   domain.ReasonNoCheckIn,
				Detail: fmt.Sprintf("No check-in in %d days", days),
			})
		}
	} else if sig.TotalCheckIns == 0 && daysBetween(sig.JoinedAt, now) > settings.StreakBreakDays {
		score += settings.Weights.Inactivity
		reasons = append(reasons, domain.RiskReason{
			Code:   domain.ReasonNeverCheckedIn,
			Detail: fmt.Sprintf("No check-ins since joining %d days ago", daysBetween(sig.JoinedAt, now)),
		})
	}

	if sig.NoShowsInWindow >= settings.MissedBookings.Count {
		score += settings.Weights.MissedBookings
		reasons = append(reasons, domain.RiskReason{
			Code:   domain.ReasonMissedBookings,
			Detail: fmt.Sprintf("%d no-show bookings in the last %d days", sig.NoShowsInWindow, settings.MissedBookings.WindowDays),
		})
	}

	if p := sig.OverduePayment; p != nil && daysBetween(p.DueOn, now) > settings.Billing.OverdueDays {
		score += settings.Weights.BillingOverdue
		reasons = append(reasons, domain.RiskReason{
			Code:   domain.ReasonBillingOverdue,
			Detail: fmt.Sprintf("Payment overdue %d days", daysBetween(p.DueOn, now)),
		})
	}

	if sig.PendingFreeze {
		score += settings.Weights.FreezePending
		reasons = append(reasons, domain.RiskReason{
			Code:   domain.ReasonFreezePending,
			Detail: "Unresolved freeze request",
		})
	}

	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	return score, reasons
}

func daysBetween(from, to time.Time) int {
	d := int(to.Sub(from).Hours() / 24)
	if d < 0 {
		return 0
	}
	return d
}
