package domain

import "fmt"

// BandRange is an inclusive [Min, Max] score range for one risk band.
type BandRange struct {
	Min int `json:"min" yaml:"min"`
	Max int `json:"max" yaml:"max"`
}

// Contains reports whether score falls inside the band (inclusive both ends).
func (b BandRange) Contains(score int) bool {
	return score >= b.Min && score <= b.Max
}

// RiskBands holds the named score ranges an organization uses to bucket
// members. The engine does not enforce that bands are contiguous or
// non-overlapping; that is the caller's responsibility at save time.
type RiskBands struct {
	Low      BandRange `json:"low" yaml:"low"`
	Medium   BandRange `json:"medium" yaml:"medium"`
	High     BandRange `json:"high" yaml:"high"`
	Critical BandRange `json:"critical" yaml:"critical"`
}

// MissedBookingsThreshold flags members with Count or more no-show bookings
// within the trailing WindowDays.
type MissedBookingsThreshold struct {
	Count      int `json:"count" yaml:"count"`
	WindowDays int `json:"window_days" yaml:"window_days"`
}

// BillingRisk flags members with an overdue payment older than OverdueDays.
type BillingRisk struct {
	OverdueDays int `json:"overdue_days" yaml:"overdue_days"`
}

// SignalWeights are the points each triggered signal contributes. Inactivity
// and never-checked-in share one bucket and are never additive.
type SignalWeights struct {
	Inactivity     int `json:"inactivity" yaml:"inactivity"`
	MissedBookings int `json:"missed_bookings" yaml:"missed_bookings"`
	BillingOverdue int `json:"billing_overdue" yaml:"billing_overdue"`
	FreezePending  int `json:"freeze_pending" yaml:"freeze_pending"`
}

// RetentionSettings is the organization-scoped risk configuration. Missing
// organization settings silently fall back to DefaultRetentionSettings.
type RetentionSettings struct {
	OrganizationID  string                  `json:"organization_id" db:"organization_id"`
	Bands           RiskBands               `json:"risk_bands" db:"risk_bands"`
	StreakBreakDays int                     `json:"streak_break_days" db:"streak_break_days"`
	MissedBookings  MissedBookingsThreshold `json:"missed_bookings_threshold" db:"missed_bookings_threshold"`
	Billing         BillingRisk             `json:"billing_risk" db:"billing_risk"`
	Weights         SignalWeights           `json:"signal_weights" db:"signal_weights"`
}

// DefaultRetentionSettings returns the engine defaults used when an
// organization has not customized its thresholds.
func DefaultRetentionSettings(orgID string) RetentionSettings {
	return RetentionSettings{
		OrganizationID:  orgID,
		StreakBreakDays: 14,
		Bands: RiskBands{
			Low:      BandRange{Min: 0, Max: 30},
			Medium:   BandRange{Min: 31, Max: 60},
			High:     BandRange{Min: 61, Max: 80},
			Critical: BandRange{Min: 81, Max: 100},
		},
		MissedBookings: MissedBookingsThreshold{Count: 2, WindowDays: 30},
		Billing:        BillingRisk{OverdueDays: 7},
		Weights: SignalWeights{
			Inactivity:     35,
			MissedBookings: 25,
			BillingOverdue: 30,
			FreezePending:  10,
		},
	}
}

// Validate checks that the settings are usable for a scoring pass. Invalid
// configuration fails only the computation that uses it, never a whole batch.
func (s RetentionSettings) Validate() error {
	if s.StreakBreakDays <= 0 {
		return fmt.Errorf("streak_break_days must be positive, got %d", s.StreakBreakDays)
	}
	if s.MissedBookings.Count <= 0 || s.MissedBookings.WindowDays <= 0 {
		return fmt.Errorf("missed_bookings_threshold must have positive count and window")
	}
	if s.Billing.OverdueDays < 0 {
		return fmt.Errorf("billing_risk.overdue_days must not be negative")
	}
	for _, b := range []BandRange{s.Bands.Low, s.Bands.Medium, s.Bands.High, s.Bands.Critical} {
		if b.Min < 0 || b.Max > 100 || b.Min > b.Max {
			return fmt.Errorf("risk band [%d,%d] outside valid range", b.Min, b.Max)
		}
	}
	return nil
}
