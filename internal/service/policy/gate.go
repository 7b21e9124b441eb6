package policy

import (
	"time"

	"github.com/fitflow/retention/internal/domain"
)

// EffectivePolicy is the fully-resolved send policy for one member: quiet
// window, caps, and the timezone quiet hours are evaluated in. It is always
// complete; resolution falls back to engine defaults when the organization
// has no policy configured.
type EffectivePolicy struct {
	QuietStart          domain.MinuteOfDay
	QuietEnd            domain.MinuteOfDay
	DailyCap            int
	WeeklyCap           int
	Timezone            string
	EnforceStopKeywords bool
}

// ResolveEffectivePolicy merges the organization policy, an optional playbook
// quiet-hour override, and the member's per-field overrides into one
// EffectivePolicy.
//
// Precedence for quiet hours and caps: member override (when
// member.QuietHoursOverride is set, field by field) > playbook quiet-hour
// override > organization policy > engine defaults. Timezone follows the
// organization's strategy: the member's own timezone when the strategy is
// member_preference and the member has one, else the organization's primary
// timezone.
func ResolveEffectivePolicy(org domain.Organization, orgPolicy *domain.CommunicationPolicy, pb *domain.Playbook, member domain.Member) EffectivePolicy {
	base := domain.DefaultCommunicationPolicy(org.ID)
	if orgPolicy != nil {
		base = *orgPolicy
	}

	eff := EffectivePolicy{
		QuietStart:          base.QuietHoursStart,
		QuietEnd:            base.QuietHoursEnd,
		DailyCap:            base.DailySendCap,
		WeeklyCap:           base.WeeklySendCap,
		EnforceStopKeywords: base.EnforceStopKeywords,
	}

	if pb != nil && pb.QuietHoursStart != nil && pb.QuietHoursEnd != nil {
		eff.QuietStart = *pb.QuietHoursStart
		eff.QuietEnd = *pb.QuietHoursEnd
	}

	if member.QuietHoursOverride {
		if member.QuietHoursStart != nil {
			eff.QuietStart = *member.QuietHoursStart
		}
		if member.QuietHoursEnd != nil {
			eff.QuietEnd = *member.QuietHoursEnd
		}
		if member.DailySendCap != nil {
			eff.DailyCap = *member.DailySendCap
		}
		if member.WeeklySendCap != nil {
			eff.WeeklyCap = *member.WeeklySendCap
		}
	}

	eff.Timezone = org.PrimaryTimezone
	if base.TimezoneStrategy == domain.TimezoneMemberPreference && member.Timezone != "" {
		eff.Timezone = member.Timezone
	}
	if eff.Timezone == "" {
		eff.Timezone = "UTC"
	}

	return eff
}

// Localize converts a wall-clock instant into the policy's timezone. An
// unknown timezone name falls back to UTC rather than failing the send
// decision.
func (p EffectivePolicy) Localize(now time.Time) time.Time {
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return now.UTC()
	}
	return now.In(loc)
}

// IsWithinQuietHours reports whether the localized instant falls inside the
// quiet window. The window may wrap midnight: for start < end the quiet
// range is [start, end); for start >= end it is [start, 24h) ∪ [0, end).
func IsWithinQuietHours(p EffectivePolicy, nowLocal time.Time) bool {
	t := domain.MinuteOfDayFrom(nowLocal)
	if p.QuietStart < p.QuietEnd {
		return t >= p.QuietStart && t < p.QuietEnd
	}
	return t >= p.QuietStart || t < p.QuietEnd
}

// QuietWindowEnd returns the next instant the quiet window ends, in the
// localized instant's location. Used to defer a message rather than drop it.
// If the instant is not quiet, it is returned unchanged.
func QuietWindowEnd(p EffectivePolicy, nowLocal time.Time) time.Time {
	if !IsWithinQuietHours(p, nowLocal) {
		return nowLocal
	}
	end := time.Date(nowLocal.Year(), nowLocal.Month(), nowLocal.Day(),
		int(p.QuietEnd)/60, int(p.QuietEnd)%60, 0, 0, nowLocal.Location())
	if !end.After(nowLocal) {
		end = end.Add(24 * time.Hour)
	}
	return end
}

// HasCapacityRemaining reports whether both the daily and weekly caps still
// have headroom. The counts are supplied by the caller.
func HasCapacityRemaining(p EffectivePolicy, sentToday, sentThisWeek int) bool {
	return sentToday < p.DailyCap && sentThisWeek < p.WeeklyCap
}

// IsOptedOut reports whether any opt-out record blocks the member on the
// channel: either the member's own opt-out or an organization-wide channel
// shutoff. When the policy disables stop-keyword enforcement, SMS opt-outs
// are ignored entirely (explicit escape hatch).
func IsOptedOut(p EffectivePolicy, member domain.Member, channel domain.Channel, optOuts []domain.CommunicationOptOut) bool {
	if channel == domain.ChannelSMS && !p.EnforceStopKeywords {
		return false
	}
	for _, o := range optOuts {
		if o.Channel != channel {
			continue
		}
		if o.Scope == domain.OptOutOrganization {
			return true
		}
		if o.MemberID == member.ID {
			return true
		}
	}
	return false
}
