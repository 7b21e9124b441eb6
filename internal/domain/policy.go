package domain

// TimezoneStrategy picks the timezone quiet hours are evaluated in.
type TimezoneStrategy string

const (
	TimezoneMemberPreference TimezoneStrategy = "member_preference"
	TimezoneOrganization     TimezoneStrategy = "organization"
)

// CommunicationPolicy is the organization-wide send policy. Singleton per
// organization; engine defaults apply when absent.
type CommunicationPolicy struct {
	OrganizationID      string           `json:"organization_id" db:"organization_id"`
	QuietHoursStart     MinuteOfDay      `json:"quiet_hours_start" db:"quiet_hours_start"`
	QuietHoursEnd       MinuteOfDay      `json:"quiet_hours_end" db:"quiet_hours_end"`
	DailySendCap        int              `json:"daily_send_cap" db:"daily_send_cap"`
	WeeklySendCap       int              `json:"weekly_send_cap" db:"weekly_send_cap"`
	TimezoneStrategy    TimezoneStrategy `json:"timezone_strategy" db:"timezone_strategy"`
	EnforceStopKeywords bool             `json:"enforce_stop_keywords" db:"enforce_stop_keywords"`
}

// DefaultCommunicationPolicy returns the engine defaults: quiet 21:00-08:00,
// 3 sends per day, 12 per week.
func DefaultCommunicationPolicy(orgID string) CommunicationPolicy {
	return CommunicationPolicy{
		OrganizationID:      orgID,
		QuietHoursStart:     21 * 60,
		QuietHoursEnd:       8 * 60,
		DailySendCap:        3,
		WeeklySendCap:       12,
		TimezoneStrategy:    TimezoneMemberPreference,
		EnforceStopKeywords: true,
	}
}

// OptOutScope distinguishes a single member's opt-out from an
// organization-wide channel shutoff.
type OptOutScope string

const (
	OptOutMember       OptOutScope = "member"
	OptOutOrganization OptOutScope = "organization"
)

// CommunicationOptOut records that a member (or the whole organization) must
// not be contacted on a channel.
type CommunicationOptOut struct {
	ID             string      `json:"id" db:"id"`
	OrganizationID string      `json:"organization_id" db:"organization_id"`
	MemberID       string      `json:"member_id" db:"member_id"`
	Channel        Channel     `json:"channel" db:"channel"`
	Scope          OptOutScope `json:"scope" db:"scope"`
}
