package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitflow/retention/internal/domain"
)

func mustMinute(t *testing.T, s string) domain.MinuteOfDay {
	t.Helper()
	m, err := domain.ParseMinuteOfDay(s)
	require.NoError(t, err)
	return m
}

func localAt(t *testing.T, clock string) time.Time {
	t.Helper()
	m := mustMinute(t, clock)
	return time.Date(2026, 3, 10, int(m)/60, int(m)%60, 0, 0, time.UTC)
}

func TestIsWithinQuietHours_WrappingWindow(t *testing.T) {
	p := EffectivePolicy{
		QuietStart: mustMinute(t, "21:00"),
		QuietEnd:   mustMinute(t, "08:00"),
	}

	tests := []struct {
		clock string
		quiet bool
	}{
		{"23:30", true},
		{"00:00", true},
		{"07:59", true},
		{"21:00", true},
		{"08:00", false},
		{"12:00", false},
		{"20:59", false},
	}

	for _, tt := range tests {
		t.Run(tt.clock, func(t *testing.T) {
			assert.Equal(t, tt.quiet, IsWithinQuietHours(p, localAt(t, tt.clock)))
		})
	}
}

func TestIsWithinQuietHours_NonWrappingWindow(t *testing.T) {
	p := EffectivePolicy{
		QuietStart: mustMinute(t, "09:00"),
		QuietEnd:   mustMinute(t, "17:00"),
	}

	tests := []struct {
		clock string
		quiet bool
	}{
		{"12:00", true},
		{"09:00", true},
		{"08:59", false},
		{"17:00", false},
	}

	for _, tt := range tests {
		t.Run(tt.clock, func(t *testing.T) {
			assert.Equal(t, tt.quiet, IsWithinQuietHours(p, localAt(t, tt.clock)))
		})
	}
}

func TestQuietWindowEnd(t *testing.T) {
	p := EffectivePolicy{
		QuietStart: mustMinute(t, "21:00"),
		QuietEnd:   mustMinute(t, "08:00"),
	}

	// Late evening: quiet ends tomorrow morning.
	now := localAt(t, "23:30")
	end := QuietWindowEnd(p, now)
	assert.Equal(t, 8, end.Hour())
	assert.Equal(t, now.Day()+1, end.Day())

	// Early morning: quiet ends later the same day.
	now = localAt(t, "06:00")
	end = QuietWindowEnd(p, now)
	assert.Equal(t, 8, end.Hour())
	assert.Equal(t, now.Day(), end.Day())

	// Not quiet: unchanged.
	now = localAt(t, "12:00")
	assert.Equal(t, now, QuietWindowEnd(p, now))
}

func TestHasCapacityRemaining(t *testing.T) {
	p := EffectivePolicy{DailyCap: 3, WeeklyCap: 5}

	// Daily cap exhausted regardless of weekly count.
	assert.False(t, HasCapacityRemaining(p, 3, 0))

	// Weekly cap exhausted even with daily headroom.
	assert.False(t, HasCapacityRemaining(p, 2, 5))

	assert.True(t, HasCapacityRemaining(p, 2, 4))
	assert.True(t, HasCapacityRemaining(p, 0, 0))
}

func TestResolveEffectivePolicy_Defaults(t *testing.T) {
	org := domain.Organization{ID: "org-1", PrimaryTimezone: "America/Chicago"}
	member := domain.Member{ID: "m-1", OrganizationID: "org-1"}

	eff := ResolveEffectivePolicy(org, nil, nil, member)

	assert.Equal(t, mustMinute(t, "21:00"), eff.QuietStart)
	assert.Equal(t, mustMinute(t, "08:00"), eff.QuietEnd)
	assert.Equal(t, 3, eff.DailyCap)
	assert.Equal(t, 12, eff.WeeklyCap)
	assert.True(t, eff.EnforceStopKeywords)
	// member_preference with no member timezone falls back to the org.
	assert.Equal(t, "America/Chicago", eff.Timezone)
}

func TestResolveEffectivePolicy_MemberOverridesFieldByField(t *testing.T) {
	org := domain.Organization{ID: "org-1", PrimaryTimezone: "America/Chicago"}
	orgPolicy := domain.DefaultCommunicationPolicy("org-1")

	start := mustMinute(t, "22:30")
	daily := 1
	member := domain.Member{
		ID:                 "m-1",
		QuietHoursOverride: true,
		QuietHoursStart:    &start,
		DailySendCap:       &daily,
		Timezone:           "Europe/Berlin",
	}

	eff := ResolveEffectivePolicy(org, &orgPolicy, nil, member)

	// Overridden fields win; unset fields fall back to the org policy.
	assert.Equal(t, start, eff.QuietStart)
	assert.Equal(t, orgPolicy.QuietHoursEnd, eff.QuietEnd)
	assert.Equal(t, 1, eff.DailyCap)
	assert.Equal(t, orgPolicy.WeeklySendCap, eff.WeeklyCap)
	assert.Equal(t, "Europe/Berlin", eff.Timezone)
}

func TestResolveEffectivePolicy_OverrideFlagOffIgnoresMemberFields(t *testing.T) {
	org := domain.Organization{ID: "org-1", PrimaryTimezone: "America/Chicago"}
	orgPolicy := domain.DefaultCommunicationPolicy("org-1")

	start := mustMinute(t, "22:30")
	member := domain.Member{
		ID:              "m-1",
		QuietHoursStart: &start, // set but override flag is off
	}

	eff := ResolveEffectivePolicy(org, &orgPolicy, nil, member)
	assert.Equal(t, orgPolicy.QuietHoursStart, eff.QuietStart)
}

func TestResolveEffectivePolicy_OrganizationTimezoneStrategy(t *testing.T) {
	org := domain.Organization{ID: "org-1", PrimaryTimezone: "America/Denver"}
	orgPolicy := domain.DefaultCommunicationPolicy("org-1")
	orgPolicy.TimezoneStrategy = domain.TimezoneOrganization

	member := domain.Member{ID: "m-1", Timezone: "Asia/Tokyo"}

	eff := ResolveEffectivePolicy(org, &orgPolicy, nil, member)
	assert.Equal(t, "America/Denver", eff.Timezone)
}

func TestResolveEffectivePolicy_PlaybookQuietOverride(t *testing.T) {
	org := domain.Organization{ID: "org-1", PrimaryTimezone: "UTC"}
	orgPolicy := domain.DefaultCommunicationPolicy("org-1")

	start := mustMinute(t, "20:00")
	end := mustMinute(t, "10:00")
	pb := domain.Playbook{QuietHoursStart: &start, QuietHoursEnd: &end}

	eff := ResolveEffectivePolicy(org, &orgPolicy, &pb, domain.Member{ID: "m-1"})
	assert.Equal(t, start, eff.QuietStart)
	assert.Equal(t, end, eff.QuietEnd)
}

func TestIsOptedOut(t *testing.T) {
	p := EffectivePolicy{EnforceStopKeywords: true}
	member := domain.Member{ID: "m-1"}

	optOuts := []domain.CommunicationOptOut{
		{MemberID: "m-1", Channel: domain.ChannelSMS, Scope: domain.OptOutMember},
	}

	assert.True(t, IsOptedOut(p, member, domain.ChannelSMS, optOuts))
	assert.False(t, IsOptedOut(p, member, domain.ChannelEmail, optOuts))

	other := domain.Member{ID: "m-2"}
	assert.False(t, IsOptedOut(p, other, domain.ChannelSMS, optOuts))

	// Organization-wide shutoff blocks everyone on that channel.
	orgWide := []domain.CommunicationOptOut{
		{Channel: domain.ChannelEmail, Scope: domain.OptOutOrganization},
	}
	assert.True(t, IsOptedOut(p, other, domain.ChannelEmail, orgWide))
}

func TestIsOptedOut_StopKeywordEscapeHatch(t *testing.T) {
	// enforce_stop_keywords=false disables the check entirely for SMS.
	p := EffectivePolicy{EnforceStopKeywords: false}
	member := domain.Member{ID: "m-1"}
	optOuts := []domain.CommunicationOptOut{
		{MemberID: "m-1", Channel: domain.ChannelSMS, Scope: domain.OptOutMember},
		{MemberID: "m-1", Channel: domain.ChannelEmail, Scope: domain.OptOutMember},
	}

	assert.False(t, IsOptedOut(p, member, domain.ChannelSMS, optOuts))
	// Email opt-outs still apply.
	assert.True(t, IsOptedOut(p, member, domain.ChannelEmail, optOuts))
}
