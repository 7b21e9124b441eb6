package domain

import (
	"fmt"
	"time"
)

// MinuteOfDay is a time-of-day expressed as minutes after midnight [0, 1440).
// Quiet-hour windows are pairs of these; a window may wrap midnight.
type MinuteOfDay int

// ParseMinuteOfDay parses "HH:MM" into a MinuteOfDay.
func ParseMinuteOfDay(s string) (MinuteOfDay, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	return MinuteOfDay(h*60 + m), nil
}

// MinuteOfDayFrom extracts the minute-of-day from a wall-clock time in its
// own location.
func MinuteOfDayFrom(t time.Time) MinuteOfDay {
	return MinuteOfDay(t.Hour()*60 + t.Minute())
}

// String formats the value as "HH:MM".
func (m MinuteOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(m)/60, int(m)%60)
}
