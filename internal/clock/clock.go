// Package clock implements fixed-offset wall-clock arithmetic.
//
// Both scheduling paths (job materialization and the delivery sweep) compute
// fire instants through this package, never through their own math, so the
// two can never disagree about when a reminder is due. Timezones are modeled
// as a signed minute offset from UTC, not an IANA zone: the surrounding
// tracker stores a per-user offset and nothing more.
package clock

import (
	"fmt"
	"time"
)

const (
	// Offsets outside UTC-14..UTC+14 do not exist in the wild.
	MinOffsetMinutes = -14 * 60
	MaxOffsetMinutes = 14 * 60

	dayKeyLayout = "2006-01-02"
)

// ValidOffset reports whether m is a plausible UTC offset in minutes.
func ValidOffset(m int) bool {
	return m >= MinOffsetMinutes && m <= MaxOffsetMinutes
}

// IsDayKey reports whether s is a calendar day key ("2006-01-02").
// Week/month/year scope keys fail this check.
func IsDayKey(s string) bool {
	_, err := time.Parse(dayKeyLayout, s)
	return err == nil
}

// LocalMidnight returns the absolute instant of 00:00 local wall clock on
// dayKey under the given offset.
func LocalMidnight(dayKey string, offsetMinutes int) (time.Time, error) {
	if !ValidOffset(offsetMinutes) {
		return time.Time{}, fmt.Errorf("offset %d out of range", offsetMinutes)
	}
	d, err := time.Parse(dayKeyLayout, dayKey)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad day key %q: %w", dayKey, err)
	}
	return d.Add(-time.Duration(offsetMinutes) * time.Minute), nil
}

// FireInstant returns the absolute instant of minuteOfDay local wall clock
// on dayKey. minuteOfDay must be in 0..1439.
func FireInstant(dayKey string, offsetMinutes, minuteOfDay int) (time.Time, error) {
	if minuteOfDay < 0 || minuteOfDay > 1439 {
		return time.Time{}, fmt.Errorf("minute of day %d out of range", minuteOfDay)
	}
	midnight, err := LocalMidnight(dayKey, offsetMinutes)
	if err != nil {
		return time.Time{}, err
	}
	return midnight.Add(time.Duration(minuteOfDay) * time.Minute), nil
}

// DayKey returns the calendar day the instant falls on for an owner at the
// given offset. Inverse of LocalMidnight.
func DayKey(at time.Time, offsetMinutes int) string {
	return at.UTC().Add(time.Duration(offsetMinutes) * time.Minute).Format(dayKeyLayout)
}

// WeekKey returns the ISO week key ("2024-W11") the instant falls in.
func WeekKey(at time.Time, offsetMinutes int) string {
	local := at.UTC().Add(time.Duration(offsetMinutes) * time.Minute)
	year, week := local.ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}

// MonthKey returns the month key ("2024-03") the instant falls in.
func MonthKey(at time.Time, offsetMinutes int) string {
	return at.UTC().Add(time.Duration(offsetMinutes) * time.Minute).Format("2006-01")
}

// YearKey returns the year key ("2024") the instant falls in.
func YearKey(at time.Time, offsetMinutes int) string {
	return at.UTC().Add(time.Duration(offsetMinutes) * time.Minute).Format("2006")
}

// AddDays shifts a day key by n calendar days.
func AddDays(dayKey string, n int) (string, error) {
	d, err := time.Parse(dayKeyLayout, dayKey)
	if err != nil {
		return "", fmt.Errorf("bad day key %q: %w", dayKey, err)
	}
	return d.AddDate(0, 0, n).Format(dayKeyLayout), nil
}

// MinuteLabel renders a minute-of-day as "HH:MM" for notification text.
func MinuteLabel(minuteOfDay int) string {
	if minuteOfDay < 0 {
		minuteOfDay = 0
	}
	return fmt.Sprintf("%02d:%02d", (minuteOfDay/60)%24, minuteOfDay%60)
}
