package models

import (
	"fmt"
	"time"
)

// AttendancePolicy is one row of the append-only policy log. At most one row
// is active at any instant; superseded rows are never mutated so historical
// check-ins stay classified under the rules in force when they were written.
type AttendancePolicy struct {
	ID            string    `db:"id" json:"id"`
	StartTime     string    `db:"start_time" json:"start_time"`
	LateThreshold string    `db:"late_threshold" json:"late_threshold"`
	EndTime       string    `db:"end_time" json:"end_time"`
	IsActive      bool      `db:"is_active" json:"is_active"`
	CreatedBy     *string   `db:"created_by" json:"created_by,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// Classify maps a wall-clock check-in time to on_time or late. Times past
// the policy end are still accepted and classified late; the end time is
// informational for clients only.
func (p AttendancePolicy) Classify(clock string) AttendanceStatus {
	if clock < p.LateThreshold {
		return AttendanceStatusOnTime
	}
	return AttendanceStatusLate
}

const clockLayout = "15:04:05"

// NormalizeClock expands HH:MM to HH:MM:SS and validates the result as a
// wall-clock time. Fixed-width HH:MM:SS strings compare correctly with plain
// string ordering, which is what Classify relies on.
func NormalizeClock(raw string) (string, error) {
	if len(raw) == len("15:04") {
		raw += ":00"
	}
	parsed, err := time.Parse(clockLayout, raw)
	if err != nil {
		return "", fmt.Errorf("invalid clock time %q: %w", raw, err)
	}
	return parsed.Format(clockLayout), nil
}

// ClockOf extracts the HH:MM:SS component of a timestamp.
func ClockOf(ts time.Time) string {
	return ts.Format(clockLayout)
}

// DateOf truncates a timestamp to its calendar date in the timestamp's
// location.
func DateOf(ts time.Time) time.Time {
	return time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
}
