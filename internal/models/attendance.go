package models

import "time"

// AttendanceStatus represents the settled status of a daily record.
type AttendanceStatus string

const (
	AttendanceStatusOnTime AttendanceStatus = "on_time"
	AttendanceStatusLate   AttendanceStatus = "late"
	AttendanceStatusAbsent AttendanceStatus = "absent"
)

// Valid returns true when the status is a supported value.
func (s AttendanceStatus) Valid() bool {
	switch s {
	case AttendanceStatusOnTime, AttendanceStatusLate, AttendanceStatusAbsent:
		return true
	default:
		return false
	}
}

// AttendanceRecord is the single row per (student, date). It is created by
// the check-in writer or synthesized by an absence approval, and mutated only
// by report approval or an audited admin correction.
type AttendanceRecord struct {
	ID          string           `db:"id" json:"id"`
	StudentID   string           `db:"student_id" json:"student_id"`
	Date        time.Time        `db:"date" json:"date"`
	CheckInTime *string          `db:"check_in_time" json:"check_in_time,omitempty"`
	Status      AttendanceStatus `db:"status" json:"status"`
	PolicyID    *string          `db:"policy_id" json:"policy_id,omitempty"`
	CreatedAt   time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time        `db:"updated_at" json:"updated_at"`
}

// AttendanceRecordDetail extends a record with roster metadata for listings.
type AttendanceRecordDetail struct {
	AttendanceRecord
	StudentName string `db:"student_name" json:"student_name"`
	Grade       int    `db:"grade" json:"grade"`
	Section     string `db:"section" json:"section"`
}

// AttendanceFilter defines listing query filters.
type AttendanceFilter struct {
	StudentID string
	Status    *AttendanceStatus
	DateFrom  *time.Time
	DateTo    *time.Time
	Grade     *int
	Section   string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// AttendanceHistoryRow captures one day of a student's history.
type AttendanceHistoryRow struct {
	Date        time.Time        `db:"date" json:"date"`
	CheckInTime *string          `db:"check_in_time" json:"check_in_time,omitempty"`
	Status      AttendanceStatus `db:"status" json:"status"`
}

// AttendanceDaySummary aggregates a day's roster into per-status counts.
type AttendanceDaySummary struct {
	Date       time.Time `json:"date"`
	Roster     int       `json:"roster"`
	OnTime     int       `json:"on_time"`
	Late       int       `json:"late"`
	Absent     int       `json:"absent"`
	Unresolved int       `json:"unresolved"`
}

// UnresolvedStudent is one reconciliation result row: a student whose day has
// no settled outcome. Status is absent when no record exists at all, late
// when a late record lacks a covering approved report.
type UnresolvedStudent struct {
	Student Student           `json:"student"`
	Status  AttendanceStatus  `json:"status"`
	Record  *AttendanceRecord `json:"record,omitempty"`
}
