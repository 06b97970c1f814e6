package models

import "time"

// HolidayKind categorises a non-attendance day.
type HolidayKind string

const (
	HolidayKindNational HolidayKind = "national"
	HolidayKindSchool   HolidayKind = "school"
	HolidayKindWeekend  HolidayKind = "weekend"
)

// HolidaySource records where a holiday row came from.
type HolidaySource string

const (
	HolidaySourceManual HolidaySource = "manual"
	HolidaySourceFeed   HolidaySource = "external-feed"
	HolidaySourceSystem HolidaySource = "system"
)

// Holiday is an explicit non-attendance date. Weekends may exist as
// materialized rows or be computed on the fly; the gate treats both the same.
type Holiday struct {
	ID        string        `db:"id" json:"id"`
	Date      time.Time     `db:"date" json:"date"`
	Name      string        `db:"name" json:"name"`
	Kind      HolidayKind   `db:"kind" json:"kind"`
	Source    HolidaySource `db:"source" json:"source"`
	IsActive  bool          `db:"is_active" json:"is_active"`
	CreatedAt time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt time.Time     `db:"updated_at" json:"updated_at"`
}

// HolidayCheck is the holiday gate's verdict for a date.
type HolidayCheck struct {
	Holiday bool        `json:"holiday"`
	Name    string      `json:"name,omitempty"`
	Kind    HolidayKind `json:"kind,omitempty"`
}
