package models

import "time"

// ReportType enumerates exception report categories.
type ReportType string

const (
	ReportTypeAbsence       ReportType = "absence"
	ReportTypeLate          ReportType = "late"
	ReportTypeEarlyLeave    ReportType = "early_leave"
	ReportTypeSickLeave     ReportType = "sick_leave"
	ReportTypeOfficialLeave ReportType = "official_leave"
)

// Valid returns true when the type is a supported value.
func (t ReportType) Valid() bool {
	switch t {
	case ReportTypeAbsence, ReportTypeLate, ReportTypeEarlyLeave, ReportTypeSickLeave, ReportTypeOfficialLeave:
		return true
	default:
		return false
	}
}

// ReportStatus captures the workflow state of an exception report.
type ReportStatus string

const (
	ReportStatusPending  ReportStatus = "pending"
	ReportStatusApproved ReportStatus = "approved"
	ReportStatusRejected ReportStatus = "rejected"
)

// ReportAction is a processing decision on a pending report.
type ReportAction string

const (
	ReportActionApprove ReportAction = "approve"
	ReportActionReject  ReportAction = "reject"
)

// ExceptionReport explains or overrides a day's attendance outcome. Reports
// are immutable once approved or rejected, except for the processor's note.
// A partial unique index on (student_id, date, type) WHERE NOT correction
// dedupes submissions while letting admin corrections stack audit rows.
type ExceptionReport struct {
	ID            string       `db:"id" json:"id"`
	StudentID     string       `db:"student_id" json:"student_id"`
	Date          time.Time    `db:"date" json:"date"`
	Type          ReportType   `db:"type" json:"type"`
	Reason        string       `db:"reason" json:"reason"`
	Status        ReportStatus `db:"status" json:"status"`
	SubmittedAt   time.Time    `db:"submitted_at" json:"submitted_at"`
	ProcessedAt   *time.Time   `db:"processed_at" json:"processed_at,omitempty"`
	ProcessedBy   *string      `db:"processed_by" json:"processed_by,omitempty"`
	ResponseNote  *string      `db:"response_note" json:"response_note,omitempty"`
	AdminCreated  bool         `db:"admin_created" json:"admin_created"`
	Correction    bool         `db:"correction" json:"correction"`
	AttachmentURL *string      `db:"attachment_url" json:"attachment_url,omitempty"`
}

// ExceptionReportDetail extends a report with roster metadata.
type ExceptionReportDetail struct {
	ExceptionReport
	StudentName string `db:"student_name" json:"student_name"`
	Grade       int    `db:"grade" json:"grade"`
	Section     string `db:"section" json:"section"`
}

// ReportFilter scopes report listings.
type ReportFilter struct {
	StudentID string
	Status    *ReportStatus
	Type      *ReportType
	DateFrom  *time.Time
	DateTo    *time.Time
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
