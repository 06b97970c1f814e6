package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/attendance-core-api/internal/models"
)

// ReportRepository persists exception reports. Submissions are deduplicated
// by the partial unique index on (student_id, date, type) WHERE NOT
// correction; admin corrections sit outside the index so their audit rows can
// stack.
type ReportRepository struct {
	db *sqlx.DB
}

// NewReportRepository constructs the repository.
func NewReportRepository(db *sqlx.DB) *ReportRepository {
	return &ReportRepository{db: db}
}

const reportColumns = `id, student_id, date, type, reason, status, submitted_at, processed_at, processed_by, response_note, admin_created, correction, attachment_url`

// Insert stores a submitted report. A duplicate (student, date, type)
// submission is suppressed by the constraint and surfaces as sql.ErrNoRows
// from the RETURNING clause; callers must treat that as the duplicate signal.
func (r *ReportRepository) Insert(ctx context.Context, report *models.ExceptionReport) (*models.ExceptionReport, error) {
	if report.ID == "" {
		report.ID = uuid.NewString()
	}
	if report.SubmittedAt.IsZero() {
		report.SubmittedAt = time.Now().UTC()
	}

	query := fmt.Sprintf(`INSERT INTO exception_reports (%s)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, FALSE, $12)
ON CONFLICT (student_id, date, type) WHERE NOT correction DO NOTHING
RETURNING %s`, reportColumns, reportColumns)

	var stored models.ExceptionReport
	err := r.db.GetContext(ctx, &stored, query,
		report.ID, report.StudentID, report.Date, report.Type, report.Reason, report.Status,
		report.SubmittedAt, report.ProcessedAt, report.ProcessedBy, report.ResponseNote,
		report.AdminCreated, report.AttachmentURL)
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

// InsertWithProjection stores an already-approved admin submission and
// applies its attendance projection in one transaction, with the same
// dedup semantics as Insert.
func (r *ReportRepository) InsertWithProjection(ctx context.Context, report *models.ExceptionReport, projection *models.AttendanceRecord) (*models.ExceptionReport, error) {
	if report.ID == "" {
		report.ID = uuid.NewString()
	}
	if report.SubmittedAt.IsZero() {
		report.SubmittedAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin report insert: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	query := fmt.Sprintf(`INSERT INTO exception_reports (%s)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, FALSE, $12)
ON CONFLICT (student_id, date, type) WHERE NOT correction DO NOTHING
RETURNING %s`, reportColumns, reportColumns)

	var stored models.ExceptionReport
	if err := tx.QueryRowxContext(ctx, query,
		report.ID, report.StudentID, report.Date, report.Type, report.Reason, report.Status,
		report.SubmittedAt, report.ProcessedAt, report.ProcessedBy, report.ResponseNote,
		report.AdminCreated, report.AttachmentURL).StructScan(&stored); err != nil {
		return nil, err
	}

	if projection != nil {
		if _, err := upsertAttendance(ctx, tx, projection); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit report insert: %w", err)
	}
	committed = true
	return &stored, nil
}

// GetByID fetches a report row.
func (r *ReportRepository) GetByID(ctx context.Context, id string) (*models.ExceptionReport, error) {
	query := fmt.Sprintf(`SELECT %s FROM exception_reports WHERE id = $1`, reportColumns)
	var report models.ExceptionReport
	if err := r.db.GetContext(ctx, &report, query, id); err != nil {
		return nil, err
	}
	return &report, nil
}

// Process transitions a pending report to its terminal status and, when a
// projection record is supplied, applies it to the attendance table inside
// the same transaction. The report can never end up approved with the record
// upsert lost, or vice versa. A non-pending report yields sql.ErrNoRows.
func (r *ReportRepository) Process(ctx context.Context, id string, status models.ReportStatus, processedBy string, note *string, projection *models.AttendanceRecord) (*models.ExceptionReport, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin report process: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	report, err := transitionReport(ctx, tx, id, status, processedBy, note)
	if err != nil {
		return nil, err
	}

	if projection != nil {
		if _, err := upsertAttendance(ctx, tx, projection); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit report process: %w", err)
	}
	committed = true
	return report, nil
}

// transitionReport is the pure state-transition step: pending in, terminal
// out, guarded by the status predicate so concurrent processors race safely.
func transitionReport(ctx context.Context, q sqlx.ExtContext, id string, status models.ReportStatus, processedBy string, note *string) (*models.ExceptionReport, error) {
	now := time.Now().UTC()
	query := fmt.Sprintf(`UPDATE exception_reports
SET status = $2, processed_at = $3, processed_by = $4, response_note = $5
WHERE id = $1 AND status = 'pending'
RETURNING %s`, reportColumns)

	var report models.ExceptionReport
	if err := q.QueryRowxContext(ctx, query, id, status, now, processedBy, note).StructScan(&report); err != nil {
		return nil, err
	}
	return &report, nil
}

// Correct atomically overwrites the attendance record and inserts the paired
// approved audit report. Correction rows bypass the submission dedup index by
// construction (correction = TRUE).
func (r *ReportRepository) Correct(ctx context.Context, record *models.AttendanceRecord, audit *models.ExceptionReport) (*models.AttendanceRecord, *models.ExceptionReport, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin correction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	storedRecord, err := upsertAttendance(ctx, tx, record)
	if err != nil {
		return nil, nil, err
	}

	if audit.ID == "" {
		audit.ID = uuid.NewString()
	}
	if audit.SubmittedAt.IsZero() {
		audit.SubmittedAt = time.Now().UTC()
	}
	query := fmt.Sprintf(`INSERT INTO exception_reports (%s)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, TRUE, TRUE, $11)
RETURNING %s`, reportColumns, reportColumns)
	var storedAudit models.ExceptionReport
	if err := tx.QueryRowxContext(ctx, query,
		audit.ID, audit.StudentID, audit.Date, audit.Type, audit.Reason, audit.Status,
		audit.SubmittedAt, audit.ProcessedAt, audit.ProcessedBy, audit.ResponseNote,
		audit.AttachmentURL).StructScan(&storedAudit); err != nil {
		return nil, nil, fmt.Errorf("insert correction audit: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit correction: %w", err)
	}
	committed = true
	return storedRecord, &storedAudit, nil
}

// List returns report rows matching the provided filter.
func (r *ReportRepository) List(ctx context.Context, filter models.ReportFilter) ([]models.ExceptionReportDetail, int, error) {
	base := `FROM exception_reports er
JOIN students s ON s.id = er.student_id`
	where := []string{"1=1"}
	args := []interface{}{}
	if filter.StudentID != "" {
		where = append(where, fmt.Sprintf("er.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.Status != nil {
		where = append(where, fmt.Sprintf("er.status = $%d", len(args)+1))
		args = append(args, *filter.Status)
	}
	if filter.Type != nil && filter.Type.Valid() {
		where = append(where, fmt.Sprintf("er.type = $%d", len(args)+1))
		args = append(args, *filter.Type)
	}
	if filter.DateFrom != nil {
		where = append(where, fmt.Sprintf("er.date >= $%d", len(args)+1))
		args = append(args, *filter.DateFrom)
	}
	if filter.DateTo != nil {
		where = append(where, fmt.Sprintf("er.date <= $%d", len(args)+1))
		args = append(args, *filter.DateTo)
	}
	whereClause := strings.Join(where, " AND ")

	allowedSort := map[string]string{
		"date":         "er.date",
		"submitted_at": "er.submitted_at",
		"status":       "er.status",
	}
	sortColumn, ok := allowedSort[filter.SortBy]
	if !ok {
		sortColumn = "er.submitted_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 200 {
		size = 50
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT er.id, er.student_id, er.date, er.type, er.reason, er.status, er.submitted_at,
        er.processed_at, er.processed_by, er.response_note, er.admin_created, er.correction, er.attachment_url,
        s.full_name AS student_name, s.grade, s.section
        %s WHERE %s
        ORDER BY %s %s
        LIMIT %d OFFSET %d`, base, whereClause, sortColumn, order, size, offset)

	var rows []models.ExceptionReportDetail
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list exception reports: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s WHERE %s", base, whereClause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count exception reports: %w", err)
	}
	return rows, total, nil
}
