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

// AttendanceRepository persists daily attendance records. The uniqueness
// constraint on (student_id, date) is the serialization point for concurrent
// check-ins; every write path here funnels through it.
type AttendanceRepository struct {
	db *sqlx.DB
}

// NewAttendanceRepository constructs the repository.
func NewAttendanceRepository(db *sqlx.DB) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

const attendanceColumns = `id, student_id, date, check_in_time, status, policy_id, created_at, updated_at`

// GetByStudentDate fetches the single record for a (student, date) pair, or
// sql.ErrNoRows when none exists.
func (r *AttendanceRepository) GetByStudentDate(ctx context.Context, studentID string, date time.Time) (*models.AttendanceRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM attendance_records WHERE student_id = $1 AND date = $2`, attendanceColumns)
	var record models.AttendanceRecord
	if err := r.db.GetContext(ctx, &record, query, studentID, date); err != nil {
		return nil, err
	}
	return &record, nil
}

// InsertCheckIn inserts a first-of-the-day record. A concurrent duplicate
// hits the (student_id, date) constraint and surfaces as sql.ErrNoRows from
// the conflict-suppressed RETURNING clause; callers must treat that as the
// authoritative duplicate signal, not as a missing row.
func (r *AttendanceRepository) InsertCheckIn(ctx context.Context, record *models.AttendanceRecord) (*models.AttendanceRecord, error) {
	now := time.Now().UTC()
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now

	query := fmt.Sprintf(`INSERT INTO attendance_records (%s)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (student_id, date) DO NOTHING
RETURNING %s`, attendanceColumns, attendanceColumns)

	var stored models.AttendanceRecord
	err := r.db.GetContext(ctx, &stored, query,
		record.ID, record.StudentID, record.Date, record.CheckInTime, record.Status, record.PolicyID, record.CreatedAt, record.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

// Upsert overwrites the record for (student, date) regardless of prior
// state. Reserved for the absence projection and admin corrections; the
// check-in path never calls it.
func (r *AttendanceRepository) Upsert(ctx context.Context, record *models.AttendanceRecord) (*models.AttendanceRecord, error) {
	return upsertAttendance(ctx, r.db, record)
}

// upsertAttendance is shared with the report workflow so the approval
// projection and correction writes can run inside the workflow transaction.
func upsertAttendance(ctx context.Context, q sqlx.ExtContext, record *models.AttendanceRecord) (*models.AttendanceRecord, error) {
	now := time.Now().UTC()
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now

	query := fmt.Sprintf(`INSERT INTO attendance_records (%s)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (student_id, date)
DO UPDATE SET status = EXCLUDED.status, check_in_time = EXCLUDED.check_in_time,
              policy_id = EXCLUDED.policy_id, updated_at = EXCLUDED.updated_at
RETURNING %s`, attendanceColumns, attendanceColumns)

	var stored models.AttendanceRecord
	if err := q.QueryRowxContext(ctx, query,
		record.ID, record.StudentID, record.Date, record.CheckInTime, record.Status, record.PolicyID, record.CreatedAt, record.UpdatedAt).StructScan(&stored); err != nil {
		return nil, fmt.Errorf("upsert attendance record: %w", err)
	}
	return &stored, nil
}

// List returns attendance rows matching the provided filter.
func (r *AttendanceRepository) List(ctx context.Context, filter models.AttendanceFilter) ([]models.AttendanceRecordDetail, int, error) {
	base := `FROM attendance_records ar
JOIN students s ON s.id = ar.student_id`
	where := []string{"1=1"}
	args := []interface{}{}
	if filter.StudentID != "" {
		where = append(where, fmt.Sprintf("ar.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.Status != nil && filter.Status.Valid() {
		where = append(where, fmt.Sprintf("ar.status = $%d", len(args)+1))
		args = append(args, *filter.Status)
	}
	if filter.DateFrom != nil {
		where = append(where, fmt.Sprintf("ar.date >= $%d", len(args)+1))
		args = append(args, *filter.DateFrom)
	}
	if filter.DateTo != nil {
		where = append(where, fmt.Sprintf("ar.date <= $%d", len(args)+1))
		args = append(args, *filter.DateTo)
	}
	if filter.Grade != nil {
		where = append(where, fmt.Sprintf("s.grade = $%d", len(args)+1))
		args = append(args, *filter.Grade)
	}
	if filter.Section != "" {
		where = append(where, fmt.Sprintf("s.section = $%d", len(args)+1))
		args = append(args, filter.Section)
	}
	whereClause := strings.Join(where, " AND ")

	allowedSort := map[string]string{
		"date":          "ar.date",
		"status":        "ar.status",
		"check_in_time": "ar.check_in_time",
	}
	sortColumn, ok := allowedSort[filter.SortBy]
	if !ok {
		sortColumn = "ar.date"
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

	query := fmt.Sprintf(`SELECT ar.id, ar.student_id, ar.date, ar.check_in_time, ar.status, ar.policy_id, ar.created_at, ar.updated_at,
        s.full_name AS student_name, s.grade, s.section
        %s WHERE %s
        ORDER BY %s %s
        LIMIT %d OFFSET %d`, base, whereClause, sortColumn, order, size, offset)

	var rows []models.AttendanceRecordDetail
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list attendance records: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s WHERE %s", base, whereClause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count attendance records: %w", err)
	}
	return rows, total, nil
}

// StudentHistory returns one student's records, newest first.
func (r *AttendanceRepository) StudentHistory(ctx context.Context, studentID string, from, to *time.Time) ([]models.AttendanceHistoryRow, error) {
	where := []string{"student_id = $1"}
	args := []interface{}{studentID}
	if from != nil {
		where = append(where, fmt.Sprintf("date >= $%d", len(args)+1))
		args = append(args, *from)
	}
	if to != nil {
		where = append(where, fmt.Sprintf("date <= $%d", len(args)+1))
		args = append(args, *to)
	}
	query := fmt.Sprintf(`SELECT date, check_in_time, status
FROM attendance_records
WHERE %s
ORDER BY date DESC`, strings.Join(where, " AND "))
	var rows []models.AttendanceHistoryRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("student attendance history: %w", err)
	}
	return rows, nil
}

func scopeClause(scope models.RosterScope, args *[]interface{}) string {
	clauses := []string{"s.active = TRUE"}
	if scope.Grade != nil {
		clauses = append(clauses, fmt.Sprintf("s.grade = $%d", len(*args)+1))
		*args = append(*args, *scope.Grade)
	}
	if scope.Section != "" {
		clauses = append(clauses, fmt.Sprintf("s.section = $%d", len(*args)+1))
		*args = append(*args, scope.Section)
	}
	return strings.Join(clauses, " AND ")
}

// Unresolved computes the students lacking a settled status for the date in
// a single statement, so the result is consistent as of query start. Coverage
// is type-sensitive: a student with no record is covered by any approved
// report (the absence projection rewrites the record on approval, so the
// record stays NULL only for leave types), but a late record is settled only
// by an approved late report. An approved official_leave alongside a late
// record leaves the late check-in itself unreviewed.
func (r *AttendanceRepository) Unresolved(ctx context.Context, date time.Time, scope models.RosterScope) ([]models.UnresolvedStudent, error) {
	args := []interface{}{date}
	scopeWhere := scopeClause(scope, &args)

	query := fmt.Sprintf(`SELECT s.id AS student_id, s.full_name, s.grade, s.section, s.seq_number,
        ar.id AS record_id, ar.check_in_time, ar.status AS record_status, ar.policy_id, ar.created_at, ar.updated_at
FROM students s
LEFT JOIN attendance_records ar ON ar.student_id = s.id AND ar.date = $1
WHERE %s
  AND ((ar.id IS NULL AND NOT EXISTS (
            SELECT 1 FROM exception_reports er
            WHERE er.student_id = s.id AND er.date = $1 AND er.status = 'approved'))
    OR (ar.status = 'late' AND NOT EXISTS (
            SELECT 1 FROM exception_reports er
            WHERE er.student_id = s.id AND er.date = $1 AND er.status = 'approved' AND er.type = 'late')))
ORDER BY s.grade ASC, s.section ASC, s.seq_number ASC`, scopeWhere)

	type unresolvedRow struct {
		StudentID    string                   `db:"student_id"`
		FullName     string                   `db:"full_name"`
		Grade        int                      `db:"grade"`
		Section      string                   `db:"section"`
		SeqNumber    int                      `db:"seq_number"`
		RecordID     *string                  `db:"record_id"`
		CheckInTime  *string                  `db:"check_in_time"`
		RecordStatus *models.AttendanceStatus `db:"record_status"`
		PolicyID     *string                  `db:"policy_id"`
		CreatedAt    *time.Time               `db:"created_at"`
		UpdatedAt    *time.Time               `db:"updated_at"`
	}

	var rows []unresolvedRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("unresolved attendance: %w", err)
	}

	result := make([]models.UnresolvedStudent, 0, len(rows))
	for _, row := range rows {
		entry := models.UnresolvedStudent{
			Student: models.Student{
				ID:        row.StudentID,
				FullName:  row.FullName,
				Grade:     row.Grade,
				Section:   row.Section,
				SeqNumber: row.SeqNumber,
				Active:    true,
			},
			Status: models.AttendanceStatusAbsent,
		}
		if row.RecordID != nil {
			entry.Status = models.AttendanceStatusLate
			record := &models.AttendanceRecord{
				ID:          *row.RecordID,
				StudentID:   row.StudentID,
				Date:        date,
				CheckInTime: row.CheckInTime,
				Status:      models.AttendanceStatusLate,
				PolicyID:    row.PolicyID,
			}
			if row.CreatedAt != nil {
				record.CreatedAt = *row.CreatedAt
			}
			if row.UpdatedAt != nil {
				record.UpdatedAt = *row.UpdatedAt
			}
			entry.Record = record
		}
		result = append(result, entry)
	}
	return result, nil
}

// DaySummary aggregates roster size, per-status counts and the unresolved
// count for a date.
func (r *AttendanceRepository) DaySummary(ctx context.Context, date time.Time, scope models.RosterScope) (*models.AttendanceDaySummary, error) {
	summary := &models.AttendanceDaySummary{Date: date}

	rosterArgs := []interface{}{}
	rosterWhere := scopeClause(scope, &rosterArgs)
	rosterQuery := fmt.Sprintf(`SELECT COUNT(*) FROM students s WHERE %s`, rosterWhere)
	if err := r.db.GetContext(ctx, &summary.Roster, rosterQuery, rosterArgs...); err != nil {
		return nil, fmt.Errorf("day summary roster: %w", err)
	}

	statusArgs := []interface{}{date}
	statusWhere := scopeClause(scope, &statusArgs)
	statusQuery := fmt.Sprintf(`SELECT ar.status, COUNT(*) AS cnt
FROM attendance_records ar
JOIN students s ON s.id = ar.student_id
WHERE ar.date = $1 AND %s
GROUP BY ar.status`, statusWhere)
	statusRows := []struct {
		Status models.AttendanceStatus `db:"status"`
		Count  int                     `db:"cnt"`
	}{}
	if err := r.db.SelectContext(ctx, &statusRows, statusQuery, statusArgs...); err != nil {
		return nil, fmt.Errorf("day summary statuses: %w", err)
	}
	for _, row := range statusRows {
		switch row.Status {
		case models.AttendanceStatusOnTime:
			summary.OnTime = row.Count
		case models.AttendanceStatusLate:
			summary.Late = row.Count
		case models.AttendanceStatusAbsent:
			summary.Absent = row.Count
		}
	}

	unresolvedArgs := []interface{}{date}
	unresolvedWhere := scopeClause(scope, &unresolvedArgs)
	unresolvedQuery := fmt.Sprintf(`SELECT COUNT(*)
FROM students s
LEFT JOIN attendance_records ar ON ar.student_id = s.id AND ar.date = $1
WHERE %s
  AND ((ar.id IS NULL AND NOT EXISTS (
            SELECT 1 FROM exception_reports er
            WHERE er.student_id = s.id AND er.date = $1 AND er.status = 'approved'))
    OR (ar.status = 'late' AND NOT EXISTS (
            SELECT 1 FROM exception_reports er
            WHERE er.student_id = s.id AND er.date = $1 AND er.status = 'approved' AND er.type = 'late')))`, unresolvedWhere)
	if err := r.db.GetContext(ctx, &summary.Unresolved, unresolvedQuery, unresolvedArgs...); err != nil {
		return nil, fmt.Errorf("day summary unresolved: %w", err)
	}

	return summary, nil
}
