package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/attendance-core-api/internal/models"
)

func reportRows(id, studentID string, date time.Time, reportType models.ReportType, status models.ReportStatus) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "student_id", "date", "type", "reason", "status", "submitted_at",
		"processed_at", "processed_by", "response_note", "admin_created", "correction", "attachment_url",
	}).AddRow(id, studentID, date, reportType, "sick at home", status, time.Now().UTC(), nil, nil, nil, false, false, nil)
}

func TestReportRepositoryInsertDuplicate(t *testing.T) {
	db, mock, closeFn := newMock(t)
	defer closeFn()
	repo := NewReportRepository(db)

	// The partial unique index swallows the insert; no row comes back.
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO exception_reports`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.Insert(context.Background(), &models.ExceptionReport{
		StudentID: "stu-1",
		Date:      time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		Type:      models.ReportTypeAbsence,
		Reason:    "sick at home",
		Status:    models.ReportStatusPending,
	})
	assert.True(t, errors.Is(err, sql.ErrNoRows))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReportRepositoryProcessApprovalWithProjection(t *testing.T) {
	db, mock, closeFn := newMock(t)
	defer closeFn()
	repo := NewReportRepository(db)

	date := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE exception_reports`)).
		WithArgs("rep-1", models.ReportStatusApproved, sqlmock.AnyArg(), "admin-1", nil).
		WillReturnRows(reportRows("rep-1", "stu-1", date, models.ReportTypeAbsence, models.ReportStatusApproved))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO attendance_records`)).
		WillReturnRows(attendanceRows("rec-1", "stu-1", date, nil, models.AttendanceStatusAbsent))
	mock.ExpectCommit()

	report, err := repo.Process(context.Background(), "rep-1", models.ReportStatusApproved, "admin-1", nil, &models.AttendanceRecord{
		StudentID: "stu-1",
		Date:      date,
		Status:    models.AttendanceStatusAbsent,
	})
	require.NoError(t, err)
	assert.Equal(t, "rep-1", report.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReportRepositoryProcessNonPendingRollsBack(t *testing.T) {
	db, mock, closeFn := newMock(t)
	defer closeFn()
	repo := NewReportRepository(db)

	// The status = 'pending' guard matches nothing once another processor won.
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE exception_reports`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	_, err := repo.Process(context.Background(), "rep-1", models.ReportStatusRejected, "admin-1", nil, nil)
	assert.True(t, errors.Is(err, sql.ErrNoRows))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReportRepositoryCorrectWritesRecordAndAudit(t *testing.T) {
	db, mock, closeFn := newMock(t)
	defer closeFn()
	repo := NewReportRepository(db)

	date := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	clock := "07:00:00"
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO attendance_records`)).
		WillReturnRows(attendanceRows("rec-1", "stu-1", date, &clock, models.AttendanceStatusOnTime))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO exception_reports`)).
		WillReturnRows(reportRows("rep-audit", "stu-1", date, models.ReportTypeOfficialLeave, models.ReportStatusApproved))
	mock.ExpectCommit()

	record, audit, err := repo.Correct(context.Background(),
		&models.AttendanceRecord{StudentID: "stu-1", Date: date, CheckInTime: &clock, Status: models.AttendanceStatusOnTime},
		&models.ExceptionReport{StudentID: "stu-1", Date: date, Type: models.ReportTypeOfficialLeave, Reason: "scanner outage", Status: models.ReportStatusApproved})
	require.NoError(t, err)
	assert.Equal(t, "rec-1", record.ID)
	assert.Equal(t, "rep-audit", audit.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
