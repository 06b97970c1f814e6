package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/attendance-core-api/internal/models"
	appErrors "github.com/noah-isme/attendance-core-api/pkg/errors"
)

type reportRepoStub struct {
	reports        map[string]*models.ExceptionReport
	insertErr      error
	processErr     error
	inserted       *models.ExceptionReport
	lastProjection *models.AttendanceRecord
	usedTx         bool
	correctRecord  *models.AttendanceRecord
	correctAudit   *models.ExceptionReport
}

func (s *reportRepoStub) Insert(ctx context.Context, report *models.ExceptionReport) (*models.ExceptionReport, error) {
	if s.insertErr != nil {
		return nil, s.insertErr
	}
	report.ID = "rep-1"
	s.inserted = report
	return report, nil
}

func (s *reportRepoStub) InsertWithProjection(ctx context.Context, report *models.ExceptionReport, projection *models.AttendanceRecord) (*models.ExceptionReport, error) {
	if s.insertErr != nil {
		return nil, s.insertErr
	}
	report.ID = "rep-1"
	s.inserted = report
	s.lastProjection = projection
	s.usedTx = true
	return report, nil
}

func (s *reportRepoStub) GetByID(ctx context.Context, id string) (*models.ExceptionReport, error) {
	if report, ok := s.reports[id]; ok {
		copied := *report
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (s *reportRepoStub) Process(ctx context.Context, id string, status models.ReportStatus, processedBy string, note *string, projection *models.AttendanceRecord) (*models.ExceptionReport, error) {
	if s.processErr != nil {
		return nil, s.processErr
	}
	report, ok := s.reports[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	now := time.Now().UTC()
	report.Status = status
	report.ProcessedAt = &now
	report.ProcessedBy = &processedBy
	report.ResponseNote = note
	s.lastProjection = projection
	return report, nil
}

func (s *reportRepoStub) Correct(ctx context.Context, record *models.AttendanceRecord, audit *models.ExceptionReport) (*models.AttendanceRecord, *models.ExceptionReport, error) {
	record.ID = "rec-corrected"
	audit.ID = "rep-audit"
	audit.Correction = true
	audit.AdminCreated = true
	s.correctRecord = record
	s.correctAudit = audit
	return record, audit, nil
}

func (s *reportRepoStub) List(ctx context.Context, filter models.ReportFilter) ([]models.ExceptionReportDetail, int, error) {
	return nil, 0, nil
}

func newReportFixture(repo *reportRepoStub) *ReportService {
	students := &studentStub{students: map[string]*models.Student{
		"stu-1": {ID: "stu-1", FullName: "Alice Moran", Grade: 10, Section: "A", Active: true},
	}}
	return NewReportService(repo, students, &policyStub{policy: defaultPolicy()}, nil, nil, nil)
}

func pendingReport(id string, reportType models.ReportType) *models.ExceptionReport {
	return &models.ExceptionReport{
		ID:          id,
		StudentID:   "stu-1",
		Date:        time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		Type:        reportType,
		Reason:      "family emergency",
		Status:      models.ReportStatusPending,
		SubmittedAt: time.Now().UTC(),
	}
}

func adminActor() *models.JWTClaims {
	return &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin}
}

func TestReportSubmitStartsPending(t *testing.T) {
	repo := &reportRepoStub{}
	svc := newReportFixture(repo)

	stored, err := svc.Submit(context.Background(), SubmitReportRequest{
		StudentID: "stu-1",
		Date:      "2026-03-02",
		Type:      "absence",
		Reason:    "family emergency",
	}, &models.JWTClaims{UserID: "teacher-1", Role: models.RoleTeacher})
	require.NoError(t, err)
	assert.Equal(t, models.ReportStatusPending, stored.Status)
	assert.False(t, stored.AdminCreated)
	assert.False(t, repo.usedTx)
}

func TestReportSubmitAdminAutoApproves(t *testing.T) {
	repo := &reportRepoStub{}
	svc := newReportFixture(repo)

	stored, err := svc.Submit(context.Background(), SubmitReportRequest{
		StudentID: "stu-1",
		Date:      "2026-03-02",
		Type:      "absence",
		Reason:    "confirmed by parent call",
	}, adminActor())
	require.NoError(t, err)
	assert.Equal(t, models.ReportStatusApproved, stored.Status)
	assert.True(t, stored.AdminCreated)
	require.NotNil(t, stored.ProcessedBy)
	assert.Equal(t, "admin-1", *stored.ProcessedBy)

	assert.True(t, repo.usedTx)
	require.NotNil(t, repo.lastProjection)
	assert.Equal(t, models.AttendanceStatusAbsent, repo.lastProjection.Status)
	assert.Nil(t, repo.lastProjection.CheckInTime)
}

func TestReportSubmitAdminLeaveHasNoProjection(t *testing.T) {
	repo := &reportRepoStub{}
	svc := newReportFixture(repo)

	_, err := svc.Submit(context.Background(), SubmitReportRequest{
		StudentID: "stu-1",
		Date:      "2026-03-02",
		Type:      "official_leave",
		Reason:    "district sports meet",
	}, adminActor())
	require.NoError(t, err)
	assert.True(t, repo.usedTx)
	assert.Nil(t, repo.lastProjection)
}

func TestReportSubmitDuplicate(t *testing.T) {
	repo := &reportRepoStub{insertErr: sql.ErrNoRows}
	svc := newReportFixture(repo)

	_, err := svc.Submit(context.Background(), SubmitReportRequest{
		StudentID: "stu-1",
		Date:      "2026-03-02",
		Type:      "absence",
		Reason:    "family emergency",
	}, nil)
	assert.True(t, appErrors.Is(err, appErrors.ErrDuplicate))
}

func TestReportSubmitStudentSelfOnly(t *testing.T) {
	svc := newReportFixture(&reportRepoStub{})
	other := "stu-2"
	_, err := svc.Submit(context.Background(), SubmitReportRequest{
		StudentID: "stu-1",
		Date:      "2026-03-02",
		Type:      "absence",
		Reason:    "family emergency",
	}, &models.JWTClaims{UserID: "user-2", Role: models.RoleStudent, StudentID: &other})
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}

func TestReportProcessApproveAbsenceProjects(t *testing.T) {
	repo := &reportRepoStub{reports: map[string]*models.ExceptionReport{
		"rep-1": pendingReport("rep-1", models.ReportTypeAbsence),
	}}
	svc := newReportFixture(repo)

	processed, err := svc.Process(context.Background(), ProcessReportRequest{
		ReportID: "rep-1",
		Action:   "approve",
	}, adminActor())
	require.NoError(t, err)
	assert.Equal(t, models.ReportStatusApproved, processed.Status)
	require.NotNil(t, repo.lastProjection)
	assert.Equal(t, models.AttendanceStatusAbsent, repo.lastProjection.Status)
	assert.Nil(t, repo.lastProjection.CheckInTime)
	assert.Equal(t, "stu-1", repo.lastProjection.StudentID)
}

func TestReportProcessApproveLeaveLeavesRecordAlone(t *testing.T) {
	repo := &reportRepoStub{reports: map[string]*models.ExceptionReport{
		"rep-1": pendingReport("rep-1", models.ReportTypeOfficialLeave),
	}}
	svc := newReportFixture(repo)

	processed, err := svc.Process(context.Background(), ProcessReportRequest{
		ReportID: "rep-1",
		Action:   "approve",
	}, adminActor())
	require.NoError(t, err)
	assert.Equal(t, models.ReportStatusApproved, processed.Status)
	assert.Nil(t, repo.lastProjection)
}

func TestReportProcessRejectHasNoSideEffect(t *testing.T) {
	repo := &reportRepoStub{reports: map[string]*models.ExceptionReport{
		"rep-1": pendingReport("rep-1", models.ReportTypeAbsence),
	}}
	svc := newReportFixture(repo)

	note := "no evidence provided"
	processed, err := svc.Process(context.Background(), ProcessReportRequest{
		ReportID: "rep-1",
		Action:   "reject",
		Note:     &note,
	}, adminActor())
	require.NoError(t, err)
	assert.Equal(t, models.ReportStatusRejected, processed.Status)
	assert.Nil(t, repo.lastProjection)
	require.NotNil(t, processed.ResponseNote)
	assert.Equal(t, note, *processed.ResponseNote)
}

func TestReportProcessNonPending(t *testing.T) {
	already := pendingReport("rep-1", models.ReportTypeAbsence)
	already.Status = models.ReportStatusApproved
	repo := &reportRepoStub{reports: map[string]*models.ExceptionReport{"rep-1": already}}
	svc := newReportFixture(repo)

	_, err := svc.Process(context.Background(), ProcessReportRequest{
		ReportID: "rep-1",
		Action:   "approve",
	}, adminActor())
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidState))
}

func TestReportProcessLostRace(t *testing.T) {
	repo := &reportRepoStub{
		reports:    map[string]*models.ExceptionReport{"rep-1": pendingReport("rep-1", models.ReportTypeAbsence)},
		processErr: sql.ErrNoRows,
	}
	svc := newReportFixture(repo)

	_, err := svc.Process(context.Background(), ProcessReportRequest{
		ReportID: "rep-1",
		Action:   "approve",
	}, adminActor())
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidState))
}

func TestReportCorrectSyntheticTimes(t *testing.T) {
	cases := []struct {
		status       string
		wantClock    *string
		wantCategory models.ReportType
	}{
		{"on_time", strPtr("07:00:00"), models.ReportTypeOfficialLeave},
		{"late", strPtr("08:00:00"), models.ReportTypeLate},
		{"absent", nil, models.ReportTypeAbsence},
	}
	for _, tc := range cases {
		t.Run(tc.status, func(t *testing.T) {
			repo := &reportRepoStub{}
			svc := newReportFixture(repo)

			result, err := svc.Correct(context.Background(), CorrectAttendanceRequest{
				StudentID: "stu-1",
				Date:      "2026-03-02",
				NewStatus: tc.status,
				Reason:    "scanner outage at gate",
			}, adminActor())
			require.NoError(t, err)

			assert.Equal(t, models.AttendanceStatus(tc.status), result.Record.Status)
			if tc.wantClock == nil {
				assert.Nil(t, result.Record.CheckInTime)
			} else {
				require.NotNil(t, result.Record.CheckInTime)
				assert.Equal(t, *tc.wantClock, *result.Record.CheckInTime)
			}

			assert.Equal(t, tc.wantCategory, result.Report.Type)
			assert.Equal(t, models.ReportStatusApproved, result.Report.Status)
			assert.True(t, result.Report.Correction)
			require.NotNil(t, result.Report.ProcessedBy)
			assert.Equal(t, "admin-1", *result.Report.ProcessedBy)
		})
	}
}

func strPtr(s string) *string { return &s }
