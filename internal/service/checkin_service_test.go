package service

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/attendance-core-api/internal/models"
	appErrors "github.com/noah-isme/attendance-core-api/pkg/errors"
)

type attendanceRepoStub struct {
	records   map[string]*models.AttendanceRecord
	insertErr error
	inserted  *models.AttendanceRecord
	listRows  []models.AttendanceRecordDetail
	history   []models.AttendanceHistoryRow
}

func attendanceKey(studentID string, date time.Time) string {
	return fmt.Sprintf("%s:%s", studentID, date.Format(dateLayout))
}

func (s *attendanceRepoStub) GetByStudentDate(ctx context.Context, studentID string, date time.Time) (*models.AttendanceRecord, error) {
	if record, ok := s.records[attendanceKey(studentID, date)]; ok {
		return record, nil
	}
	return nil, sql.ErrNoRows
}

func (s *attendanceRepoStub) InsertCheckIn(ctx context.Context, record *models.AttendanceRecord) (*models.AttendanceRecord, error) {
	if s.insertErr != nil {
		return nil, s.insertErr
	}
	record.ID = "rec-1"
	s.inserted = record
	return record, nil
}

func (s *attendanceRepoStub) List(ctx context.Context, filter models.AttendanceFilter) ([]models.AttendanceRecordDetail, int, error) {
	return s.listRows, len(s.listRows), nil
}

func (s *attendanceRepoStub) StudentHistory(ctx context.Context, studentID string, from, to *time.Time) ([]models.AttendanceHistoryRow, error) {
	return s.history, nil
}

type studentStub struct {
	students map[string]*models.Student
	byCard   map[string]*models.Student
}

func (s *studentStub) GetByID(ctx context.Context, id string) (*models.Student, error) {
	if student, ok := s.students[id]; ok {
		return student, nil
	}
	return nil, sql.ErrNoRows
}

func (s *studentStub) GetByCardID(ctx context.Context, cardID string) (*models.Student, error) {
	if student, ok := s.byCard[cardID]; ok {
		return student, nil
	}
	return nil, sql.ErrNoRows
}

type holidayStub struct {
	check *models.HolidayCheck
	err   error
}

func (s *holidayStub) Lookup(ctx context.Context, date time.Time) (*models.HolidayCheck, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.check != nil {
		return s.check, nil
	}
	return &models.HolidayCheck{}, nil
}

type policyStub struct {
	policy *models.AttendancePolicy
}

func (s *policyStub) GetActive(ctx context.Context) (*models.AttendancePolicy, error) {
	return s.policy, nil
}

func defaultPolicy() *models.AttendancePolicy {
	return &models.AttendancePolicy{
		ID:            "pol-1",
		StartTime:     "07:00:00",
		LateThreshold: "08:00:00",
		EndTime:       "09:00:00",
		IsActive:      true,
	}
}

func newCheckInFixture() (*CheckInService, *attendanceRepoStub) {
	repo := &attendanceRepoStub{records: map[string]*models.AttendanceRecord{}}
	card := "CARD-42"
	students := &studentStub{
		students: map[string]*models.Student{
			"stu-1": {ID: "stu-1", FullName: "Alice Moran", Grade: 10, Section: "A", Active: true},
		},
		byCard: map[string]*models.Student{
			card: {ID: "stu-1", FullName: "Alice Moran", Grade: 10, Section: "A", Active: true},
		},
	}
	svc := NewCheckInService(repo, students, &holidayStub{}, &policyStub{policy: defaultPolicy()}, nil, nil)
	return svc, repo
}

func TestCheckInClassification(t *testing.T) {
	cases := []struct {
		name     string
		clock    time.Time
		expected models.AttendanceStatus
	}{
		{"one second before threshold", time.Date(2026, 3, 2, 7, 59, 59, 0, time.UTC), models.AttendanceStatusOnTime},
		{"exactly at threshold", time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC), models.AttendanceStatusLate},
		{"past policy end is still late", time.Date(2026, 3, 2, 9, 1, 0, 0, time.UTC), models.AttendanceStatusLate},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, repo := newCheckInFixture()
			result, err := svc.Record(context.Background(), CheckInRequest{StudentID: "stu-1", Timestamp: tc.clock})
			require.NoError(t, err)
			assert.Equal(t, tc.expected, result.Record.Status)
			require.NotNil(t, repo.inserted.CheckInTime)
			assert.Equal(t, tc.clock.Format("15:04:05"), *repo.inserted.CheckInTime)
			require.NotNil(t, repo.inserted.PolicyID)
			assert.Equal(t, "pol-1", *repo.inserted.PolicyID)
		})
	}
}

func TestCheckInResolvesCard(t *testing.T) {
	svc, _ := newCheckInFixture()
	result, err := svc.Record(context.Background(), CheckInRequest{
		CardID:    "CARD-42",
		Timestamp: time.Date(2026, 3, 2, 7, 30, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, "stu-1", result.Student.ID)
	assert.Equal(t, "stu-1", result.Record.StudentID)
}

func TestCheckInDuplicateSameDay(t *testing.T) {
	svc, repo := newCheckInFixture()
	date := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	repo.records[attendanceKey("stu-1", date)] = &models.AttendanceRecord{ID: "rec-0", StudentID: "stu-1", Date: date}

	_, err := svc.Record(context.Background(), CheckInRequest{
		StudentID: "stu-1",
		Timestamp: time.Date(2026, 3, 2, 8, 15, 0, 0, time.UTC),
	})
	assert.True(t, appErrors.Is(err, appErrors.ErrDuplicate))
}

func TestCheckInDuplicateLostInsertRace(t *testing.T) {
	svc, repo := newCheckInFixture()
	// Pre-check passed but the insert hit the constraint.
	repo.insertErr = sql.ErrNoRows

	_, err := svc.Record(context.Background(), CheckInRequest{
		StudentID: "stu-1",
		Timestamp: time.Date(2026, 3, 2, 8, 15, 0, 0, time.UTC),
	})
	assert.True(t, appErrors.Is(err, appErrors.ErrDuplicate))
}

func TestCheckInRefusedOnHoliday(t *testing.T) {
	repo := &attendanceRepoStub{records: map[string]*models.AttendanceRecord{}}
	students := &studentStub{students: map[string]*models.Student{
		"stu-1": {ID: "stu-1", Active: true},
	}}
	holidays := &holidayStub{check: &models.HolidayCheck{Holiday: true, Name: "Independence Day", Kind: models.HolidayKindNational}}
	svc := NewCheckInService(repo, students, holidays, &policyStub{policy: defaultPolicy()}, nil, nil)

	_, err := svc.Record(context.Background(), CheckInRequest{
		StudentID: "stu-1",
		Timestamp: time.Date(2026, 8, 17, 7, 30, 0, 0, time.UTC),
	})
	assert.True(t, appErrors.Is(err, appErrors.ErrHolidayClosed))
	assert.Nil(t, repo.inserted)
}

func TestCheckInUnknownStudent(t *testing.T) {
	svc, _ := newCheckInFixture()
	_, err := svc.Record(context.Background(), CheckInRequest{
		StudentID: "stu-missing",
		Timestamp: time.Date(2026, 3, 2, 7, 30, 0, 0, time.UTC),
	})
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestCheckInInactiveStudent(t *testing.T) {
	repo := &attendanceRepoStub{records: map[string]*models.AttendanceRecord{}}
	students := &studentStub{students: map[string]*models.Student{
		"stu-2": {ID: "stu-2", FullName: "Ben Ortiz", Active: false},
	}}
	svc := NewCheckInService(repo, students, &holidayStub{}, &policyStub{policy: defaultPolicy()}, nil, nil)

	_, err := svc.Record(context.Background(), CheckInRequest{
		StudentID: "stu-2",
		Timestamp: time.Date(2026, 3, 2, 7, 30, 0, 0, time.UTC),
	})
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestCheckInRequiresIdentity(t *testing.T) {
	svc, _ := newCheckInFixture()
	_, err := svc.Record(context.Background(), CheckInRequest{
		Timestamp: time.Date(2026, 3, 2, 7, 30, 0, 0, time.UTC),
	})
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}
