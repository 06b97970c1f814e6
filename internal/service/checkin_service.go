package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/noah-isme/attendance-core-api/internal/models"
	appErrors "github.com/noah-isme/attendance-core-api/pkg/errors"
)

const pqUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation
}

type attendanceRepository interface {
	GetByStudentDate(ctx context.Context, studentID string, date time.Time) (*models.AttendanceRecord, error)
	InsertCheckIn(ctx context.Context, record *models.AttendanceRecord) (*models.AttendanceRecord, error)
	List(ctx context.Context, filter models.AttendanceFilter) ([]models.AttendanceRecordDetail, int, error)
	StudentHistory(ctx context.Context, studentID string, from, to *time.Time) ([]models.AttendanceHistoryRow, error)
}

type studentReader interface {
	GetByID(ctx context.Context, id string) (*models.Student, error)
	GetByCardID(ctx context.Context, cardID string) (*models.Student, error)
}

type holidayGate interface {
	Lookup(ctx context.Context, date time.Time) (*models.HolidayCheck, error)
}

type policyProvider interface {
	GetActive(ctx context.Context) (*models.AttendancePolicy, error)
}

// CheckInService is the idempotent-by-rejection write path for daily
// check-ins. The first successful check-in of the day wins; later ones are
// refused with a distinct duplicate error so device clients can tell
// "already recorded" apart from "accepted".
type CheckInService struct {
	records   attendanceRepository
	students  studentReader
	holidays  holidayGate
	policies  policyProvider
	validator *validator.Validate
	logger    *zap.Logger
}

// NewCheckInService constructs the check-in service.
func NewCheckInService(records attendanceRepository, students studentReader, holidays holidayGate, policies policyProvider, validate *validator.Validate, logger *zap.Logger) *CheckInService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &CheckInService{
		records:   records,
		students:  students,
		holidays:  holidays,
		policies:  policies,
		validator: validate,
		logger:    logger,
	}
	_ = svc.validator.RegisterValidation("attendance_status", func(fl validator.FieldLevel) bool {
		return models.AttendanceStatus(fl.Field().String()).Valid()
	})
	return svc
}

// CheckInRequest is a raw device event with an already-resolvable identity:
// either the student id or the physical card id must be present.
type CheckInRequest struct {
	StudentID string    `json:"student_id" validate:"required_without=CardID"`
	CardID    string    `json:"card_id" validate:"required_without=StudentID"`
	Timestamp time.Time `json:"timestamp" validate:"required"`
}

// CheckInResult pairs the stored record with the resolved student.
type CheckInResult struct {
	Record  *models.AttendanceRecord `json:"record"`
	Student *models.Student          `json:"student"`
}

// Record classifies and stores one check-in event.
func (s *CheckInService) Record(ctx context.Context, req CheckInRequest) (*CheckInResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid check-in payload")
	}

	student, err := s.resolveStudent(ctx, req)
	if err != nil {
		return nil, err
	}

	date := models.DateOf(req.Timestamp)

	check, err := s.holidays.Lookup(ctx, date)
	if err != nil {
		return nil, err
	}
	if check.Holiday {
		// Terminal refusal, never retried: the date will not stop being a
		// holiday.
		return nil, appErrors.Clone(appErrors.ErrHolidayClosed, fmt.Sprintf("no attendance on %s (%s)", date.Format(dateLayout), check.Name))
	}

	// Fast-path pre-check only. The (student_id, date) constraint on the
	// insert below is the actual correctness guarantee under concurrency.
	if _, err := s.records.GetByStudentDate(ctx, student.ID, date); err == nil {
		return nil, appErrors.Clone(appErrors.ErrDuplicate, "already checked in today")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to look up attendance record")
	}

	policy, err := s.policies.GetActive(ctx)
	if err != nil {
		return nil, err
	}

	clock := models.ClockOf(req.Timestamp)
	record := &models.AttendanceRecord{
		StudentID:   student.ID,
		Date:        date,
		CheckInTime: &clock,
		Status:      policy.Classify(clock),
		PolicyID:    &policy.ID,
	}

	stored, err := s.records.InsertCheckIn(ctx, record)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || isUniqueViolation(err) {
			return nil, appErrors.Clone(appErrors.ErrDuplicate, "already checked in today")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store check-in")
	}

	s.logger.Info("check-in recorded",
		zap.String("student_id", student.ID),
		zap.String("date", date.Format(dateLayout)),
		zap.String("status", string(stored.Status)),
	)
	return &CheckInResult{Record: stored, Student: student}, nil
}

func (s *CheckInService) resolveStudent(ctx context.Context, req CheckInRequest) (*models.Student, error) {
	var (
		student *models.Student
		err     error
	)
	if req.StudentID != "" {
		student, err = s.students.GetByID(ctx, req.StudentID)
	} else {
		student, err = s.students.GetByCardID(ctx, req.CardID)
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve student")
	}
	if !student.Active {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "student is not active")
	}
	return student, nil
}

// AttendanceListRequest is used for listing attendance records.
type AttendanceListRequest struct {
	StudentID string     `json:"student_id"`
	Status    *string    `json:"status" validate:"omitempty,attendance_status"`
	DateFrom  *time.Time `json:"date_from"`
	DateTo    *time.Time `json:"date_to"`
	Grade     *int       `json:"grade"`
	Section   string     `json:"section"`
	Page      int        `json:"page"`
	PageSize  int        `json:"page_size"`
	SortBy    string     `json:"sort_by"`
	SortOrder string     `json:"sort_order"`
}

// List returns paginated attendance records.
func (s *CheckInService) List(ctx context.Context, req AttendanceListRequest) ([]models.AttendanceRecordDetail, *models.Pagination, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid filter")
	}
	var status *models.AttendanceStatus
	if req.Status != nil {
		st := models.AttendanceStatus(*req.Status)
		status = &st
	}
	page := req.Page
	if page < 1 {
		page = 1
	}
	size := req.PageSize
	if size <= 0 {
		size = 50
	}
	filter := models.AttendanceFilter{
		StudentID: req.StudentID,
		Status:    status,
		DateFrom:  req.DateFrom,
		DateTo:    req.DateTo,
		Grade:     req.Grade,
		Section:   req.Section,
		Page:      page,
		PageSize:  size,
		SortBy:    req.SortBy,
		SortOrder: req.SortOrder,
	}
	rows, total, err := s.records.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list attendance records")
	}
	return rows, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// StudentHistory returns one student's record history.
func (s *CheckInService) StudentHistory(ctx context.Context, studentID string, from, to *time.Time) ([]models.AttendanceHistoryRow, error) {
	if studentID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "student id required")
	}
	rows, err := s.records.StudentHistory(ctx, studentID, from, to)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch attendance history")
	}
	return rows, nil
}
