package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/attendance-core-api/internal/models"
	appErrors "github.com/noah-isme/attendance-core-api/pkg/errors"
)

type reportRepository interface {
	Insert(ctx context.Context, report *models.ExceptionReport) (*models.ExceptionReport, error)
	InsertWithProjection(ctx context.Context, report *models.ExceptionReport, projection *models.AttendanceRecord) (*models.ExceptionReport, error)
	GetByID(ctx context.Context, id string) (*models.ExceptionReport, error)
	Process(ctx context.Context, id string, status models.ReportStatus, processedBy string, note *string, projection *models.AttendanceRecord) (*models.ExceptionReport, error)
	Correct(ctx context.Context, record *models.AttendanceRecord, audit *models.ExceptionReport) (*models.AttendanceRecord, *models.ExceptionReport, error)
	List(ctx context.Context, filter models.ReportFilter) ([]models.ExceptionReportDetail, int, error)
}

// ReportService runs the exception report workflow: submit, approve/reject,
// and audited admin corrections. Approving an absence report is the one
// sanctioned overwrite of an attendance record outside the check-in writer.
type ReportService struct {
	reports   reportRepository
	students  studentReader
	policies  policyProvider
	audit     auditLogger
	validator *validator.Validate
	logger    *zap.Logger
}

// NewReportService constructs the report service.
func NewReportService(reports reportRepository, students studentReader, policies policyProvider, audit auditLogger, validate *validator.Validate, logger *zap.Logger) *ReportService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	_ = validate.RegisterValidation("attendance_status", func(fl validator.FieldLevel) bool {
		return models.AttendanceStatus(fl.Field().String()).Valid()
	})
	_ = validate.RegisterValidation("report_type", func(fl validator.FieldLevel) bool {
		return models.ReportType(fl.Field().String()).Valid()
	})
	_ = validate.RegisterValidation("report_action", func(fl validator.FieldLevel) bool {
		action := models.ReportAction(fl.Field().String())
		return action == models.ReportActionApprove || action == models.ReportActionReject
	})
	return &ReportService{
		reports:   reports,
		students:  students,
		policies:  policies,
		audit:     audit,
		validator: validate,
		logger:    logger,
	}
}

// SubmitReportRequest is an exception report submission.
type SubmitReportRequest struct {
	StudentID     string  `json:"student_id" validate:"required"`
	Date          string  `json:"date" validate:"required"`
	Type          string  `json:"type" validate:"required,report_type"`
	Reason        string  `json:"reason" validate:"required,min=3,max=1000"`
	AttachmentURL *string `json:"attachment_url" validate:"omitempty,url"`
}

// Submit stores a new exception report. Student submissions start pending.
// Admin submissions are self-approved on insert, and an approved absence is
// projected onto the attendance record in the same transaction.
func (s *ReportService) Submit(ctx context.Context, req SubmitReportRequest, actor *models.JWTClaims) (*models.ExceptionReport, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid report payload")
	}
	date, err := time.Parse(dateLayout, req.Date)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid date format, expected YYYY-MM-DD")
	}

	if actor != nil && actor.Role == models.RoleStudent {
		if actor.StudentID == nil || *actor.StudentID != req.StudentID {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "students may only report for themselves")
		}
	}

	student, err := s.students.GetByID(ctx, req.StudentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve student")
	}

	report := &models.ExceptionReport{
		StudentID:     student.ID,
		Date:          models.DateOf(date),
		Type:          models.ReportType(req.Type),
		Reason:        req.Reason,
		Status:        models.ReportStatusPending,
		AttachmentURL: req.AttachmentURL,
	}

	var stored *models.ExceptionReport
	if actor != nil && actor.Role == models.RoleAdmin {
		now := time.Now().UTC()
		report.Status = models.ReportStatusApproved
		report.AdminCreated = true
		report.ProcessedAt = &now
		report.ProcessedBy = &actor.UserID
		stored, err = s.reports.InsertWithProjection(ctx, report, s.absenceProjection(report))
	} else {
		stored, err = s.reports.Insert(ctx, report)
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || isUniqueViolation(err) {
			return nil, appErrors.Clone(appErrors.ErrDuplicate, "a report of this type already exists for this date")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store report")
	}

	s.logger.Info("report submitted",
		zap.String("report_id", stored.ID),
		zap.String("student_id", stored.StudentID),
		zap.String("type", string(stored.Type)),
		zap.String("status", string(stored.Status)),
	)
	return stored, nil
}

// absenceProjection returns the attendance record an approved report implies,
// or nil for report types without an attendance side effect.
func (s *ReportService) absenceProjection(report *models.ExceptionReport) *models.AttendanceRecord {
	if report.Type != models.ReportTypeAbsence {
		return nil
	}
	return &models.AttendanceRecord{
		StudentID:   report.StudentID,
		Date:        report.Date,
		CheckInTime: nil,
		Status:      models.AttendanceStatusAbsent,
	}
}

// ProcessReportRequest is a decision on a pending report.
type ProcessReportRequest struct {
	ReportID string  `json:"-" validate:"required"`
	Action   string  `json:"action" validate:"required,report_action"`
	Note     *string `json:"note" validate:"omitempty,max=1000"`
}

// Process approves or rejects a pending report. Approving an absence report
// upserts the attendance record to absent with no check-in time, atomically
// with the status transition. Processing a non-pending report fails with an
// invalid-state error.
func (s *ReportService) Process(ctx context.Context, req ProcessReportRequest, actor *models.JWTClaims) (*models.ExceptionReport, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid process payload")
	}
	if actor == nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "authentication required")
	}

	report, err := s.reports.GetByID(ctx, req.ReportID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "report not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load report")
	}
	if report.Status != models.ReportStatusPending {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "report has already been processed")
	}

	status := models.ReportStatusRejected
	var projection *models.AttendanceRecord
	if models.ReportAction(req.Action) == models.ReportActionApprove {
		status = models.ReportStatusApproved
		projection = s.absenceProjection(report)
	}

	processed, err := s.reports.Process(ctx, req.ReportID, status, actor.UserID, req.Note, projection)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Lost the race with another processor: pending at read time,
			// terminal by the time the update ran.
			return nil, appErrors.Clone(appErrors.ErrInvalidState, "report has already been processed")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to process report")
	}

	s.auditReport(ctx, actor, models.AuditActionReportProcess, processed)
	s.logger.Info("report processed",
		zap.String("report_id", processed.ID),
		zap.String("status", string(processed.Status)),
		zap.String("processed_by", actor.UserID),
	)
	return processed, nil
}

// CorrectAttendanceRequest is an audited admin override of a day's record.
type CorrectAttendanceRequest struct {
	StudentID string `json:"student_id" validate:"required"`
	Date      string `json:"date" validate:"required"`
	NewStatus string `json:"new_status" validate:"required,attendance_status"`
	Reason    string `json:"reason" validate:"required,min=3,max=1000"`
}

// CorrectionResult pairs the overwritten record with its audit report.
type CorrectionResult struct {
	Record *models.AttendanceRecord `json:"record"`
	Report *models.ExceptionReport  `json:"report"`
}

// Correct overwrites a student's record for a date and inserts a paired
// approved correction report in one transaction. Synthetic check-in times are
// derived from the active policy so corrected rows classify consistently.
func (s *ReportService) Correct(ctx context.Context, req CorrectAttendanceRequest, actor *models.JWTClaims) (*CorrectionResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid correction payload")
	}
	if actor == nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "authentication required")
	}
	date, err := time.Parse(dateLayout, req.Date)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid date format, expected YYYY-MM-DD")
	}

	student, err := s.students.GetByID(ctx, req.StudentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve student")
	}

	policy, err := s.policies.GetActive(ctx)
	if err != nil {
		return nil, err
	}

	newStatus := models.AttendanceStatus(req.NewStatus)
	record := &models.AttendanceRecord{
		StudentID: student.ID,
		Date:      models.DateOf(date),
		Status:    newStatus,
		PolicyID:  &policy.ID,
	}
	switch newStatus {
	case models.AttendanceStatusOnTime:
		clock := policy.StartTime
		record.CheckInTime = &clock
	case models.AttendanceStatusLate:
		clock := policy.LateThreshold
		record.CheckInTime = &clock
	case models.AttendanceStatusAbsent:
		record.CheckInTime = nil
	}

	now := time.Now().UTC()
	auditReport := &models.ExceptionReport{
		StudentID:   student.ID,
		Date:        record.Date,
		Type:        correctionReportType(newStatus),
		Reason:      req.Reason,
		Status:      models.ReportStatusApproved,
		ProcessedAt: &now,
		ProcessedBy: &actor.UserID,
	}

	storedRecord, storedReport, err := s.reports.Correct(ctx, record, auditReport)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to apply correction")
	}

	s.auditReport(ctx, actor, models.AuditActionCorrection, storedReport)
	s.logger.Info("attendance corrected",
		zap.String("student_id", student.ID),
		zap.String("date", record.Date.Format(dateLayout)),
		zap.String("new_status", string(newStatus)),
		zap.String("corrected_by", actor.UserID),
	)
	return &CorrectionResult{Record: storedRecord, Report: storedReport}, nil
}

// correctionReportType maps the corrected attendance status to the report
// category recorded in the audit trail. Restoring on_time is filed as an
// official leave because no submission category describes "was wrongly marked".
func correctionReportType(status models.AttendanceStatus) models.ReportType {
	switch status {
	case models.AttendanceStatusAbsent:
		return models.ReportTypeAbsence
	case models.AttendanceStatusLate:
		return models.ReportTypeLate
	default:
		return models.ReportTypeOfficialLeave
	}
}

// GetByID fetches one report. Students can only read their own.
func (s *ReportService) GetByID(ctx context.Context, id string, actor *models.JWTClaims) (*models.ExceptionReport, error) {
	report, err := s.reports.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "report not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load report")
	}
	if actor != nil && actor.Role == models.RoleStudent {
		if actor.StudentID == nil || *actor.StudentID != report.StudentID {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "not your report")
		}
	}
	return report, nil
}

// ReportListRequest filters report listings.
type ReportListRequest struct {
	StudentID string     `json:"student_id"`
	Status    *string    `json:"status" validate:"omitempty,oneof=pending approved rejected"`
	Type      *string    `json:"type" validate:"omitempty,report_type"`
	DateFrom  *time.Time `json:"date_from"`
	DateTo    *time.Time `json:"date_to"`
	Page      int        `json:"page"`
	PageSize  int        `json:"page_size"`
	SortBy    string     `json:"sort_by"`
	SortOrder string     `json:"sort_order"`
}

// List returns paginated reports. Student actors are pinned to their own rows.
func (s *ReportService) List(ctx context.Context, req ReportListRequest, actor *models.JWTClaims) ([]models.ExceptionReportDetail, *models.Pagination, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid filter")
	}
	if actor != nil && actor.Role == models.RoleStudent {
		if actor.StudentID == nil {
			return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "no linked student")
		}
		req.StudentID = *actor.StudentID
	}

	page := req.Page
	if page < 1 {
		page = 1
	}
	size := req.PageSize
	if size <= 0 {
		size = 50
	}
	filter := models.ReportFilter{
		StudentID: req.StudentID,
		DateFrom:  req.DateFrom,
		DateTo:    req.DateTo,
		Page:      page,
		PageSize:  size,
		SortBy:    req.SortBy,
		SortOrder: req.SortOrder,
	}
	if req.Status != nil {
		status := models.ReportStatus(*req.Status)
		filter.Status = &status
	}
	if req.Type != nil {
		reportType := models.ReportType(*req.Type)
		filter.Type = &reportType
	}

	rows, total, err := s.reports.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list reports")
	}
	return rows, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

func (s *ReportService) auditReport(ctx context.Context, actor *models.JWTClaims, action string, report *models.ExceptionReport) {
	if s.audit == nil || actor == nil {
		return
	}
	payload, _ := json.Marshal(report)
	if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &actor.UserID,
		Action:     action,
		Resource:   "exception_report",
		ResourceID: &report.ID,
		NewValues:  payload,
	}); err != nil {
		s.logger.Warn("failed to record report audit log", zap.Error(err))
	}
}
