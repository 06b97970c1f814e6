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
	"github.com/noah-isme/attendance-core-api/internal/repository"
	"github.com/noah-isme/attendance-core-api/pkg/config"
	appErrors "github.com/noah-isme/attendance-core-api/pkg/errors"
)

type holidayRepository interface {
	GetActiveByDate(ctx context.Context, date time.Time) (*models.Holiday, error)
	Create(ctx context.Context, holiday *models.Holiday) (*models.Holiday, error)
	Update(ctx context.Context, holiday *models.Holiday) (*models.Holiday, error)
	ListRange(ctx context.Context, from, to *time.Time, activeOnly bool) ([]models.Holiday, error)
}

// HolidayService answers the per-date eligibility question for check-ins and
// manages explicit holiday rows. Weekend dates need no materialized row; the
// gate synthesizes them from the calendar, and both representations are
// equivalent to callers.
type HolidayService struct {
	repo      holidayRepository
	cache     cacheStore
	audit     auditLogger
	validator *validator.Validate
	logger    *zap.Logger
	cfg       config.HolidayConfig
}

// NewHolidayService constructs the holiday service.
func NewHolidayService(repo holidayRepository, cache cacheStore, audit auditLogger, validate *validator.Validate, logger *zap.Logger, cfg config.HolidayConfig) *HolidayService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(cfg.WeekendDays) == 0 {
		cfg.WeekendDays = []time.Weekday{time.Saturday, time.Sunday}
	}
	return &HolidayService{repo: repo, cache: cache, audit: audit, validator: validate, logger: logger, cfg: cfg}
}

const dateLayout = "2006-01-02"

func holidayCacheKey(date time.Time) string {
	return repository.CacheKeyHolidayPrefix + date.Format(dateLayout)
}

// Lookup reports whether the date is a non-attendance day. Explicit active
// rows win; otherwise weekends are synthesized without persisting anything.
// Pure read, safe on the hot check-in path.
func (s *HolidayService) Lookup(ctx context.Context, date time.Time) (*models.HolidayCheck, error) {
	date = models.DateOf(date)

	if s.cache != nil {
		var cached models.HolidayCheck
		if err := s.cache.Get(ctx, holidayCacheKey(date), &cached); err == nil {
			return &cached, nil
		}
	}

	check := &models.HolidayCheck{}
	holiday, err := s.repo.GetActiveByDate(ctx, date)
	switch {
	case err == nil:
		check.Holiday = true
		check.Name = holiday.Name
		check.Kind = holiday.Kind
	case errors.Is(err, sql.ErrNoRows):
		if s.isWeekend(date) {
			check.Holiday = true
			check.Name = date.Weekday().String()
			check.Kind = models.HolidayKindWeekend
		}
	default:
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check holiday")
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, holidayCacheKey(date), check, s.cfg.CacheTTL); err != nil {
			s.logger.Warn("failed to cache holiday lookup", zap.Error(err))
		}
	}
	return check, nil
}

func (s *HolidayService) isWeekend(date time.Time) bool {
	for _, day := range s.cfg.WeekendDays {
		if date.Weekday() == day {
			return true
		}
	}
	return false
}

// CreateHolidayRequest describes an explicit holiday payload.
type CreateHolidayRequest struct {
	Date string `json:"date" validate:"required"`
	Name string `json:"name" validate:"required"`
	Kind string `json:"kind" validate:"required,oneof=national school weekend"`
}

// Create stores an explicit holiday row; a second row for the same date is
// refused via the date uniqueness constraint.
func (s *HolidayService) Create(ctx context.Context, req CreateHolidayRequest, actor *models.JWTClaims) (*models.Holiday, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid holiday payload")
	}
	date, err := time.Parse(dateLayout, req.Date)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid date format, expected YYYY-MM-DD")
	}

	holiday := &models.Holiday{
		Date:     models.DateOf(date),
		Name:     req.Name,
		Kind:     models.HolidayKind(req.Kind),
		Source:   models.HolidaySourceManual,
		IsActive: true,
	}
	stored, err := s.repo.Create(ctx, holiday)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || isUniqueViolation(err) {
			return nil, appErrors.Clone(appErrors.ErrDuplicate, "a holiday already exists for this date")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create holiday")
	}

	s.invalidate(ctx, stored.Date)
	s.auditChange(ctx, actor, stored)
	return stored, nil
}

// UpdateHolidayRequest mutates an existing holiday row.
type UpdateHolidayRequest struct {
	ID       string `json:"-" validate:"required"`
	Name     string `json:"name" validate:"required"`
	Kind     string `json:"kind" validate:"required,oneof=national school weekend"`
	IsActive *bool  `json:"is_active" validate:"required"`
}

// Update renames or (de)activates a holiday. Deactivating reopens the date
// for check-ins.
func (s *HolidayService) Update(ctx context.Context, req UpdateHolidayRequest, actor *models.JWTClaims) (*models.Holiday, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid holiday payload")
	}
	holiday := &models.Holiday{
		ID:       req.ID,
		Name:     req.Name,
		Kind:     models.HolidayKind(req.Kind),
		IsActive: *req.IsActive,
	}
	stored, err := s.repo.Update(ctx, holiday)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "holiday not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update holiday")
	}

	s.invalidate(ctx, stored.Date)
	s.auditChange(ctx, actor, stored)
	return stored, nil
}

// List returns holidays within the optional date range.
func (s *HolidayService) List(ctx context.Context, from, to *time.Time, activeOnly bool) ([]models.Holiday, error) {
	rows, err := s.repo.ListRange(ctx, from, to, activeOnly)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list holidays")
	}
	return rows, nil
}

func (s *HolidayService) invalidate(ctx context.Context, date time.Time) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, holidayCacheKey(date)); err != nil {
		s.logger.Warn("failed to invalidate holiday cache", zap.Error(err))
	}
}

func (s *HolidayService) auditChange(ctx context.Context, actor *models.JWTClaims, holiday *models.Holiday) {
	if s.audit == nil || actor == nil {
		return
	}
	payload, _ := json.Marshal(holiday)
	if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &actor.UserID,
		Action:     models.AuditActionHolidayChange,
		Resource:   "holiday",
		ResourceID: &holiday.ID,
		NewValues:  payload,
	}); err != nil {
		s.logger.Warn("failed to record holiday audit log", zap.Error(err))
	}
}
