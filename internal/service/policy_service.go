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

type policyRepository interface {
	GetActive(ctx context.Context) (*models.AttendancePolicy, error)
	SeedDefault(ctx context.Context, policy *models.AttendancePolicy) (*models.AttendancePolicy, error)
	Replace(ctx context.Context, policy *models.AttendancePolicy) (*models.AttendancePolicy, error)
	History(ctx context.Context, page, pageSize int) ([]models.AttendancePolicy, int, error)
}

type cacheStore interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// PolicyService manages the versioned time-window configuration. Policies
// are append-only; the "current" policy is always derived by query, never
// held as process state, so every instance of the service agrees.
type PolicyService struct {
	repo      policyRepository
	cache     cacheStore
	audit     auditLogger
	validator *validator.Validate
	logger    *zap.Logger
	defaults  config.PolicyConfig
	cacheTTL  time.Duration
}

// NewPolicyService constructs the policy service.
func NewPolicyService(repo policyRepository, cache cacheStore, audit auditLogger, validate *validator.Validate, logger *zap.Logger, defaults config.PolicyConfig, cacheTTL time.Duration) *PolicyService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	registerClockValidation(validate)
	return &PolicyService{
		repo:      repo,
		cache:     cache,
		audit:     audit,
		validator: validate,
		logger:    logger,
		defaults:  defaults,
		cacheTTL:  cacheTTL,
	}
}

func registerClockValidation(validate *validator.Validate) {
	_ = validate.RegisterValidation("clock_time", func(fl validator.FieldLevel) bool {
		_, err := models.NormalizeClock(fl.Field().String())
		return err == nil
	})
}

// SetPolicyRequest describes a policy update payload. Times accept HH:MM or
// HH:MM:SS.
type SetPolicyRequest struct {
	Start         string `json:"start" validate:"required,clock_time"`
	LateThreshold string `json:"late_threshold" validate:"required,clock_time"`
	End           string `json:"end" validate:"required,clock_time"`
}

// GetActive returns the current policy, seeding the configured default when
// the log is empty so policy history is never empty after first use.
func (s *PolicyService) GetActive(ctx context.Context) (*models.AttendancePolicy, error) {
	if s.cache != nil {
		var cached models.AttendancePolicy
		if err := s.cache.Get(ctx, repository.CacheKeyActivePolicy, &cached); err == nil {
			return &cached, nil
		}
	}

	policy, err := s.repo.GetActive(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		policy, err = s.repo.SeedDefault(ctx, &models.AttendancePolicy{
			StartTime:     s.defaults.DefaultStart,
			LateThreshold: s.defaults.DefaultLateThreshold,
			EndTime:       s.defaults.DefaultEnd,
		})
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load active policy")
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, repository.CacheKeyActivePolicy, policy, s.cacheTTL); err != nil {
			s.logger.Warn("failed to cache active policy", zap.Error(err))
		}
	}
	return policy, nil
}

// Set validates the window ordering, atomically supersedes the active policy
// and returns the new row.
func (s *PolicyService) Set(ctx context.Context, req SetPolicyRequest, actor *models.JWTClaims) (*models.AttendancePolicy, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid policy payload")
	}

	start, err := models.NormalizeClock(req.Start)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid start time")
	}
	late, err := models.NormalizeClock(req.LateThreshold)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid late threshold")
	}
	end, err := models.NormalizeClock(req.End)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid end time")
	}
	// Ordering is re-checked after normalization: "8:05" and "08:05:00" must
	// land on the same side of the comparison.
	if !(start < late && late < end) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "policy times must satisfy start < late threshold < end")
	}

	policy := &models.AttendancePolicy{
		StartTime:     start,
		LateThreshold: late,
		EndTime:       end,
	}
	if actor != nil {
		policy.CreatedBy = &actor.UserID
	}

	stored, err := s.repo.Replace(ctx, policy)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update policy")
	}

	if s.cache != nil {
		if err := s.cache.Delete(ctx, repository.CacheKeyActivePolicy); err != nil {
			s.logger.Warn("failed to invalidate policy cache", zap.Error(err))
		}
	}

	if s.audit != nil && actor != nil {
		payload, _ := json.Marshal(stored)
		if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
			UserID:     &actor.UserID,
			Action:     models.AuditActionPolicyUpdate,
			Resource:   "attendance_policy",
			ResourceID: &stored.ID,
			NewValues:  payload,
		}); err != nil {
			s.logger.Warn("failed to record policy audit log", zap.Error(err))
		}
	}

	return stored, nil
}

// History returns the policy log newest first.
func (s *PolicyService) History(ctx context.Context, page, pageSize int) ([]models.AttendancePolicy, *models.Pagination, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 50
	}
	rows, total, err := s.repo.History(ctx, page, pageSize)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list policy history")
	}
	return rows, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}
