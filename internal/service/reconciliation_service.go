package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/attendance-core-api/internal/models"
	"github.com/noah-isme/attendance-core-api/internal/repository"
	appErrors "github.com/noah-isme/attendance-core-api/pkg/errors"
)

type reconciliationRepository interface {
	Unresolved(ctx context.Context, date time.Time, scope models.RosterScope) ([]models.UnresolvedStudent, error)
	DaySummary(ctx context.Context, date time.Time, scope models.RosterScope) (*models.AttendanceDaySummary, error)
}

// ReconciliationService answers "who still needs attention for this date".
// Both queries are read-only derivations over the record and report tables;
// nothing reconciliation returns is ever written back.
type ReconciliationService struct {
	repo       reconciliationRepository
	cache      cacheStore
	logger     *zap.Logger
	summaryTTL time.Duration
}

// NewReconciliationService constructs the reconciliation service.
func NewReconciliationService(repo reconciliationRepository, cache cacheStore, logger *zap.Logger, summaryTTL time.Duration) *ReconciliationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReconciliationService{repo: repo, cache: cache, logger: logger, summaryTTL: summaryTTL}
}

// Unresolved lists the scoped students whose date has no settled outcome:
// absent with no covering approved report, or late with no covering approved
// report. Settled students are omitted.
func (s *ReconciliationService) Unresolved(ctx context.Context, date time.Time, scope models.RosterScope) ([]models.UnresolvedStudent, error) {
	rows, err := s.repo.Unresolved(ctx, models.DateOf(date), scope)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to compute unresolved students")
	}
	return rows, nil
}

func summaryCacheKey(date time.Time, scope models.RosterScope) string {
	grade := "all"
	if scope.Grade != nil {
		grade = fmt.Sprintf("%d", *scope.Grade)
	}
	section := scope.Section
	if section == "" {
		section = "all"
	}
	return fmt.Sprintf("%s%s:%s:%s", repository.CacheKeySummaryPrefix, date.Format(dateLayout), grade, section)
}

// Summary returns the per-status counts for a date, cached briefly since
// dashboards poll it. Staleness within the TTL is acceptable; writers
// invalidate by pattern on correction.
func (s *ReconciliationService) Summary(ctx context.Context, date time.Time, scope models.RosterScope) (*models.AttendanceDaySummary, error) {
	date = models.DateOf(date)
	key := summaryCacheKey(date, scope)

	if s.cache != nil {
		var cached models.AttendanceDaySummary
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			return &cached, nil
		}
	}

	summary, err := s.repo.DaySummary(ctx, date, scope)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to compute day summary")
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, summary, s.summaryTTL); err != nil {
			s.logger.Warn("failed to cache day summary", zap.Error(err))
		}
	}
	return summary, nil
}
