package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/attendance-core-api/internal/models"
)

type reconciliationRepoStub struct {
	unresolved   []models.UnresolvedStudent
	summary      *models.AttendanceDaySummary
	summaryCalls int
}

func (s *reconciliationRepoStub) Unresolved(ctx context.Context, date time.Time, scope models.RosterScope) ([]models.UnresolvedStudent, error) {
	return s.unresolved, nil
}

func (s *reconciliationRepoStub) DaySummary(ctx context.Context, date time.Time, scope models.RosterScope) (*models.AttendanceDaySummary, error) {
	s.summaryCalls++
	return s.summary, nil
}

func TestReconciliationSummaryCaches(t *testing.T) {
	repo := &reconciliationRepoStub{summary: &models.AttendanceDaySummary{
		Date:       time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		Roster:     30,
		OnTime:     24,
		Late:       3,
		Absent:     1,
		Unresolved: 5,
	}}
	cache := newCacheStub()
	svc := NewReconciliationService(repo, cache, nil, time.Minute)

	date := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	first, err := svc.Summary(context.Background(), date, models.RosterScope{})
	require.NoError(t, err)
	assert.Equal(t, 30, first.Roster)
	assert.Equal(t, 1, repo.summaryCalls)
	assert.Contains(t, cache.sets, "summary:2026-03-02:all:all")

	second, err := svc.Summary(context.Background(), date, models.RosterScope{})
	require.NoError(t, err)
	assert.Equal(t, first.Unresolved, second.Unresolved)
	assert.Equal(t, 1, repo.summaryCalls)
}

func TestReconciliationSummaryScopedCacheKey(t *testing.T) {
	repo := &reconciliationRepoStub{summary: &models.AttendanceDaySummary{}}
	cache := newCacheStub()
	svc := NewReconciliationService(repo, cache, nil, time.Minute)

	grade := 11
	_, err := svc.Summary(context.Background(), time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), models.RosterScope{Grade: &grade, Section: "B"})
	require.NoError(t, err)
	assert.Contains(t, cache.sets, "summary:2026-03-02:11:B")
}

func TestReconciliationUnresolvedPassthrough(t *testing.T) {
	repo := &reconciliationRepoStub{unresolved: []models.UnresolvedStudent{
		{Student: models.Student{ID: "stu-1"}, Status: models.AttendanceStatusAbsent},
		{Student: models.Student{ID: "stu-2"}, Status: models.AttendanceStatusLate},
	}}
	svc := NewReconciliationService(repo, nil, nil, time.Minute)

	rows, err := svc.Unresolved(context.Background(), time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC), models.RosterScope{})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, models.AttendanceStatusAbsent, rows[0].Status)
	assert.Equal(t, models.AttendanceStatusLate, rows[1].Status)
}
