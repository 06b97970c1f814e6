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

func holidayRows(id string, date time.Time, name string, kind models.HolidayKind) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows([]string{"id", "date", "name", "kind", "source", "is_active", "created_at", "updated_at"}).
		AddRow(id, date, name, kind, models.HolidaySourceManual, true, now, now)
}

func TestHolidayRepositoryGetActiveByDate(t *testing.T) {
	db, mock, closeFn := newMock(t)
	defer closeFn()
	repo := NewHolidayRepository(db)

	date := time.Date(2026, 8, 17, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM holidays WHERE date = $1 AND is_active = TRUE`)).
		WithArgs(date).
		WillReturnRows(holidayRows("hol-1", date, "Independence Day", models.HolidayKindNational))

	holiday, err := repo.GetActiveByDate(context.Background(), date)
	require.NoError(t, err)
	assert.Equal(t, "Independence Day", holiday.Name)
	assert.Equal(t, models.HolidayKindNational, holiday.Kind)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHolidayRepositoryCreateConflict(t *testing.T) {
	db, mock, closeFn := newMock(t)
	defer closeFn()
	repo := NewHolidayRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO holidays`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.Create(context.Background(), &models.Holiday{
		Date:     time.Date(2026, 8, 17, 0, 0, 0, 0, time.UTC),
		Name:     "Independence Day",
		Kind:     models.HolidayKindNational,
		Source:   models.HolidaySourceManual,
		IsActive: true,
	})
	assert.True(t, errors.Is(err, sql.ErrNoRows))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHolidayRepositoryListRangeFilters(t *testing.T) {
	db, mock, closeFn := newMock(t)
	defer closeFn()
	repo := NewHolidayRepository(db)

	from := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta(`date >= $1 AND date <= $2 AND is_active = TRUE ORDER BY date ASC`)).
		WithArgs(from, to).
		WillReturnRows(holidayRows("hol-1", time.Date(2026, 8, 17, 0, 0, 0, 0, time.UTC), "Independence Day", models.HolidayKindNational))

	rows, err := repo.ListRange(context.Background(), &from, &to, true)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "hol-1", rows[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
