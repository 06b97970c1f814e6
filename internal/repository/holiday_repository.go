package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/attendance-core-api/internal/models"
)

// HolidayRepository persists explicit non-attendance dates.
type HolidayRepository struct {
	db *sqlx.DB
}

// NewHolidayRepository constructs the repository.
func NewHolidayRepository(db *sqlx.DB) *HolidayRepository {
	return &HolidayRepository{db: db}
}

const holidayColumns = `id, date, name, kind, source, is_active, created_at, updated_at`

// GetActiveByDate fetches the active holiday row for a date, or sql.ErrNoRows.
func (r *HolidayRepository) GetActiveByDate(ctx context.Context, date time.Time) (*models.Holiday, error) {
	query := fmt.Sprintf(`SELECT %s FROM holidays WHERE date = $1 AND is_active = TRUE`, holidayColumns)
	var holiday models.Holiday
	if err := r.db.GetContext(ctx, &holiday, query, date); err != nil {
		return nil, err
	}
	return &holiday, nil
}

// Create inserts a holiday. The unique index on date suppresses duplicates;
// a conflicting insert surfaces as sql.ErrNoRows from the RETURNING clause.
func (r *HolidayRepository) Create(ctx context.Context, holiday *models.Holiday) (*models.Holiday, error) {
	now := time.Now().UTC()
	if holiday.ID == "" {
		holiday.ID = uuid.NewString()
	}
	if holiday.CreatedAt.IsZero() {
		holiday.CreatedAt = now
	}
	holiday.UpdatedAt = now

	query := fmt.Sprintf(`INSERT INTO holidays (%s)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (date) DO NOTHING
RETURNING %s`, holidayColumns, holidayColumns)

	var stored models.Holiday
	err := r.db.GetContext(ctx, &stored, query,
		holiday.ID, holiday.Date, holiday.Name, holiday.Kind, holiday.Source, holiday.IsActive, holiday.CreatedAt, holiday.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

// Update modifies name, kind and active flag of an existing holiday.
func (r *HolidayRepository) Update(ctx context.Context, holiday *models.Holiday) (*models.Holiday, error) {
	holiday.UpdatedAt = time.Now().UTC()
	query := fmt.Sprintf(`UPDATE holidays
SET name = $2, kind = $3, is_active = $4, updated_at = $5
WHERE id = $1
RETURNING %s`, holidayColumns)
	var stored models.Holiday
	if err := r.db.GetContext(ctx, &stored, query,
		holiday.ID, holiday.Name, holiday.Kind, holiday.IsActive, holiday.UpdatedAt); err != nil {
		return nil, err
	}
	return &stored, nil
}

// ListRange returns holiday rows within the inclusive date range.
func (r *HolidayRepository) ListRange(ctx context.Context, from, to *time.Time, activeOnly bool) ([]models.Holiday, error) {
	where := []string{"1=1"}
	args := []interface{}{}
	if from != nil {
		where = append(where, fmt.Sprintf("date >= $%d", len(args)+1))
		args = append(args, *from)
	}
	if to != nil {
		where = append(where, fmt.Sprintf("date <= $%d", len(args)+1))
		args = append(args, *to)
	}
	if activeOnly {
		where = append(where, "is_active = TRUE")
	}
	query := fmt.Sprintf(`SELECT %s FROM holidays WHERE %s ORDER BY date ASC`, holidayColumns, strings.Join(where, " AND "))
	var rows []models.Holiday
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list holidays: %w", err)
	}
	return rows, nil
}
