package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/attendance-core-api/internal/models"
)

// PolicyRepository persists the append-only attendance policy log.
type PolicyRepository struct {
	db *sqlx.DB
}

// NewPolicyRepository constructs the repository.
func NewPolicyRepository(db *sqlx.DB) *PolicyRepository {
	return &PolicyRepository{db: db}
}

const policyColumns = `id, start_time, late_threshold, end_time, is_active, created_by, created_at`

// GetActive returns the most recently created active policy row, or
// sql.ErrNoRows when the log is empty.
func (r *PolicyRepository) GetActive(ctx context.Context) (*models.AttendancePolicy, error) {
	query := fmt.Sprintf(`SELECT %s FROM attendance_policies WHERE is_active = TRUE ORDER BY created_at DESC LIMIT 1`, policyColumns)
	var policy models.AttendancePolicy
	if err := r.db.GetContext(ctx, &policy, query); err != nil {
		return nil, err
	}
	return &policy, nil
}

// SeedDefault inserts the default policy only when no active row exists, so
// two concurrent first reads cannot both seed. When another writer won the
// race the freshly active row is returned instead.
func (r *PolicyRepository) SeedDefault(ctx context.Context, policy *models.AttendancePolicy) (*models.AttendancePolicy, error) {
	if policy.ID == "" {
		policy.ID = uuid.NewString()
	}
	if policy.CreatedAt.IsZero() {
		policy.CreatedAt = time.Now().UTC()
	}
	policy.IsActive = true

	query := fmt.Sprintf(`INSERT INTO attendance_policies (%s)
SELECT $1, $2, $3, $4, TRUE, $5, $6
WHERE NOT EXISTS (SELECT 1 FROM attendance_policies WHERE is_active = TRUE)
RETURNING %s`, policyColumns, policyColumns)

	var stored models.AttendancePolicy
	err := r.db.GetContext(ctx, &stored, query,
		policy.ID, policy.StartTime, policy.LateThreshold, policy.EndTime, policy.CreatedBy, policy.CreatedAt)
	if err == sql.ErrNoRows {
		return r.GetActive(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("seed default policy: %w", err)
	}
	return &stored, nil
}

func isActivePolicyConflict(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// Replace atomically deactivates the current active policy and inserts the
// new one. Either both statements commit or neither does; a failure leaves
// the previous policy active.
//
// Single-active-row enforcement relies on the partial unique index
// ON attendance_policies ((is_active)) WHERE is_active. Under READ COMMITTED
// two concurrent replaces can each miss the other's uncommitted row; the
// loser's insert then trips the index and is retried once, deactivating the
// winner's row this time.
func (r *PolicyRepository) Replace(ctx context.Context, policy *models.AttendancePolicy) (*models.AttendancePolicy, error) {
	stored, err := r.replaceTx(ctx, policy)
	if isActivePolicyConflict(err) {
		stored, err = r.replaceTx(ctx, policy)
	}
	return stored, err
}

func (r *PolicyRepository) replaceTx(ctx context.Context, policy *models.AttendancePolicy) (*models.AttendancePolicy, error) {
	if policy.ID == "" {
		policy.ID = uuid.NewString()
	}
	if policy.CreatedAt.IsZero() {
		policy.CreatedAt = time.Now().UTC()
	}
	policy.IsActive = true

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin policy replace: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx, `UPDATE attendance_policies SET is_active = FALSE WHERE is_active = TRUE`); err != nil {
		return nil, fmt.Errorf("deactivate current policy: %w", err)
	}

	query := fmt.Sprintf(`INSERT INTO attendance_policies (%s)
VALUES ($1, $2, $3, $4, TRUE, $5, $6)
RETURNING %s`, policyColumns, policyColumns)
	var stored models.AttendancePolicy
	if err := tx.QueryRowxContext(ctx, query,
		policy.ID, policy.StartTime, policy.LateThreshold, policy.EndTime, policy.CreatedBy, policy.CreatedAt).StructScan(&stored); err != nil {
		return nil, fmt.Errorf("insert policy: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit policy replace: %w", err)
	}
	committed = true
	return &stored, nil
}

// GetByID fetches a policy row regardless of its active flag.
func (r *PolicyRepository) GetByID(ctx context.Context, id string) (*models.AttendancePolicy, error) {
	query := fmt.Sprintf(`SELECT %s FROM attendance_policies WHERE id = $1`, policyColumns)
	var policy models.AttendancePolicy
	if err := r.db.GetContext(ctx, &policy, query, id); err != nil {
		return nil, err
	}
	return &policy, nil
}

// History lists policy rows newest first.
func (r *PolicyRepository) History(ctx context.Context, page, pageSize int) ([]models.AttendancePolicy, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 200 {
		pageSize = 50
	}
	offset := (page - 1) * pageSize

	query := fmt.Sprintf(`SELECT %s FROM attendance_policies ORDER BY created_at DESC LIMIT %d OFFSET %d`, policyColumns, pageSize, offset)
	var rows []models.AttendancePolicy
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, 0, fmt.Errorf("list policy history: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM attendance_policies`); err != nil {
		return nil, 0, fmt.Errorf("count policy history: %w", err)
	}
	return rows, total, nil
}
