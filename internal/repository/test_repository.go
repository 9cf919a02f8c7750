package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jamiebones/cbt-enroll-api/internal/models"
)

const testColumns = `id, title, center_owner_id, status, scheduled_at, scheduled_end,
        is_enrollment_required, enrollment_fee, max_enrollments, enrollment_deadline, allow_late_enrollment, require_payment,
        total_enrollments, active_enrollments, pending_payments, total_revenue, created_at, updated_at`

// TestRepository reads tests and writes their derived enrollment stats. Test
// content management lives in another subsystem.
type TestRepository struct {
	db *sqlx.DB
}

// NewTestRepository constructs the repository.
func NewTestRepository(db *sqlx.DB) *TestRepository {
	return &TestRepository{db: db}
}

// FindByID returns a test by its ID.
func (r *TestRepository) FindByID(ctx context.Context, id string) (*models.Test, error) {
	query := fmt.Sprintf(`SELECT %s FROM tests WHERE id = $1`, testColumns)
	var test models.Test
	if err := r.db.GetContext(ctx, &test, query, id); err != nil {
		return nil, err
	}
	return &test, nil
}

// UpdateStats writes the denormalized enrollment counters. Last writer wins;
// the values are purely derived.
func (r *TestRepository) UpdateStats(ctx context.Context, id string, stats models.EnrollmentStats) error {
	const query = `UPDATE tests SET total_enrollments = $2, active_enrollments = $3, pending_payments = $4, total_revenue = $5, updated_at = $6
        WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id,
		stats.TotalEnrollments, stats.ActiveEnrollments, stats.PendingPayments, stats.TotalRevenue, time.Now().UTC()); err != nil {
		return fmt.Errorf("update test stats: %w", err)
	}
	return nil
}
