package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jamiebones/cbt-enroll-api/internal/models"
)

// Constraint names the insert path relies on. Concurrent admissions and code
// collisions surface as unique violations rather than silent duplicates.
const (
	ConstraintActiveEnrollment = "enrollments_test_student_active_key"
	ConstraintAccessCode       = "enrollments_access_code_key"
)

// Sentinel errors translated from storage-level unique violations.
var (
	ErrDuplicateEnrollment = errors.New("enrollment already exists for test and student")
	ErrDuplicateAccessCode = errors.New("access code already assigned")
)

const enrollmentColumns = `id, test_id, student_id, center_owner_id, access_code, access_code_used, access_code_used_at,
        enrollment_status, payment_status, payment_amount, currency, transaction_id, payment_reference, payment_method,
        notes, expires_at, cancelled_at, cancel_reason, created_at, updated_at`

// EnrollmentRepository handles persistence of enrollments.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// FindByID returns an enrollment by its ID.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrollments WHERE id = $1`, enrollmentColumns)
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// FindActiveByTestAndStudent returns the single non-cancelled enrollment for
// the (test, student) pair, or sql.ErrNoRows.
func (r *EnrollmentRepository) FindActiveByTestAndStudent(ctx context.Context, testID, studentID string) (*models.Enrollment, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrollments WHERE test_id = $1 AND student_id = $2 AND enrollment_status <> $3`, enrollmentColumns)
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, testID, studentID, models.EnrollmentStatusCancelled); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// FindByAccessCode looks an enrollment up by code and student, optionally
// narrowed to a test.
func (r *EnrollmentRepository) FindByAccessCode(ctx context.Context, code, studentID, testID string) (*models.Enrollment, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrollments WHERE access_code = $1 AND student_id = $2`, enrollmentColumns)
	args := []interface{}{code, studentID}
	if testID != "" {
		query += " AND test_id = $3"
		args = append(args, testID)
	}
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, args...); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// FindByTransactionID resolves the enrollment a gateway transaction belongs to.
func (r *EnrollmentRepository) FindByTransactionID(ctx context.Context, transactionID string) (*models.Enrollment, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrollments WHERE transaction_id = $1`, enrollmentColumns)
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, transactionID); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// CountActiveByTest counts records holding capacity for a test.
func (r *EnrollmentRepository) CountActiveByTest(ctx context.Context, testID string) (int, error) {
	const query = `SELECT COUNT(*) FROM enrollments WHERE test_id = $1 AND enrollment_status IN ($2, $3)`
	var count int
	if err := r.db.GetContext(ctx, &count, query, testID, models.EnrollmentStatusEnrolled, models.EnrollmentStatusPaymentPending); err != nil {
		return 0, fmt.Errorf("count active enrollments: %w", err)
	}
	return count, nil
}

// AccessCodeExists reports whether any enrollment already carries the code.
func (r *EnrollmentRepository) AccessCodeExists(ctx context.Context, code string) (bool, error) {
	const query = `SELECT 1 FROM enrollments WHERE access_code = $1 LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, code); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check access code: %w", err)
	}
	return true, nil
}

// Create persists a new enrollment record. Unique violations on the partial
// (test_id, student_id) index or the access-code index are translated into
// sentinel errors so the service can react without re-reading.
func (r *EnrollmentRepository) Create(ctx context.Context, enrollment *models.Enrollment) error {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if enrollment.CreatedAt.IsZero() {
		enrollment.CreatedAt = now
	}
	enrollment.UpdatedAt = now

	const query = `INSERT INTO enrollments (id, test_id, student_id, center_owner_id, access_code, access_code_used,
        enrollment_status, payment_status, payment_amount, currency, transaction_id, payment_reference, payment_method,
        notes, expires_at, created_at, updated_at)
        VALUES (:id, :test_id, :student_id, :center_owner_id, :access_code, :access_code_used,
        :enrollment_status, :payment_status, :payment_amount, :currency, :transaction_id, :payment_reference, :payment_method,
        :notes, :expires_at, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, enrollment); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			switch pqErr.Constraint {
			case ConstraintActiveEnrollment:
				return ErrDuplicateEnrollment
			case ConstraintAccessCode:
				return ErrDuplicateAccessCode
			}
		}
		return fmt.Errorf("create enrollment: %w", err)
	}
	return nil
}

// SetTransaction stores gateway transaction identifiers on the record. Set
// once when a transaction is lazily or eagerly initialized.
func (r *EnrollmentRepository) SetTransaction(ctx context.Context, id, transactionID, reference string) error {
	const query = `UPDATE enrollments SET transaction_id = $2, payment_reference = $3, updated_at = $4 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, transactionID, reference, time.Now().UTC()); err != nil {
		return fmt.Errorf("set enrollment transaction: %w", err)
	}
	return nil
}

// CompletePaymentIfPending applies the completion transition as a single
// conditional update. Both producers (direct verification and webhook) funnel
// through this statement, so the payment is credited at most once. Failed
// verifications stay retryable, hence the failed pre-state is also allowed.
func (r *EnrollmentRepository) CompletePaymentIfPending(ctx context.Context, id, method, transactionID string) (bool, error) {
	const query = `UPDATE enrollments
        SET payment_status = $2, enrollment_status = $3, payment_method = $4, transaction_id = COALESCE(transaction_id, $5), updated_at = $6
        WHERE id = $1 AND payment_status IN ($7, $8)`
	res, err := r.db.ExecContext(ctx, query, id,
		models.PaymentStatusCompleted, models.EnrollmentStatusEnrolled, method, nullable(transactionID), time.Now().UTC(),
		models.PaymentStatusPending, models.PaymentStatusFailed)
	if err != nil {
		return false, fmt.Errorf("complete enrollment payment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("complete enrollment payment: %w", err)
	}
	return affected > 0, nil
}

// MarkPaymentFailed records a failed verification attempt. The enrollment
// itself stays payment_pending and retryable.
func (r *EnrollmentRepository) MarkPaymentFailed(ctx context.Context, id string) error {
	const query = `UPDATE enrollments SET payment_status = $2, updated_at = $3 WHERE id = $1 AND payment_status = $4`
	if _, err := r.db.ExecContext(ctx, query, id, models.PaymentStatusFailed, time.Now().UTC(), models.PaymentStatusPending); err != nil {
		return fmt.Errorf("mark payment failed: %w", err)
	}
	return nil
}

// Cancel marks the enrollment cancelled, optionally flipping the payment
// status to refunded in the same statement.
func (r *EnrollmentRepository) Cancel(ctx context.Context, id, reason string, refunded bool) error {
	now := time.Now().UTC()
	if refunded {
		const query = `UPDATE enrollments SET enrollment_status = $2, payment_status = $3, cancel_reason = $4, cancelled_at = $5, updated_at = $5
            WHERE id = $1 AND enrollment_status <> $2`
		if _, err := r.db.ExecContext(ctx, query, id, models.EnrollmentStatusCancelled, models.PaymentStatusRefunded, reason, now); err != nil {
			return fmt.Errorf("cancel enrollment: %w", err)
		}
		return nil
	}
	const query = `UPDATE enrollments SET enrollment_status = $2, cancel_reason = $3, cancelled_at = $4, updated_at = $4
        WHERE id = $1 AND enrollment_status <> $2`
	if _, err := r.db.ExecContext(ctx, query, id, models.EnrollmentStatusCancelled, reason, now); err != nil {
		return fmt.Errorf("cancel enrollment: %w", err)
	}
	return nil
}

// MarkAccessCodeUsed burns the code, conditional on it being unused and the
// enrollment active. Returns false when the code was already redeemed.
func (r *EnrollmentRepository) MarkAccessCodeUsed(ctx context.Context, id string, usedAt time.Time) (bool, error) {
	const query = `UPDATE enrollments SET access_code_used = TRUE, access_code_used_at = $2, updated_at = $2
        WHERE id = $1 AND access_code_used = FALSE AND enrollment_status = $3`
	res, err := r.db.ExecContext(ctx, query, id, usedAt, models.EnrollmentStatusEnrolled)
	if err != nil {
		return false, fmt.Errorf("mark access code used: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark access code used: %w", err)
	}
	return affected > 0, nil
}

// AggregateStatsByTest groups enrollments by (enrollment_status,
// payment_status), returning counts and summed amounts.
func (r *EnrollmentRepository) AggregateStatsByTest(ctx context.Context, testID string) ([]models.StatsRow, error) {
	const query = `SELECT enrollment_status, payment_status, COUNT(*) AS count, COALESCE(SUM(payment_amount), 0) AS amount
        FROM enrollments WHERE test_id = $1 GROUP BY enrollment_status, payment_status`
	var rows []models.StatsRow
	if err := r.db.SelectContext(ctx, &rows, query, testID); err != nil {
		return nil, fmt.Errorf("aggregate enrollment stats: %w", err)
	}
	return rows, nil
}

// List returns enrollments filtered by the provided criteria.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, int, error) {
	var conditions []string
	var args []interface{}

	if filter.TestID != "" {
		conditions = append(conditions, fmt.Sprintf("test_id = $%d", len(args)+1))
		args = append(args, filter.TestID)
	}
	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.CenterOwnerID != "" {
		conditions = append(conditions, fmt.Sprintf("center_owner_id = $%d", len(args)+1))
		args = append(args, filter.CenterOwnerID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("enrollment_status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.PaymentStatus != "" {
		conditions = append(conditions, fmt.Sprintf("payment_status = $%d", len(args)+1))
		args = append(args, filter.PaymentStatus)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"created_at":     "created_at",
		"payment_amount": "payment_amount",
		"status":         "enrollment_status",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "created_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT %s FROM enrollments%s ORDER BY %s %s LIMIT %d OFFSET %d`,
		enrollmentColumns, clause, orderBy, order, size, offset)

	var enrollments []models.Enrollment
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}

	countQuery := "SELECT COUNT(*) FROM enrollments" + clause
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}
	return enrollments, total, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
