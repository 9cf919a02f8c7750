package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// EnrollmentStatus represents the lifecycle of an enrollment. Cancelled is
// terminal; records are never physically deleted.
type EnrollmentStatus string

const (
	EnrollmentStatusPaymentPending EnrollmentStatus = "payment_pending"
	EnrollmentStatusEnrolled       EnrollmentStatus = "enrolled"
	EnrollmentStatusCancelled      EnrollmentStatus = "cancelled"
)

// PaymentStatus tracks payment settlement independently of the enrollment
// lifecycle.
type PaymentStatus string

const (
	PaymentStatusPending     PaymentStatus = "pending"
	PaymentStatusCompleted   PaymentStatus = "completed"
	PaymentStatusFailed      PaymentStatus = "failed"
	PaymentStatusRefunded    PaymentStatus = "refunded"
	PaymentStatusNotRequired PaymentStatus = "not_required"
)

// PaymentMethodWebhook tags completions applied by asynchronous webhook
// delivery rather than direct verification.
const PaymentMethodWebhook = "webhook"

// Enrollment is a student's admission record for one test. One non-cancelled
// record may exist per (test, student); the access code is globally unique.
type Enrollment struct {
	ID            string `db:"id" json:"id"`
	TestID        string `db:"test_id" json:"test_id"`
	StudentID     string `db:"student_id" json:"student_id"`
	CenterOwnerID string `db:"center_owner_id" json:"center_owner_id"`

	AccessCode       string     `db:"access_code" json:"access_code"`
	AccessCodeUsed   bool       `db:"access_code_used" json:"access_code_used"`
	AccessCodeUsedAt *time.Time `db:"access_code_used_at" json:"access_code_used_at,omitempty"`

	EnrollmentStatus EnrollmentStatus `db:"enrollment_status" json:"enrollment_status"`
	PaymentStatus    PaymentStatus    `db:"payment_status" json:"payment_status"`

	PaymentAmount    decimal.Decimal `db:"payment_amount" json:"payment_amount"`
	Currency         string          `db:"currency" json:"currency"`
	TransactionID    *string         `db:"transaction_id" json:"transaction_id,omitempty"`
	PaymentReference *string         `db:"payment_reference" json:"payment_reference,omitempty"`
	PaymentMethod    *string         `db:"payment_method" json:"payment_method,omitempty"`

	Notes        string     `db:"notes" json:"notes,omitempty"`
	ExpiresAt    *time.Time `db:"expires_at" json:"expires_at,omitempty"`
	CancelledAt  *time.Time `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CancelReason *string    `db:"cancel_reason" json:"cancel_reason,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// IsActive reports whether the record counts against capacity.
func (e *Enrollment) IsActive() bool {
	return e.EnrollmentStatus == EnrollmentStatusEnrolled ||
		e.EnrollmentStatus == EnrollmentStatusPaymentPending
}

// IsExpired reports whether the enrollment is past its redemption deadline.
func (e *Enrollment) IsExpired(now time.Time) bool {
	return e.ExpiresAt != nil && now.After(*e.ExpiresAt)
}

// EnrollmentFilter provides filters for listing enrollments.
type EnrollmentFilter struct {
	TestID        string
	StudentID     string
	CenterOwnerID string
	Status        EnrollmentStatus
	PaymentStatus PaymentStatus
	Page          int
	PageSize      int
	SortBy        string
	SortOrder     string
}

// StatsRow is one bucket of the grouped aggregation over
// (enrollment_status, payment_status).
type StatsRow struct {
	EnrollmentStatus EnrollmentStatus `db:"enrollment_status"`
	PaymentStatus    PaymentStatus    `db:"payment_status"`
	Count            int              `db:"count"`
	Amount           decimal.Decimal  `db:"amount"`
}
