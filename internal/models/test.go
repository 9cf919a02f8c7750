package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TestStatus represents the lifecycle of a scheduled test.
type TestStatus string

const (
	TestStatusDraft     TestStatus = "draft"
	TestStatusPublished TestStatus = "published"
	TestStatusActive    TestStatus = "active"
	TestStatusCompleted TestStatus = "completed"
	TestStatusCancelled TestStatus = "cancelled"
)

// Test is the scheduled assessment students enroll into. Question content is
// managed elsewhere; this service reads the enrollment configuration and owns
// the denormalized enrollment stats.
type Test struct {
	ID            string     `db:"id" json:"id"`
	Title         string     `db:"title" json:"title"`
	CenterOwnerID string     `db:"center_owner_id" json:"center_owner_id"`
	Status        TestStatus `db:"status" json:"status"`
	ScheduledAt   *time.Time `db:"scheduled_at" json:"scheduled_at,omitempty"`
	ScheduledEnd  *time.Time `db:"scheduled_end" json:"scheduled_end,omitempty"`

	EnrollmentConfig
	EnrollmentStats

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// EnrollmentConfig is the per-test enrollment policy, read-only here.
type EnrollmentConfig struct {
	IsEnrollmentRequired bool            `db:"is_enrollment_required" json:"is_enrollment_required"`
	EnrollmentFee        decimal.Decimal `db:"enrollment_fee" json:"enrollment_fee"`
	MaxEnrollments       int             `db:"max_enrollments" json:"max_enrollments"`
	EnrollmentDeadline   *time.Time      `db:"enrollment_deadline" json:"enrollment_deadline,omitempty"`
	AllowLateEnrollment  bool            `db:"allow_late_enrollment" json:"allow_late_enrollment"`
	RequirePayment       bool            `db:"require_payment" json:"require_payment"`
}

// EnrollmentStats are derived counters owned exclusively by the stats
// aggregator; never hand-edited.
type EnrollmentStats struct {
	TotalEnrollments  int             `db:"total_enrollments" json:"total_enrollments"`
	ActiveEnrollments int             `db:"active_enrollments" json:"active_enrollments"`
	PendingPayments   int             `db:"pending_payments" json:"pending_payments"`
	TotalRevenue      decimal.Decimal `db:"total_revenue" json:"total_revenue"`
}

// IsEnrollmentOpen reports whether the test accepts new enrollments.
func (t *Test) IsEnrollmentOpen() bool {
	return t.Status == TestStatusPublished || t.Status == TestStatusActive
}

// IsStartable reports whether a test session may begin at the given instant.
func (t *Test) IsStartable(now time.Time) bool {
	if t.Status != TestStatusActive {
		return false
	}
	if t.ScheduledAt != nil && now.Before(*t.ScheduledAt) {
		return false
	}
	if t.ScheduledEnd != nil && now.After(*t.ScheduledEnd) {
		return false
	}
	return true
}

// DeadlinePassed reports whether the enrollment deadline has elapsed.
func (c *EnrollmentConfig) DeadlinePassed(now time.Time) bool {
	return c.EnrollmentDeadline != nil && now.After(*c.EnrollmentDeadline)
}
