package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/jamiebones/cbt-enroll-api/internal/models"
	"github.com/jamiebones/cbt-enroll-api/internal/payment"
	"github.com/jamiebones/cbt-enroll-api/internal/repository"
	appErrors "github.com/jamiebones/cbt-enroll-api/pkg/errors"
)

type enrollmentLedger interface {
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	FindActiveByTestAndStudent(ctx context.Context, testID, studentID string) (*models.Enrollment, error)
	FindByAccessCode(ctx context.Context, code, studentID, testID string) (*models.Enrollment, error)
	FindByTransactionID(ctx context.Context, transactionID string) (*models.Enrollment, error)
	CountActiveByTest(ctx context.Context, testID string) (int, error)
	Create(ctx context.Context, enrollment *models.Enrollment) error
	SetTransaction(ctx context.Context, id, transactionID, reference string) error
	CompletePaymentIfPending(ctx context.Context, id, method, transactionID string) (bool, error)
	MarkPaymentFailed(ctx context.Context, id string) error
	Cancel(ctx context.Context, id, reason string, refunded bool) error
	MarkAccessCodeUsed(ctx context.Context, id string, usedAt time.Time) (bool, error)
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, int, error)
}

type testReader interface {
	FindByID(ctx context.Context, id string) (*models.Test, error)
}

type accountReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type paymentGateway interface {
	Initialize(ctx context.Context, amount decimal.Decimal, currency string, meta payment.TransactionMetadata) (*models.PaymentInit, error)
	Verify(ctx context.Context, transactionID string) (*models.PaymentVerification, error)
	Refund(ctx context.Context, transactionID string, amount decimal.Decimal, reason string) (*models.PaymentRefund, error)
	HandleWebhook(payload []byte, signature string) (*models.WebhookEvent, error)
}

type statsRefresher interface {
	Refresh(testID string)
}

type codeIssuer interface {
	Issue(ctx context.Context) (string, error)
}

// EnrollStudentRequest describes an admission request.
type EnrollStudentRequest struct {
	TestID    string `json:"test_id" validate:"required"`
	StudentID string `json:"student_id" validate:"required"`
	Notes     string `json:"notes" validate:"max=500"`
}

// ProcessPaymentRequest triggers direct verification of a gateway transaction.
type ProcessPaymentRequest struct {
	TransactionID string `json:"transaction_id"`
	PaymentMethod string `json:"payment_method"`
}

// AccessCodeRequest identifies a credential to validate or redeem.
type AccessCodeRequest struct {
	AccessCode string `json:"access_code" validate:"required,len=12,hexadecimal"`
	StudentID  string `json:"student_id" validate:"required"`
	TestID     string `json:"test_id"`
}

// CancelEnrollmentRequest describes a cancellation.
type CancelEnrollmentRequest struct {
	Reason      string `json:"reason" validate:"required,max=500"`
	RequestedBy string `json:"-" validate:"required"`
}

// EnrollResult pairs the admission record with payment-initiation data.
// Payment is nil when no payment was needed.
type EnrollResult struct {
	Enrollment *models.Enrollment  `json:"enrollment"`
	Payment    *models.PaymentInit `json:"payment,omitempty"`
}

// CancelResult pairs the cancelled record with the refund outcome, if any.
type CancelResult struct {
	Enrollment *models.Enrollment    `json:"enrollment"`
	Refund     *models.PaymentRefund `json:"refund,omitempty"`
}

// EnrollmentService owns the enrollment state machine: admission checks,
// payment initiation and confirmation, cancellation/refund, and access-code
// validation/redemption.
type EnrollmentService struct {
	ledger    enrollmentLedger
	tests     testReader
	accounts  accountReader
	gateway   paymentGateway
	stats     statsRefresher
	codes     codeIssuer
	currency  string
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewEnrollmentService constructs EnrollmentService.
func NewEnrollmentService(ledger enrollmentLedger, tests testReader, accounts accountReader, gateway paymentGateway, stats statsRefresher, codes codeIssuer, currency string, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if currency == "" {
		currency = "NGN"
	}
	return &EnrollmentService{
		ledger:    ledger,
		tests:     tests,
		accounts:  accounts,
		gateway:   gateway,
		stats:     stats,
		codes:     codes,
		currency:  currency,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Enroll admits a student into a test, initiating a gateway transaction when
// the test carries a fee. Re-enrolling while a payment is pending returns the
// existing record instead of creating a duplicate.
func (s *EnrollmentService) Enroll(ctx context.Context, req EnrollStudentRequest) (*EnrollResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}

	test, err := s.tests.FindByID(ctx, req.TestID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "test not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load test")
	}
	if !test.IsEnrollmentOpen() {
		return nil, appErrors.Clone(appErrors.ErrConflict, "test is not open for enrollment")
	}
	if !test.IsEnrollmentRequired {
		return nil, appErrors.Clone(appErrors.ErrValidation, "enrollment is not required for this test")
	}
	now := s.now()
	if test.DeadlinePassed(now) && !test.AllowLateEnrollment {
		return nil, appErrors.Clone(appErrors.ErrConflict, "enrollment deadline has passed")
	}
	if test.MaxEnrollments > 0 {
		count, err := s.ledger.CountActiveByTest(ctx, req.TestID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count enrollments")
		}
		if count >= test.MaxEnrollments {
			return nil, appErrors.Clone(appErrors.ErrConflict, "maximum enrollment limit reached")
		}
	}

	student, err := s.accounts.FindByID(ctx, req.StudentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if student.Role != models.RoleStudent {
		return nil, appErrors.Clone(appErrors.ErrValidation, "account is not a student")
	}
	if !student.Active {
		return nil, appErrors.Clone(appErrors.ErrValidation, "student account is inactive")
	}
	if student.OwningCenter() != test.CenterOwnerID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "student does not belong to the test's center")
	}

	existing, err := s.ledger.FindActiveByTestAndStudent(ctx, req.TestID, req.StudentID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing enrollment")
	}
	if existing != nil {
		return s.continueExisting(ctx, test, existing)
	}

	return s.admit(ctx, test, student, req.Notes)
}

// continueExisting applies the idempotent-continuation rule for a
// non-cancelled record found during admission.
func (s *EnrollmentService) continueExisting(ctx context.Context, test *models.Test, existing *models.Enrollment) (*EnrollResult, error) {
	if existing.EnrollmentStatus == models.EnrollmentStatusEnrolled {
		return nil, appErrors.Clone(appErrors.ErrConflict, "student is already enrolled in this test")
	}

	// payment_pending: reuse the record, lazily opening a gateway
	// transaction when the first attempt never got that far.
	if existing.TransactionID == nil && s.paymentNeeded(test) {
		init, err := s.initializeTransaction(ctx, test, existing)
		if err != nil {
			return nil, err
		}
		return &EnrollResult{Enrollment: existing, Payment: init}, nil
	}

	result := &EnrollResult{Enrollment: existing}
	if existing.TransactionID != nil {
		result.Payment = &models.PaymentInit{
			TransactionID: *existing.TransactionID,
			Status:        models.GatewayStatusPending,
			Amount:        existing.PaymentAmount,
			Currency:      existing.Currency,
		}
	}
	return result, nil
}

func (s *EnrollmentService) admit(ctx context.Context, test *models.Test, student *models.User, notes string) (*EnrollResult, error) {
	amount := test.EnrollmentFee
	if amount.IsNegative() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "test has a negative enrollment fee")
	}

	enrollment := &models.Enrollment{
		TestID:        test.ID,
		StudentID:     student.ID,
		CenterOwnerID: test.CenterOwnerID,
		PaymentAmount: amount,
		Currency:      s.currency,
		Notes:         notes,
		ExpiresAt:     test.EnrollmentDeadline,
	}

	switch {
	case s.paymentNeeded(test):
		enrollment.EnrollmentStatus = models.EnrollmentStatusPaymentPending
		enrollment.PaymentStatus = models.PaymentStatusPending
	case amount.IsZero() && test.RequirePayment:
		enrollment.EnrollmentStatus = models.EnrollmentStatusEnrolled
		enrollment.PaymentStatus = models.PaymentStatusCompleted
	default:
		enrollment.EnrollmentStatus = models.EnrollmentStatusEnrolled
		enrollment.PaymentStatus = models.PaymentStatusNotRequired
	}

	if err := s.createWithFreshCode(ctx, enrollment); err != nil {
		return nil, err
	}

	result := &EnrollResult{Enrollment: enrollment}
	if s.paymentNeeded(test) {
		init, err := s.initializeTransaction(ctx, test, enrollment)
		if err != nil {
			// The record is persisted; re-enrolling resumes here via
			// the idempotent-continuation rule.
			return nil, err
		}
		result.Payment = init
	}

	s.stats.Refresh(test.ID)
	return result, nil
}

// createWithFreshCode persists the record, regenerating the access code when
// the uniqueness index reports a collision that the issuer's pre-check missed.
func (s *EnrollmentService) createWithFreshCode(ctx context.Context, enrollment *models.Enrollment) error {
	const codeRetries = 3
	for attempt := 0; attempt < codeRetries; attempt++ {
		code, err := s.codes.Issue(ctx)
		if err != nil {
			return err
		}
		enrollment.AccessCode = code

		err = s.ledger.Create(ctx, enrollment)
		if err == nil {
			return nil
		}
		if errors.Is(err, repository.ErrDuplicateEnrollment) {
			return appErrors.Clone(appErrors.ErrConflict, "student is already enrolled in this test")
		}
		if errors.Is(err, repository.ErrDuplicateAccessCode) {
			s.logger.Warn("access code collided on insert", zap.String("test_id", enrollment.TestID))
			continue
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create enrollment")
	}
	return appErrors.Clone(appErrors.ErrExhausted, "access code generation exhausted retries")
}

func (s *EnrollmentService) initializeTransaction(ctx context.Context, test *models.Test, enrollment *models.Enrollment) (*models.PaymentInit, error) {
	init, err := s.gateway.Initialize(ctx, enrollment.PaymentAmount, enrollment.Currency, payment.TransactionMetadata{
		EnrollmentID: enrollment.ID,
		TestID:       test.ID,
		StudentID:    enrollment.StudentID,
		Type:         "test_enrollment",
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUpstream.Code, appErrors.ErrUpstream.Status, "failed to initialize payment")
	}

	reference := init.PaymentURL
	if reference == "" {
		reference = init.TransactionID
	}
	if err := s.ledger.SetTransaction(ctx, enrollment.ID, init.TransactionID, reference); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record transaction")
	}
	enrollment.TransactionID = &init.TransactionID
	enrollment.PaymentReference = &reference
	return init, nil
}

func (s *EnrollmentService) paymentNeeded(test *models.Test) bool {
	return test.RequirePayment && test.EnrollmentFee.IsPositive()
}

// ProcessPayment verifies a gateway transaction and applies the completion
// transition. Verification failures and gateway timeouts leave the enrollment
// retryable; an already-settled payment is never credited twice.
func (s *EnrollmentService) ProcessPayment(ctx context.Context, enrollmentID string, req ProcessPaymentRequest) (*models.Enrollment, error) {
	enrollment, err := s.ledger.FindByID(ctx, enrollmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}

	test, err := s.tests.FindByID(ctx, enrollment.TestID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "test not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load test")
	}
	if !test.IsEnrollmentOpen() {
		return nil, appErrors.Clone(appErrors.ErrConflict, "test is not open for enrollment")
	}
	if enrollment.PaymentStatus == models.PaymentStatusCompleted {
		return nil, appErrors.Clone(appErrors.ErrConflict, "payment already completed")
	}

	transactionID := req.TransactionID
	if transactionID == "" && enrollment.TransactionID != nil {
		transactionID = *enrollment.TransactionID
	}
	if transactionID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "no transaction to verify")
	}

	verification, err := s.gateway.Verify(ctx, transactionID)
	if err != nil {
		// A gateway timeout is a verification failure, not a crash.
		s.logger.Warn("payment verification errored",
			zap.String("enrollment_id", enrollmentID),
			zap.String("transaction_id", transactionID),
			zap.Error(err),
		)
		if markErr := s.ledger.MarkPaymentFailed(ctx, enrollmentID); markErr != nil {
			s.logger.Error("failed to mark payment failed", zap.String("enrollment_id", enrollmentID), zap.Error(markErr))
		}
		return nil, appErrors.Clone(appErrors.ErrUpstream, "payment verification failed")
	}
	if verification.Status != models.GatewayStatusCompleted {
		if markErr := s.ledger.MarkPaymentFailed(ctx, enrollmentID); markErr != nil {
			s.logger.Error("failed to mark payment failed", zap.String("enrollment_id", enrollmentID), zap.Error(markErr))
		}
		return nil, appErrors.Clone(appErrors.ErrUpstream, "payment verification failed")
	}

	method := req.PaymentMethod
	if method == "" {
		method = verification.PaymentMethod
	}
	if method == "" {
		method = "direct"
	}

	applied, err := s.ledger.CompletePaymentIfPending(ctx, enrollmentID, method, transactionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to complete payment")
	}
	if !applied {
		return nil, appErrors.Clone(appErrors.ErrConflict, "payment already completed")
	}

	s.metrics.CountPayment(method)
	s.stats.Refresh(enrollment.TestID)
	return s.reload(ctx, enrollmentID)
}

// HandlePaymentWebhook ingests an asynchronous gateway notification. The
// handler is idempotent: redelivered completions are no-ops, and events for
// unknown transactions are acknowledged so the gateway stops retrying.
func (s *EnrollmentService) HandlePaymentWebhook(ctx context.Context, payload []byte, signature string) (*models.WebhookEvent, error) {
	event, err := s.gateway.HandleWebhook(payload, signature)
	if err != nil {
		return nil, err
	}

	switch event.Event {
	case models.WebhookEventPaymentCompleted:
		if err := s.applyWebhookCompletion(ctx, event); err != nil {
			return nil, err
		}
	case models.WebhookEventPaymentFailed:
		s.applyWebhookFailure(ctx, event)
	default:
		s.logger.Info("ignoring webhook event", zap.String("event", event.Event))
	}

	return event, nil
}

func (s *EnrollmentService) applyWebhookCompletion(ctx context.Context, event *models.WebhookEvent) error {
	enrollment, err := s.ledger.FindByTransactionID(ctx, event.TransactionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Info("webhook for unknown transaction",
				zap.String("transaction_id", event.TransactionID))
			return nil
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve webhook transaction")
	}
	if enrollment.PaymentStatus == models.PaymentStatusCompleted {
		return nil
	}

	applied, err := s.ledger.CompletePaymentIfPending(ctx, enrollment.ID, models.PaymentMethodWebhook, event.TransactionID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to apply webhook completion")
	}
	if applied {
		s.metrics.CountPayment(models.PaymentMethodWebhook)
		s.stats.Refresh(enrollment.TestID)
	}
	return nil
}

func (s *EnrollmentService) applyWebhookFailure(ctx context.Context, event *models.WebhookEvent) {
	enrollment, err := s.ledger.FindByTransactionID(ctx, event.TransactionID)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("failed to resolve webhook transaction", zap.String("transaction_id", event.TransactionID), zap.Error(err))
		}
		return
	}
	if enrollment.PaymentStatus != models.PaymentStatusPending {
		return
	}
	if err := s.ledger.MarkPaymentFailed(ctx, enrollment.ID); err != nil {
		s.logger.Error("failed to mark payment failed", zap.String("enrollment_id", enrollment.ID), zap.Error(err))
	}
}

// ValidateAccessCode checks a credential without consuming it. Redemption is
// a separate step so a validation the caller never acts on cannot burn the
// code.
func (s *EnrollmentService) ValidateAccessCode(ctx context.Context, req AccessCodeRequest) (*models.Enrollment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid access code payload")
	}

	enrollment, err := s.ledger.FindByAccessCode(ctx, req.AccessCode, req.StudentID, req.TestID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "invalid access code")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to look up access code")
	}

	if enrollment.EnrollmentStatus != models.EnrollmentStatusEnrolled {
		return nil, appErrors.Clone(appErrors.ErrConflict, "enrollment is not active")
	}
	if enrollment.PaymentStatus != models.PaymentStatusCompleted && enrollment.PaymentStatus != models.PaymentStatusNotRequired {
		return nil, appErrors.Clone(appErrors.ErrConflict, "payment not completed")
	}
	if enrollment.AccessCodeUsed {
		return nil, appErrors.Clone(appErrors.ErrConflict, "access code already used")
	}

	test, err := s.tests.FindByID(ctx, enrollment.TestID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "test not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load test")
	}
	now := s.now()
	if !test.IsStartable(now) {
		return nil, appErrors.Clone(appErrors.ErrConflict, "test is not currently startable")
	}
	if enrollment.IsExpired(now) {
		return nil, appErrors.Clone(appErrors.ErrConflict, "access code has expired")
	}

	return enrollment, nil
}

// RedeemAccessCode validates and then burns the credential. The mark-used
// update is conditional, so two racing redemptions consume the code once.
func (s *EnrollmentService) RedeemAccessCode(ctx context.Context, req AccessCodeRequest) (*models.Enrollment, error) {
	enrollment, err := s.ValidateAccessCode(ctx, req)
	if err != nil {
		return nil, err
	}

	usedAt := s.now()
	applied, err := s.ledger.MarkAccessCodeUsed(ctx, enrollment.ID, usedAt)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to redeem access code")
	}
	if !applied {
		return nil, appErrors.Clone(appErrors.ErrConflict, "access code already used")
	}

	enrollment.AccessCodeUsed = true
	enrollment.AccessCodeUsedAt = &usedAt
	return enrollment, nil
}

// Cancel terminates an enrollment, refunding a settled payment first. Only
// the test's owning center may cancel.
func (s *EnrollmentService) Cancel(ctx context.Context, enrollmentID string, req CancelEnrollmentRequest) (*CancelResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid cancellation payload")
	}

	enrollment, err := s.ledger.FindByID(ctx, enrollmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if enrollment.EnrollmentStatus == models.EnrollmentStatusCancelled {
		return nil, appErrors.Clone(appErrors.ErrConflict, "enrollment already cancelled")
	}

	test, err := s.tests.FindByID(ctx, enrollment.TestID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "test not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load test")
	}
	if req.RequestedBy != test.CenterOwnerID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the owning center may cancel an enrollment")
	}

	var refund *models.PaymentRefund
	refunded := false
	if enrollment.PaymentStatus == models.PaymentStatusCompleted && enrollment.PaymentAmount.IsPositive() {
		transactionID := ""
		if enrollment.TransactionID != nil {
			transactionID = *enrollment.TransactionID
		}
		refund, err = s.gateway.Refund(ctx, transactionID, enrollment.PaymentAmount, req.Reason)
		if err != nil {
			// Refund failures block cancellation; losing a refund
			// silently is worse than a retried cancel.
			return nil, appErrors.Wrap(err, appErrors.ErrUpstream.Code, appErrors.ErrUpstream.Status, "refund failed")
		}
		refunded = true
	}

	if err := s.ledger.Cancel(ctx, enrollmentID, req.Reason, refunded); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to cancel enrollment")
	}

	s.stats.Refresh(enrollment.TestID)

	updated, err := s.reload(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}
	return &CancelResult{Enrollment: updated, Refund: refund}, nil
}

// Get returns a single enrollment, enforcing visibility: students see their
// own records, centers their center's, admins everything.
func (s *EnrollmentService) Get(ctx context.Context, id string, actorID string, role models.UserRole) (*models.Enrollment, error) {
	enrollment, err := s.ledger.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}

	switch role {
	case models.RoleAdmin:
	case models.RoleCenter:
		if enrollment.CenterOwnerID != actorID {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "enrollment belongs to another center")
		}
	default:
		if enrollment.StudentID != actorID {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "enrollment belongs to another student")
		}
	}
	return enrollment, nil
}

// List returns enrollments with pagination metadata.
func (s *EnrollmentService) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, *models.Pagination, error) {
	enrollments, total, err := s.ledger.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return enrollments, pagination, nil
}

func (s *EnrollmentService) reload(ctx context.Context, id string) (*models.Enrollment, error) {
	enrollment, err := s.ledger.FindByID(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reload enrollment")
	}
	return enrollment, nil
}
