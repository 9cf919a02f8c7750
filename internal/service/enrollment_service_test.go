package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jamiebones/cbt-enroll-api/internal/models"
	"github.com/jamiebones/cbt-enroll-api/internal/payment"
	appErrors "github.com/jamiebones/cbt-enroll-api/pkg/errors"
)

type mockEnrollmentLedger struct {
	records    map[string]*models.Enrollment
	createErrs []error
	created    int
	nextID     int
}

func (m *mockEnrollmentLedger) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	if rec, ok := m.records[id]; ok {
		return rec, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockEnrollmentLedger) FindActiveByTestAndStudent(ctx context.Context, testID, studentID string) (*models.Enrollment, error) {
	for _, rec := range m.records {
		if rec.TestID == testID && rec.StudentID == studentID && rec.EnrollmentStatus != models.EnrollmentStatusCancelled {
			return rec, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockEnrollmentLedger) FindByAccessCode(ctx context.Context, code, studentID, testID string) (*models.Enrollment, error) {
	for _, rec := range m.records {
		if rec.AccessCode != code || rec.StudentID != studentID {
			continue
		}
		if testID != "" && rec.TestID != testID {
			continue
		}
		return rec, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockEnrollmentLedger) FindByTransactionID(ctx context.Context, transactionID string) (*models.Enrollment, error) {
	for _, rec := range m.records {
		if rec.TransactionID != nil && *rec.TransactionID == transactionID {
			return rec, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockEnrollmentLedger) CountActiveByTest(ctx context.Context, testID string) (int, error) {
	count := 0
	for _, rec := range m.records {
		if rec.TestID == testID && rec.IsActive() {
			count++
		}
	}
	return count, nil
}

func (m *mockEnrollmentLedger) AccessCodeExists(ctx context.Context, code string) (bool, error) {
	for _, rec := range m.records {
		if rec.AccessCode == code {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockEnrollmentLedger) Create(ctx context.Context, enrollment *models.Enrollment) error {
	if len(m.createErrs) > 0 {
		err := m.createErrs[0]
		m.createErrs = m.createErrs[1:]
		if err != nil {
			return err
		}
	}
	if enrollment.ID == "" {
		m.nextID++
		enrollment.ID = "enr-generated"
	}
	if m.records == nil {
		m.records = make(map[string]*models.Enrollment)
	}
	m.records[enrollment.ID] = enrollment
	m.created++
	return nil
}

func (m *mockEnrollmentLedger) SetTransaction(ctx context.Context, id, transactionID, reference string) error {
	if rec, ok := m.records[id]; ok {
		rec.TransactionID = &transactionID
		rec.PaymentReference = &reference
	}
	return nil
}

func (m *mockEnrollmentLedger) CompletePaymentIfPending(ctx context.Context, id, method, transactionID string) (bool, error) {
	rec, ok := m.records[id]
	if !ok {
		return false, nil
	}
	if rec.PaymentStatus != models.PaymentStatusPending && rec.PaymentStatus != models.PaymentStatusFailed {
		return false, nil
	}
	rec.PaymentStatus = models.PaymentStatusCompleted
	rec.EnrollmentStatus = models.EnrollmentStatusEnrolled
	rec.PaymentMethod = &method
	if rec.TransactionID == nil && transactionID != "" {
		rec.TransactionID = &transactionID
	}
	return true, nil
}

func (m *mockEnrollmentLedger) MarkPaymentFailed(ctx context.Context, id string) error {
	if rec, ok := m.records[id]; ok && rec.PaymentStatus == models.PaymentStatusPending {
		rec.PaymentStatus = models.PaymentStatusFailed
	}
	return nil
}

func (m *mockEnrollmentLedger) Cancel(ctx context.Context, id, reason string, refunded bool) error {
	if rec, ok := m.records[id]; ok {
		rec.EnrollmentStatus = models.EnrollmentStatusCancelled
		rec.CancelReason = &reason
		if refunded {
			rec.PaymentStatus = models.PaymentStatusRefunded
		}
	}
	return nil
}

func (m *mockEnrollmentLedger) MarkAccessCodeUsed(ctx context.Context, id string, usedAt time.Time) (bool, error) {
	rec, ok := m.records[id]
	if !ok || rec.AccessCodeUsed || rec.EnrollmentStatus != models.EnrollmentStatusEnrolled {
		return false, nil
	}
	rec.AccessCodeUsed = true
	rec.AccessCodeUsedAt = &usedAt
	return true, nil
}

func (m *mockEnrollmentLedger) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, int, error) {
	out := make([]models.Enrollment, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, *rec)
	}
	return out, len(out), nil
}

type mockTestReader struct {
	tests map[string]*models.Test
}

func (m *mockTestReader) FindByID(ctx context.Context, id string) (*models.Test, error) {
	if test, ok := m.tests[id]; ok {
		return test, nil
	}
	return nil, sql.ErrNoRows
}

type mockAccountReader struct {
	users map[string]*models.User
}

func (m *mockAccountReader) FindByID(ctx context.Context, id string) (*models.User, error) {
	if user, ok := m.users[id]; ok {
		return user, nil
	}
	return nil, sql.ErrNoRows
}

type mockGateway struct {
	initResult   *models.PaymentInit
	initErr      error
	initCalls    int
	verifyResult *models.PaymentVerification
	verifyErr    error
	refundResult *models.PaymentRefund
	refundErr    error
	refundCalls  int
	webhookEvent *models.WebhookEvent
	webhookErr   error
}

func (m *mockGateway) Initialize(ctx context.Context, amount decimal.Decimal, currency string, meta payment.TransactionMetadata) (*models.PaymentInit, error) {
	m.initCalls++
	if m.initErr != nil {
		return nil, m.initErr
	}
	if m.initResult != nil {
		return m.initResult, nil
	}
	return &models.PaymentInit{TransactionID: "txn-1", Status: models.GatewayStatusPending, Amount: amount, Currency: currency}, nil
}

func (m *mockGateway) Verify(ctx context.Context, transactionID string) (*models.PaymentVerification, error) {
	if m.verifyErr != nil {
		return nil, m.verifyErr
	}
	if m.verifyResult != nil {
		return m.verifyResult, nil
	}
	return &models.PaymentVerification{TransactionID: transactionID, Status: models.GatewayStatusCompleted}, nil
}

func (m *mockGateway) Refund(ctx context.Context, transactionID string, amount decimal.Decimal, reason string) (*models.PaymentRefund, error) {
	m.refundCalls++
	if m.refundErr != nil {
		return nil, m.refundErr
	}
	if m.refundResult != nil {
		return m.refundResult, nil
	}
	return &models.PaymentRefund{RefundID: "ref-1", Status: models.GatewayStatusCompleted, ProcessedAt: time.Now().UTC()}, nil
}

func (m *mockGateway) HandleWebhook(payload []byte, signature string) (*models.WebhookEvent, error) {
	if m.webhookErr != nil {
		return nil, m.webhookErr
	}
	return m.webhookEvent, nil
}

type mockStats struct {
	refreshed []string
}

func (m *mockStats) Refresh(testID string) {
	m.refreshed = append(m.refreshed, testID)
}

func strPtr(s string) *string { return &s }

func fee(value string) decimal.Decimal { return decimal.RequireFromString(value) }

func activeTest(enrollmentFee decimal.Decimal, requirePayment bool) *models.Test {
	return &models.Test{
		ID:            "test-1",
		Title:         "Mathematics Mock Exam",
		CenterOwnerID: "center-1",
		Status:        models.TestStatusActive,
		EnrollmentConfig: models.EnrollmentConfig{
			IsEnrollmentRequired: true,
			RequirePayment:       requirePayment,
			EnrollmentFee:        enrollmentFee,
		},
	}
}

func newEnrollmentFixture(test *models.Test, gw *mockGateway) (*EnrollmentService, *mockEnrollmentLedger, *mockStats) {
	ledger := &mockEnrollmentLedger{records: make(map[string]*models.Enrollment)}
	tests := &mockTestReader{tests: map[string]*models.Test{test.ID: test}}
	accounts := &mockAccountReader{users: map[string]*models.User{
		"stu-1": {ID: "stu-1", Role: models.RoleStudent, CenterOwnerID: strPtr("center-1"), Active: true},
		"stu-2": {ID: "stu-2", Role: models.RoleStudent, CenterOwnerID: strPtr("center-2"), Active: true},
	}}
	stats := &mockStats{}
	issuer := NewAccessCodeIssuer(ledger, 5, zap.NewNop())
	svc := NewEnrollmentService(ledger, tests, accounts, gw, stats, issuer, "NGN", nil, validator.New(), zap.NewNop())
	return svc, ledger, stats
}

func TestEnrollFreeTest(t *testing.T) {
	svc, ledger, stats := newEnrollmentFixture(activeTest(decimal.Zero, false), &mockGateway{})

	result, err := svc.Enroll(context.Background(), EnrollStudentRequest{TestID: "test-1", StudentID: "stu-1"})
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusEnrolled, result.Enrollment.EnrollmentStatus)
	assert.Equal(t, models.PaymentStatusNotRequired, result.Enrollment.PaymentStatus)
	assert.Nil(t, result.Payment)
	assert.Len(t, result.Enrollment.AccessCode, 12)
	assert.Equal(t, 1, ledger.created)
	assert.Equal(t, []string{"test-1"}, stats.refreshed)
}

func TestEnrollZeroFeeWithPaymentRequired(t *testing.T) {
	svc, _, _ := newEnrollmentFixture(activeTest(decimal.Zero, true), &mockGateway{})

	result, err := svc.Enroll(context.Background(), EnrollStudentRequest{TestID: "test-1", StudentID: "stu-1"})
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusEnrolled, result.Enrollment.EnrollmentStatus)
	assert.Equal(t, models.PaymentStatusCompleted, result.Enrollment.PaymentStatus)
	assert.Nil(t, result.Payment)
}

func TestEnrollPaidTestInitiatesTransaction(t *testing.T) {
	gw := &mockGateway{}
	svc, ledger, stats := newEnrollmentFixture(activeTest(fee("100"), true), gw)

	result, err := svc.Enroll(context.Background(), EnrollStudentRequest{TestID: "test-1", StudentID: "stu-1"})
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusPaymentPending, result.Enrollment.EnrollmentStatus)
	assert.Equal(t, models.PaymentStatusPending, result.Enrollment.PaymentStatus)
	require.NotNil(t, result.Payment)
	assert.Equal(t, "txn-1", result.Payment.TransactionID)
	require.NotNil(t, result.Enrollment.TransactionID)
	assert.Equal(t, "txn-1", *result.Enrollment.TransactionID)
	assert.Equal(t, 1, gw.initCalls)
	assert.Equal(t, 1, ledger.created)
	assert.Equal(t, []string{"test-1"}, stats.refreshed)
}

func TestEnrollCapacityReached(t *testing.T) {
	test := activeTest(decimal.Zero, false)
	test.MaxEnrollments = 1
	svc, ledger, _ := newEnrollmentFixture(test, &mockGateway{})
	ledger.records["enr-0"] = &models.Enrollment{
		ID: "enr-0", TestID: "test-1", StudentID: "stu-other",
		EnrollmentStatus: models.EnrollmentStatusEnrolled,
		PaymentStatus:    models.PaymentStatusNotRequired,
		AccessCode:       "aaaaaaaaaaaa",
	}

	_, err := svc.Enroll(context.Background(), EnrollStudentRequest{TestID: "test-1", StudentID: "stu-1"})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrConflict))
	assert.Equal(t, 0, ledger.created)
}

func TestEnrollAlreadyEnrolled(t *testing.T) {
	svc, _, _ := newEnrollmentFixture(activeTest(decimal.Zero, false), &mockGateway{})

	_, err := svc.Enroll(context.Background(), EnrollStudentRequest{TestID: "test-1", StudentID: "stu-1"})
	require.NoError(t, err)

	_, err = svc.Enroll(context.Background(), EnrollStudentRequest{TestID: "test-1", StudentID: "stu-1"})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrConflict))
}

func TestEnrollPendingPaymentReusesRecord(t *testing.T) {
	gw := &mockGateway{}
	svc, ledger, _ := newEnrollmentFixture(activeTest(fee("100"), true), gw)

	first, err := svc.Enroll(context.Background(), EnrollStudentRequest{TestID: "test-1", StudentID: "stu-1"})
	require.NoError(t, err)

	second, err := svc.Enroll(context.Background(), EnrollStudentRequest{TestID: "test-1", StudentID: "stu-1"})
	require.NoError(t, err)
	assert.Equal(t, first.Enrollment.ID, second.Enrollment.ID)
	require.NotNil(t, second.Payment)
	assert.Equal(t, "txn-1", second.Payment.TransactionID)
	assert.Equal(t, 1, ledger.created)
	assert.Equal(t, 1, gw.initCalls)
}

func TestEnrollPendingWithoutTransactionReinitializes(t *testing.T) {
	gw := &mockGateway{}
	svc, ledger, _ := newEnrollmentFixture(activeTest(fee("100"), true), gw)
	ledger.records["enr-0"] = &models.Enrollment{
		ID: "enr-0", TestID: "test-1", StudentID: "stu-1", CenterOwnerID: "center-1",
		EnrollmentStatus: models.EnrollmentStatusPaymentPending,
		PaymentStatus:    models.PaymentStatusPending,
		PaymentAmount:    fee("100"),
		Currency:         "NGN",
		AccessCode:       "bbbbbbbbbbbb",
	}

	result, err := svc.Enroll(context.Background(), EnrollStudentRequest{TestID: "test-1", StudentID: "stu-1"})
	require.NoError(t, err)
	assert.Equal(t, "enr-0", result.Enrollment.ID)
	require.NotNil(t, result.Payment)
	assert.Equal(t, 1, gw.initCalls)
	assert.Equal(t, 0, ledger.created)
	require.NotNil(t, result.Enrollment.TransactionID)
}

func TestEnrollDeadlinePassed(t *testing.T) {
	test := activeTest(decimal.Zero, false)
	deadline := time.Now().Add(-time.Hour)
	test.EnrollmentDeadline = &deadline
	svc, _, _ := newEnrollmentFixture(test, &mockGateway{})

	_, err := svc.Enroll(context.Background(), EnrollStudentRequest{TestID: "test-1", StudentID: "stu-1"})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrConflict))
}

func TestEnrollLateEnrollmentAllowed(t *testing.T) {
	test := activeTest(decimal.Zero, false)
	deadline := time.Now().Add(-time.Hour)
	test.EnrollmentDeadline = &deadline
	test.AllowLateEnrollment = true
	svc, _, _ := newEnrollmentFixture(test, &mockGateway{})

	_, err := svc.Enroll(context.Background(), EnrollStudentRequest{TestID: "test-1", StudentID: "stu-1"})
	require.NoError(t, err)
}

func TestEnrollStudentFromAnotherCenter(t *testing.T) {
	svc, _, _ := newEnrollmentFixture(activeTest(decimal.Zero, false), &mockGateway{})

	_, err := svc.Enroll(context.Background(), EnrollStudentRequest{TestID: "test-1", StudentID: "stu-2"})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}

func TestEnrollClosedTest(t *testing.T) {
	test := activeTest(decimal.Zero, false)
	test.Status = models.TestStatusDraft
	svc, _, _ := newEnrollmentFixture(test, &mockGateway{})

	_, err := svc.Enroll(context.Background(), EnrollStudentRequest{TestID: "test-1", StudentID: "stu-1"})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrConflict))
}

func TestProcessPaymentSuccess(t *testing.T) {
	gw := &mockGateway{}
	svc, _, stats := newEnrollmentFixture(activeTest(fee("100"), true), gw)

	enrolled, err := svc.Enroll(context.Background(), EnrollStudentRequest{TestID: "test-1", StudentID: "stu-1"})
	require.NoError(t, err)

	updated, err := svc.ProcessPayment(context.Background(), enrolled.Enrollment.ID, ProcessPaymentRequest{})
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusEnrolled, updated.EnrollmentStatus)
	assert.Equal(t, models.PaymentStatusCompleted, updated.PaymentStatus)
	assert.Equal(t, []string{"test-1", "test-1"}, stats.refreshed)
}

func TestProcessPaymentVerificationFailureIsRetryable(t *testing.T) {
	gw := &mockGateway{verifyResult: &models.PaymentVerification{TransactionID: "txn-1", Status: models.GatewayStatusFailed}}
	svc, ledger, _ := newEnrollmentFixture(activeTest(fee("100"), true), gw)

	enrolled, err := svc.Enroll(context.Background(), EnrollStudentRequest{TestID: "test-1", StudentID: "stu-1"})
	require.NoError(t, err)

	_, err = svc.ProcessPayment(context.Background(), enrolled.Enrollment.ID, ProcessPaymentRequest{})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrUpstream))
	assert.Equal(t, models.PaymentStatusFailed, ledger.records[enrolled.Enrollment.ID].PaymentStatus)

	// A later successful verification settles the same record.
	gw.verifyResult = &models.PaymentVerification{TransactionID: "txn-1", Status: models.GatewayStatusCompleted}
	updated, err := svc.ProcessPayment(context.Background(), enrolled.Enrollment.ID, ProcessPaymentRequest{})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCompleted, updated.PaymentStatus)
}

func TestProcessPaymentGatewayTimeout(t *testing.T) {
	gw := &mockGateway{verifyErr: appErrors.Clone(appErrors.ErrUpstream, "gateway timeout")}
	svc, ledger, _ := newEnrollmentFixture(activeTest(fee("100"), true), gw)

	enrolled, err := svc.Enroll(context.Background(), EnrollStudentRequest{TestID: "test-1", StudentID: "stu-1"})
	require.NoError(t, err)

	_, err = svc.ProcessPayment(context.Background(), enrolled.Enrollment.ID, ProcessPaymentRequest{})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrUpstream))
	assert.Equal(t, models.PaymentStatusFailed, ledger.records[enrolled.Enrollment.ID].PaymentStatus)
}

func TestProcessPaymentAlreadyCompleted(t *testing.T) {
	gw := &mockGateway{}
	svc, _, _ := newEnrollmentFixture(activeTest(fee("100"), true), gw)

	enrolled, err := svc.Enroll(context.Background(), EnrollStudentRequest{TestID: "test-1", StudentID: "stu-1"})
	require.NoError(t, err)

	_, err = svc.ProcessPayment(context.Background(), enrolled.Enrollment.ID, ProcessPaymentRequest{})
	require.NoError(t, err)

	_, err = svc.ProcessPayment(context.Background(), enrolled.Enrollment.ID, ProcessPaymentRequest{})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrConflict))
}

func TestWebhookCompletionAppliesOnce(t *testing.T) {
	gw := &mockGateway{webhookEvent: &models.WebhookEvent{Event: models.WebhookEventPaymentCompleted, TransactionID: "txn-1"}}
	svc, ledger, stats := newEnrollmentFixture(activeTest(fee("100"), true), gw)

	enrolled, err := svc.Enroll(context.Background(), EnrollStudentRequest{TestID: "test-1", StudentID: "stu-1"})
	require.NoError(t, err)

	_, err = svc.HandlePaymentWebhook(context.Background(), []byte(`{}`), "sig")
	require.NoError(t, err)
	rec := ledger.records[enrolled.Enrollment.ID]
	assert.Equal(t, models.PaymentStatusCompleted, rec.PaymentStatus)
	assert.Equal(t, models.EnrollmentStatusEnrolled, rec.EnrollmentStatus)
	require.NotNil(t, rec.PaymentMethod)
	assert.Equal(t, models.PaymentMethodWebhook, *rec.PaymentMethod)

	// Redelivery is a no-op and triggers no second refresh.
	refreshes := len(stats.refreshed)
	_, err = svc.HandlePaymentWebhook(context.Background(), []byte(`{}`), "sig")
	require.NoError(t, err)
	assert.Len(t, stats.refreshed, refreshes)
}

func TestWebhookUnknownTransactionAcknowledged(t *testing.T) {
	gw := &mockGateway{webhookEvent: &models.WebhookEvent{Event: models.WebhookEventPaymentCompleted, TransactionID: "txn-unknown"}}
	svc, _, _ := newEnrollmentFixture(activeTest(fee("100"), true), gw)

	event, err := svc.HandlePaymentWebhook(context.Background(), []byte(`{}`), "sig")
	require.NoError(t, err)
	assert.Equal(t, "txn-unknown", event.TransactionID)
}

func TestWebhookFailureMarksPending(t *testing.T) {
	gw := &mockGateway{webhookEvent: &models.WebhookEvent{Event: models.WebhookEventPaymentFailed, TransactionID: "txn-1"}}
	svc, ledger, _ := newEnrollmentFixture(activeTest(fee("100"), true), gw)

	enrolled, err := svc.Enroll(context.Background(), EnrollStudentRequest{TestID: "test-1", StudentID: "stu-1"})
	require.NoError(t, err)

	_, err = svc.HandlePaymentWebhook(context.Background(), []byte(`{}`), "sig")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusFailed, ledger.records[enrolled.Enrollment.ID].PaymentStatus)
}

func TestValidateAccessCode(t *testing.T) {
	svc, _, _ := newEnrollmentFixture(activeTest(decimal.Zero, false), &mockGateway{})

	result, err := svc.Enroll(context.Background(), EnrollStudentRequest{TestID: "test-1", StudentID: "stu-1"})
	require.NoError(t, err)

	enrollment, err := svc.ValidateAccessCode(context.Background(), AccessCodeRequest{
		AccessCode: result.Enrollment.AccessCode,
		StudentID:  "stu-1",
	})
	require.NoError(t, err)
	assert.False(t, enrollment.AccessCodeUsed)
}

func TestValidateAccessCodeUnpaid(t *testing.T) {
	svc, _, _ := newEnrollmentFixture(activeTest(fee("100"), true), &mockGateway{})

	result, err := svc.Enroll(context.Background(), EnrollStudentRequest{TestID: "test-1", StudentID: "stu-1"})
	require.NoError(t, err)

	_, err = svc.ValidateAccessCode(context.Background(), AccessCodeRequest{
		AccessCode: result.Enrollment.AccessCode,
		StudentID:  "stu-1",
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrConflict))
}

func TestValidateAccessCodeWrongStudent(t *testing.T) {
	svc, _, _ := newEnrollmentFixture(activeTest(decimal.Zero, false), &mockGateway{})

	result, err := svc.Enroll(context.Background(), EnrollStudentRequest{TestID: "test-1", StudentID: "stu-1"})
	require.NoError(t, err)

	_, err = svc.ValidateAccessCode(context.Background(), AccessCodeRequest{
		AccessCode: result.Enrollment.AccessCode,
		StudentID:  "stu-2",
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestValidateAccessCodeTestNotStartable(t *testing.T) {
	test := activeTest(decimal.Zero, false)
	svc, _, _ := newEnrollmentFixture(test, &mockGateway{})

	result, err := svc.Enroll(context.Background(), EnrollStudentRequest{TestID: "test-1", StudentID: "stu-1"})
	require.NoError(t, err)

	start := time.Now().Add(2 * time.Hour)
	test.ScheduledAt = &start

	_, err = svc.ValidateAccessCode(context.Background(), AccessCodeRequest{
		AccessCode: result.Enrollment.AccessCode,
		StudentID:  "stu-1",
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrConflict))
}

func TestRedeemAccessCodeBurnsOnce(t *testing.T) {
	svc, _, _ := newEnrollmentFixture(activeTest(decimal.Zero, false), &mockGateway{})

	result, err := svc.Enroll(context.Background(), EnrollStudentRequest{TestID: "test-1", StudentID: "stu-1"})
	require.NoError(t, err)

	req := AccessCodeRequest{AccessCode: result.Enrollment.AccessCode, StudentID: "stu-1"}
	redeemed, err := svc.RedeemAccessCode(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, redeemed.AccessCodeUsed)
	require.NotNil(t, redeemed.AccessCodeUsedAt)

	_, err = svc.RedeemAccessCode(context.Background(), req)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrConflict))
}

func TestCancelRefundsSettledPayment(t *testing.T) {
	gw := &mockGateway{}
	svc, ledger, _ := newEnrollmentFixture(activeTest(fee("100"), true), gw)

	enrolled, err := svc.Enroll(context.Background(), EnrollStudentRequest{TestID: "test-1", StudentID: "stu-1"})
	require.NoError(t, err)
	_, err = svc.ProcessPayment(context.Background(), enrolled.Enrollment.ID, ProcessPaymentRequest{})
	require.NoError(t, err)

	result, err := svc.Cancel(context.Background(), enrolled.Enrollment.ID, CancelEnrollmentRequest{
		Reason:      "student withdrew",
		RequestedBy: "center-1",
	})
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusCancelled, result.Enrollment.EnrollmentStatus)
	assert.Equal(t, models.PaymentStatusRefunded, result.Enrollment.PaymentStatus)
	require.NotNil(t, result.Refund)
	assert.Equal(t, 1, gw.refundCalls)
	assert.Equal(t, models.PaymentStatusRefunded, ledger.records[enrolled.Enrollment.ID].PaymentStatus)
}

func TestCancelUnpaidSkipsRefund(t *testing.T) {
	gw := &mockGateway{}
	svc, _, _ := newEnrollmentFixture(activeTest(fee("100"), true), gw)

	enrolled, err := svc.Enroll(context.Background(), EnrollStudentRequest{TestID: "test-1", StudentID: "stu-1"})
	require.NoError(t, err)

	result, err := svc.Cancel(context.Background(), enrolled.Enrollment.ID, CancelEnrollmentRequest{
		Reason:      "never paid",
		RequestedBy: "center-1",
	})
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusCancelled, result.Enrollment.EnrollmentStatus)
	assert.Nil(t, result.Refund)
	assert.Equal(t, 0, gw.refundCalls)
}

func TestCancelByNonOwnerForbidden(t *testing.T) {
	svc, _, _ := newEnrollmentFixture(activeTest(decimal.Zero, false), &mockGateway{})

	enrolled, err := svc.Enroll(context.Background(), EnrollStudentRequest{TestID: "test-1", StudentID: "stu-1"})
	require.NoError(t, err)

	_, err = svc.Cancel(context.Background(), enrolled.Enrollment.ID, CancelEnrollmentRequest{
		Reason:      "not my test",
		RequestedBy: "center-2",
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}

func TestCancelRefundFailureBlocksCancellation(t *testing.T) {
	gw := &mockGateway{refundErr: appErrors.Clone(appErrors.ErrUpstream, "refund rejected")}
	svc, ledger, _ := newEnrollmentFixture(activeTest(fee("100"), true), gw)

	enrolled, err := svc.Enroll(context.Background(), EnrollStudentRequest{TestID: "test-1", StudentID: "stu-1"})
	require.NoError(t, err)
	_, err = svc.ProcessPayment(context.Background(), enrolled.Enrollment.ID, ProcessPaymentRequest{})
	require.NoError(t, err)

	_, err = svc.Cancel(context.Background(), enrolled.Enrollment.ID, CancelEnrollmentRequest{
		Reason:      "student withdrew",
		RequestedBy: "center-1",
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrUpstream))
	assert.Equal(t, models.EnrollmentStatusEnrolled, ledger.records[enrolled.Enrollment.ID].EnrollmentStatus)
}

func TestCancelAlreadyCancelled(t *testing.T) {
	svc, _, _ := newEnrollmentFixture(activeTest(decimal.Zero, false), &mockGateway{})

	enrolled, err := svc.Enroll(context.Background(), EnrollStudentRequest{TestID: "test-1", StudentID: "stu-1"})
	require.NoError(t, err)

	req := CancelEnrollmentRequest{Reason: "duplicate", RequestedBy: "center-1"}
	_, err = svc.Cancel(context.Background(), enrolled.Enrollment.ID, req)
	require.NoError(t, err)

	_, err = svc.Cancel(context.Background(), enrolled.Enrollment.ID, req)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrConflict))
}

func TestGetVisibility(t *testing.T) {
	svc, _, _ := newEnrollmentFixture(activeTest(decimal.Zero, false), &mockGateway{})

	enrolled, err := svc.Enroll(context.Background(), EnrollStudentRequest{TestID: "test-1", StudentID: "stu-1"})
	require.NoError(t, err)
	id := enrolled.Enrollment.ID

	_, err = svc.Get(context.Background(), id, "anyone", models.RoleAdmin)
	require.NoError(t, err)

	_, err = svc.Get(context.Background(), id, "center-1", models.RoleCenter)
	require.NoError(t, err)

	_, err = svc.Get(context.Background(), id, "center-2", models.RoleCenter)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	_, err = svc.Get(context.Background(), id, "stu-1", models.RoleStudent)
	require.NoError(t, err)

	_, err = svc.Get(context.Background(), id, "stu-2", models.RoleStudent)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}
