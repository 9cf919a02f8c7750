package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Gateway transaction statuses as returned by the payment provider.
const (
	GatewayStatusPending     = "pending"
	GatewayStatusCompleted   = "completed"
	GatewayStatusFailed      = "failed"
	GatewayStatusNotRequired = "not_required"
)

// PaymentInit is the result of initializing a gateway transaction.
type PaymentInit struct {
	TransactionID string          `json:"transaction_id"`
	Status        string          `json:"status"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	PaymentURL    string          `json:"payment_url,omitempty"`
	ExpiresAt     *time.Time      `json:"expires_at,omitempty"`
}

// PaymentVerification is the result of verifying a gateway transaction.
// Malformed or unknown transaction ids surface as Status "failed", not as
// transport errors.
type PaymentVerification struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	PaymentMethod string `json:"payment_method,omitempty"`
}

// PaymentRefund is the result of a refund request. Zero amounts settle as
// "not_required" without reaching the provider.
type PaymentRefund struct {
	RefundID    string    `json:"refund_id"`
	Status      string    `json:"status"`
	ProcessedAt time.Time `json:"processed_at"`
}

// Webhook event kinds this service reacts to.
const (
	WebhookEventPaymentCompleted = "payment.completed"
	WebhookEventPaymentFailed    = "payment.failed"
)

// WebhookEvent is a normalized, signature-checked gateway notification.
type WebhookEvent struct {
	Event         string    `json:"event"`
	TransactionID string    `json:"transaction_id"`
	ProcessedAt   time.Time `json:"processed_at"`
}
