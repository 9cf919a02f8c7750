package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/jamiebones/cbt-enroll-api/internal/models"
	"github.com/jamiebones/cbt-enroll-api/pkg/config"
	appErrors "github.com/jamiebones/cbt-enroll-api/pkg/errors"
)

// TransactionMetadata travels with every initialized transaction so webhook
// events can be traced back to their enrollment.
type TransactionMetadata struct {
	EnrollmentID string `json:"enrollment_id"`
	TestID       string `json:"test_id"`
	StudentID    string `json:"student_id"`
	Type         string `json:"type"`
}

// CallObserver receives gateway call timings for instrumentation.
type CallObserver interface {
	ObserveGatewayCall(operation, outcome string, duration time.Duration)
}

// Client talks to the external payment gateway over HTTP. Webhook signatures
// are validated here, not at the router.
type Client struct {
	baseURL       string
	apiKey        string
	webhookSecret []byte
	httpClient    *http.Client
	logger        *zap.Logger
	observer      CallObserver
}

// NewClient constructs a gateway client from configuration.
func NewClient(cfg config.PaymentConfig, logger *zap.Logger, observer CallObserver) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:       cfg.BaseURL,
		apiKey:        cfg.APIKey,
		webhookSecret: []byte(cfg.WebhookSecret),
		httpClient:    &http.Client{Timeout: timeout},
		logger:        logger,
		observer:      observer,
	}
}

// Initialize opens a gateway transaction for the given amount. Zero amounts
// settle immediately without reaching the provider.
func (c *Client) Initialize(ctx context.Context, amount decimal.Decimal, currency string, meta TransactionMetadata) (*models.PaymentInit, error) {
	if amount.IsZero() {
		return &models.PaymentInit{
			TransactionID: fmt.Sprintf("free-%s", meta.EnrollmentID),
			Status:        models.GatewayStatusCompleted,
			Amount:        amount,
			Currency:      currency,
		}, nil
	}

	body := map[string]interface{}{
		"amount":   amount,
		"currency": currency,
		"metadata": meta,
	}

	var init models.PaymentInit
	if err := c.do(ctx, "initialize", http.MethodPost, "/v1/transactions", body, &init); err != nil {
		return nil, err
	}
	init.Amount = amount
	init.Currency = currency
	return &init, nil
}

// Verify checks the settlement state of a transaction. Malformed ids come
// back as a failed verification, not as an error.
func (c *Client) Verify(ctx context.Context, transactionID string) (*models.PaymentVerification, error) {
	if transactionID == "" {
		return &models.PaymentVerification{Status: models.GatewayStatusFailed}, nil
	}

	var verification models.PaymentVerification
	err := c.do(ctx, "verify", http.MethodGet, "/v1/transactions/"+transactionID, nil, &verification)
	if err != nil {
		if appErrors.Is(err, appErrors.ErrNotFound) {
			return &models.PaymentVerification{TransactionID: transactionID, Status: models.GatewayStatusFailed}, nil
		}
		return nil, err
	}
	if verification.TransactionID == "" {
		verification.TransactionID = transactionID
	}
	return &verification, nil
}

// Refund returns funds for a settled transaction. Zero amounts yield
// not_required without a provider round trip.
func (c *Client) Refund(ctx context.Context, transactionID string, amount decimal.Decimal, reason string) (*models.PaymentRefund, error) {
	if amount.IsZero() {
		return &models.PaymentRefund{Status: models.GatewayStatusNotRequired, ProcessedAt: time.Now().UTC()}, nil
	}

	body := map[string]interface{}{
		"transaction_id": transactionID,
		"amount":         amount,
		"reason":         reason,
	}

	var refund models.PaymentRefund
	if err := c.do(ctx, "refund", http.MethodPost, "/v1/refunds", body, &refund); err != nil {
		return nil, err
	}
	if refund.ProcessedAt.IsZero() {
		refund.ProcessedAt = time.Now().UTC()
	}
	return &refund, nil
}

// HandleWebhook authenticates and normalizes a raw gateway notification.
// Payloads lacking an event field are rejected.
func (c *Client) HandleWebhook(payload []byte, signature string) (*models.WebhookEvent, error) {
	if len(c.webhookSecret) > 0 {
		if signature == "" {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "missing webhook signature")
		}
		if !c.validSignature(payload, signature) {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid webhook signature")
		}
	}

	var event models.WebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "malformed webhook payload")
	}
	if event.Event == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "webhook payload missing event")
	}
	if event.ProcessedAt.IsZero() {
		event.ProcessedAt = time.Now().UTC()
	}
	return &event, nil
}

func (c *Client) validSignature(payload []byte, signature string) bool {
	mac := hmac.New(sha256.New, c.webhookSecret)
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func (c *Client) do(ctx context.Context, operation, method, path string, body, out interface{}) error {
	start := time.Now()
	err := c.doRequest(ctx, method, path, body, out)
	if c.observer != nil {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		c.observer.ObserveGatewayCall(operation, outcome, time.Since(start))
	}
	return err
}

func (c *Client) doRequest(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "encode gateway request")
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "build gateway request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrUpstream.Code, appErrors.ErrUpstream.Status, "payment gateway unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return appErrors.Clone(appErrors.ErrNotFound, "gateway transaction not found")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		c.logger.Warn("gateway call failed",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", raw),
		)
		return appErrors.Clone(appErrors.ErrUpstream, fmt.Sprintf("gateway returned status %d", resp.StatusCode))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return appErrors.Wrap(err, appErrors.ErrUpstream.Code, appErrors.ErrUpstream.Status, "decode gateway response")
		}
	}
	return nil
}
