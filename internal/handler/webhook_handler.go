package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jamiebones/cbt-enroll-api/internal/service"
	appErrors "github.com/jamiebones/cbt-enroll-api/pkg/errors"
	"github.com/jamiebones/cbt-enroll-api/pkg/response"
)

// SignatureHeader carries the gateway's HMAC over the raw payload.
const SignatureHeader = "X-Webhook-Signature"

// WebhookHandler receives asynchronous payment gateway notifications. The
// route is deliberately unauthenticated; the signature inside the gateway
// client is the authentication.
type WebhookHandler struct {
	enrollments *service.EnrollmentService
}

// NewWebhookHandler constructs WebhookHandler.
func NewWebhookHandler(enrollments *service.EnrollmentService) *WebhookHandler {
	return &WebhookHandler{enrollments: enrollments}
}

// Payment godoc
// @Summary Ingest a payment gateway webhook
// @Tags Webhooks
// @Accept json
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /webhooks/payment [post]
func (h *WebhookHandler) Payment(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "unreadable payload"))
		return
	}

	signature := c.GetHeader(SignatureHeader)
	if signature == "" {
		// Some gateway versions embed the signature in the body instead.
		var envelope struct {
			Signature string `json:"signature"`
		}
		if err := json.Unmarshal(payload, &envelope); err == nil {
			signature = envelope.Signature
		}
	}

	event, err := h.enrollments.HandlePaymentWebhook(c.Request.Context(), payload, signature)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, event, nil)
}
