package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/jamiebones/cbt-enroll-api/internal/models"
	"github.com/jamiebones/cbt-enroll-api/internal/service"
	appErrors "github.com/jamiebones/cbt-enroll-api/pkg/errors"
	"github.com/jamiebones/cbt-enroll-api/pkg/response"
)

// EnrollmentHandler exposes enrollment lifecycle endpoints.
type EnrollmentHandler struct {
	enrollments *service.EnrollmentService
	stats       *service.EnrollmentStatsService
}

// NewEnrollmentHandler constructs EnrollmentHandler.
func NewEnrollmentHandler(enrollments *service.EnrollmentService, stats *service.EnrollmentStatsService) *EnrollmentHandler {
	return &EnrollmentHandler{enrollments: enrollments, stats: stats}
}

// List godoc
// @Summary List enrollments
// @Tags Enrollments
// @Produce json
// @Param testId query string false "Filter by test"
// @Param studentId query string false "Filter by student"
// @Param status query string false "Filter by enrollment status"
// @Param paymentStatus query string false "Filter by payment status"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /enrollments [get]
func (h *EnrollmentHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)

	var filter models.EnrollmentFilter
	filter.TestID = c.Query("testId")
	filter.StudentID = c.Query("studentId")
	filter.Status = models.EnrollmentStatus(c.Query("status"))
	filter.PaymentStatus = models.PaymentStatus(c.Query("paymentStatus"))
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")

	// Students only ever see their own records; centers their center's.
	switch {
	case claims == nil:
		response.Error(c, appErrors.ErrUnauthorized)
		return
	case claims.Role == models.RoleStudent:
		filter.StudentID = claims.UserID
	case claims.Role == models.RoleCenter:
		filter.CenterOwnerID = centerScope(claims)
	}

	enrollments, pagination, err := h.enrollments.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollments, pagination)
}

// Get godoc
// @Summary Get a single enrollment
// @Tags Enrollments
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id} [get]
func (h *EnrollmentHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	enrollment, err := h.enrollments.Get(c.Request.Context(), c.Param("id"), claims.UserID, claims.Role)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollment, nil)
}

// Create godoc
// @Summary Enroll a student into a test
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param payload body service.EnrollStudentRequest true "Enrollment payload"
// @Success 201 {object} response.Envelope
// @Router /enrollments [post]
func (h *EnrollmentHandler) Create(c *gin.Context) {
	var req service.EnrollStudentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	// Students enroll themselves regardless of the payload.
	if claims := claimsFromContext(c); claims != nil && claims.Role == models.RoleStudent {
		req.StudentID = claims.UserID
	}

	result, err := h.enrollments.Enroll(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// ProcessPayment godoc
// @Summary Verify and settle an enrollment payment
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param id path string true "Enrollment ID"
// @Param payload body service.ProcessPaymentRequest true "Payment payload"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id}/payments [post]
func (h *EnrollmentHandler) ProcessPayment(c *gin.Context) {
	var req service.ProcessPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	enrollment, err := h.enrollments.ProcessPayment(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollment, nil)
}

// Cancel godoc
// @Summary Cancel an enrollment, refunding settled payments
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param id path string true "Enrollment ID"
// @Param payload body service.CancelEnrollmentRequest true "Cancellation payload"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id}/cancel [post]
func (h *EnrollmentHandler) Cancel(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.CancelEnrollmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	req.RequestedBy = claims.UserID

	result, err := h.enrollments.Cancel(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// ValidateAccessCode godoc
// @Summary Validate an access code without consuming it
// @Tags Access Codes
// @Accept json
// @Produce json
// @Param payload body service.AccessCodeRequest true "Access code payload"
// @Success 200 {object} response.Envelope
// @Router /access-codes/validate [post]
func (h *EnrollmentHandler) ValidateAccessCode(c *gin.Context) {
	var req service.AccessCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	if claims := claimsFromContext(c); claims != nil && claims.Role == models.RoleStudent {
		req.StudentID = claims.UserID
	}

	enrollment, err := h.enrollments.ValidateAccessCode(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollment, nil)
}

// RedeemAccessCode godoc
// @Summary Redeem an access code, burning it for test start
// @Tags Access Codes
// @Accept json
// @Produce json
// @Param payload body service.AccessCodeRequest true "Access code payload"
// @Success 200 {object} response.Envelope
// @Router /access-codes/redeem [post]
func (h *EnrollmentHandler) RedeemAccessCode(c *gin.Context) {
	var req service.AccessCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	if claims := claimsFromContext(c); claims != nil && claims.Role == models.RoleStudent {
		req.StudentID = claims.UserID
	}

	enrollment, err := h.enrollments.RedeemAccessCode(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollment, nil)
}

// Stats godoc
// @Summary Read derived enrollment counters for a test
// @Tags Enrollments
// @Produce json
// @Param id path string true "Test ID"
// @Success 200 {object} response.Envelope
// @Router /tests/{id}/enrollment-stats [get]
func (h *EnrollmentHandler) Stats(c *gin.Context) {
	stats := h.stats.GetStats(c.Request.Context(), c.Param("id"))
	response.JSON(c, http.StatusOK, stats, nil)
}
