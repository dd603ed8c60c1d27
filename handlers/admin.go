package handlers

import (
	"net/http"
	"time"

	"nutrify/services/payment"
	"nutrify/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AdminHandler encapsulates elevated admin-level payment operations.
type AdminHandler struct {
	PaymentService payment.PaymentService
	SweepAge       time.Duration
}

// NewAdminHandler creates a new AdminHandler. sweepAge is the default age after which
// an unanswered STK push is considered timed out.
func NewAdminHandler(ps payment.PaymentService, sweepAge time.Duration) *AdminHandler {
	return &AdminHandler{
		PaymentService: ps,
		SweepAge:       sweepAge,
	}
}

// GetPaymentDetailsHandler returns a booking's payment outcome with every checkout attempt.
func (ah *AdminHandler) GetPaymentDetailsHandler(c *gin.Context) {
	details, err := ah.PaymentService.Details(c.Request.Context(), c.Param("reference"))
	if err != nil {
		writePaymentError(c, err)
		return
	}
	c.JSON(http.StatusOK, details)
}

// SweepPaymentsHandler marks stale initiated payments as timed out.
// An optional ?olderThan=5m overrides the configured age.
func (ah *AdminHandler) SweepPaymentsHandler(c *gin.Context) {
	age := ah.SweepAge
	if raw := c.Query("olderThan"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			utils.JSONCodedError(c, http.StatusBadRequest, string(payment.CodeValidation), "invalid olderThan", raw)
			return
		}
		age = d
	}

	n, err := ah.PaymentService.ExpireStale(c.Request.Context(), age)
	if err != nil {
		zap.L().Error("Payment sweep failed", zap.Error(err))
		writePaymentError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"expired": n, "olderThan": age.String()})
}
