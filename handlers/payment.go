package handlers

import (
	"errors"
	"net/http"

	"nutrify/models"
	"nutrify/services/mpesa"
	"nutrify/services/payment"
	"nutrify/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// callbackAck is what the gateway expects back for every callback delivery.
var callbackAck = gin.H{"ResultCode": 0, "ResultDesc": "Accepted"}

// PaymentHandler exposes STK push initiation, the M-Pesa callback and status polling.
type PaymentHandler struct {
	svc      payment.PaymentService
	deferrer payment.CallbackDeferrer
}

// NewPaymentHandler creates a PaymentHandler. deferrer may be nil, in which case callbacks
// that arrive before their initiation is recorded are only logged.
func NewPaymentHandler(svc payment.PaymentService, deferrer payment.CallbackDeferrer) *PaymentHandler {
	return &PaymentHandler{svc: svc, deferrer: deferrer}
}

// InitiateSTKPush starts an STK push for a booking.
func (h *PaymentHandler) InitiateSTKPush(c *gin.Context) {
	var req models.PaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.JSONCodedError(c, http.StatusBadRequest, string(payment.CodeValidation), "invalid input", err.Error())
		return
	}

	result, err := h.svc.Initiate(c.Request.Context(), req)
	if err != nil {
		var pe *payment.PaymentError
		if errors.As(err, &pe) && pe.Code == payment.CodeReconciliationRisk && result != nil {
			// the payer already has the prompt on their phone
			c.JSON(http.StatusAccepted, gin.H{"result": result, "warning": pe.Message})
			return
		}
		writePaymentError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// MpesaCallback receives the asynchronous STK result. The gateway always gets a 200
// acknowledgement, whatever happened to the delivery on our side.
func (h *PaymentHandler) MpesaCallback(c *gin.Context) {
	logger := getLogger(c)
	raw, err := c.GetRawData()
	if err != nil {
		logger.Error("Failed to read mpesa callback body", zap.Error(err))
		c.JSON(http.StatusOK, callbackAck)
		return
	}

	cb, err := mpesa.ParseCallback(raw)
	if err != nil {
		logger.Warn("Malformed mpesa callback", zap.Error(err), zap.ByteString("body", raw))
		c.JSON(http.StatusOK, callbackAck)
		return
	}

	out, err := h.svc.Reconcile(c.Request.Context(), cb)
	switch {
	case err == nil:
		logger.Info("Mpesa callback handled",
			zap.String("checkoutRequestId", cb.CheckoutRequestID),
			zap.String("status", string(out.Status)),
			zap.Bool("applied", out.Applied),
			zap.Bool("duplicate", out.Duplicate),
			zap.Bool("stale", out.Stale))
	case payment.IsTransient(err):
		h.deferCallback(c, cb.CheckoutRequestID, raw, err)
	default:
		logger.Warn("Mpesa callback not applied",
			zap.String("checkoutRequestId", cb.CheckoutRequestID),
			zap.String("code", string(payment.CodeOf(err))),
			zap.Error(err))
	}
	c.JSON(http.StatusOK, callbackAck)
}

func (h *PaymentHandler) deferCallback(c *gin.Context, checkoutID string, raw []byte, cause error) {
	logger := getLogger(c)
	if h.deferrer == nil {
		logger.Error("Mpesa callback could not be applied and no queue is configured",
			zap.String("checkoutRequestId", checkoutID), zap.Error(cause))
		return
	}
	if err := h.deferrer.DeferCallback(c.Request.Context(), raw); err != nil {
		logger.Error("Failed to defer mpesa callback",
			zap.String("checkoutRequestId", checkoutID), zap.NamedError("cause", cause), zap.Error(err))
		return
	}
	logger.Info("Mpesa callback deferred", zap.String("checkoutRequestId", checkoutID), zap.Error(cause))
}

// PaymentStatus returns the payment state of a booking for UI polling.
func (h *PaymentHandler) PaymentStatus(c *gin.Context) {
	status, err := h.svc.Status(c.Request.Context(), c.Param("reference"))
	if err != nil {
		writePaymentError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func writePaymentError(c *gin.Context, err error) {
	var pe *payment.PaymentError
	if !errors.As(err, &pe) {
		getLogger(c).Error("Unexpected payment error", zap.Error(err))
		utils.JSONError(c, http.StatusInternalServerError, "Internal Server Error", "")
		return
	}
	utils.JSONCodedError(c, pe.HTTPStatus(), string(pe.Code), pe.Message, pe.GatewayDescription)
}
