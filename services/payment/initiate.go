package payment

import (
	"context"
	"errors"
	"math"
	"strings"

	paymentRepo "nutrify/database/repository/payment"
	"nutrify/models"
	"nutrify/services/audit"
	"nutrify/services/mpesa"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// A booking may be (re)initiated from these states. "" is a booking that never saw a payment.
var payableStatuses = []models.PaymentStatus{"", models.PaymentPending, models.PaymentTimedOut}

var maxAmount = decimal.NewFromInt(math.MaxInt32)

// Initiate validates the request, pushes an STK prompt to the payer's phone and records
// the checkout id against the booking. The gateway is called at most once.
func (s *DefaultPaymentService) Initiate(ctx context.Context, req models.PaymentRequest) (*models.InitiationResult, error) {
	ref := strings.TrimSpace(req.BookingReference)
	s.record(audit.Event{
		Step:             "initiate.requested",
		Outcome:          audit.OutcomeInfo,
		BookingReference: ref,
		Fields: map[string]interface{}{
			"phoneNumber": req.PhoneNumber,
			"amount":      req.Amount.String(),
		},
	})

	phone, amount, perr := validateRequest(ref, req)
	if perr != nil {
		return nil, s.fail("initiate.validate", ref, "", perr)
	}
	if err := s.cfg.Validate(); err != nil {
		return nil, s.fail("initiate.validate", ref, "", newError(CodeConfiguration, "payment gateway is not configured", err))
	}

	booking, err := s.repo.GetBooking(ctx, ref)
	if err != nil {
		if errors.Is(err, paymentRepo.ErrNotFound) {
			return nil, s.fail("initiate.booking", ref, "", newError(CodeValidation, "booking not found", err))
		}
		return nil, s.fail("initiate.booking", ref, "", newError(CodeStorage, "could not load booking", err))
	}
	if !booking.Payment.Status.IsPayable() {
		perr := newError(CodeValidation, "booking is not payable", nil)
		s.logger.Info("payment refused for booking", zap.String("reference", ref), zap.String("status", string(booking.Payment.Status)))
		return nil, s.fail("initiate.booking", ref, booking.Payment.CheckoutRequestID, perr)
	}

	token, err := s.tokens.Acquire(ctx)
	if err != nil {
		var cfgErr *mpesa.ConfigError
		if errors.As(err, &cfgErr) {
			return nil, s.fail("initiate.token", ref, "", newError(CodeConfiguration, "payment gateway is not configured", err))
		}
		return nil, s.fail("initiate.token", ref, "", newError(CodeAuth, "could not authenticate with the payment gateway", err))
	}

	sig, err := s.signer.Sign(s.now())
	if err != nil {
		return nil, s.fail("initiate.sign", ref, "", newError(CodeConfiguration, "payment gateway is not configured", err))
	}

	body := models.STKPushRequest{
		BusinessShortCode: s.cfg.Shortcode,
		Password:          sig.Password,
		Timestamp:         sig.Timestamp,
		TransactionType:   s.cfg.TransactionType,
		Amount:            amount,
		PartyA:            phone,
		PartyB:            s.cfg.Shortcode,
		PhoneNumber:       phone,
		CallBackURL:       s.cfg.CallbackURL,
		AccountReference:  s.cfg.AccountReference,
		TransactionDesc:   s.cfg.TransactionDesc,
	}
	s.record(audit.Event{
		Step:             "initiate.submit",
		Outcome:          audit.OutcomeInfo,
		BookingReference: ref,
		Fields: map[string]interface{}{
			"endpoint":    s.cfg.STKPushURL,
			"timestamp":   sig.Timestamp,
			"password":    audit.Redact(sig.Password),
			"bearer":      audit.Redact(token),
			"phoneNumber": phone,
			"amount":      amount,
		},
	})

	resp, err := s.gateway.Push(ctx, token, body)
	if err != nil {
		return nil, s.fail("initiate.submit", ref, "", gatewayError(err))
	}
	s.record(audit.Event{
		Step:              "initiate.accepted",
		Outcome:           audit.OutcomeSuccess,
		BookingReference:  ref,
		CheckoutRequestID: resp.CheckoutRequestID,
		Fields: map[string]interface{}{
			"merchantRequestId":   resp.MerchantRequestID,
			"responseDescription": resp.ResponseDescription,
		},
	})

	result := &models.InitiationResult{
		BookingReference:  ref,
		CheckoutRequestID: resp.CheckoutRequestID,
		MerchantRequestID: resp.MerchantRequestID,
		CustomerMessage:   resp.CustomerMessage,
		PhoneNumber:       phone,
		Amount:            amount,
		Status:            models.PaymentInitiated,
	}
	if perr := s.persistInitiation(ctx, booking, result); perr != nil {
		s.logger.Error("stk push accepted but not recorded",
			zap.String("reference", ref),
			zap.String("checkoutRequestId", resp.CheckoutRequestID),
			zap.Error(perr))
		return result, s.fail("initiate.persist", ref, resp.CheckoutRequestID, perr)
	}

	s.record(audit.Event{
		Step:              "initiate.persist",
		Outcome:           audit.OutcomeSuccess,
		BookingReference:  ref,
		CheckoutRequestID: resp.CheckoutRequestID,
	})
	return result, nil
}

// persistInitiation writes the correlation first so a fast callback can always find it,
// then moves the booking to initiated.
func (s *DefaultPaymentService) persistInitiation(ctx context.Context, booking *models.Booking, result *models.InitiationResult) *PaymentError {
	now := s.now().UTC()
	corr := &models.CheckoutCorrelation{
		CheckoutRequestID: result.CheckoutRequestID,
		MerchantRequestID: result.MerchantRequestID,
		BookingReference:  result.BookingReference,
		CreatedAt:         now,
	}
	if err := s.repo.SaveCorrelation(ctx, corr); err != nil {
		return newError(CodeReconciliationRisk, "payment request was sent but could not be recorded", err)
	}

	outcome := models.PaymentOutcome{
		Status:                    models.PaymentInitiated,
		CheckoutRequestID:         result.CheckoutRequestID,
		MerchantRequestID:         result.MerchantRequestID,
		PreviousCheckoutRequestID: booking.Payment.PreviousCheckoutRequestID,
		PhoneNumber:               result.PhoneNumber,
		Amount:                    result.Amount,
		InitiatedAt:               &now,
		UpdatedAt:                 now,
	}
	applied, err := s.repo.TransitionPayment(ctx, result.BookingReference, models.PaymentTransition{
		From:    payableStatuses,
		Outcome: outcome,
	})
	if err != nil {
		return newError(CodeReconciliationRisk, "payment request was sent but could not be recorded", err)
	}
	if !applied {
		return newError(CodeReconciliationRisk, "payment request was sent but the booking changed concurrently", nil)
	}
	return nil
}

func validateRequest(ref string, req models.PaymentRequest) (string, int64, *PaymentError) {
	if ref == "" {
		return "", 0, newError(CodeValidation, "booking reference is required", nil)
	}
	phone, err := mpesa.NormalizePhone(req.PhoneNumber)
	if err != nil {
		return "", 0, newError(CodeValidation, "phone number must be a Safaricom number such as 0712345678", err)
	}
	if !req.Amount.IsPositive() || !req.Amount.IsInteger() {
		return "", 0, newError(CodeValidation, "amount must be a positive whole number of shillings", nil)
	}
	if req.Amount.GreaterThan(maxAmount) {
		return "", 0, newError(CodeValidation, "amount is too large", nil)
	}
	return phone, req.Amount.IntPart(), nil
}

// gatewayError classifies an STK push failure. Timeouts are checked first since they
// also surface as transport errors.
func gatewayError(err error) *PaymentError {
	if mpesa.IsTimeout(err) {
		return newError(CodeGatewayTimeout, "payment gateway did not respond in time", err)
	}

	var (
		rejected *mpesa.RejectedError
		status   *mpesa.StatusError
		protocol *mpesa.ProtocolError
	)
	switch {
	case errors.As(err, &rejected):
		perr := newError(CodeGatewayRejected, "payment request was declined by M-Pesa", err)
		perr.GatewayDescription = rejected.Description
		return perr
	case errors.As(err, &status):
		perr := newError(CodeGatewayHTTP, "payment gateway returned an error", err)
		perr.StatusCode = status.StatusCode
		perr.GatewayDescription = status.Message
		return perr
	case errors.As(err, &protocol):
		return newError(CodeGatewayProtocol, "payment gateway returned an unexpected response", err)
	default:
		return newError(CodeGatewayHTTP, "payment gateway is unreachable", err)
	}
}
