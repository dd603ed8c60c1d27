package payment

import (
	"context"
	"errors"
	"time"

	paymentRepo "nutrify/database/repository/payment"
	"nutrify/models"
	"nutrify/services/audit"
	"nutrify/services/mpesa"

	"go.uber.org/zap"
)

var settleableStatuses = []models.PaymentStatus{models.PaymentInitiated, models.PaymentTimedOut}

// Reconcile applies one callback delivery. Redeliveries, superseded attempts and callbacks
// for already settled bookings are successful no-ops.
func (s *DefaultPaymentService) Reconcile(ctx context.Context, cb models.STKCallback) (*models.ReconciliationOutcome, error) {
	id := cb.CheckoutRequestID
	s.record(audit.Event{
		Step:              "callback.received",
		Outcome:           audit.OutcomeInfo,
		CheckoutRequestID: id,
		Fields: map[string]interface{}{
			"merchantRequestId": cb.MerchantRequestID,
			"resultCode":        cb.ResultCode,
			"resultDesc":        cb.ResultDesc,
			"raw":               cb.Raw,
		},
	})
	if id == "" {
		return nil, s.fail("callback.correlate", "", "", newError(CodeValidation, "callback has no CheckoutRequestID", nil))
	}

	corr, err := s.findCorrelation(ctx, id)
	if err != nil {
		if errors.Is(err, paymentRepo.ErrNotFound) {
			return nil, s.fail("callback.correlate", "", id, newError(CodeUnknownCorrelation, "no payment matches this callback", err))
		}
		return nil, s.fail("callback.correlate", "", id, newError(CodeStorage, "could not look up callback", err))
	}
	ref := corr.BookingReference

	if cb.Raw != "" && !alreadyKept(corr, cb.Raw) {
		rec := models.CallbackRecord{ReceivedAt: s.now().UTC(), ResultCode: cb.ResultCode, Raw: cb.Raw}
		if err := s.repo.AppendCallback(ctx, id, rec); err != nil {
			s.logger.Warn("failed to keep raw callback", zap.String("checkoutRequestId", id), zap.Error(err))
		}
	}

	booking, err := s.repo.GetBooking(ctx, ref)
	if err != nil {
		if errors.Is(err, paymentRepo.ErrNotFound) {
			return nil, s.fail("callback.correlate", ref, id, newError(CodeUnknownCorrelation, "booking for this callback no longer exists", err))
		}
		return nil, s.fail("callback.correlate", ref, id, newError(CodeStorage, "could not load booking", err))
	}

	out := &models.ReconciliationOutcome{
		BookingReference:  ref,
		CheckoutRequestID: id,
		Status:            booking.Payment.Status,
	}
	current := booking.Payment

	switch {
	case current.Status.IsTerminal():
		out.Duplicate = true
		s.noop("callback.duplicate", out, "booking already settled")
		return out, nil
	case current.CheckoutRequestID == id:
		// the attempt this callback belongs to, applied below
	case current.CheckoutRequestID == "" && current.PreviousCheckoutRequestID == id:
		out.Duplicate = true
		s.noop("callback.duplicate", out, "attempt already cancelled")
		return out, nil
	case current.CheckoutRequestID == "" && (current.Status == "" || current.Status == models.PaymentPending):
		// correlation is visible but the booking write of the same initiation is not yet
		return nil, s.fail("callback.correlate", ref, id, newError(CodeCorrelationPending, "payment is not yet marked initiated", nil))
	default:
		out.Stale = true
		s.noop("callback.stale", out, "callback belongs to a superseded attempt")
		return out, nil
	}

	next := settle(current, cb, s.now().UTC())
	applied, err := s.repo.TransitionPayment(ctx, ref, models.PaymentTransition{
		From:             settleableStatuses,
		ExpectCheckoutID: id,
		Outcome:          next,
	})
	if err != nil {
		return nil, s.fail("callback.apply", ref, id, newError(CodeStorage, "could not record payment outcome", err))
	}
	if !applied {
		// lost a race against a concurrent delivery or the sweep
		if latest, err := s.repo.GetBooking(ctx, ref); err == nil {
			out.Status = latest.Payment.Status
		}
		out.Duplicate = true
		s.noop("callback.duplicate", out, "booking changed concurrently")
		return out, nil
	}

	out.Status = next.Status
	out.Applied = true
	s.record(audit.Event{
		Step:              "callback.applied",
		Outcome:           audit.OutcomeSuccess,
		BookingReference:  ref,
		CheckoutRequestID: id,
		Fields: map[string]interface{}{
			"from":             string(current.Status),
			"to":               string(next.Status),
			"gatewayReference": next.GatewayReference,
			"failureReason":    next.FailureReason,
		},
	})
	s.logger.Info("payment reconciled",
		zap.String("reference", ref),
		zap.String("checkoutRequestId", id),
		zap.String("status", string(next.Status)))
	return out, nil
}

// settle maps a callback result code onto the booking's next payment outcome.
func settle(current models.PaymentOutcome, cb models.STKCallback, now time.Time) models.PaymentOutcome {
	next := current
	next.UpdatedAt = now
	switch cb.ResultCode {
	case mpesa.ResultSuccess:
		next.Status = models.PaymentCompleted
		next.GatewayReference = mpesa.ReceiptNumber(cb)
		next.FailureReason = ""
		paidAt := now
		if at, ok := mpesa.TransactionTime(cb, gatewayLocation); ok {
			paidAt = at.UTC()
		}
		next.PaidAt = &paidAt
	case mpesa.ResultCancelledByUser:
		next.Status = models.PaymentPending
		next.PreviousCheckoutRequestID = current.CheckoutRequestID
		next.CheckoutRequestID = ""
		next.MerchantRequestID = ""
		next.InitiatedAt = nil
		next.FailureReason = reason(cb, "cancelled by user")
	default:
		next.Status = models.PaymentFailed
		next.FailureReason = reason(cb, "payment failed")
	}
	return next
}

// alreadyKept reports whether raw is the last stored delivery, as on a retried deferred callback.
func alreadyKept(corr *models.CheckoutCorrelation, raw string) bool {
	n := len(corr.Callbacks)
	return n > 0 && corr.Callbacks[n-1].Raw == raw
}

func reason(cb models.STKCallback, fallback string) string {
	if cb.ResultDesc != "" {
		return cb.ResultDesc
	}
	return fallback
}

func (s *DefaultPaymentService) noop(step string, out *models.ReconciliationOutcome, why string) {
	s.record(audit.Event{
		Step:              step,
		Outcome:           audit.OutcomeInfo,
		BookingReference:  out.BookingReference,
		CheckoutRequestID: out.CheckoutRequestID,
		Fields: map[string]interface{}{
			"status": string(out.Status),
			"reason": why,
		},
	})
}

// findCorrelation rides out the short window in which a callback can arrive before the
// initiation's correlation write is visible.
func (s *DefaultPaymentService) findCorrelation(ctx context.Context, id string) (*models.CheckoutCorrelation, error) {
	var corr *models.CheckoutCorrelation
	policy := s.lookup
	policy.Retryable = func(err error) bool { return errors.Is(err, paymentRepo.ErrNotFound) }
	_, err := policy.Do(ctx, func(int) error {
		c, err := s.repo.GetCorrelation(ctx, id)
		if err != nil {
			return err
		}
		corr = c
		return nil
	})
	return corr, err
}
