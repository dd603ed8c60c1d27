package payment

import (
	"context"
	"time"

	"nutrify/models"
	"nutrify/services/audit"

	"go.uber.org/zap"
)

const (
	staleBatchSize      = 500
	staleFailureMessage = "no confirmation received from M-Pesa"
)

// ExpireStale marks attempts that never received a callback as timed_out. A callback that
// arrives afterwards still settles the booking.
func (s *DefaultPaymentService) ExpireStale(ctx context.Context, olderThan time.Duration) (int, error) {
	now := s.now().UTC()
	stale, err := s.repo.FindStaleInitiated(ctx, now.Add(-olderThan), staleBatchSize)
	if err != nil {
		return 0, newError(CodeStorage, "could not query stale payments", err)
	}

	expired := 0
	for _, b := range stale {
		next := b.Payment
		next.Status = models.PaymentTimedOut
		next.FailureReason = staleFailureMessage
		next.UpdatedAt = now

		applied, err := s.repo.TransitionPayment(ctx, b.Reference, models.PaymentTransition{
			From:             []models.PaymentStatus{models.PaymentInitiated},
			ExpectCheckoutID: b.Payment.CheckoutRequestID,
			Outcome:          next,
		})
		if err != nil {
			s.logger.Error("failed to expire payment", zap.String("reference", b.Reference), zap.Error(err))
			continue
		}
		if !applied {
			continue
		}
		expired++
		s.record(audit.Event{
			Step:              "payment.expired",
			Outcome:           audit.OutcomeInfo,
			BookingReference:  b.Reference,
			CheckoutRequestID: b.Payment.CheckoutRequestID,
			Fields:            map[string]interface{}{"olderThan": olderThan.String()},
		})
	}
	if expired > 0 {
		s.logger.Info("expired stale payments", zap.Int("count", expired))
	}
	return expired, nil
}
