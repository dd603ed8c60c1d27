package audit

import (
	"go.uber.org/zap"
)

// ZapRecorder writes audit events to the structured application log.
type ZapRecorder struct {
	logger *zap.Logger
}

func NewZapRecorder(logger *zap.Logger) *ZapRecorder {
	return &ZapRecorder{logger: logger.Named("audit")}
}

func (r *ZapRecorder) Record(e Event) {
	defer func() {
		_ = recover()
	}()
	e = stamp(e)

	fields := []zap.Field{
		zap.String("auditId", e.ID),
		zap.Time("at", e.At),
		zap.String("outcome", string(e.Outcome)),
	}
	if e.BookingReference != "" {
		fields = append(fields, zap.String("bookingReference", e.BookingReference))
	}
	if e.CheckoutRequestID != "" {
		fields = append(fields, zap.String("checkoutRequestId", e.CheckoutRequestID))
	}
	if e.Attempt > 0 {
		fields = append(fields, zap.Int("attempt", e.Attempt))
	}
	if e.Error != "" {
		fields = append(fields, zap.String("error", e.Error))
	}
	for k, v := range e.Fields {
		fields = append(fields, zap.Any(k, v))
	}

	if e.Outcome == OutcomeFailure {
		r.logger.Warn(e.Step, fields...)
		return
	}
	r.logger.Info(e.Step, fields...)
}
