package payment

import (
	"time"

	"nutrify/config"
	paymentRepo "nutrify/database/repository/payment"
	"nutrify/services/audit"
	"nutrify/services/mpesa"

	"go.uber.org/zap"
)

// Receipts carry East Africa Time without a zone marker.
var gatewayLocation = time.FixedZone("EAT", 3*60*60)

// DefaultPaymentService implements PaymentService on top of the Daraja STK push API.
type DefaultPaymentService struct {
	cfg     config.MpesaConfig
	repo    paymentRepo.PaymentRepository
	tokens  mpesa.TokenSource
	signer  *mpesa.Signer
	gateway Gateway
	audit   audit.Recorder
	logger  *zap.Logger
	now     func() time.Time
	lookup  mpesa.RetryPolicy
}

// NewPaymentService validates cfg and wires the service. A misconfigured gateway is
// reported here rather than on the first payment.
func NewPaymentService(cfg config.MpesaConfig, repo paymentRepo.PaymentRepository, tokens mpesa.TokenSource, gateway Gateway, rec audit.Recorder, logger *zap.Logger) (*DefaultPaymentService, error) {
	if err := cfg.Validate(); err != nil {
		return nil, newError(CodeConfiguration, "payment gateway is not configured", err)
	}
	return newPaymentService(cfg, repo, tokens, gateway, rec, logger), nil
}

func newPaymentService(cfg config.MpesaConfig, repo paymentRepo.PaymentRepository, tokens mpesa.TokenSource, gateway Gateway, rec audit.Recorder, logger *zap.Logger) *DefaultPaymentService {
	if rec == nil {
		rec = audit.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.WithDefaults()
	return &DefaultPaymentService{
		cfg:     cfg,
		repo:    repo,
		tokens:  tokens,
		signer:  mpesa.NewSigner(cfg.Shortcode, cfg.Passkey),
		gateway: gateway,
		audit:   rec,
		logger:  logger,
		now:     time.Now,
		lookup: mpesa.RetryPolicy{
			MaxAttempts: 3,
			Backoff:     func(int) time.Duration { return 200 * time.Millisecond },
		},
	}
}

// WithClock replaces the wall clock, for tests.
func (s *DefaultPaymentService) WithClock(now func() time.Time) *DefaultPaymentService {
	s.now = now
	return s
}

// WithLookupPolicy replaces the correlation lookup retry policy.
func (s *DefaultPaymentService) WithLookupPolicy(p mpesa.RetryPolicy) *DefaultPaymentService {
	s.lookup = p
	return s
}

func (s *DefaultPaymentService) record(e audit.Event) {
	s.audit.Record(e)
}

// fail audits a failed step and returns perr unchanged.
func (s *DefaultPaymentService) fail(step, reference, checkoutID string, perr *PaymentError) *PaymentError {
	fields := map[string]interface{}{"code": string(perr.Code)}
	if perr.GatewayDescription != "" {
		fields["gatewayDescription"] = perr.GatewayDescription
	}
	if perr.StatusCode != 0 {
		fields["statusCode"] = perr.StatusCode
	}
	s.record(audit.Event{
		Step:              step,
		Outcome:           audit.OutcomeFailure,
		BookingReference:  reference,
		CheckoutRequestID: checkoutID,
		Error:             audit.ErrString(perr),
		Fields:            fields,
	})
	return perr
}

var _ PaymentService = (*DefaultPaymentService)(nil)
