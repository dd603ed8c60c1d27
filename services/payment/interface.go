package payment

import (
	"context"
	"time"

	"nutrify/models"
)

// PaymentService starts STK pushes and reconciles their callbacks against bookings.
type PaymentService interface {
	// Initiate sends an STK push for a payable booking and marks it initiated.
	Initiate(ctx context.Context, req models.PaymentRequest) (*models.InitiationResult, error)
	// Reconcile applies a gateway callback to the booking it belongs to. Safe to call repeatedly.
	Reconcile(ctx context.Context, cb models.STKCallback) (*models.ReconciliationOutcome, error)
	// Status returns the payer-facing payment state of a booking.
	Status(ctx context.Context, reference string) (*models.PaymentStatusResponse, error)
	// Details returns the full payment outcome and every checkout attempt of a booking.
	Details(ctx context.Context, reference string) (*models.PaymentDetails, error)
	// ExpireStale moves attempts initiated longer than olderThan ago to timed_out.
	ExpireStale(ctx context.Context, olderThan time.Duration) (int, error)
}

// Gateway submits STK push requests.
type Gateway interface {
	Push(ctx context.Context, bearer string, body models.STKPushRequest) (*models.STKPushResponse, error)
}

// CallbackDeferrer schedules a raw callback body for another reconciliation attempt.
type CallbackDeferrer interface {
	DeferCallback(ctx context.Context, raw []byte) error
}
