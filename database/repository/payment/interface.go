package paymentRepo

import (
	"context"
	"errors"
	"time"

	"nutrify/models"
)

// ErrNotFound is returned when a booking or correlation does not exist.
var ErrNotFound = errors.New("not found")

// PaymentRepository is the payment subsystem's view of the booking store.
type PaymentRepository interface {
	// GetBooking retrieves a booking by its reference.
	GetBooking(ctx context.Context, reference string) (*models.Booking, error)
	// SaveCorrelation records the checkout id issued for a booking. Saving the same checkout id twice is a no-op.
	SaveCorrelation(ctx context.Context, corr *models.CheckoutCorrelation) error
	// GetCorrelation looks a correlation up by checkout id.
	GetCorrelation(ctx context.Context, checkoutRequestID string) (*models.CheckoutCorrelation, error)
	// ListCorrelations returns every checkout attempt issued for a booking, oldest first.
	ListCorrelations(ctx context.Context, reference string) ([]models.CheckoutCorrelation, error)
	// AppendCallback stores a raw callback delivery on its correlation.
	AppendCallback(ctx context.Context, checkoutRequestID string, rec models.CallbackRecord) error
	// TransitionPayment conditionally replaces the booking's payment outcome.
	// It reports false when the booking's current state no longer matches the transition.
	TransitionPayment(ctx context.Context, reference string, tr models.PaymentTransition) (bool, error)
	// FindStaleInitiated lists bookings still initiated since before the given time.
	FindStaleInitiated(ctx context.Context, before time.Time, limit int64) ([]models.Booking, error)
}
