package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus is the payment state of a booking.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentInitiated PaymentStatus = "initiated"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentTimedOut  PaymentStatus = "timed_out"
)

// IsTerminal reports whether the status can no longer change.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentCompleted || s == PaymentFailed
}

// IsPayable reports whether a fresh STK push may be started from this status.
func (s PaymentStatus) IsPayable() bool {
	return s == "" || s == PaymentPending || s == PaymentTimedOut
}

// PaymentRequest is what the UI submits to start an STK push.
type PaymentRequest struct {
	BookingReference string          `json:"bookingReference" binding:"required"`
	PhoneNumber      string          `json:"phoneNumber" binding:"required"`
	Amount           decimal.Decimal `json:"amount"`
}

// PaymentOutcome is the payment part of a booking record. PreviousCheckoutRequestID keeps
// the attempt the payer cancelled so a redelivered callback for it is recognised.
type PaymentOutcome struct {
	Status                    PaymentStatus `bson:"status" json:"status"`
	CheckoutRequestID         string        `bson:"checkoutRequestId,omitempty" json:"checkoutRequestId,omitempty"`
	MerchantRequestID         string        `bson:"merchantRequestId,omitempty" json:"merchantRequestId,omitempty"`
	PreviousCheckoutRequestID string        `bson:"previousCheckoutRequestId,omitempty" json:"previousCheckoutRequestId,omitempty"`
	PhoneNumber               string        `bson:"phoneNumber,omitempty" json:"phoneNumber,omitempty"`
	Amount                    int64         `bson:"amount,omitempty" json:"amount,omitempty"`
	GatewayReference          string        `bson:"gatewayReference,omitempty" json:"gatewayReference,omitempty"`
	FailureReason             string        `bson:"failureReason,omitempty" json:"failureReason,omitempty"`
	InitiatedAt               *time.Time    `bson:"initiatedAt,omitempty" json:"initiatedAt,omitempty"`
	PaidAt                    *time.Time    `bson:"paidAt,omitempty" json:"paidAt,omitempty"`
	UpdatedAt                 time.Time     `bson:"updatedAt" json:"updatedAt"`
}

// CheckoutCorrelation maps a gateway checkout id back to the booking it was issued for.
type CheckoutCorrelation struct {
	CheckoutRequestID string           `bson:"checkoutRequestId" json:"checkoutRequestId"`
	MerchantRequestID string           `bson:"merchantRequestId" json:"merchantRequestId"`
	BookingReference  string           `bson:"bookingReference" json:"bookingReference"`
	CreatedAt         time.Time        `bson:"createdAt" json:"createdAt"`
	Callbacks         []CallbackRecord `bson:"callbacks,omitempty" json:"callbacks,omitempty"`
}

// CallbackRecord is one raw callback delivery kept for debugging.
type CallbackRecord struct {
	ReceivedAt time.Time `bson:"receivedAt" json:"receivedAt"`
	ResultCode int       `bson:"resultCode" json:"resultCode"`
	Raw        string    `bson:"raw" json:"raw"`
}

// PaymentTransition describes a conditional write of a booking's payment outcome.
// The write only applies while the current status is one of From and, when
// ExpectCheckoutID is set, the stored checkout id still matches it.
type PaymentTransition struct {
	From             []PaymentStatus
	ExpectCheckoutID string
	Outcome          PaymentOutcome
}

// InitiationResult is returned to the caller after the gateway accepted an STK push.
type InitiationResult struct {
	BookingReference  string        `json:"bookingReference"`
	CheckoutRequestID string        `json:"checkoutRequestId"`
	MerchantRequestID string        `json:"merchantRequestId"`
	CustomerMessage   string        `json:"customerMessage"`
	PhoneNumber       string        `json:"phoneNumber"`
	Amount            int64         `json:"amount"`
	Status            PaymentStatus `json:"status"`
}

// ReconciliationOutcome describes what a callback did to the booking.
type ReconciliationOutcome struct {
	BookingReference  string        `json:"bookingReference"`
	CheckoutRequestID string        `json:"checkoutRequestId"`
	Status            PaymentStatus `json:"status"`
	Applied           bool          `json:"applied"`
	Duplicate         bool          `json:"duplicate,omitempty"`
	Stale             bool          `json:"stale,omitempty"`
}

// PaymentDetails is the admin view of a booking's payment history.
type PaymentDetails struct {
	BookingReference string                `json:"bookingReference"`
	Payment          PaymentOutcome        `json:"payment"`
	Correlations     []CheckoutCorrelation `json:"correlations"`
}
