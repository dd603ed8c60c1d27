package models

import "time"

// Booking is a consultation booking as stored by the booking store. The payment
// subsystem only ever writes the Payment field.
type Booking struct {
	Reference   string         `bson:"reference" json:"reference"`
	ClientName  string         `bson:"client_name" json:"client_name"`
	ClientEmail string         `bson:"client_email,omitempty" json:"client_email,omitempty"`
	ServiceName string         `bson:"service_name" json:"service_name"`
	Date        string         `bson:"date" json:"date"` // "YYYY-MM-DD"
	TotalPrice  int64          `bson:"total_price" json:"total_price"`
	Payment     PaymentOutcome `bson:"payment" json:"payment"`
	CreatedAt   time.Time      `bson:"created_at" json:"created_at"`
	UpdatedAt   time.Time      `bson:"updated_at" json:"updated_at"`
}

// PaymentStatusResponse is the public view returned to a polling UI.
type PaymentStatusResponse struct {
	BookingReference string        `json:"bookingReference"`
	Status           PaymentStatus `json:"status"`
	FailureReason    string        `json:"failureReason,omitempty"`
	PaidAt           *time.Time    `json:"paidAt,omitempty"`
}
