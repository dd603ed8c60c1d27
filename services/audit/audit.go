// Package audit records an append-only trail of every payment step.
//
// Recorders are fire-and-forget: Record never blocks on I/O and never panics into
// the caller, so a broken sink cannot change a payment outcome.
package audit

import (
	"time"

	"github.com/google/uuid"
)

// Redacted replaces secret material in audit fields.
const Redacted = "[REDACTED]"

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeInfo    Outcome = "info"
)

// Event is one audit entry.
type Event struct {
	ID                string                 `json:"id"`
	At                time.Time              `json:"at"`
	Step              string                 `json:"step"`
	Outcome           Outcome                `json:"outcome"`
	BookingReference  string                 `json:"bookingReference,omitempty"`
	CheckoutRequestID string                 `json:"checkoutRequestId,omitempty"`
	Attempt           int                    `json:"attempt,omitempty"`
	Error             string                 `json:"error,omitempty"`
	Fields            map[string]interface{} `json:"fields,omitempty"`
}

// Recorder is the capability handed to every payment component.
type Recorder interface {
	Record(e Event)
}

// Redact hides a secret while still showing whether it was set.
func Redact(secret string) string {
	if secret == "" {
		return ""
	}
	return Redacted
}

// ErrString is a nil-safe err.Error().
func ErrString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func stamp(e Event) Event {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	return e
}

// Nop discards events.
type Nop struct{}

func (Nop) Record(Event) {}

// Tee fans an event out to several recorders.
type Tee []Recorder

func (t Tee) Record(e Event) {
	e = stamp(e)
	for _, r := range t {
		if r != nil {
			r.Record(e)
		}
	}
}
