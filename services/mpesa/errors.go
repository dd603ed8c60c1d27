package mpesa

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ConfigError reports a missing credential or setting. No request was sent.
type ConfigError struct {
	Field string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("mpesa: %s is not configured", e.Field)
}

// AuthError is returned once the token exchange has exhausted its attempts.
type AuthError struct {
	Attempts int
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("mpesa: token exchange failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// StatusError is a non-2xx gateway response.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("mpesa: gateway returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("mpesa: gateway returned HTTP %d: %s", e.StatusCode, e.Message)
}

// ProtocolError is a 2xx response whose body could not be interpreted.
type ProtocolError struct {
	Reason string
	Body   string
}

func (e *ProtocolError) Error() string {
	return "mpesa: unexpected gateway response: " + e.Reason
}

// RejectedError is a well-formed response whose ResponseCode is not the success sentinel.
type RejectedError struct {
	ResponseCode string
	Description  string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("mpesa: request rejected (%s): %s", e.ResponseCode, e.Description)
}

// TransportError wraps a failure to reach the gateway at all.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return "mpesa: gateway unreachable: " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTimeout reports whether err is a deadline or network timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
