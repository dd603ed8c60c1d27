package payment

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorCode string

const (
	CodeValidation         ErrorCode = "validation_error"
	CodeConfiguration      ErrorCode = "configuration_error"
	CodeAuth               ErrorCode = "auth_error"
	CodeGatewayHTTP        ErrorCode = "gateway_http_error"
	CodeGatewayProtocol    ErrorCode = "gateway_protocol_error"
	CodeGatewayRejected    ErrorCode = "gateway_rejected"
	CodeGatewayTimeout     ErrorCode = "gateway_timeout"
	CodeUnknownCorrelation ErrorCode = "unknown_correlation"
	CodeCorrelationPending ErrorCode = "correlation_pending"
	CodeReconciliationRisk ErrorCode = "reconciliation_risk"
	CodeNotFound           ErrorCode = "not_found"
	CodeStorage            ErrorCode = "storage_error"
)

// PaymentError is the only error type the payment service returns.
// Message is safe to show to a payer; Err carries the technical cause.
type PaymentError struct {
	Code               ErrorCode
	Message            string
	GatewayDescription string
	StatusCode         int
	Err                error
}

func (e *PaymentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PaymentError) Unwrap() error { return e.Err }

// HTTPStatus maps the error code onto the status returned to API callers.
func (e *PaymentError) HTTPStatus() int {
	switch e.Code {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConfiguration:
		return http.StatusInternalServerError
	case CodeAuth, CodeGatewayHTTP, CodeGatewayProtocol:
		return http.StatusBadGateway
	case CodeGatewayRejected:
		return http.StatusPaymentRequired
	case CodeGatewayTimeout:
		return http.StatusGatewayTimeout
	case CodeReconciliationRisk, CodeCorrelationPending:
		return http.StatusAccepted
	case CodeStorage:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func newError(code ErrorCode, message string, err error) *PaymentError {
	return &PaymentError{Code: code, Message: message, Err: err}
}

// CodeOf returns the code of a PaymentError anywhere in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var pe *PaymentError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// IsTransient reports whether the same call may succeed later without any change on our side.
func IsTransient(err error) bool {
	switch CodeOf(err) {
	case CodeCorrelationPending, CodeStorage:
		return true
	}
	return false
}
