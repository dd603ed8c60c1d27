package mpesa

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"nutrify/models"
)

// Callback result codes with a dedicated mapping.
const (
	ResultSuccess         = 0
	ResultCancelledByUser = 1032
)

var ErrMalformedCallback = errors.New("mpesa: malformed callback")

// ParseCallback decodes an STK callback delivery and keeps the raw body for auditing.
func ParseCallback(raw []byte) (models.STKCallback, error) {
	var env models.STKCallbackEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return models.STKCallback{Raw: string(raw)}, fmt.Errorf("%w: %v", ErrMalformedCallback, err)
	}
	cb := env.Body.STKCallback
	cb.Raw = string(raw)
	if cb.CheckoutRequestID == "" {
		return cb, fmt.Errorf("%w: missing CheckoutRequestID", ErrMalformedCallback)
	}
	return cb, nil
}

// CallbackItem returns the metadata value called name, if present.
func CallbackItem(cb models.STKCallback, name string) (interface{}, bool) {
	if cb.CallbackMetadata == nil {
		return nil, false
	}
	for _, item := range cb.CallbackMetadata.Item {
		if item.Name == name {
			return item.Value, item.Value != nil
		}
	}
	return nil, false
}

// ReceiptNumber is the M-Pesa transaction code of a successful payment.
func ReceiptNumber(cb models.STKCallback) string {
	v, ok := CallbackItem(cb, "MpesaReceiptNumber")
	if !ok {
		return ""
	}
	return valueString(v)
}

// TransactionTime parses the TransactionDate item (YYYYMMDDHHmmss, gateway local time).
func TransactionTime(cb models.STKCallback, loc *time.Location) (time.Time, bool) {
	v, ok := CallbackItem(cb, "TransactionDate")
	if !ok {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(TimestampLayout, valueString(v), loc)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func valueString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case json.Number:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}
