package mpesa

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"nutrify/config"
	"nutrify/models"
)

// ResponseCodeSuccess is the ResponseCode of an accepted STK push.
const ResponseCodeSuccess = "0"

// STKClient submits STK push requests. It never retries: a repeated push prompts the payer twice.
type STKClient struct {
	endpoint string
	client   *http.Client
	timeout  time.Duration
}

func NewSTKClient(cfg config.MpesaConfig, client *http.Client) *STKClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &STKClient{
		endpoint: cfg.STKPushURL,
		client:   client,
		timeout:  cfg.WithDefaults().RequestTimeout,
	}
}

// Push sends one STK push and interprets the synchronous acknowledgement.
func (c *STKClient) Push(ctx context.Context, bearer string, body models.STKPushRequest) (*models.STKPushResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode stk push: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build stk push request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &TransportError{Err: err}
	}

	var parsed models.STKPushResponse
	trimmed := strings.TrimSpace(string(raw))
	var decodeErr error
	if trimmed == "" {
		decodeErr = fmt.Errorf("empty body")
	} else {
		decodeErr = json.Unmarshal(raw, &parsed)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := truncate(trimmed, 200)
		if decodeErr == nil && parsed.ErrorMessage != "" {
			msg = parsed.ErrorMessage
		}
		return nil, &StatusError{StatusCode: resp.StatusCode, Message: msg}
	}
	if trimmed == "" {
		return nil, &ProtocolError{Reason: "empty body"}
	}
	if decodeErr != nil {
		return nil, &ProtocolError{Reason: "body is not JSON", Body: truncate(trimmed, 200)}
	}
	if parsed.ResponseCode != ResponseCodeSuccess {
		desc := parsed.ResponseDescription
		if desc == "" {
			desc = parsed.ErrorMessage
		}
		code := parsed.ResponseCode
		if code == "" {
			code = parsed.ErrorCode
		}
		return nil, &RejectedError{ResponseCode: code, Description: desc}
	}
	if parsed.CheckoutRequestID == "" {
		return nil, &ProtocolError{Reason: "acknowledgement has no CheckoutRequestID", Body: truncate(trimmed, 200)}
	}
	return &parsed, nil
}
