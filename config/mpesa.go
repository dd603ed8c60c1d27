package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// STKPushPath is the path every STK push endpoint must end with.
const STKPushPath = "/mpesa/stkpush/v1/processrequest"

const (
	DefaultTransactionType  = "CustomerPayBillOnline"
	DefaultTokenMaxAttempts = 3
	DefaultRequestTimeout   = 30 * time.Second
)

// MpesaConfig is the explicit, validated configuration of the payment subsystem.
type MpesaConfig struct {
	BaseURL          string
	ConsumerKey      string
	ConsumerSecret   string
	Shortcode        string
	Passkey          string
	STKPushURL       string
	CallbackURL      string
	TransactionType  string
	AccountReference string
	TransactionDesc  string
	TokenMaxAttempts int
	RequestTimeout   time.Duration
}

// MissingConfigError lists every unset or malformed key.
type MissingConfigError struct {
	Fields []string
}

func (e *MissingConfigError) Error() string {
	return "mpesa configuration invalid: " + strings.Join(e.Fields, ", ")
}

// WithDefaults fills optional fields left at their zero value.
func (c MpesaConfig) WithDefaults() MpesaConfig {
	if c.TransactionType == "" {
		c.TransactionType = DefaultTransactionType
	}
	if c.TokenMaxAttempts <= 0 {
		c.TokenMaxAttempts = DefaultTokenMaxAttempts
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	return c
}

// Validate checks that every required setting is present and that the URLs have the expected shape.
func (c MpesaConfig) Validate() error {
	var bad []string
	required := []struct {
		name, value string
	}{
		{"MPESA_CONSUMER_KEY", c.ConsumerKey},
		{"MPESA_CONSUMER_SECRET", c.ConsumerSecret},
		{"MPESA_SHORTCODE", c.Shortcode},
		{"MPESA_PASSKEY", c.Passkey},
		{"MPESA_ACCOUNT_REFERENCE", c.AccountReference},
		{"MPESA_TRANSACTION_DESC", c.TransactionDesc},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			bad = append(bad, r.name)
		}
	}

	if !isHTTPURL(c.BaseURL) {
		bad = append(bad, "MPESA_BASE_URL")
	}
	if !isHTTPURL(c.CallbackURL) {
		bad = append(bad, "MPESA_CALLBACK_URL")
	}
	if !isHTTPURL(c.STKPushURL) {
		bad = append(bad, "MPESA_STK_PUSH_URL")
	} else if u, _ := url.Parse(c.STKPushURL); !strings.HasSuffix(strings.TrimRight(u.Path, "/"), STKPushPath) {
		bad = append(bad, "MPESA_STK_PUSH_URL (path must end with "+STKPushPath+")")
	}

	if len(bad) > 0 {
		return &MissingConfigError{Fields: bad}
	}
	return nil
}

// TokenURL is the credential exchange endpoint derived from the base URL.
func (c MpesaConfig) TokenURL() string {
	return fmt.Sprintf("%s/oauth/v1/generate?grant_type=client_credentials", strings.TrimRight(c.BaseURL, "/"))
}

func isHTTPURL(raw string) bool {
	if strings.TrimSpace(raw) == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
