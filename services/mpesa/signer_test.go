package mpesa

import (
	"encoding/base64"
	"errors"
	"testing"
	"time"
)

func TestSignFormatsTimestampAndPassword(t *testing.T) {
	now := time.Date(2024, 3, 7, 9, 5, 1, 0, time.Local)
	sig, err := NewSigner("174379", "pk").Sign(now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sig.Timestamp != "20240307090501" {
		t.Fatalf("unexpected timestamp %s", sig.Timestamp)
	}
	decoded, err := base64.StdEncoding.DecodeString(sig.Password)
	if err != nil {
		t.Fatalf("password is not base64: %v", err)
	}
	if string(decoded) != "174379pk20240307090501" {
		t.Fatalf("unexpected password payload %q", decoded)
	}
}

func TestSignRequiresShortcodeAndPasskey(t *testing.T) {
	var cfgErr *ConfigError
	if _, err := NewSigner("", "pk").Sign(time.Now()); !errors.As(err, &cfgErr) || cfgErr.Field != "MPESA_SHORTCODE" {
		t.Fatalf("expected shortcode config error, got %v", err)
	}
	if _, err := NewSigner("174379", "").Sign(time.Now()); !errors.As(err, &cfgErr) || cfgErr.Field != "MPESA_PASSKEY" {
		t.Fatalf("expected passkey config error, got %v", err)
	}
}
