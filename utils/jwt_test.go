package utils

import (
	"testing"
	"time"

	"nutrify/config"
)

func withSecret(t *testing.T, secret string) {
	t.Helper()
	prev := config.AppConfig.JWTSecret
	config.AppConfig.JWTSecret = secret
	t.Cleanup(func() { config.AppConfig.JWTSecret = prev })
}

func TestAdminTokenRoundTrip(t *testing.T) {
	withSecret(t, "test-secret")
	token, err := GenerateToken("ops@nutrify", RoleAdmin, time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sub, err := ExtractAdminFromToken(token)
	if err != nil || sub != "ops@nutrify" {
		t.Fatalf("unexpected subject %q %v", sub, err)
	}
}

func TestExtractAdminRejectsOtherRolesAndExpiry(t *testing.T) {
	withSecret(t, "test-secret")
	user, _ := GenerateToken("client", "user", time.Hour)
	if _, err := ExtractAdminFromToken(user); err == nil {
		t.Fatal("expected non-admin token to be rejected")
	}
	expired, _ := GenerateToken("ops", RoleAdmin, -time.Minute)
	if _, err := ExtractAdminFromToken(expired); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestTokensNeedSecret(t *testing.T) {
	withSecret(t, "")
	if _, err := GenerateToken("ops", RoleAdmin, time.Hour); err != ErrJWTSecretMissing {
		t.Fatalf("expected missing secret error, got %v", err)
	}
}
