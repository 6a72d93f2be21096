package auth

import (
	"testing"
	"time"
)

func TestHashAndCheckPasswordRoundTrip(t *testing.T) {
	hash, err := HashPassword("s3cret")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	if !CheckPassword(hash, "s3cret") {
		t.Fatal("expected CheckPassword to accept the correct password")
	}
	if CheckPassword(hash, "wrong") {
		t.Fatal("expected CheckPassword to reject an incorrect password")
	}
}

func TestGenerateAndParseTokenRoundTrip(t *testing.T) {
	tok := GenerateToken("operator", time.Hour, "shared-secret")
	username, err := ParseToken(tok, "shared-secret")
	if err != nil {
		t.Fatalf("ParseToken failed: %v", err)
	}
	if username != "operator" {
		t.Fatalf("expected username 'operator', got %q", username)
	}
}

func TestParseTokenRejectsExpiredToken(t *testing.T) {
	tok := GenerateToken("operator", -time.Minute, "shared-secret")
	if _, err := ParseToken(tok, "shared-secret"); err == nil {
		t.Fatal("expected error for expired token, got nil")
	}
}

func TestParseTokenRejectsWrongSecret(t *testing.T) {
	tok := GenerateToken("operator", time.Hour, "shared-secret")
	if _, err := ParseToken(tok, "different-secret"); err == nil {
		t.Fatal("expected error for tampered signature, got nil")
	}
}

func TestParseTokenRejectsMalformedToken(t *testing.T) {
	if _, err := ParseToken("not-a-real-token", "shared-secret"); err == nil {
		t.Fatal("expected error for malformed token, got nil")
	}
}
