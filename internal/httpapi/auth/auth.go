// Package auth implements password hashing and a lightweight HMAC
// session token, ported from backend/auth/auth.go's bcrypt+HMAC
// pattern and narrowed to the single operator account stored in
// sys_param/user (spec.md §6 run_rest_api/user/password).
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// HashPassword hashes a password with bcrypt.
func HashPassword(pw string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	return string(b), err
}

// CheckPassword compares a bcrypt hash with a plain password.
func CheckPassword(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

// GenerateToken returns an HMAC-signed session token for username,
// valid until now+ttl. Format: b64(username)|expUnix|sig.
func GenerateToken(username string, ttl time.Duration, secret string) string {
	exp := time.Now().Add(ttl).Unix()
	parts := []string{
		base64.RawStdEncoding.EncodeToString([]byte(username)),
		fmt.Sprintf("%d", exp),
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strings.Join(parts, "|")))
	sig := base64.RawStdEncoding.EncodeToString(mac.Sum(nil))
	parts = append(parts, sig)
	return strings.Join(parts, "|")
}

// ParseToken validates tok's signature and expiry, returning the
// embedded username.
func ParseToken(tok, secret string) (username string, err error) {
	parts := strings.Split(tok, "|")
	if len(parts) != 3 {
		return "", errors.New("auth: malformed token")
	}
	userBytes, err := base64.RawStdEncoding.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("auth: decode token subject: %w", err)
	}
	var expUnix int64
	if _, err := fmt.Sscanf(parts[1], "%d", &expUnix); err != nil {
		return "", fmt.Errorf("auth: decode token expiry: %w", err)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strings.Join(parts[:2], "|")))
	expected := base64.RawStdEncoding.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(parts[2])) {
		return "", errors.New("auth: bad token signature")
	}
	if time.Now().After(time.Unix(expUnix, 0)) {
		return "", errors.New("auth: token expired")
	}
	return string(userBytes), nil
}
