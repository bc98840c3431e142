package testutil

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TestSigningKey signs tokens minted by tests
var TestSigningKey = []byte("impostr-test-key")

// SignToken mints an HS256 token with the given subject and lifetime
func SignToken(t testing.TB, subject string, issuedAt, expiresAt time.Time) string {
	t.Helper()
	return SignTokenWithKey(t, TestSigningKey, subject, issuedAt, expiresAt)
}

// SignTokenWithKey mints a token signed with key
func SignTokenWithKey(t testing.TB, key []byte, subject string, issuedAt, expiresAt time.Time) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

// SignClaims mints a token carrying arbitrary claims
func SignClaims(t testing.TB, claims map[string]any) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims(claims)).SignedString(TestSigningKey)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}
