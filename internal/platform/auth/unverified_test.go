package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

func signedTestToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte("local-test-key"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestUnverifiedVerifierDecodesClaims(t *testing.T) {
	now := time.Date(2026, time.March, 14, 9, 0, 0, 0, time.UTC)
	tokenStr := signedTestToken(t, jwt.MapClaims{
		"user_id": "uid-123",
		"email":   "shopper@example.com",
		"role":    "user",
		"exp":     float64(now.Add(time.Hour).Unix()),
		"iat":     float64(now.Unix()),
	})

	verifier := UnverifiedVerifier{Now: func() time.Time { return now }}
	token, err := verifier.VerifyIDToken(context.Background(), tokenStr)
	if err != nil {
		t.Fatalf("VerifyIDToken: %v", err)
	}
	if token.UID != "uid-123" {
		t.Fatalf("uid = %s, want uid-123", token.UID)
	}
	if email, _ := token.Claims["email"].(string); email != "shopper@example.com" {
		t.Fatalf("email claim = %q", token.Claims["email"])
	}
}

func TestUnverifiedVerifierFallsBackToSubject(t *testing.T) {
	tokenStr := signedTestToken(t, jwt.MapClaims{"sub": "uid-sub"})
	token, err := UnverifiedVerifier{}.VerifyIDToken(context.Background(), tokenStr)
	if err != nil {
		t.Fatalf("VerifyIDToken: %v", err)
	}
	if token.UID != "uid-sub" {
		t.Fatalf("uid = %s, want uid-sub", token.UID)
	}
}

func TestUnverifiedVerifierRejectsExpired(t *testing.T) {
	now := time.Date(2026, time.March, 14, 9, 0, 0, 0, time.UTC)
	tokenStr := signedTestToken(t, jwt.MapClaims{
		"user_id": "uid-123",
		"exp":     float64(now.Add(-time.Minute).Unix()),
	})

	verifier := UnverifiedVerifier{Now: func() time.Time { return now }}
	if _, err := verifier.VerifyIDToken(context.Background(), tokenStr); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("err = %v, want ErrTokenExpired", err)
	}
}

func TestUnverifiedVerifierRejectsGarbage(t *testing.T) {
	if _, err := (UnverifiedVerifier{}).VerifyIDToken(context.Background(), "not-a-jwt"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("err = %v, want ErrTokenInvalid", err)
	}

	tokenStr := signedTestToken(t, jwt.MapClaims{"email": "nobody@example.com"})
	if _, err := (UnverifiedVerifier{}).VerifyIDToken(context.Background(), tokenStr); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("missing subject err = %v, want ErrTokenInvalid", err)
	}
}
