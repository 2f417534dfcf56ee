package auth

import (
	"context"
	"fmt"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"
	"github.com/golang-jwt/jwt/v4"
)

// UnverifiedVerifier decodes Firebase ID tokens without checking their
// signature. It exists for local and emulator environments where the Admin
// SDK cannot reach Google's certificate endpoints. It must never be wired in
// production; the caller is responsible for gating it on the environment.
type UnverifiedVerifier struct {
	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

// VerifyIDToken parses the token claims without signature verification.
// Expiry is still enforced so stale tokens do not linger in local sessions.
func (v UnverifiedVerifier) VerifyIDToken(_ context.Context, idToken string) (*firebaseauth.Token, error) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(idToken, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	now := time.Now
	if v.Now != nil {
		now = v.Now
	}

	var expires int64
	if exp, ok := claims["exp"].(float64); ok {
		expires = int64(exp)
		if time.Unix(expires, 0).Before(now()) {
			return nil, ErrTokenExpired
		}
	}

	uid := claimAsString(claims, "user_id")
	if uid == "" {
		uid = claimAsString(claims, "sub")
	}
	if uid == "" {
		return nil, fmt.Errorf("%w: token carries no subject", ErrTokenInvalid)
	}

	var issuedAt int64
	if iat, ok := claims["iat"].(float64); ok {
		issuedAt = int64(iat)
	}

	return &firebaseauth.Token{
		UID:      uid,
		Subject:  uid,
		Issuer:   claimAsString(claims, "iss"),
		Audience: claimAsString(claims, "aud"),
		Expires:  expires,
		IssuedAt: issuedAt,
		Claims:   map[string]interface{}(claims),
	}, nil
}
