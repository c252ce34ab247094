package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestStreamTokenRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	issuer, err := NewStreamTokenIssuer(StreamTokenConfig{
		SigningSecret: []byte("stream-secret"),
		TokenTTL:      2 * time.Minute,
		Clock:         func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	token, expiresIn, err := issuer.Issue("user-123")
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	if expiresIn != 120 {
		t.Fatalf("expected 120 seconds, got %d", expiresIn)
	}
	userID, err := issuer.Validate(token)
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if userID != "user-123" {
		t.Fatalf("unexpected subject %s", userID)
	}
}

func TestStreamTokenExpires(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	issuer, err := NewStreamTokenIssuer(StreamTokenConfig{
		SigningSecret: []byte("stream-secret"),
		TokenTTL:      time.Minute,
		Clock:         func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	token, _, err := issuer.Issue("user-123")
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	now = now.Add(2 * time.Minute)
	if _, err := issuer.Validate(token); !errors.Is(err, ErrInvalidStreamToken) {
		t.Fatalf("expected invalid token after expiry, got %v", err)
	}
}

func TestStreamTokenRejectsSessionTokens(t *testing.T) {
	issuer, err := NewStreamTokenIssuer(StreamTokenConfig{SigningSecret: []byte("shared")})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	session, err := jwt.NewWithClaims(jwt.SigningMethodHS256, SessionClaims{
		UserID: "user-123",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    DefaultSessionIssuer,
			Subject:   "user-123",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte("shared"))
	if err != nil {
		t.Fatalf("failed to sign session: %v", err)
	}

	if _, err := issuer.Validate(session); !errors.Is(err, ErrInvalidStreamToken) {
		t.Fatalf("expected session token to be rejected, got %v", err)
	}
}

func TestStreamTokenIssuerRequiresSecretAndSubject(t *testing.T) {
	if _, err := NewStreamTokenIssuer(StreamTokenConfig{}); !errors.Is(err, ErrMissingStreamSigningSecret) {
		t.Fatalf("expected missing secret error, got %v", err)
	}
	issuer, err := NewStreamTokenIssuer(StreamTokenConfig{SigningSecret: []byte("secret")})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	if _, _, err := issuer.Issue(" "); !errors.Is(err, ErrMissingStreamSubject) {
		t.Fatalf("expected missing subject error, got %v", err)
	}
}
