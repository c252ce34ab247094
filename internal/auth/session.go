package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// DefaultSessionIssuer is the issuer claim stamped by TAuth.
	DefaultSessionIssuer = "tauth"
	// DefaultSessionCookieName is the cookie TAuth sets on the shared domain.
	DefaultSessionCookieName = "app_session"
	// SessionProvider labels identities resolved from TAuth sessions.
	SessionProvider = "tauth"
)

var (
	ErrMissingSessionSigningKey = errors.New("session verifier: signing key required")
	ErrMissingSessionToken      = errors.New("session verifier: token required")
	ErrInvalidSessionToken      = errors.New("session verifier: invalid token")
	ErrExpiredSessionToken      = errors.New("session verifier: token expired")
	ErrMissingSessionSubject    = errors.New("session verifier: subject required")
)

// SessionClaims mirrors the JWT payload emitted by TAuth.
type SessionClaims struct {
	UserID          string   `json:"user_id"`
	UserEmail       string   `json:"user_email"`
	UserDisplayName string   `json:"user_display_name"`
	UserAvatarURL   string   `json:"user_avatar_url"`
	UserRoles       []string `json:"user_roles"`
	jwt.RegisteredClaims
}

// SessionIdentity is the external identity carried by a verified session.
type SessionIdentity struct {
	Provider    string
	Subject     string
	Email       string
	DisplayName string
}

// Identity extracts the external identity from verified claims.
func (claims SessionClaims) Identity() SessionIdentity {
	return SessionIdentity{
		Provider:    SessionProvider,
		Subject:     strings.TrimSpace(claims.UserID),
		Email:       strings.TrimSpace(claims.UserEmail),
		DisplayName: strings.TrimSpace(claims.UserDisplayName),
	}
}

// SessionVerifierConfig describes how TAuth session cookies are checked.
type SessionVerifierConfig struct {
	SigningSecret []byte
	Issuer        string
	CookieName    string
	Clock         func() time.Time
}

// SessionVerifier checks HS256 session cookies issued by TAuth.
type SessionVerifier struct {
	signingSecret []byte
	issuer        string
	cookieName    string
	clock         func() time.Time
}

// NewSessionVerifier constructs a verifier. Issuer and cookie name fall back to TAuth defaults.
func NewSessionVerifier(cfg SessionVerifierConfig) (*SessionVerifier, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, ErrMissingSessionSigningKey
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		issuer = DefaultSessionIssuer
	}
	cookieName := strings.TrimSpace(cfg.CookieName)
	if cookieName == "" {
		cookieName = DefaultSessionCookieName
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &SessionVerifier{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		issuer:        issuer,
		cookieName:    cookieName,
		clock:         clock,
	}, nil
}

// CookieName returns the session cookie name.
func (verifier *SessionVerifier) CookieName() string {
	return verifier.cookieName
}

// Verify parses the session token and returns its claims.
func (verifier *SessionVerifier) Verify(tokenString string) (SessionClaims, error) {
	token := strings.TrimSpace(tokenString)
	if token == "" {
		return SessionClaims{}, ErrMissingSessionToken
	}

	claims := &SessionClaims{}
	parsed, err := jwt.ParseWithClaims(
		token,
		claims,
		func(*jwt.Token) (interface{}, error) {
			return verifier.signingSecret, nil
		},
		jwt.WithTimeFunc(verifier.clock),
		jwt.WithIssuer(verifier.issuer),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return SessionClaims{}, ErrExpiredSessionToken
		}
		return SessionClaims{}, fmt.Errorf("%w: %v", ErrInvalidSessionToken, err)
	}
	if parsed == nil || !parsed.Valid {
		return SessionClaims{}, ErrInvalidSessionToken
	}
	if strings.TrimSpace(claims.UserID) == "" {
		return SessionClaims{}, ErrMissingSessionSubject
	}
	return *claims, nil
}

// VerifyRequest reads the session cookie from the request and verifies it.
func (verifier *SessionVerifier) VerifyRequest(request *http.Request) (SessionClaims, error) {
	if request == nil {
		return SessionClaims{}, ErrMissingSessionToken
	}
	cookie, err := request.Cookie(verifier.cookieName)
	if err != nil {
		return SessionClaims{}, ErrMissingSessionToken
	}
	return verifier.Verify(cookie.Value)
}
