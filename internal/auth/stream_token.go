package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultStreamTokenTTL   = 5 * time.Minute
	streamTokenIssuer       = "careertrack-api"
	streamTokenAudience     = "careertrack-stream"
	streamTokenScopeTracker = "tracker.stream"
)

var (
	ErrMissingStreamSigningSecret = errors.New("stream token: signing secret required")
	ErrMissingStreamSubject       = errors.New("stream token: subject required")
	ErrInvalidStreamToken         = errors.New("stream token: invalid token")
)

type streamClaims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// StreamTokenConfig configures short-lived tokens for the snapshot stream.
type StreamTokenConfig struct {
	SigningSecret []byte
	TokenTTL      time.Duration
	Clock         func() time.Time
}

// StreamTokenIssuer mints and checks tokens that let EventSource clients,
// which cannot always send cookies, open the tracker stream.
type StreamTokenIssuer struct {
	signingSecret []byte
	ttl           time.Duration
	clock         func() time.Time
}

// NewStreamTokenIssuer constructs an issuer.
func NewStreamTokenIssuer(cfg StreamTokenConfig) (*StreamTokenIssuer, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, ErrMissingStreamSigningSecret
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultStreamTokenTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &StreamTokenIssuer{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		ttl:           ttl,
		clock:         clock,
	}, nil
}

// Issue signs a stream token for the canonical user id and returns its lifetime in seconds.
func (issuer *StreamTokenIssuer) Issue(userID string) (string, int64, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", 0, ErrMissingStreamSubject
	}
	now := issuer.clock().UTC()
	expiresAt := now.Add(issuer.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, streamClaims{
		Scope: streamTokenScopeTracker,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    streamTokenIssuer,
			Audience:  []string{streamTokenAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, err := token.SignedString(issuer.signingSecret)
	if err != nil {
		return "", 0, err
	}
	return signed, int64(issuer.ttl.Seconds()), nil
}

// Validate checks a stream token and returns the user id it was issued for.
func (issuer *StreamTokenIssuer) Validate(tokenString string) (string, error) {
	token := strings.TrimSpace(tokenString)
	if token == "" {
		return "", ErrInvalidStreamToken
	}
	claims := &streamClaims{}
	_, err := jwt.ParseWithClaims(
		token,
		claims,
		func(*jwt.Token) (interface{}, error) {
			return issuer.signingSecret, nil
		},
		jwt.WithAudience(streamTokenAudience),
		jwt.WithIssuer(streamTokenIssuer),
		jwt.WithTimeFunc(issuer.clock),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidStreamToken, err)
	}
	if claims.Scope != streamTokenScopeTracker {
		return "", fmt.Errorf("%w: unexpected scope %q", ErrInvalidStreamToken, claims.Scope)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", ErrMissingStreamSubject
	}
	return claims.Subject, nil
}
