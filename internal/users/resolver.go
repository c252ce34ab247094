package users

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/careertrack/backend/internal/auth"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrInvalidIdentity indicates the session did not carry a usable subject.
	ErrInvalidIdentity = errors.New("users: invalid identity")

	errMissingDatabase = errors.New("users: database connection required")
)

const queryProviderSubject = "provider = ? AND subject = ?"

// ResolverConfig describes the dependencies required for identity resolution.
type ResolverConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Resolver turns verified session identities into canonical user ids.
type Resolver struct {
	db     *gorm.DB
	now    func() time.Time
	logger *zap.Logger
	cache  sync.Map
}

// NewResolver constructs a Resolver.
func NewResolver(cfg ResolverConfig) (*Resolver, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{db: cfg.Database, now: clock, logger: logger}, nil
}

// Resolve returns the canonical user id for the identity, creating a mapping
// the first time a provider+subject pair is seen.
func (resolver *Resolver) Resolve(ctx context.Context, identity auth.SessionIdentity) (string, error) {
	provider, subject := splitProviderSubject(identity.Provider, identity.Subject)
	if provider == "" || subject == "" {
		return "", ErrInvalidIdentity
	}
	cacheKey := provider + ":" + subject
	if cached, ok := resolver.cache.Load(cacheKey); ok {
		if userID, ok := cached.(string); ok {
			return userID, nil
		}
	}

	database := resolver.db.WithContext(ctx)
	var stored Identity
	err := database.Where(queryProviderSubject, provider, subject).Take(&stored).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		canonicalID, idErr := uuid.NewV7()
		if idErr != nil {
			return "", fmt.Errorf("users: canonical id: %w", idErr)
		}
		stored = Identity{
			Provider:    provider,
			Subject:     subject,
			UserID:      canonicalID.String(),
			Email:       identity.Email,
			DisplayName: identity.DisplayName,
			LastSeenAt:  resolver.now().UTC(),
		}
		if err := database.Create(&stored).Error; err != nil {
			if !errors.Is(err, gorm.ErrDuplicatedKey) {
				return "", fmt.Errorf("users: create identity: %w", err)
			}
			// lost a race with a concurrent first login
			if err := database.Where(queryProviderSubject, provider, subject).Take(&stored).Error; err != nil {
				return "", fmt.Errorf("users: load identity: %w", err)
			}
		}
	case err != nil:
		return "", fmt.Errorf("users: load identity: %w", err)
	default:
		resolver.refresh(database, stored, identity)
	}

	resolver.cache.Store(cacheKey, stored.UserID)
	return stored.UserID, nil
}

func (resolver *Resolver) refresh(database *gorm.DB, stored Identity, identity auth.SessionIdentity) {
	updates := map[string]any{"last_seen_at": resolver.now().UTC()}
	if identity.Email != "" && identity.Email != stored.Email {
		updates["user_email"] = identity.Email
	}
	if identity.DisplayName != "" && identity.DisplayName != stored.DisplayName {
		updates["user_display_name"] = identity.DisplayName
	}
	err := database.Model(&Identity{}).
		Where(queryProviderSubject, stored.Provider, stored.Subject).
		Updates(updates).Error
	if err != nil {
		resolver.logger.Warn("identity refresh failed",
			zap.String("provider", stored.Provider),
			zap.String("subject", stored.Subject),
			zap.Error(err))
	}
}
