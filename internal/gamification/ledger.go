package gamification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrMissingUserID indicates that an award or counter update had no owner.
	ErrMissingUserID = errors.New("gamification: user id required")

	errMissingDatabase = errors.New("gamification: database connection required")
)

const queryUserID = "user_id = ?"

// Profile holds the per-user XP total and application counter.
type Profile struct {
	UserID       string `gorm:"column:user_id;primaryKey;size:190;not null"`
	Experience   int64  `gorm:"column:xp;not null;default:0"`
	Applications int64  `gorm:"column:applications;not null;default:0"`
	UpdatedAtMs  int64  `gorm:"column:updated_at_ms;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Profile) TableName() string {
	return "gamification_profiles"
}

// ExperienceEvent is the audit row written for every award.
type ExperienceEvent struct {
	EventID     string `gorm:"column:event_id;primaryKey;size:64;not null"`
	UserID      string `gorm:"column:user_id;size:190;not null;index:idx_xp_events_user_time,priority:1"`
	Action      string `gorm:"column:action;size:64;not null"`
	Points      int64  `gorm:"column:points;not null"`
	AwardedAtMs int64  `gorm:"column:awarded_at_ms;not null;index:idx_xp_events_user_time,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (ExperienceEvent) TableName() string {
	return "gamification_xp_events"
}

// Models lists the persisted gamification tables for schema migration.
func Models() []any {
	return []any{&Profile{}, &ExperienceEvent{}}
}

// ProfileView is the read model returned to clients.
type ProfileView struct {
	UserID       string
	Experience   int64
	Level        int64
	Applications int64
}

// LedgerConfig describes the dependencies of a Ledger.
type LedgerConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Ledger keeps XP totals and application counters in the local database.
type Ledger struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewLedger constructs a Ledger.
func NewLedger(cfg LedgerConfig) (*Ledger, error) {
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
	return &Ledger{db: cfg.Database, clock: clock, logger: logger}, nil
}

// Award adds the action's points to the user's total and records an event.
func (ledger *Ledger) Award(ctx context.Context, userID string, action Action) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ErrMissingUserID
	}
	points, err := PointsFor(action)
	if err != nil {
		return err
	}
	eventID, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("gamification: event id: %w", err)
	}
	nowMs := ledger.clock().UTC().UnixMilli()

	return ledger.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		if err := ensureProfile(transaction, userID, nowMs); err != nil {
			return err
		}
		if err := transaction.Model(&Profile{}).
			Where(queryUserID, userID).
			Updates(map[string]any{
				"xp":            gorm.Expr("xp + ?", points),
				"updated_at_ms": nowMs,
			}).Error; err != nil {
			return fmt.Errorf("gamification: award xp: %w", err)
		}
		event := ExperienceEvent{
			EventID:     eventID.String(),
			UserID:      userID,
			Action:      string(action),
			Points:      points,
			AwardedAtMs: nowMs,
		}
		if err := transaction.Create(&event).Error; err != nil {
			return fmt.Errorf("gamification: record xp event: %w", err)
		}
		ledger.logger.Debug("xp awarded",
			zap.String("user_id", userID),
			zap.String("action", string(action)),
			zap.Int64("points", points))
		return nil
	})
}

// IncrementApplications atomically bumps the applications counter using the caller's transaction.
func (ledger *Ledger) IncrementApplications(transaction *gorm.DB, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ErrMissingUserID
	}
	nowMs := ledger.clock().UTC().UnixMilli()
	if err := ensureProfile(transaction, userID, nowMs); err != nil {
		return err
	}
	if err := transaction.Model(&Profile{}).
		Where(queryUserID, userID).
		Updates(map[string]any{
			"applications":  gorm.Expr("applications + ?", 1),
			"updated_at_ms": nowMs,
		}).Error; err != nil {
		return fmt.Errorf("gamification: increment applications: %w", err)
	}
	return nil
}

// Profile returns the user's XP summary. Users without activity get a level 1 profile.
func (ledger *Ledger) Profile(ctx context.Context, userID string) (ProfileView, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ProfileView{}, ErrMissingUserID
	}
	var profile Profile
	err := ledger.db.WithContext(ctx).Where(queryUserID, userID).Take(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ProfileView{UserID: userID, Level: LevelFor(0)}, nil
	}
	if err != nil {
		return ProfileView{}, fmt.Errorf("gamification: load profile: %w", err)
	}
	return ProfileView{
		UserID:       userID,
		Experience:   profile.Experience,
		Level:        LevelFor(profile.Experience),
		Applications: profile.Applications,
	}, nil
}

func ensureProfile(transaction *gorm.DB, userID string, nowMs int64) error {
	profile := Profile{UserID: userID, UpdatedAtMs: nowMs}
	if err := transaction.Clauses(clause.OnConflict{DoNothing: true}).Create(&profile).Error; err != nil {
		return fmt.Errorf("gamification: ensure profile: %w", err)
	}
	return nil
}
