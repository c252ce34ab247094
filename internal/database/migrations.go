package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/careertrack/backend/internal/tracker"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationNormalizeTrackerStatuses = "2026-03-01_normalize_tracker_statuses"
	migrationBackfillTimelineSeed     = "2026-03-02_backfill_tracker_timeline_seed"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationNormalizeTrackerStatuses, apply: normalizeTrackerStatuses},
		{name: migrationBackfillTimelineSeed, apply: backfillTimelineSeed},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		err = db.Transaction(func(transaction *gorm.DB) error {
			if err := migration.apply(transaction); err != nil {
				return err
			}
			appliedAt := time.Now().UTC().Unix()
			return transaction.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error
		})
		if err != nil {
			return err
		}
		logger.Info("database migration applied", zap.String("migration", migration.name))
	}
	return nil
}

// normalizeTrackerStatuses lowercases statuses written by clients that sent display labels.
func normalizeTrackerStatuses(db *gorm.DB) error {
	if err := db.Model(&tracker.ApplicationRecord{}).
		Where("status <> lower(trim(status))").
		Update("status", gorm.Expr("lower(trim(status))")).Error; err != nil {
		return err
	}
	return db.Model(&tracker.TimelineRecord{}).
		Where("status <> lower(trim(status))").
		Update("status", gorm.Expr("lower(trim(status))")).Error
}

// backfillTimelineSeed gives every application without history its creation entry.
func backfillTimelineSeed(db *gorm.DB) error {
	return db.Exec(`INSERT INTO tracked_application_timeline (user_id, application_id, status, note, recorded_at_ms)
SELECT a.user_id, a.application_id, a.status, ?, a.created_at_ms
FROM tracked_applications a
WHERE NOT EXISTS (
	SELECT 1 FROM tracked_application_timeline t
	WHERE t.user_id = a.user_id AND t.application_id = a.application_id
)`, tracker.SeedTimelineNote).Error
}
