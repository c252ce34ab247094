package users

import (
	"strings"
	"time"
)

// Identity maps a provider login onto the canonical user id that owns tracker records.
type Identity struct {
	Provider    string    `gorm:"column:provider;primaryKey;size:32;not null"`
	Subject     string    `gorm:"column:subject;primaryKey;size:190;not null"`
	UserID      string    `gorm:"column:user_id;size:190;not null;index"`
	Email       string    `gorm:"column:user_email;size:320"`
	DisplayName string    `gorm:"column:user_display_name;size:320"`
	LastSeenAt  time.Time `gorm:"column:last_seen_at"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing user identities.
func (Identity) TableName() string {
	return "user_identities"
}

// Models lists the persisted identity tables for schema migration.
func Models() []any {
	return []any{&Identity{}}
}

// splitProviderSubject accepts "provider:subject" logins forwarded by TAuth and
// falls back to the session provider for bare subjects.
func splitProviderSubject(defaultProvider, raw string) (string, string) {
	raw = strings.TrimSpace(raw)
	provider, subject, found := strings.Cut(raw, ":")
	if found && strings.TrimSpace(provider) != "" && strings.TrimSpace(subject) != "" {
		return strings.TrimSpace(provider), strings.TrimSpace(subject)
	}
	return strings.TrimSpace(defaultProvider), raw
}
