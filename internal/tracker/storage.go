package tracker

import "time"

// ApplicationRecord stores the mutable head of a tracked application.
type ApplicationRecord struct {
	UserID        string `gorm:"column:user_id;primaryKey;size:190;not null;uniqueIndex:idx_tracked_user_internship,priority:1;index:idx_tracked_user_updated,priority:1"`
	ApplicationID string `gorm:"column:application_id;primaryKey;size:190;not null"`
	InternshipID  string `gorm:"column:internship_id;size:190;not null;uniqueIndex:idx_tracked_user_internship,priority:2"`
	Title         string `gorm:"column:title;size:512;not null"`
	Company       string `gorm:"column:company;size:512;not null"`
	Location      string `gorm:"column:location;size:512;not null"`
	ApplyURL      string `gorm:"column:apply_url;size:2048;not null;default:''"`
	Status        string `gorm:"column:status;size:32;not null"`
	Notes         string `gorm:"column:notes;type:text;not null;default:''"`
	Deadline      string `gorm:"column:deadline;size:64;not null;default:''"`
	CreatedAtMs   int64  `gorm:"column:created_at_ms;not null"`
	UpdatedAtMs   int64  `gorm:"column:updated_at_ms;not null;index:idx_tracked_user_updated,priority:2"`
	Version       int64  `gorm:"column:version;not null;default:1"`
}

// TableName provides the explicit table binding for GORM.
func (ApplicationRecord) TableName() string {
	return "tracked_applications"
}

// TimelineRecord stores one append-only timeline entry. EntryID preserves append order.
type TimelineRecord struct {
	EntryID       int64  `gorm:"column:entry_id;primaryKey;autoIncrement"`
	UserID        string `gorm:"column:user_id;size:190;not null;index:idx_timeline_user_application,priority:1"`
	ApplicationID string `gorm:"column:application_id;size:190;not null;index:idx_timeline_user_application,priority:2"`
	Status        string `gorm:"column:status;size:32;not null"`
	Note          string `gorm:"column:note;type:text;not null;default:''"`
	RecordedAtMs  int64  `gorm:"column:recorded_at_ms;not null"`
}

// TableName provides the explicit table binding for GORM.
func (TimelineRecord) TableName() string {
	return "tracked_application_timeline"
}

// DocumentRecord stores one attached document reference.
type DocumentRecord struct {
	DocumentID    int64  `gorm:"column:document_id;primaryKey;autoIncrement"`
	UserID        string `gorm:"column:user_id;size:190;not null;index:idx_documents_user_application,priority:1"`
	ApplicationID string `gorm:"column:application_id;size:190;not null;index:idx_documents_user_application,priority:2"`
	Name          string `gorm:"column:name;size:2048;not null"`
	URL           string `gorm:"column:url;size:2048;not null;default:''"`
	Kind          string `gorm:"column:kind;size:2048;not null;default:''"`
	AddedAtMs     int64  `gorm:"column:added_at_ms;not null"`
}

// TableName provides the explicit table binding for GORM.
func (DocumentRecord) TableName() string {
	return "tracked_application_documents"
}

// Models lists the persisted tracker tables for schema migration.
func Models() []any {
	return []any{&ApplicationRecord{}, &TimelineRecord{}, &DocumentRecord{}}
}

func toMillis(moment time.Time) int64 {
	return moment.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func toDomain(record ApplicationRecord, timeline []TimelineRecord, documents []DocumentRecord) TrackedApplication {
	application := TrackedApplication{
		ID:           ApplicationID(record.ApplicationID),
		InternshipID: InternshipID(record.InternshipID),
		Title:        record.Title,
		Company:      record.Company,
		Location:     record.Location,
		ApplyURL:     record.ApplyURL,
		Status:       Status(record.Status),
		Notes:        record.Notes,
		Deadline:     record.Deadline,
		CreatedAt:    fromMillis(record.CreatedAtMs),
		UpdatedAt:    fromMillis(record.UpdatedAtMs),
		Version:      record.Version,
		Timeline:     make([]TimelineEntry, 0, len(timeline)),
		Documents:    make([]Document, 0, len(documents)),
	}
	for _, entry := range timeline {
		application.Timeline = append(application.Timeline, TimelineEntry{
			Status: Status(entry.Status),
			Date:   fromMillis(entry.RecordedAtMs),
			Note:   entry.Note,
		})
	}
	for _, document := range documents {
		application.Documents = append(application.Documents, Document{
			Name:    document.Name,
			URL:     document.URL,
			Kind:    document.Kind,
			AddedAt: fromMillis(document.AddedAtMs),
		})
	}
	return application
}
