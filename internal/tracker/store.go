package tracker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

const (
	columnStatus                = "status"
	columnNotes                 = "notes"
	columnDeadline              = "deadline"
	columnUpdatedAt             = "updated_at_ms"
	columnVersion               = "version"
	queryUserID                 = "user_id = ?"
	queryUserApplication        = "user_id = ? AND application_id = ?"
	queryUserApplicationVersion = "user_id = ? AND application_id = ? AND version = ?"
	queryUserApplicationIn      = "user_id = ? AND application_id IN ?"
	queryUserInternship         = "user_id = ? AND internship_id = ?"
	orderUpdatedDesc            = "updated_at_ms DESC, application_id ASC"
	orderEntryAsc               = "entry_id ASC"
	orderDocumentAsc            = "document_id ASC"
	maxVersionAttempts          = 3
)

// ApplicationCounter increments the user-level applications counter inside a store transaction.
type ApplicationCounter interface {
	IncrementApplications(transaction *gorm.DB, userID string) error
}

// StoreConfig describes the dependencies of a Store.
type StoreConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Counter    ApplicationCounter
}

// Store persists tracked applications partitioned by user.
//
// Every mutation is a field-level update guarded by the record version, so two
// writers touching different fields of the same record never overwrite each
// other. A version mismatch re-reads the record and retries.
type Store struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	counter    ApplicationCounter

	// beforeVersionGuard runs between the read and the version-guarded update.
	beforeVersionGuard func(transaction *gorm.DB, current ApplicationRecord) error
}

// NewStore validates the configuration and returns a Store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opStoreNew, reasonMissingDatabase, errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opStoreNew, reasonMissingIDProvider, errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Store{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		counter:    cfg.Counter,
	}, nil
}

// Create tracks an internship for the user, seeding the timeline with the initial status.
func (store *Store) Create(ctx context.Context, userID UserID, internship InternshipSnapshot, initialStatus Status) (TrackedApplication, error) {
	if userID == "" {
		return TrackedApplication{}, ErrUnauthenticated
	}
	if store == nil || store.db == nil {
		return TrackedApplication{}, errMissingDatabase
	}
	if initialStatus == "" {
		initialStatus = StatusSaved
	}
	if !initialStatus.Valid() {
		return TrackedApplication{}, fmt.Errorf("%w: %q", ErrInvalidStatus, initialStatus)
	}
	if internship.ID == "" {
		return TrackedApplication{}, fmt.Errorf("%w: empty internship id", ErrInvalidInternship)
	}

	rawID, err := store.idProvider.NewID()
	if err != nil {
		return TrackedApplication{}, storeFailure(err)
	}
	nowMs := toMillis(store.clock())
	record := ApplicationRecord{
		UserID:        userID.String(),
		ApplicationID: rawID,
		InternshipID:  internship.ID.String(),
		Title:         internship.Title,
		Company:       internship.Company,
		Location:      internship.Location,
		ApplyURL:      internship.ApplyURL,
		Status:        initialStatus.String(),
		CreatedAtMs:   nowMs,
		UpdatedAtMs:   nowMs,
		Version:       1,
	}
	seed := TimelineRecord{
		UserID:        userID.String(),
		ApplicationID: rawID,
		Status:        initialStatus.String(),
		Note:          SeedTimelineNote,
		RecordedAtMs:  nowMs,
	}

	err = store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		var existing int64
		if err := transaction.Model(&ApplicationRecord{}).
			Where(queryUserInternship, userID.String(), internship.ID.String()).
			Count(&existing).Error; err != nil {
			return storeFailure(err)
		}
		if existing > 0 {
			return ErrDuplicateTracking
		}
		if err := transaction.Create(&record).Error; err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicateTracking
			}
			return storeFailure(err)
		}
		if err := transaction.Create(&seed).Error; err != nil {
			return storeFailure(err)
		}
		if initialStatus == StatusApplied && store.counter != nil {
			if err := store.counter.IncrementApplications(transaction, userID.String()); err != nil {
				return storeFailure(err)
			}
		}
		return nil
	})
	if err != nil {
		return TrackedApplication{}, err
	}
	return toDomain(record, []TimelineRecord{seed}, nil), nil
}

// Get loads one tracked application.
func (store *Store) Get(ctx context.Context, userID UserID, applicationID ApplicationID) (TrackedApplication, error) {
	if userID == "" {
		return TrackedApplication{}, ErrUnauthenticated
	}
	if store == nil || store.db == nil {
		return TrackedApplication{}, errMissingDatabase
	}
	return store.load(store.db.WithContext(ctx), userID, applicationID)
}

// UpdateStatus sets the status and appends one timeline entry. An empty note is
// replaced by "Status changed to {status}". A transition into applied also
// increments the user's applications counter in the same transaction.
func (store *Store) UpdateStatus(ctx context.Context, userID UserID, applicationID ApplicationID, newStatus Status, note string, policy TransitionPolicy) (TrackedApplication, error) {
	if policy == nil {
		policy = PermissiveTransitions{}
	}
	return store.mutate(ctx, userID, applicationID, func(current ApplicationRecord, now time.Time) (mutation, error) {
		if err := policy.Allow(Status(current.Status), newStatus); err != nil {
			return mutation{}, err
		}
		entryNote := strings.TrimSpace(note)
		if entryNote == "" {
			entryNote = defaultStatusNote(newStatus)
		}
		if len(entryNote) > maxNotesLength {
			return mutation{}, fmt.Errorf("%w: note exceeds %d characters", ErrInvalidField, maxNotesLength)
		}
		return mutation{
			fields: map[string]any{columnStatus: newStatus.String()},
			timeline: &TimelineRecord{
				Status:       newStatus.String(),
				Note:         entryNote,
				RecordedAtMs: toMillis(now),
			},
			countApplication: newStatus == StatusApplied,
		}, nil
	})
}

// UpdateNotes overwrites the notes field.
func (store *Store) UpdateNotes(ctx context.Context, userID UserID, applicationID ApplicationID, notes string) (TrackedApplication, error) {
	if len(notes) > maxNotesLength {
		return TrackedApplication{}, fmt.Errorf("%w: notes exceed %d characters", ErrInvalidField, maxNotesLength)
	}
	return store.mutate(ctx, userID, applicationID, func(ApplicationRecord, time.Time) (mutation, error) {
		return mutation{fields: map[string]any{columnNotes: notes}}, nil
	})
}

// UpdateDeadline overwrites the deadline field. An empty value clears it.
func (store *Store) UpdateDeadline(ctx context.Context, userID UserID, applicationID ApplicationID, deadline string) (TrackedApplication, error) {
	trimmed := strings.TrimSpace(deadline)
	if len(trimmed) > maxDeadlineFieldLength {
		return TrackedApplication{}, fmt.Errorf("%w: deadline exceeds %d characters", ErrInvalidField, maxDeadlineFieldLength)
	}
	return store.mutate(ctx, userID, applicationID, func(ApplicationRecord, time.Time) (mutation, error) {
		return mutation{fields: map[string]any{columnDeadline: trimmed}}, nil
	})
}

// AddDocument appends a document reference.
func (store *Store) AddDocument(ctx context.Context, userID UserID, applicationID ApplicationID, document Document) (TrackedApplication, error) {
	if strings.TrimSpace(document.Name) == "" {
		return TrackedApplication{}, fmt.Errorf("%w: empty name", ErrInvalidDocument)
	}
	return store.mutate(ctx, userID, applicationID, func(_ ApplicationRecord, now time.Time) (mutation, error) {
		return mutation{
			document: &DocumentRecord{
				Name:      document.Name,
				URL:       document.URL,
				Kind:      document.Kind,
				AddedAtMs: toMillis(now),
			},
		}, nil
	})
}

// Remove hard-deletes the application together with its timeline and documents.
func (store *Store) Remove(ctx context.Context, userID UserID, applicationID ApplicationID) error {
	if userID == "" {
		return ErrUnauthenticated
	}
	if store == nil || store.db == nil {
		return errMissingDatabase
	}
	if applicationID == "" {
		return fmt.Errorf("%w: empty", ErrInvalidApplicationID)
	}
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		deleted := transaction.Where(queryUserApplication, userID.String(), applicationID.String()).
			Delete(&ApplicationRecord{})
		if deleted.Error != nil {
			return storeFailure(deleted.Error)
		}
		if deleted.RowsAffected == 0 {
			return ErrRecordNotFound
		}
		if err := transaction.Where(queryUserApplication, userID.String(), applicationID.String()).
			Delete(&TimelineRecord{}).Error; err != nil {
			return storeFailure(err)
		}
		if err := transaction.Where(queryUserApplication, userID.String(), applicationID.String()).
			Delete(&DocumentRecord{}).Error; err != nil {
			return storeFailure(err)
		}
		return nil
	})
}

// List returns every tracked application of the user, most recently updated first.
func (store *Store) List(ctx context.Context, userID UserID) ([]TrackedApplication, error) {
	if userID == "" {
		return nil, ErrUnauthenticated
	}
	if store == nil || store.db == nil {
		return nil, errMissingDatabase
	}
	database := store.db.WithContext(ctx)

	var records []ApplicationRecord
	if err := database.Where(queryUserID, userID.String()).
		Order(orderUpdatedDesc).
		Find(&records).Error; err != nil {
		return nil, storeFailure(err)
	}
	applications := make([]TrackedApplication, 0, len(records))
	if len(records) == 0 {
		return applications, nil
	}

	applicationIDs := make([]string, 0, len(records))
	for _, record := range records {
		applicationIDs = append(applicationIDs, record.ApplicationID)
	}

	var timeline []TimelineRecord
	if err := database.Where(queryUserApplicationIn, userID.String(), applicationIDs).
		Order(orderEntryAsc).
		Find(&timeline).Error; err != nil {
		return nil, storeFailure(err)
	}
	var documents []DocumentRecord
	if err := database.Where(queryUserApplicationIn, userID.String(), applicationIDs).
		Order(orderDocumentAsc).
		Find(&documents).Error; err != nil {
		return nil, storeFailure(err)
	}

	timelineByApplication := make(map[string][]TimelineRecord, len(records))
	for _, entry := range timeline {
		timelineByApplication[entry.ApplicationID] = append(timelineByApplication[entry.ApplicationID], entry)
	}
	documentsByApplication := make(map[string][]DocumentRecord)
	for _, document := range documents {
		documentsByApplication[document.ApplicationID] = append(documentsByApplication[document.ApplicationID], document)
	}
	for _, record := range records {
		applications = append(applications, toDomain(record,
			timelineByApplication[record.ApplicationID],
			documentsByApplication[record.ApplicationID]))
	}
	return applications, nil
}

// IsTracked reports whether the user already tracks the internship.
func (store *Store) IsTracked(ctx context.Context, userID UserID, internshipID InternshipID) (bool, error) {
	if userID == "" {
		return false, ErrUnauthenticated
	}
	if store == nil || store.db == nil {
		return false, errMissingDatabase
	}
	var count int64
	if err := store.db.WithContext(ctx).Model(&ApplicationRecord{}).
		Where(queryUserInternship, userID.String(), internshipID.String()).
		Count(&count).Error; err != nil {
		return false, storeFailure(err)
	}
	return count > 0, nil
}

type mutation struct {
	fields           map[string]any
	timeline         *TimelineRecord
	document         *DocumentRecord
	countApplication bool
}

type mutationBuilder func(current ApplicationRecord, now time.Time) (mutation, error)

func (store *Store) mutate(ctx context.Context, userID UserID, applicationID ApplicationID, build mutationBuilder) (TrackedApplication, error) {
	if userID == "" {
		return TrackedApplication{}, ErrUnauthenticated
	}
	if store == nil || store.db == nil {
		return TrackedApplication{}, errMissingDatabase
	}
	if applicationID == "" {
		return TrackedApplication{}, fmt.Errorf("%w: empty", ErrInvalidApplicationID)
	}

	for attempt := 0; attempt < maxVersionAttempts; attempt++ {
		var updated TrackedApplication
		err := store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
			var current ApplicationRecord
			err := transaction.Where(queryUserApplication, userID.String(), applicationID.String()).
				Take(&current).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrRecordNotFound
			}
			if err != nil {
				return storeFailure(err)
			}

			now := store.clock().UTC()
			change, err := build(current, now)
			if err != nil {
				return err
			}

			updatedAtMs := toMillis(now)
			if updatedAtMs < current.UpdatedAtMs {
				updatedAtMs = current.UpdatedAtMs
			}
			fields := map[string]any{
				columnUpdatedAt: updatedAtMs,
				columnVersion:   current.Version + 1,
			}
			for column, value := range change.fields {
				fields[column] = value
			}
			if store.beforeVersionGuard != nil {
				if err := store.beforeVersionGuard(transaction, current); err != nil {
					return storeFailure(err)
				}
			}
			result := transaction.Model(&ApplicationRecord{}).
				Where(queryUserApplicationVersion, userID.String(), applicationID.String(), current.Version).
				Updates(fields)
			if result.Error != nil {
				return storeFailure(result.Error)
			}
			if result.RowsAffected == 0 {
				return errVersionConflict
			}

			if change.timeline != nil {
				change.timeline.UserID = userID.String()
				change.timeline.ApplicationID = applicationID.String()
				if err := transaction.Create(change.timeline).Error; err != nil {
					return storeFailure(err)
				}
			}
			if change.document != nil {
				change.document.UserID = userID.String()
				change.document.ApplicationID = applicationID.String()
				if err := transaction.Create(change.document).Error; err != nil {
					return storeFailure(err)
				}
			}
			if change.countApplication && store.counter != nil {
				if err := store.counter.IncrementApplications(transaction, userID.String()); err != nil {
					return storeFailure(err)
				}
			}

			loaded, err := store.load(transaction, userID, applicationID)
			if err != nil {
				return err
			}
			updated = loaded
			return nil
		})
		if errors.Is(err, errVersionConflict) {
			continue
		}
		if err != nil {
			return TrackedApplication{}, err
		}
		return updated, nil
	}
	return TrackedApplication{}, ErrConcurrentModification
}

func (store *Store) load(database *gorm.DB, userID UserID, applicationID ApplicationID) (TrackedApplication, error) {
	if applicationID == "" {
		return TrackedApplication{}, fmt.Errorf("%w: empty", ErrInvalidApplicationID)
	}
	var record ApplicationRecord
	err := database.Where(queryUserApplication, userID.String(), applicationID.String()).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return TrackedApplication{}, ErrRecordNotFound
	}
	if err != nil {
		return TrackedApplication{}, storeFailure(err)
	}
	var timeline []TimelineRecord
	if err := database.Where(queryUserApplication, userID.String(), applicationID.String()).
		Order(orderEntryAsc).
		Find(&timeline).Error; err != nil {
		return TrackedApplication{}, storeFailure(err)
	}
	var documents []DocumentRecord
	if err := database.Where(queryUserApplication, userID.String(), applicationID.String()).
		Order(orderDocumentAsc).
		Find(&documents).Error; err != nil {
		return TrackedApplication{}, storeFailure(err)
	}
	return toDomain(record, timeline, documents), nil
}

func storeFailure(err error) error {
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
