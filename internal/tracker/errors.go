package tracker

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthenticated indicates that an operation was attempted without an owning identity.
	ErrUnauthenticated = errors.New("tracker: unauthenticated")
	// ErrDuplicateTracking indicates that the user already tracks the internship.
	ErrDuplicateTracking = errors.New("tracker: internship already tracked")
	// ErrRecordNotFound indicates that the targeted application does not exist for the user.
	ErrRecordNotFound = errors.New("tracker: record not found")
	// ErrStoreUnavailable wraps transport or driver failures from the backing store.
	ErrStoreUnavailable = errors.New("tracker: store unavailable")
	// ErrConcurrentModification indicates that the record kept changing underneath a mutation.
	ErrConcurrentModification = errors.New("tracker: concurrent modification")

	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingStore      = errors.New("tracker store is required")
	errVersionConflict   = errors.New("version conflict")
)

// ServiceError carries a dotted operation code alongside the underlying cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the operation.reason code, e.g. tracker.change_status.record_not_found.
func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew      = "tracker.service.new"
	opStoreNew        = "tracker.store.new"
	opTrack           = "tracker.track"
	opGet             = "tracker.get"
	opChangeStatus    = "tracker.change_status"
	opUpdateNotes     = "tracker.update_notes"
	opUpdateDeadline  = "tracker.update_deadline"
	opAddDocument     = "tracker.add_document"
	opRemove          = "tracker.remove"
	opList            = "tracker.list"
	opIsTracked       = "tracker.is_tracked"
	opSubscribe       = "tracker.subscribe"
	opAwardExperience = "tracker.award_experience"
	opPublishSnapshot = "tracker.publish_snapshot"
)

const (
	reasonMissingDatabase        = "missing_database"
	reasonMissingIDProvider      = "missing_id_provider"
	reasonMissingStore           = "missing_store"
	reasonUnauthenticated        = "unauthenticated"
	reasonDuplicateTracking      = "duplicate_tracking"
	reasonRecordNotFound         = "record_not_found"
	reasonIllegalTransition      = "illegal_transition"
	reasonInvalidInput           = "invalid_input"
	reasonConcurrentModification = "concurrent_modification"
	reasonStoreUnavailable       = "store_unavailable"
	reasonAwardFailed            = "award_failed"
	reasonSnapshotLoadFailed     = "snapshot_load_failed"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// classify maps a store error to its reason code.
func classify(err error) string {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return reasonUnauthenticated
	case errors.Is(err, ErrDuplicateTracking):
		return reasonDuplicateTracking
	case errors.Is(err, ErrRecordNotFound):
		return reasonRecordNotFound
	case errors.Is(err, ErrIllegalTransition):
		return reasonIllegalTransition
	case errors.Is(err, ErrConcurrentModification):
		return reasonConcurrentModification
	case errors.Is(err, ErrInvalidStatus),
		errors.Is(err, ErrInvalidInternship),
		errors.Is(err, ErrInvalidDocument),
		errors.Is(err, ErrInvalidField),
		errors.Is(err, ErrInvalidApplicationID),
		errors.Is(err, ErrInvalidInternshipID),
		errors.Is(err, ErrInvalidUserID):
		return reasonInvalidInput
	case errors.Is(err, errMissingDatabase):
		return reasonMissingDatabase
	default:
		return reasonStoreUnavailable
	}
}
