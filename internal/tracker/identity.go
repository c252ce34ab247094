package tracker

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidUserID indicates that a user identifier is empty or exceeds storage bounds.
	ErrInvalidUserID = errors.New("tracker: invalid user id")
	// ErrInvalidApplicationID indicates that a tracked application identifier is empty or exceeds storage bounds.
	ErrInvalidApplicationID = errors.New("tracker: invalid application id")
	// ErrInvalidInternshipID indicates that an internship identifier is empty or exceeds storage bounds.
	ErrInvalidInternshipID = errors.New("tracker: invalid internship id")
)

// UserID identifies the owner of a tracked application collection.
type UserID string

// NewUserID validates raw input and returns a UserID.
func NewUserID(rawInput string) (UserID, error) {
	trimmed, err := validateIdentifier(rawInput, ErrInvalidUserID)
	if err != nil {
		return "", err
	}
	return UserID(trimmed), nil
}

// String returns the underlying string identifier.
func (id UserID) String() string {
	return string(id)
}

// ApplicationID identifies a tracked application within a user's collection.
type ApplicationID string

// NewApplicationID validates raw input and returns an ApplicationID.
func NewApplicationID(rawInput string) (ApplicationID, error) {
	trimmed, err := validateIdentifier(rawInput, ErrInvalidApplicationID)
	if err != nil {
		return "", err
	}
	return ApplicationID(trimmed), nil
}

// String returns the underlying string identifier.
func (id ApplicationID) String() string {
	return string(id)
}

// InternshipID references the internship listing a record was created from.
type InternshipID string

// NewInternshipID validates raw input and returns an InternshipID.
func NewInternshipID(rawInput string) (InternshipID, error) {
	trimmed, err := validateIdentifier(rawInput, ErrInvalidInternshipID)
	if err != nil {
		return "", err
	}
	return InternshipID(trimmed), nil
}

// String returns the underlying string identifier.
func (id InternshipID) String() string {
	return string(id)
}

func validateIdentifier(rawInput string, sentinel error) (string, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", sentinel)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", sentinel, maxIdentifierLength)
	}
	return trimmed, nil
}

// IDProvider issues identifiers for newly tracked applications.
type IDProvider interface {
	NewID() (string, error)
}

type uuidProvider struct{}

// NewUUIDProvider constructs an IDProvider that issues UUIDv7 identifiers.
func NewUUIDProvider() IDProvider {
	return &uuidProvider{}
}

func (p *uuidProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}
