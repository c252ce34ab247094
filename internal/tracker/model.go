package tracker

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrInvalidInternship indicates that an internship snapshot lacks required fields.
	ErrInvalidInternship = errors.New("tracker: invalid internship")
	// ErrInvalidDocument indicates that a document reference lacks required fields.
	ErrInvalidDocument = errors.New("tracker: invalid document")
	// ErrInvalidField indicates that an editable text field exceeds its storage bounds.
	ErrInvalidField = errors.New("tracker: invalid field")
)

// SeedTimelineNote is the note on the first timeline entry of every application.
const SeedTimelineNote = "Application saved"

const (
	statusChangeNoteFormat = "Status changed to %s"
	maxTextFieldLength     = 512
	maxNotesLength         = 20000
	maxDeadlineFieldLength = 64
	maxDocumentFieldLength = 2048
)

// InternshipSnapshot is the denormalized listing data captured when an internship is tracked.
type InternshipSnapshot struct {
	ID       InternshipID
	Title    string
	Company  string
	Location string
	ApplyURL string
}

// InternshipSnapshotConfig carries unvalidated listing fields.
type InternshipSnapshotConfig struct {
	ID       string
	Title    string
	Company  string
	Location string
	ApplyURL string
}

// NewInternshipSnapshot validates the listing fields required for tracking.
func NewInternshipSnapshot(cfg InternshipSnapshotConfig) (InternshipSnapshot, error) {
	internshipID, err := NewInternshipID(cfg.ID)
	if err != nil {
		return InternshipSnapshot{}, fmt.Errorf("%w: %v", ErrInvalidInternship, err)
	}
	snapshot := InternshipSnapshot{
		ID:       internshipID,
		Title:    strings.TrimSpace(cfg.Title),
		Company:  strings.TrimSpace(cfg.Company),
		Location: strings.TrimSpace(cfg.Location),
		ApplyURL: strings.TrimSpace(cfg.ApplyURL),
	}
	required := map[string]string{
		"title":    snapshot.Title,
		"company":  snapshot.Company,
		"location": snapshot.Location,
	}
	for _, field := range []string{"title", "company", "location"} {
		value := required[field]
		if value == "" {
			return InternshipSnapshot{}, fmt.Errorf("%w: empty %s", ErrInvalidInternship, field)
		}
		if len(value) > maxTextFieldLength {
			return InternshipSnapshot{}, fmt.Errorf("%w: %s exceeds %d characters", ErrInvalidInternship, field, maxTextFieldLength)
		}
	}
	if len(snapshot.ApplyURL) > maxDocumentFieldLength {
		return InternshipSnapshot{}, fmt.Errorf("%w: apply url exceeds %d characters", ErrInvalidInternship, maxDocumentFieldLength)
	}
	return snapshot, nil
}

// TimelineEntry is an immutable record of one status change.
type TimelineEntry struct {
	Status Status
	Date   time.Time
	Note   string
}

// Document is a reference to a file attached to an application. Only metadata is stored.
type Document struct {
	Name    string
	URL     string
	Kind    string
	AddedAt time.Time
}

// DocumentConfig carries unvalidated document metadata.
type DocumentConfig struct {
	Name string
	URL  string
	Kind string
}

// NewDocument validates document metadata. AddedAt is stamped by the store.
func NewDocument(cfg DocumentConfig) (Document, error) {
	document := Document{
		Name: strings.TrimSpace(cfg.Name),
		URL:  strings.TrimSpace(cfg.URL),
		Kind: strings.TrimSpace(cfg.Kind),
	}
	if document.Name == "" {
		return Document{}, fmt.Errorf("%w: empty name", ErrInvalidDocument)
	}
	for _, value := range []string{document.Name, document.URL, document.Kind} {
		if len(value) > maxDocumentFieldLength {
			return Document{}, fmt.Errorf("%w: field exceeds %d characters", ErrInvalidDocument, maxDocumentFieldLength)
		}
	}
	return document, nil
}

// TrackedApplication is one user's record of interest in one internship.
type TrackedApplication struct {
	ID           ApplicationID
	InternshipID InternshipID
	Title        string
	Company      string
	Location     string
	ApplyURL     string
	Status       Status
	Timeline     []TimelineEntry
	Notes        string
	Deadline     string
	Documents    []Document
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Version      int64
}

func defaultStatusNote(status Status) string {
	return fmt.Sprintf(statusChangeNoteFormat, status)
}
