package tracker

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidStatus indicates that a status value is not part of the taxonomy.
	ErrInvalidStatus = errors.New("tracker: invalid status")
	// ErrIllegalTransition indicates that the configured transition policy rejected a status change.
	ErrIllegalTransition = errors.New("tracker: illegal status transition")
	// ErrUnknownTransitionPolicy indicates that a policy name could not be resolved.
	ErrUnknownTransitionPolicy = errors.New("tracker: unknown transition policy")
)

// Status is the position of a tracked application in the application pipeline.
type Status string

const (
	// StatusSaved is assigned when an internship is first tracked.
	StatusSaved Status = "saved"
	// StatusApplied marks an application as submitted.
	StatusApplied Status = "applied"
	// StatusInterview marks an application that reached interviews.
	StatusInterview Status = "interview"
	// StatusOffer marks an application that produced an offer.
	StatusOffer Status = "offer"
	// StatusJoined marks an accepted offer.
	StatusJoined Status = "joined"
	// StatusRejected is the out-of-band terminal state reachable from any other state.
	StatusRejected Status = "rejected"
)

// rankedStatuses lists the ordered pipeline; index is rank.
var rankedStatuses = []Status{StatusSaved, StatusApplied, StatusInterview, StatusOffer, StatusJoined}

const rankOutOfBand = -1

// ParseStatus normalizes raw input into a Status.
func ParseStatus(rawInput string) (Status, error) {
	candidate := Status(strings.ToLower(strings.TrimSpace(rawInput)))
	if !candidate.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, rawInput)
	}
	return candidate, nil
}

// Statuses returns every member of the taxonomy, ranked statuses first.
func Statuses() []Status {
	statuses := make([]Status, 0, len(rankedStatuses)+1)
	statuses = append(statuses, rankedStatuses...)
	return append(statuses, StatusRejected)
}

// Valid reports whether the status is a member of the taxonomy.
func (status Status) Valid() bool {
	return status == StatusRejected || status.Rank() != rankOutOfBand
}

// Rank returns the pipeline position of the status, or -1 for rejected and unknown values.
func (status Status) Rank() int {
	for index, ranked := range rankedStatuses {
		if ranked == status {
			return index
		}
	}
	return rankOutOfBand
}

// IsTerminal reports whether the status ends the pipeline in the client presentation.
func (status Status) IsTerminal() bool {
	return status == StatusJoined || status == StatusRejected
}

// String returns the wire form of the status.
func (status Status) String() string {
	return string(status)
}

// TransitionPolicy decides whether a status change is allowed.
type TransitionPolicy interface {
	Allow(from, to Status) error
}

const (
	// PolicyPermissive accepts any transition between taxonomy members.
	PolicyPermissive = "permissive"
	// PolicyForwardOnly rejects regressions and moves out of terminal states.
	PolicyForwardOnly = "forward_only"
)

// ParseTransitionPolicy resolves a configured policy name.
func ParseTransitionPolicy(name string) (TransitionPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case PolicyPermissive, "":
		return PermissiveTransitions{}, nil
	case PolicyForwardOnly:
		return ForwardOnlyTransitions{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransitionPolicy, name)
	}
}

// PermissiveTransitions accepts regressions and repeated statuses so users can correct mistakes.
type PermissiveTransitions struct{}

// Allow implements TransitionPolicy.
func (PermissiveTransitions) Allow(from, to Status) error {
	if !to.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, to)
	}
	return nil
}

// ForwardOnlyTransitions requires strictly increasing rank, with rejected reachable from any open state.
type ForwardOnlyTransitions struct{}

// Allow implements TransitionPolicy.
func (ForwardOnlyTransitions) Allow(from, to Status) error {
	if !to.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, to)
	}
	if from.IsTerminal() {
		return fmt.Errorf("%w: %s is terminal", ErrIllegalTransition, from)
	}
	if to == StatusRejected {
		return nil
	}
	if to.Rank() <= from.Rank() {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	return nil
}
