package gamification

//go:generate mockgen -source=action.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnknownAction indicates that an action token has no XP value.
var ErrUnknownAction = errors.New("gamification: unknown action")

// Action is a token naming a user action that earns experience points.
type Action string

const (
	// ActionApplyInternship is awarded each time an application moves into applied.
	ActionApplyInternship Action = "APPLY_INTERNSHIP"
)

const pointsPerLevel = 100

var actionPoints = map[Action]int64{
	ActionApplyInternship: 50,
}

// PointsFor returns the XP value of an action.
func PointsFor(action Action) (int64, error) {
	points, ok := actionPoints[action]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	return points, nil
}

// LevelFor derives the level shown to users from accumulated XP.
func LevelFor(experience int64) int64 {
	if experience < 0 {
		return 1
	}
	return experience/pointsPerLevel + 1
}

// Awarder grants experience for an action. Callers treat awards as best effort.
type Awarder interface {
	Award(ctx context.Context, userID string, action Action) error
}
