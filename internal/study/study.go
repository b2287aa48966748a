// Package study holds the trial data model shared by the pruner and the
// HTTP service: studies, frozen trial snapshots, and the trial storage
// they are persisted in.
package study

import "github.com/doytsujin/optuna/internal/errors"

// Direction states whether lower or higher objective values are better.
type Direction string

const (
	// Minimize means lower objective values are better.
	Minimize Direction = "minimize"
	// Maximize means higher objective values are better.
	Maximize Direction = "maximize"
)

// ParseDirection validates a direction string from an external caller.
func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case Minimize, Maximize:
		return Direction(s), nil
	case "":
		return Minimize, nil
	}
	return "", errors.Errorf("unknown direction %q, must be %q or %q", s, Minimize, Maximize)
}

// Study groups trials that optimize the same objective in the same
// direction. The study does not own trial state; it is a handle over its
// storage.
type Study struct {
	name      string
	direction Direction
	storage   Storage
}

// New creates a study over the given storage.
func New(name string, direction Direction, storage Storage) *Study {
	return &Study{
		name:      name,
		direction: direction,
		storage:   storage,
	}
}

// Name returns the study name.
func (s *Study) Name() string { return s.name }

// Direction returns the optimization direction.
func (s *Study) Direction() Direction { return s.direction }

// Storage returns the trial store backing this study.
func (s *Study) Storage() Storage { return s.storage }

// CreateTrial registers a new running trial in the study.
func (s *Study) CreateTrial() (int, error) {
	return s.storage.CreateTrial(s.name)
}

// Trials returns a snapshot of all trials currently visible in storage.
// The snapshot may be stale relative to concurrently running trials;
// decisions made against it tolerate that staleness.
func (s *Study) Trials() ([]*FrozenTrial, error) {
	return s.storage.GetAllTrials(s.name)
}
