package study

import (
	"sync"

	"github.com/doytsujin/optuna/internal/errors"
)

// Storage persists trials and their attributes. Implementations must
// attribute every write to exactly the named trial and must tolerate
// concurrent calls from independently running trials.
type Storage interface {
	// CreateTrial registers a new running trial under the study and
	// returns its ID.
	CreateTrial(studyName string) (int, error)

	// ReportIntermediateValue appends an objective value observed at the
	// given step to the trial's history.
	ReportIntermediateValue(trialID, step int, value float64) error

	// SetTrialSystemAttr durably records a framework-owned key/value
	// attribute on the trial.
	SetTrialSystemAttr(trialID int, key string, value any) error

	// SetTrialFinalValue records the trial's final objective value.
	SetTrialFinalValue(trialID int, value float64) error

	// SetTrialState moves the trial to the given lifecycle state.
	SetTrialState(trialID int, state TrialState) error

	// GetTrial returns a snapshot of a single trial.
	GetTrial(trialID int) (*FrozenTrial, error)

	// GetAllTrials returns a snapshot of every trial in the study. The
	// snapshot may be stale relative to concurrent writers.
	GetAllTrials(studyName string) ([]*FrozenTrial, error)
}

// ErrTrialNotFound is returned for operations on an unknown trial ID.
var ErrTrialNotFound = errors.New("trial not found")

// InMemoryStorage is a process-local Storage backed by maps. Reads return
// cloned trials, so a snapshot never observes a write that happens after
// it was taken.
type InMemoryStorage struct {
	mu     sync.RWMutex
	nextID int
	trials map[int]*FrozenTrial
	// byStudy keeps trial IDs in creation order per study.
	byStudy map[string][]int
}

// NewInMemoryStorage creates an empty in-memory trial store.
func NewInMemoryStorage() *InMemoryStorage {
	return &InMemoryStorage{
		trials:  make(map[int]*FrozenTrial),
		byStudy: make(map[string][]int),
	}
}

func (s *InMemoryStorage) CreateTrial(studyName string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++

	s.trials[id] = &FrozenTrial{
		ID:                 id,
		StudyName:          studyName,
		State:              TrialRunning,
		IntermediateValues: make(map[int]float64),
		SystemAttrs:        make(map[string]any),
	}
	s.byStudy[studyName] = append(s.byStudy[studyName], id)
	return id, nil
}

func (s *InMemoryStorage) ReportIntermediateValue(trialID, step int, value float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.trials[trialID]
	if !ok {
		return errors.Wrapf(ErrTrialNotFound, "report intermediate value for trial %d", trialID)
	}
	t.IntermediateValues[step] = value
	return nil
}

func (s *InMemoryStorage) SetTrialSystemAttr(trialID int, key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.trials[trialID]
	if !ok {
		return errors.Wrapf(ErrTrialNotFound, "set system attr %q on trial %d", key, trialID)
	}
	t.SystemAttrs[key] = value
	return nil
}

func (s *InMemoryStorage) SetTrialFinalValue(trialID int, value float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.trials[trialID]
	if !ok {
		return errors.Wrapf(ErrTrialNotFound, "set final value on trial %d", trialID)
	}
	t.Value = value
	return nil
}

func (s *InMemoryStorage) SetTrialState(trialID int, state TrialState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.trials[trialID]
	if !ok {
		return errors.Wrapf(ErrTrialNotFound, "set state %q on trial %d", state, trialID)
	}
	t.State = state
	return nil
}

func (s *InMemoryStorage) GetTrial(trialID int) (*FrozenTrial, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.trials[trialID]
	if !ok {
		return nil, errors.Wrapf(ErrTrialNotFound, "get trial %d", trialID)
	}
	return t.clone(), nil
}

func (s *InMemoryStorage) GetAllTrials(studyName string) ([]*FrozenTrial, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byStudy[studyName]
	snapshot := make([]*FrozenTrial, 0, len(ids))
	for _, id := range ids {
		snapshot = append(snapshot, s.trials[id].clone())
	}
	return snapshot, nil
}
