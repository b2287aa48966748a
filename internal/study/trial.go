package study

// TrialState describes the lifecycle state of a trial.
type TrialState string

const (
	// TrialRunning means the trial is still evaluating its objective.
	TrialRunning TrialState = "running"
	// TrialComplete means the trial finished its full budget.
	TrialComplete TrialState = "complete"
	// TrialPruned means the trial was stopped early by a pruner.
	TrialPruned TrialState = "pruned"
	// TrialFailed means the trial's objective raised an error.
	TrialFailed TrialState = "failed"
)

// IsFinished reports whether the state is terminal.
func (s TrialState) IsFinished() bool {
	return s == TrialComplete || s == TrialPruned || s == TrialFailed
}

// FrozenTrial is a point-in-time snapshot of a single trial as read from
// storage. Mutating a FrozenTrial has no effect on persisted state; all
// writes go through the Storage interface.
type FrozenTrial struct {
	// ID identifies the trial within its storage.
	ID int

	// StudyName is the study the trial belongs to.
	StudyName string

	// State is the lifecycle state at snapshot time.
	State TrialState

	// Value is the final objective value. Only meaningful once State is
	// TrialComplete.
	Value float64

	// IntermediateValues maps a step number to the objective value the
	// trial reported at that step. The history is append-only.
	IntermediateValues map[int]float64

	// SystemAttrs holds framework-owned key/value attributes. Pruners
	// record rung completion markers here.
	SystemAttrs map[string]any
}

// LastStep returns the largest step with a reported intermediate value.
// The second return is false when the trial has not reported anything yet.
func (t *FrozenTrial) LastStep() (int, bool) {
	if len(t.IntermediateValues) == 0 {
		return 0, false
	}
	last := -1
	for step := range t.IntermediateValues {
		if step > last {
			last = step
		}
	}
	return last, true
}

// clone returns a deep copy so that storage snapshots are isolated from
// later writes.
func (t *FrozenTrial) clone() *FrozenTrial {
	c := *t
	c.IntermediateValues = make(map[int]float64, len(t.IntermediateValues))
	for k, v := range t.IntermediateValues {
		c.IntermediateValues[k] = v
	}
	c.SystemAttrs = make(map[string]any, len(t.SystemAttrs))
	for k, v := range t.SystemAttrs {
		c.SystemAttrs[k] = v
	}
	return &c
}
