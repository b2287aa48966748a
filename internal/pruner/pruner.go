// Package pruner decides whether an in-progress trial should be stopped
// early based on its intermediate objective values.
package pruner

import "github.com/doytsujin/optuna/internal/study"

// Pruner decides whether a trial should be stopped early.
type Pruner interface {
	// Prune reports whether the trial should be stopped now, judged
	// against the other trials currently visible in the study. Pruning is
	// advisory: stopping the trial's execution is the caller's
	// responsibility. Storage failures are propagated unchanged.
	Prune(s *study.Study, trial *study.FrozenTrial) (bool, error)
}
