package pruner

import (
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/doytsujin/optuna/internal/errors"
	"github.com/doytsujin/optuna/internal/study"
)

// SuccessiveHalvingConfig configures a SuccessiveHalvingPruner.
type SuccessiveHalvingConfig struct {
	// MinResource is the number of resource units (steps) a trial runs
	// before the first rung checkpoint. Referred to as r in the ASHA
	// paper. Must be >= 1.
	MinResource int

	// ReductionFactor is the inverse of the fraction of trials promoted
	// at each rung. Referred to as eta in the paper. Must be >= 2.
	ReductionFactor int

	// MinEarlyStoppingRate shifts every rung threshold upward, delaying
	// the first possible pruning point. Referred to as s in the paper.
	// Must be >= 0.
	MinEarlyStoppingRate int

	// Logger receives per-rung decision logs. Optional.
	Logger *zap.Logger
}

// DefaultSuccessiveHalvingConfig returns the standard ASHA parameters:
// MinResource 1, ReductionFactor 4, MinEarlyStoppingRate 0.
func DefaultSuccessiveHalvingConfig() SuccessiveHalvingConfig {
	return SuccessiveHalvingConfig{
		MinResource:     1,
		ReductionFactor: 4,
	}
}

// SuccessiveHalvingPruner implements the Asynchronous Successive Halving
// Algorithm (ASHA, https://arxiv.org/abs/1810.05934). A trial that reaches
// a rung's resource threshold is promoted to the next rung only if its
// value is in the top 1/ReductionFactor fraction of all trials that have
// reached the same rung so far; otherwise it is pruned there.
//
// The pruner keeps no in-memory state between calls. A trial's rung
// progress is reconstructed from completion markers persisted as trial
// system attributes, so decisions survive process restarts and are
// visible to concurrently running workers. Trials are never synchronized
// at a rung boundary: each decision is made against a possibly stale
// snapshot of the trial store, which can over-promote slightly when two
// trials race to the same rung. That is the accepted tradeoff of the
// asynchronous variant.
type SuccessiveHalvingPruner struct {
	minResource          int
	reductionFactor      int
	minEarlyStoppingRate int
	logger               *zap.Logger
}

// NewSuccessiveHalvingPruner validates the configuration and creates the
// pruner. All three parameters are checked eagerly so the decision
// procedure is never reachable with invalid configuration.
func NewSuccessiveHalvingPruner(cfg SuccessiveHalvingConfig) (*SuccessiveHalvingPruner, error) {
	if cfg.MinResource < 1 {
		return nil, errors.Errorf("min_resource is %d, but must be >= 1", cfg.MinResource).
			WithComponent("pruner")
	}
	if cfg.ReductionFactor < 2 {
		return nil, errors.Errorf("reduction_factor is %d, but must be >= 2", cfg.ReductionFactor).
			WithComponent("pruner")
	}
	if cfg.MinEarlyStoppingRate < 0 {
		return nil, errors.Errorf("min_early_stopping_rate is %d, but must be >= 0", cfg.MinEarlyStoppingRate).
			WithComponent("pruner")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &SuccessiveHalvingPruner{
		minResource:          cfg.MinResource,
		reductionFactor:      cfg.ReductionFactor,
		minEarlyStoppingRate: cfg.MinEarlyStoppingRate,
		logger:               logger,
	}, nil
}

// Prune implements the Pruner interface. It is invoked from the trial's
// own execution context after every reported measurement and advances the
// trial through every rung whose threshold its last step has already
// passed, persisting one completion marker per rung, until the trial is
// either pruned or has no further reached rung.
func (p *SuccessiveHalvingPruner) Prune(s *study.Study, trial *study.FrozenTrial) (bool, error) {
	start := time.Now()
	defer func() {
		decisionDuration.Observe(time.Since(start).Seconds())
	}()

	step, ok := trial.LastStep()
	if !ok {
		// Nothing reported yet, nothing to judge.
		return false, nil
	}

	rung := currentRung(trial)
	value := trial.IntermediateValues[step]

	// Fetched lazily: a trial that has not reached its next rung needs no
	// storage read at all.
	var trials []*study.FrozenTrial

	for {
		promotionStep := p.rungThreshold(rung)
		if step < promotionStep {
			return false, nil
		}

		if math.IsNaN(value) {
			// A NaN measurement disqualifies the trial outright. No
			// marker is written, so the competitor pool other trials
			// compare against stays clean.
			p.logger.Debug("pruning trial with NaN value",
				zap.Int("trial_id", trial.ID),
				zap.Int("step", step),
				zap.Int("rung", rung))
			prunesTotal.Inc()
			return true, nil
		}

		if trials == nil {
			var err error
			trials, err = s.Trials()
			if err != nil {
				return false, errors.Wrapf(err, "snapshotting trials of study %q", s.Name()).
					WithComponent("pruner")
			}
		}

		rungKey := completedRungKey(rung)

		if err := s.Storage().SetTrialSystemAttr(trial.ID, rungKey, value); err != nil {
			return false, errors.Wrapf(err, "recording completion of rung %d for trial %d", rung, trial.ID).
				WithComponent("pruner")
		}
		rungCompletionsTotal.Inc()

		if !promotable(value, competingValues(trials, value, rungKey), p.reductionFactor, s.Direction()) {
			p.logger.Debug("pruning trial at rung",
				zap.Int("trial_id", trial.ID),
				zap.Int("rung", rung),
				zap.Float64("value", value))
			prunesTotal.Inc()
			return true, nil
		}

		p.logger.Debug("promoting trial past rung",
			zap.Int("trial_id", trial.ID),
			zap.Int("rung", rung),
			zap.Float64("value", value))
		promotionsTotal.Inc()
		rung++
	}
}

// rungThreshold returns the resource threshold of the given rung:
// MinResource * ReductionFactor^(MinEarlyStoppingRate + rung). Strictly
// increasing in the rung index.
func (p *SuccessiveHalvingPruner) rungThreshold(rung int) int {
	threshold := p.minResource
	for i := 0; i < p.minEarlyStoppingRate+rung; i++ {
		threshold *= p.reductionFactor
	}
	return threshold
}

// currentRung reconstructs the trial's progress from its persisted
// completion markers: the current rung is the smallest one without a
// marker. Completed rungs always form a prefix {0..k-1}, so the scan
// takes O(log step) iterations.
func currentRung(trial *study.FrozenTrial) int {
	rung := 0
	for {
		if _, ok := trial.SystemAttrs[completedRungKey(rung)]; !ok {
			return rung
		}
		rung++
	}
}

// completedRungKey is the system attribute key marking that a trial
// completed the given rung.
func completedRungKey(rung int) string {
	return fmt.Sprintf("completed_rung_%d", rung)
}

// competingValues collects the values recorded by trials that completed
// the same rung, plus the deciding trial's own value. The snapshot was
// taken before this trial's marker was written, so the trial never counts
// itself twice.
func competingValues(trials []*study.FrozenTrial, value float64, rungKey string) []float64 {
	values := make([]float64, 0, len(trials)+1)
	for _, t := range trials {
		if v, ok := t.SystemAttrs[rungKey].(float64); ok {
			values = append(values, v)
		}
	}
	return append(values, value)
}

// promotable reports whether value is within the top 1/reductionFactor
// fraction of the competing values for the given direction. Ties at the
// cutoff promote.
func promotable(value float64, competing []float64, reductionFactor int, direction study.Direction) bool {
	promotableIdx := len(competing)/reductionFactor - 1

	if promotableIdx == -1 {
		// Trials cannot be suspended and resumed to re-enter the
		// competition later, so the first reductionFactor-1 arrivals at a
		// rung are promoted iff currently best among their peers.
		promotableIdx = 0
	}

	sort.Float64s(competing)
	if direction == study.Maximize {
		return value >= competing[len(competing)-1-promotableIdx]
	}
	return value <= competing[promotableIdx]
}
