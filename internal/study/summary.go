package study

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Summary aggregates the objective values of a study's completed trials.
type Summary struct {
	Trials    int      `json:"trials"`
	Running   int      `json:"running"`
	Completed int      `json:"completed"`
	Pruned    int      `json:"pruned"`
	Failed    int      `json:"failed"`
	BestValue *float64 `json:"best_value,omitempty"`
	Mean      *float64 `json:"mean,omitempty"`
	StdDev    *float64 `json:"std_dev,omitempty"`
	Median    *float64 `json:"median,omitempty"`
}

// Summarize computes value statistics over completed trials. Statistics
// are nil when no trial has completed yet; StdDev additionally needs at
// least two completed trials.
func Summarize(trials []*FrozenTrial, direction Direction) Summary {
	summary := Summary{Trials: len(trials)}

	var values []float64
	for _, t := range trials {
		switch t.State {
		case TrialRunning:
			summary.Running++
		case TrialComplete:
			summary.Completed++
			values = append(values, t.Value)
		case TrialPruned:
			summary.Pruned++
		case TrialFailed:
			summary.Failed++
		}
	}

	if len(values) == 0 {
		return summary
	}

	sort.Float64s(values)

	best := values[0]
	if direction == Maximize {
		best = values[len(values)-1]
	}
	summary.BestValue = &best

	mean := stat.Mean(values, nil)
	summary.Mean = &mean

	median := stat.Quantile(0.5, stat.Empirical, values, nil)
	summary.Median = &median

	if len(values) > 1 {
		sd := stat.StdDev(values, nil)
		summary.StdDev = &sd
	}

	return summary
}
