package experiment

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/cwbudde/gravbench/internal/store"
)

// AttemptResult is the in-memory outcome of one attempt. It is kept even
// when the attempt's artifacts could not be written.
type AttemptResult struct {
	Key          store.AttemptKey `json:"key"`
	Seed         int64            `json:"seed"`
	FinalBest    store.Float      `json:"final_best"`
	Evaluations  int              `json:"evaluations"`
	Duration     time.Duration    `json:"duration"`
	ExportErrors int              `json:"export_errors"`

	// Err is set when the attempt did not run to completion.
	Err error `json:"-"`
	// Skipped marks attempts that never started because of cancellation.
	Skipped bool `json:"skipped,omitempty"`
}

// Report aggregates an experiment. Results are ordered by task, not by
// completion: problem, then cell, then attempt index.
type Report struct {
	ExperimentID string          `json:"experiment_id"`
	Optimizer    string          `json:"optimizer"`
	Results      []AttemptResult `json:"results"`
	Completed    int             `json:"completed"`
	Cancelled    int             `json:"cancelled"`
	ExportErrors int             `json:"export_errors"`
	Duration     time.Duration   `json:"duration"`
}

func (r *Report) tally() {
	r.Completed, r.Cancelled, r.ExportErrors = 0, 0, 0
	for _, res := range r.Results {
		if res.Err != nil {
			r.Cancelled++
		} else {
			r.Completed++
		}
		r.ExportErrors += res.ExportErrors
	}
}

// CellStats summarizes the final best fitness of the completed attempts of
// one problem and grid cell.
type CellStats struct {
	Problem  string      `json:"problem"`
	Cell     string      `json:"cell,omitempty"`
	Attempts int         `json:"attempts"`
	Best     store.Float `json:"best"`
	Median   store.Float `json:"median"`
	Mean     store.Float `json:"mean"`
	StdDev   store.Float `json:"std_dev"`
}

// Cells groups completed attempts by problem and cell, sorted by problem
// and then cell name. Non-finite results are left out of the statistics.
func (r *Report) Cells() []CellStats {
	type group struct{ problem, cell string }
	values := make(map[group][]float64)
	var order []group
	for _, res := range r.Results {
		if res.Err != nil {
			continue
		}
		g := group{res.Key.Problem, res.Key.Cell}
		if _, ok := values[g]; !ok {
			order = append(order, g)
			values[g] = nil
		}
		if f := float64(res.FinalBest); !math.IsNaN(f) && !math.IsInf(f, 0) {
			values[g] = append(values[g], f)
		}
	}
	sort.Slice(order, func(i, j int) bool {
		if order[i].problem != order[j].problem {
			return order[i].problem < order[j].problem
		}
		return order[i].cell < order[j].cell
	})

	stats := make([]CellStats, 0, len(order))
	for _, g := range order {
		xs := values[g]
		cs := CellStats{Problem: g.problem, Cell: g.cell, Attempts: len(xs)}
		if len(xs) == 0 {
			nan := store.Float(math.NaN())
			cs.Best, cs.Median, cs.Mean, cs.StdDev = nan, nan, nan, nan
			stats = append(stats, cs)
			continue
		}
		sort.Float64s(xs)
		cs.Best = store.Float(floats.Min(xs))
		cs.Median = store.Float(stat.Quantile(0.5, stat.Empirical, xs, nil))
		cs.Mean = store.Float(stat.Mean(xs, nil))
		if len(xs) > 1 {
			cs.StdDev = store.Float(stat.StdDev(xs, nil))
		}
		stats = append(stats, cs)
	}
	return stats
}
