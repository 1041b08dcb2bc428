package opt

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/cwbudde/mayfly"

	"github.com/cwbudde/gravbench/internal/params"
	"github.com/cwbudde/gravbench/internal/problem"
	"github.com/cwbudde/gravbench/internal/store"
)

// minMayflyPopulation is the smallest population mayfly v0.1.0 accepts.
const minMayflyPopulation = 20

// memoFlushSize bounds the memo while mayfly runs; it never revisits points
// within an iteration the way the particle variants do.
const memoFlushSize = 4096

// Mayfly wraps the external Mayfly library as a baseline. The library
// runs to completion on its own, so history is rebuilt from a per-evaluation
// trace: iteration t reports the best and worst fitness seen in the t-th
// equal share of all evaluations.
type Mayfly struct {
	name    string
	prob    *problem.Problem
	rng     *rand.Rand
	popSize int
	opts    options

	gbest    []float64
	gbestFit float64
	history  []Record
}

// NewMayfly builds the adapter. Required: particle_count (Int, at least 20).
func NewMayfly(name string, prob *problem.Problem, p params.Params, rng *rand.Rand, opts ...Option) (*Mayfly, error) {
	count, err := p.PositiveInt("particle_count", minMayflyPopulation)
	if err != nil {
		return nil, err
	}
	m := &Mayfly{name: name, prob: prob, rng: rng, opts: buildOptions(opts)}
	m.Init(count)
	return m, nil
}

func (m *Mayfly) Name() string { return m.name }

func (m *Mayfly) Problem() *problem.Problem { return m.prob }

// Init records the population size and evaluates one random point so the
// global best is set before Run.
func (m *Mayfly) Init(n int) {
	m.popSize = n
	m.history = nil

	lo, hi := m.prob.Domain()
	x := make([]float64, m.prob.Dim())
	for i := range x {
		x[i] = lo + m.rng.Float64()*(hi-lo)
	}
	m.gbest = x
	m.gbestFit = m.prob.F(x)
}

func (m *Mayfly) Run(ctx context.Context, iterations int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if iterations <= 0 {
		return nil
	}

	startBest := m.gbestFit
	var trace []float64
	objective := func(x []float64) float64 {
		if m.prob.MemoSize() >= memoFlushSize {
			m.prob.ClearMemo()
		}
		f := m.prob.F(x)
		trace = append(trace, f)
		if f < m.gbestFit {
			m.gbest = append(m.gbest[:0:0], x...)
			m.gbestFit = f
		}
		return f
	}

	lo, hi := m.prob.Domain()
	config := mayfly.NewDefaultConfig()
	config.ObjectiveFunc = objective
	config.ProblemSize = m.prob.Dim()
	config.MaxIterations = iterations
	config.NPop = m.popSize
	config.LowerBound = lo
	config.UpperBound = hi
	config.Rand = m.rng

	if _, err := mayfly.Optimize(config); err != nil {
		return fmt.Errorf("mayfly optimization failed: %w", err)
	}
	m.prob.ClearMemo()

	m.appendHistory(trace, iterations, startBest)
	return ctx.Err()
}

// appendHistory resamples a per-evaluation trace to one record per
// iteration. startBest is the best fitness known before the trace began.
func (m *Mayfly) appendHistory(trace []float64, iterations int, startBest float64) {
	best := startBest
	start := 0
	for t := 0; t < iterations; t++ {
		end := (t + 1) * len(trace) / iterations
		worst := math.NaN()
		for _, f := range trace[start:end] {
			if f < best {
				best = f
			}
			if math.IsNaN(worst) || f > worst {
				worst = f
			}
		}
		start = end

		rec := Record{Best: best, Worst: worst}
		m.history = append(m.history, rec)
		if m.opts.observer != nil {
			m.opts.observer(len(m.history)-1, rec, m.prob.Evaluations())
		}
	}
}

func (m *Mayfly) GlobalBestPosition() []float64 { return m.gbest }

func (m *Mayfly) GlobalBestFitness() float64 { return m.gbestFit }

func (m *Mayfly) History() []Record { return m.history }

func (m *Mayfly) SaveSummary(w store.AttemptWriter) error {
	return writeSummary(w, m.name, m.prob, m.history, m.gbest, m.gbestFit)
}

func (m *Mayfly) SaveConfig(w store.AttemptWriter, p params.Params) error {
	return writeConfig(w, m.name, m.prob, p)
}

// SaveData always fails: the library does not expose its population.
func (m *Mayfly) SaveData(store.AttemptWriter) error {
	return ErrNoSnapshots
}
