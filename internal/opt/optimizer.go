// Package opt implements the population-based optimizers: the Gravitational
// Search Algorithm with pluggable mass normalization, a tiled (toroidal)
// GSA, particle swarm, the fitness-dependent optimizer and a Mayfly baseline.
package opt

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/cwbudde/gravbench/internal/params"
	"github.com/cwbudde/gravbench/internal/particle"
	"github.com/cwbudde/gravbench/internal/problem"
	"github.com/cwbudde/gravbench/internal/store"
)

// Optimizer is the contract every variant satisfies so the experiment
// runner can treat them uniformly.
type Optimizer interface {
	Name() string
	Problem() *problem.Problem

	// Init samples a fresh population of the given size.
	Init(populationSize int)

	// Run performs iterations sequentially, recording one Record each.
	// It stops early with ctx.Err() when the context is cancelled.
	Run(ctx context.Context, iterations int) error

	GlobalBestPosition() []float64
	GlobalBestFitness() float64
	History() []Record

	SaveSummary(w store.AttemptWriter) error
	SaveConfig(w store.AttemptWriter, p params.Params) error
	SaveData(w store.AttemptWriter) error
}

// Record is the state captured after one iteration.
type Record struct {
	Best     float64
	Worst    float64
	Snapshot []particle.Snapshot
}

// Observer is notified after every iteration. It runs on the attempt's
// goroutine.
type Observer func(iteration int, rec Record, evaluations int)

type options struct {
	snapshots bool
	observer  Observer
}

// Option configures an optimizer.
type Option func(*options)

// WithSnapshots records the whole population every iteration so SaveData
// can export it.
func WithSnapshots(enabled bool) Option {
	return func(o *options) { o.snapshots = enabled }
}

// WithObserver installs a per-iteration callback.
func WithObserver(fn Observer) Option {
	return func(o *options) { o.observer = fn }
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// member is what the shared base needs from a particle.
type member interface {
	particle.Position
	particle.Snapshotter
}

// base holds the state and export logic shared by all population variants.
type base[P member] struct {
	name       string
	prob       *problem.Problem
	population []P
	gbest      []float64
	gbestFit   float64
	history    []Record
	opts       options
}

func (b *base[P]) Name() string { return b.name }

func (b *base[P]) Problem() *problem.Problem { return b.prob }

// GlobalBestPosition panics before Init; every caller runs Init first.
func (b *base[P]) GlobalBestPosition() []float64 {
	if b.gbest == nil {
		panic(fmt.Sprintf("%s: global best requested before Init", b.name))
	}
	return b.gbest
}

func (b *base[P]) GlobalBestFitness() float64 {
	if b.gbest == nil {
		return math.Inf(1)
	}
	return b.gbestFit
}

func (b *base[P]) History() []Record { return b.history }

// Population exposes the particles for inspection.
func (b *base[P]) Population() []P { return b.population }

// resetGlobalBest sets the global best to the best current position.
func (b *base[P]) resetGlobalBest() {
	b.gbest = nil
	b.gbestFit = math.Inf(1)
	for _, p := range b.population {
		b.offer(p.Pos())
	}
}

// offer replaces the global best iff pos is strictly better. The first
// offer after a reset is always accepted so the best is set even when all
// fitness values are +Inf or NaN.
func (b *base[P]) offer(pos []float64) {
	f := b.prob.F(pos)
	if b.gbest == nil || f < b.gbestFit {
		b.gbest = append([]float64(nil), pos...)
		b.gbestFit = f
	}
}

// worst returns the largest fitness of the current population; NaN
// values are skipped unless every value is NaN.
func (b *base[P]) worst() float64 {
	w := math.NaN()
	for _, p := range b.population {
		f := b.prob.F(p.Pos())
		if math.IsNaN(w) || f > w {
			w = f
		}
	}
	return w
}

// record appends the iteration result and notifies the observer.
func (b *base[P]) record() {
	rec := Record{Best: b.gbestFit, Worst: b.worst()}
	if b.opts.snapshots {
		rec.Snapshot = make([]particle.Snapshot, len(b.population))
		for i, p := range b.population {
			rec.Snapshot[i] = p.Snapshot()
		}
	}
	b.history = append(b.history, rec)
	if b.opts.observer != nil {
		b.opts.observer(len(b.history)-1, rec, b.prob.Evaluations())
	}
}

func (b *base[P]) SaveSummary(w store.AttemptWriter) error {
	return writeSummary(w, b.name, b.prob, b.history, b.GlobalBestPosition(), b.gbestFit)
}

func (b *base[P]) SaveConfig(w store.AttemptWriter, p params.Params) error {
	return writeConfig(w, b.name, b.prob, p)
}

func (b *base[P]) SaveData(w store.AttemptWriter) error {
	return writeData(w, b.prob, b.history)
}

func writeSummary(w store.AttemptWriter, name string, prob *problem.Problem, history []Record, bestPos []float64, bestFit float64) error {
	best := make([]float64, len(history))
	worst := make([]float64, len(history))
	for i, rec := range history {
		best[i] = rec.Best
		worst[i] = rec.Worst
	}

	summary := &store.Summary{
		Optimizer:    name,
		Problem:      prob.Name(),
		Dim:          prob.Dim(),
		Iterations:   len(history),
		Evaluations:  prob.Evaluations(),
		BestFitness:  store.Floats(best),
		WorstFitness: store.Floats(worst),
		FinalBest:    store.Float(bestFit),
		BestPosition: bestPos,
	}
	if err := w.WriteSummary(summary); err != nil {
		return fmt.Errorf("failed to save summary: %w", err)
	}
	return nil
}

func writeConfig(w store.AttemptWriter, name string, prob *problem.Problem, p params.Params) error {
	lo, hi := prob.Domain()
	values := make(map[string]any, len(p))
	for k, v := range p {
		values[k] = v.Interface()
	}

	cfg := &store.AttemptConfig{
		Problem:   prob.Name(),
		Dim:       prob.Dim(),
		Lower:     lo,
		Upper:     hi,
		Optimizer: name,
		Params:    values,
	}
	if err := w.WriteConfig(cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}

// ErrNoSnapshots is returned by SaveData when the optimizer was built
// without WithSnapshots.
var ErrNoSnapshots = errors.New("no population snapshots recorded")

func writeData(w store.AttemptWriter, prob *problem.Problem, history []Record) error {
	data := make([]store.IterationData, len(history))
	for t, rec := range history {
		if rec.Snapshot == nil {
			return ErrNoSnapshots
		}
		particles := make([]store.ParticleData, len(rec.Snapshot))
		for i, s := range rec.Snapshot {
			particles[i] = store.ParticleData{
				Fitness: store.Float(prob.FNoMemo(s.Pos)),
				Pos:     s.Pos,
				Vel:     s.Vel,
				Mass:    s.Mass,
			}
		}
		data[t] = store.IterationData{
			Iteration:         t,
			GlobalBestFitness: store.Float(rec.Best),
			Particles:         particles,
		}
	}
	if err := w.WriteData(data); err != nil {
		return fmt.Errorf("failed to save data: %w", err)
	}
	return nil
}
