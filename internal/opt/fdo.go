package opt

import (
	"context"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"

	"github.com/cwbudde/gravbench/internal/params"
	"github.com/cwbudde/gravbench/internal/particle"
	"github.com/cwbudde/gravbench/internal/problem"
)

// ScoutParticle is what FDO needs from a particle type.
type ScoutParticle interface {
	particle.Velocity
	particle.Snapshotter
}

// scoutStep scales the random step a scout takes when its fitness weight
// carries no direction.
const scoutStep = 0.01

// FDO is the fitness-dependent optimizer. Each scout moves away from or
// toward the global best by a pace weighted by fitness ratio and keeps a
// move only when it improves its own fitness.
type FDO[P ScoutParticle] struct {
	base[P]

	newParticle particle.Factory[P]
	rng         *rand.Rand
	behavior    particle.Behavior

	// wf subtracts one from the fitness weight.
	wf bool
}

// NewFDO builds an FDO from parameters and samples its population.
// Required: particle_count (Int), wf (Bool), behavior (Behavior).
func NewFDO[P ScoutParticle](name string, prob *problem.Problem, p params.Params, factory particle.Factory[P], rng *rand.Rand, opts ...Option) (*FDO[P], error) {
	count, err := p.PositiveInt("particle_count", 1)
	if err != nil {
		return nil, err
	}
	wf, err := p.Bool("wf")
	if err != nil {
		return nil, err
	}
	behavior, err := p.Behavior("behavior")
	if err != nil {
		return nil, err
	}

	fdo := &FDO[P]{
		base:        base[P]{name: name, prob: prob, opts: buildOptions(opts)},
		newParticle: factory,
		rng:         rng,
		behavior:    behavior,
		wf:          wf,
	}
	fdo.Init(count)
	return fdo, nil
}

func (o *FDO[P]) Init(n int) {
	o.population = make([]P, n)
	for i := range o.population {
		o.population[i] = o.newParticle(o.prob, o.behavior, o.rng)
	}
	o.history = nil
	o.resetGlobalBest()
}

func (o *FDO[P]) Run(ctx context.Context, iterations int) error {
	for iter := 0; iter < iterations; iter++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		o.step()
	}
	return nil
}

func (o *FDO[P]) step() {
	for _, p := range o.population {
		o.offer(p.Pos())
	}

	for _, p := range o.population {
		pos := p.Pos()
		f := o.prob.F(pos)

		pace := o.pace(pos, f)
		if o.prob.F(add(pos, pace)) < f {
			p.SetVel(pace, o.prob)
			p.MovePos(o.prob)
		} else if o.prob.F(add(pos, p.Vel())) < f {
			// The previous pace still improves.
			p.MovePos(o.prob)
		}
	}

	o.prob.ClearMemo()
	for _, p := range o.population {
		o.offer(p.Pos())
	}
	o.record()
}

// pace computes the candidate velocity of a scout at pos with fitness f.
func (o *FDO[P]) pace(pos []float64, f float64) []float64 {
	dim := len(pos)
	v := make([]float64, dim)

	fw := math.NaN()
	if f != 0 {
		fw = math.Abs(o.gbestFit / f)
		if o.wf {
			fw -= 1
		}
	}

	switch {
	case math.IsNaN(fw):
		// The scout sits on a zero of the objective; it stays put.
	case fw == 1:
		// The scout is the global best: explore a small random step.
		width := o.prob.Width()
		for d := range v {
			v[d] = (2*o.rng.Float64() - 1) * width * scoutStep
		}
	case fw == 0:
		for d := range v {
			v[d] = (o.gbest[d] - pos[d]) * (2*o.rng.Float64() - 1)
		}
	default:
		for d := range v {
			v[d] = (pos[d] - o.gbest[d]) * fw
			if o.rng.Float64() < 0.5 {
				v[d] = -v[d]
			}
		}
	}
	return v
}

func add(a, b []float64) []float64 {
	return floats.AddTo(make([]float64, len(a)), a, b)
}
