package opt

import (
	"context"
	"math/rand"

	"github.com/cwbudde/gravbench/internal/params"
	"github.com/cwbudde/gravbench/internal/particle"
	"github.com/cwbudde/gravbench/internal/problem"
)

// SwarmParticle is what PSO needs from a particle type.
type SwarmParticle interface {
	particle.Velocity
	particle.BestPosition
	particle.Snapshotter
}

// PSO is canonical particle swarm optimization with inertia weight w and
// cognitive/social coefficients phi_p and phi_g.
type PSO[P SwarmParticle] struct {
	base[P]

	newParticle particle.Factory[P]
	rng         *rand.Rand
	behavior    particle.Behavior

	w, phiP, phiG float64
}

// NewPSO builds a PSO from parameters and samples its population.
// Required: particle_count (Int), w, phi_p, phi_g (Float), behavior (Behavior).
func NewPSO[P SwarmParticle](name string, prob *problem.Problem, p params.Params, factory particle.Factory[P], rng *rand.Rand, opts ...Option) (*PSO[P], error) {
	count, err := p.PositiveInt("particle_count", 1)
	if err != nil {
		return nil, err
	}
	w, err := p.Float("w")
	if err != nil {
		return nil, err
	}
	phiP, err := p.Float("phi_p")
	if err != nil {
		return nil, err
	}
	phiG, err := p.Float("phi_g")
	if err != nil {
		return nil, err
	}
	behavior, err := p.Behavior("behavior")
	if err != nil {
		return nil, err
	}

	pso := &PSO[P]{
		base:        base[P]{name: name, prob: prob, opts: buildOptions(opts)},
		newParticle: factory,
		rng:         rng,
		behavior:    behavior,
		w:           w,
		phiP:        phiP,
		phiG:        phiG,
	}
	pso.Init(count)
	return pso, nil
}

func (o *PSO[P]) Init(n int) {
	o.population = make([]P, n)
	for i := range o.population {
		o.population[i] = o.newParticle(o.prob, o.behavior, o.rng)
	}
	o.history = nil
	o.resetGlobalBest()
}

func (o *PSO[P]) Run(ctx context.Context, iterations int) error {
	for iter := 0; iter < iterations; iter++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		o.step()
	}
	return nil
}

func (o *PSO[P]) step() {
	o.prob.ClearMemo()
	for i, p := range o.population {
		p.SetVel(o.calculateVel(i), o.prob)
		p.MovePos(o.prob)
		p.UpdateBestPos(o.prob)
		o.offer(p.BestPos())
	}
	o.record()
}

// calculateVel is w*v + phi_p*r_p*(best - x) + phi_g*r_g*(gbest - x), each
// component clamped to the domain width.
func (o *PSO[P]) calculateVel(i int) []float64 {
	p := o.population[i]
	pos, vel, best := p.Pos(), p.Vel(), p.BestPos()
	rp, rg := o.rng.Float64(), o.rng.Float64()
	width := o.prob.Width()

	v := make([]float64, len(pos))
	for d := range v {
		v[d] = o.w*vel[d] + o.phiP*rp*(best[d]-pos[d]) + o.phiG*rg*(o.gbest[d]-pos[d])
		v[d] = max(-width, min(v[d], width))
	}
	return v
}
