package opt

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/cwbudde/gravbench/internal/params"
	"github.com/cwbudde/gravbench/internal/particle"
	"github.com/cwbudde/gravbench/internal/problem"
)

// GravityParticle is what GSA needs from a particle type.
type GravityParticle interface {
	particle.Velocity
	particle.Mass
	particle.Snapshotter
}

// GSA is the Gravitational Search Algorithm. Particles attract each other
// with a force proportional to the mass of the attractor; mass derives from
// fitness through a pluggable Normalizer, and only the k heaviest particles
// pull, with k shrinking linearly over the run.
//
// With tiled set, displacements use the minimum image on the torus, which
// is meant to be combined with the Cycle edge.
type GSA[P GravityParticle] struct {
	base[P]

	newParticle particle.Factory[P]
	rng         *rand.Rand
	behavior    particle.Behavior

	g0, alpha  float64
	g          float64
	normalizer Normalizer
	tiled      bool
	influences []bool
}

// NewGSA builds a GSA from parameters and samples its population.
// Required: particle_count (Int), g0 (Float), alpha (Float),
// normalizer (Normalizer), behavior (Behavior). Optional: tiled (Bool).
func NewGSA[P GravityParticle](name string, prob *problem.Problem, p params.Params, factory particle.Factory[P], rng *rand.Rand, opts ...Option) (*GSA[P], error) {
	count, err := p.PositiveInt("particle_count", 1)
	if err != nil {
		return nil, err
	}
	g0, err := p.Float("g0")
	if err != nil {
		return nil, err
	}
	alpha, err := p.Float("alpha")
	if err != nil {
		return nil, err
	}
	normName, err := p.Normalizer("normalizer")
	if err != nil {
		return nil, err
	}
	normalizer, err := ParseNormalizer(normName)
	if err != nil {
		return nil, &params.Error{Key: "normalizer", Reason: err.Error()}
	}
	behavior, err := p.Behavior("behavior")
	if err != nil {
		return nil, err
	}
	tiled := false
	if p.Has("tiled") {
		if tiled, err = p.Bool("tiled"); err != nil {
			return nil, err
		}
	}

	if tiled != (behavior.Edge == particle.Cycle) {
		slog.Warn("Tiled distance and edge policy disagree",
			"optimizer", name, "tiled", tiled, "edge", behavior.Edge.String())
	}

	gsa := &GSA[P]{
		base:        base[P]{name: name, prob: prob, opts: buildOptions(opts)},
		newParticle: factory,
		rng:         rng,
		behavior:    behavior,
		g0:          g0,
		alpha:       alpha,
		g:           g0,
		normalizer:  normalizer,
		tiled:       tiled,
	}
	gsa.Init(count)
	return gsa, nil
}

// Init samples n particles and sets the global best among them.
func (o *GSA[P]) Init(n int) {
	o.population = make([]P, n)
	for i := range o.population {
		o.population[i] = o.newParticle(o.prob, o.behavior, o.rng)
	}
	o.influences = make([]bool, n)
	o.history = nil
	o.g = o.g0
	o.resetGlobalBest()
}

// G returns the gravitational constant of the last iteration.
func (o *GSA[P]) G() float64 { return o.g }

// Influences returns which particles pulled during the last iteration.
func (o *GSA[P]) Influences() []bool { return o.influences }

// Run performs the given number of iterations. The decay and elitism
// schedules span exactly this call.
func (o *GSA[P]) Run(ctx context.Context, iterations int) error {
	for iter := 0; iter < iterations; iter++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		o.step(iter, iterations)
	}
	return nil
}

func (o *GSA[P]) step(iter, total int) {
	n := len(o.population)

	o.g = gravity(o.g0, o.alpha, iter, total)

	fitness := make([]float64, n)
	for i, p := range o.population {
		fitness[i] = o.prob.F(p.Pos())
	}
	masses := o.normalizer.Masses(fitness)
	for i, p := range o.population {
		p.SetMass(masses[i])
	}
	o.influences = topK(masses, influentialCount(n, iter, total))

	// All velocities come from the positions at the start of the iteration.
	vels := make([][]float64, n)
	for i := range o.population {
		vels[i] = o.calculateVel(i)
	}

	o.prob.ClearMemo()

	for i, p := range o.population {
		p.SetVel(vels[i], o.prob)
		p.MovePos(o.prob)
		o.offer(p.Pos())
	}
	o.record()
}

// calculateVel returns U*v_i + a_i, where a_i sums the dithered pull of
// every influential particle j != i.
func (o *GSA[P]) calculateVel(i int) []float64 {
	dim := o.prob.Dim()
	pi := o.population[i].Pos()
	width := o.prob.Width()

	a := make([]float64, dim)
	r := make([]float64, dim)
	for j, pj := range o.population {
		if j == i || !o.influences[j] {
			continue
		}

		floats.SubTo(r, pj.Pos(), pi)
		if o.tiled {
			minimumImage(r, width)
		}

		scale := o.g * pj.Mass() / (floats.Norm(r, 2) + epsilon)
		for d := range a {
			a[d] += scale * r[d] * o.rng.Float64()
		}
	}

	v := append([]float64(nil), o.population[i].Vel()...)
	floats.Scale(o.rng.Float64(), v)
	floats.Add(v, a)
	return v
}

// epsilon keeps the force finite for coincident particles.
const epsilon = 2.220446049250313e-16

// gravity is g0 * exp(-alpha * iter / total).
func gravity(g0, alpha float64, iter, total int) float64 {
	return g0 * math.Exp(-alpha*float64(iter)/float64(total))
}

// influentialCount is clamp(round(n * (1 - iter/total)), 1, n).
func influentialCount(n, iter, total int) int {
	k := int(math.Round(float64(n) * (1 - float64(iter)/float64(total))))
	return max(1, min(k, n))
}

// topK flags the k heaviest particles; ties go to the lower index.
func topK(masses []float64, k int) []bool {
	order := make([]int, len(masses))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return masses[order[a]] > masses[order[b]] })

	flags := make([]bool, len(masses))
	for _, idx := range order[:min(k, len(order))] {
		flags[idx] = true
	}
	return flags
}

// minimumImage replaces each component of r by whichever of r, r-width and
// r+width is shortest.
func minimumImage(r []float64, width float64) {
	for d, x := range r {
		if math.Abs(x-width) < math.Abs(x) {
			r[d] = x - width
		} else if math.Abs(x+width) < math.Abs(x) {
			r[d] = x + width
		}
	}
}
