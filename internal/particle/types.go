package particle

import (
	"math/rand"

	"github.com/cwbudde/gravbench/internal/problem"
)

// GSAParticle carries a gravitational mass.
type GSAParticle struct {
	Body
	mass float64
}

// NewGSA samples a GSA particle. Matches Factory[*GSAParticle].
func NewGSA(prob *problem.Problem, behavior Behavior, rng *rand.Rand) *GSAParticle {
	return &GSAParticle{Body: NewBody(prob, behavior, rng)}
}

func (p *GSAParticle) Mass() float64 { return p.mass }

func (p *GSAParticle) SetMass(mass float64) { p.mass = mass }

func (p *GSAParticle) Snapshot() Snapshot {
	s := p.Body.Snapshot()
	m := p.mass
	s.Mass = &m
	return s
}

// PSOParticle tracks its personal best position.
type PSOParticle struct {
	Body
	best []float64
}

// NewPSO samples a PSO particle and seeds its personal best with the
// initial position.
func NewPSO(prob *problem.Problem, behavior Behavior, rng *rand.Rand) *PSOParticle {
	p := &PSOParticle{Body: NewBody(prob, behavior, rng)}
	p.UpdateBestPos(prob)
	return p
}

func (p *PSOParticle) BestPos() []float64 { return p.best }

func (p *PSOParticle) HasBest() bool { return p.best != nil }

func (p *PSOParticle) SetBestPos(pos []float64) {
	p.best = append([]float64(nil), pos...)
}

// UpdateBestPos replaces the personal best iff it is unset or the current
// position is strictly better.
func (p *PSOParticle) UpdateBestPos(prob *problem.Problem) {
	if p.best == nil || prob.F(p.pos) < prob.F(p.best) {
		p.SetBestPos(p.pos)
	}
}

// FDOParticle is a scout bee. It starts at rest.
type FDOParticle struct {
	Body
	mass float64
}

// NewFDO samples an FDO particle with zero initial velocity.
func NewFDO(prob *problem.Problem, behavior Behavior, rng *rand.Rand) *FDOParticle {
	p := &FDOParticle{Body: Body{behavior: behavior}}
	p.InitPosition(prob, rng)
	p.SetVel(make([]float64, prob.Dim()), prob)
	return p
}

func (p *FDOParticle) Mass() float64 { return p.mass }

func (p *FDOParticle) SetMass(mass float64) { p.mass = mass }

func (p *FDOParticle) Snapshot() Snapshot {
	s := p.Body.Snapshot()
	m := p.mass
	s.Mass = &m
	return s
}

var (
	_ Velocity     = (*GSAParticle)(nil)
	_ Mass         = (*GSAParticle)(nil)
	_ Velocity     = (*PSOParticle)(nil)
	_ BestPosition = (*PSOParticle)(nil)
	_ Velocity     = (*FDOParticle)(nil)
	_ Mass         = (*FDOParticle)(nil)
	_ Snapshotter  = (*GSAParticle)(nil)
	_ Snapshotter  = (*PSOParticle)(nil)
	_ Snapshotter  = (*FDOParticle)(nil)
)
