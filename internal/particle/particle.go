// Package particle models candidate solutions as a set of small capabilities
// (position, velocity, personal best, mass) that optimizer variants compose.
package particle

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"

	"github.com/cwbudde/gravbench/internal/problem"
)

// Position is the capability every particle has.
type Position interface {
	Pos() []float64
	SetPos(pos []float64)
}

// Velocity is the capability of particles that move under an Edge policy.
type Velocity interface {
	Position
	Vel() []float64
	SetVel(vel []float64, prob *problem.Problem)
	MovePos(prob *problem.Problem)
	Behavior() Behavior
}

// BestPosition is the personal-best capability of the PSO family.
type BestPosition interface {
	Position
	BestPos() []float64
	HasBest() bool
	SetBestPos(pos []float64)
	UpdateBestPos(prob *problem.Problem)
}

// Mass is the capability of the GSA family. It has no update logic of its
// own; the optimizer sets it once per iteration.
type Mass interface {
	Mass() float64
	SetMass(mass float64)
}

// Snapshot is a copy of a particle's observable state for history export.
type Snapshot struct {
	Pos  []float64
	Vel  []float64
	Mass *float64
}

// Snapshotter is implemented by every concrete particle.
type Snapshotter interface {
	Snapshot() Snapshot
}

// Factory builds a particle of type P for the given problem. Every attempt
// passes its own random stream.
type Factory[P any] func(prob *problem.Problem, behavior Behavior, rng *rand.Rand) P

// Body implements Position and Velocity. Concrete particles embed it.
type Body struct {
	pos      []float64
	vel      []float64
	behavior Behavior
}

// NewBody samples a position uniformly over the domain and a velocity
// uniformly over [-(hi-lo), hi-lo] in every dimension.
func NewBody(prob *problem.Problem, behavior Behavior, rng *rand.Rand) Body {
	b := Body{behavior: behavior}
	b.InitPosition(prob, rng)
	b.InitVelocity(prob, rng)
	return b
}

// InitPosition samples U[lo, hi]^d.
func (b *Body) InitPosition(prob *problem.Problem, rng *rand.Rand) {
	lo, hi := prob.Domain()
	pos := make([]float64, prob.Dim())
	for i := range pos {
		pos[i] = lo + rng.Float64()*(hi-lo)
	}
	b.pos = pos
}

// InitVelocity samples U[-(hi-lo), hi-lo]^d and stores it through SetVel.
func (b *Body) InitVelocity(prob *problem.Problem, rng *rand.Rand) {
	width := prob.Width()
	vel := make([]float64, prob.Dim())
	for i := range vel {
		vel[i] = -width + rng.Float64()*2*width
	}
	b.SetVel(vel, prob)
}

func (b *Body) Pos() []float64 { return b.pos }

func (b *Body) SetPos(pos []float64) {
	b.pos = append(b.pos[:0:0], pos...)
}

func (b *Body) Vel() []float64 { return b.vel }

func (b *Body) Behavior() Behavior { return b.behavior }

// SetVel stores a copy of vel. When the behavior is speed limited, a
// velocity whose norm exceeds the domain width is rescaled to that norm.
func (b *Body) SetVel(vel []float64, prob *problem.Problem) {
	v := append(vel[:0:0], vel...)
	if b.behavior.SpeedLimited {
		vmax := prob.Width()
		norm := floats.Norm(v, 2)
		if norm > vmax && !math.IsInf(norm, 0) {
			floats.Scale(vmax/norm, v)
		}
	}
	b.vel = v
}

// MovePos advances the position by the velocity under the Edge policy.
func (b *Body) MovePos(prob *problem.Problem) {
	lo, hi := prob.Domain()

	switch b.behavior.Edge {
	case Reflect:
		newPos := make([]float64, len(b.pos))
		newVel := append(b.vel[:0:0], b.vel...)
		for i := range newPos {
			e, flipped := reflect(b.pos[i]+b.vel[i], lo, hi)
			if flipped {
				newVel[i] = -newVel[i]
			}
			newPos[i] = e
		}
		// The velocity may have hit a wall.
		b.SetVel(newVel, prob)
		b.pos = newPos

	case Cycle:
		width := hi - lo
		newPos := make([]float64, len(b.pos))
		for i := range newPos {
			newPos[i] = wrap(b.pos[i]+b.vel[i], lo, hi, width)
		}
		b.pos = newPos

	default:
		newPos := make([]float64, len(b.pos))
		floats.AddTo(newPos, b.pos, b.vel)
		b.pos = newPos
	}
}

// Snapshot copies position and velocity.
func (b *Body) Snapshot() Snapshot {
	return Snapshot{
		Pos: append([]float64(nil), b.pos...),
		Vel: append([]float64(nil), b.vel...),
	}
}

// reflect mirrors e at the walls until it lies in [lo, hi] and reports
// whether an odd number of mirrorings happened.
func reflect(e, lo, hi float64) (float64, bool) {
	if !isFinite(e) || (e >= lo && e <= hi) {
		return e, false
	}
	width := hi - lo
	k := math.Floor((e - lo) / width)
	r := e - lo - k*width
	if r == 0 && k > 0 {
		// Landing exactly on a wall does not bounce again.
		k--
		r = width
	}
	if math.Mod(k, 2) == 0 {
		return lo + r, false
	}
	return hi - r, true
}

// wrap brings e into [lo, hi] by whole multiples of width.
func wrap(e, lo, hi, width float64) float64 {
	if !isFinite(e) || (e >= lo && e <= hi) {
		return e
	}
	e = lo + math.Mod(e-lo, width)
	if e < lo {
		e += width
	}
	if e > hi {
		e -= width
	}
	return e
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
