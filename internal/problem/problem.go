package problem

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Objective is a black-box function to minimize. It must be safe for
// concurrent use because parallel attempts share the same objective.
type Objective func(x []float64) float64

// Problem couples an objective with a symmetric box domain and a
// dimensionality, and memoizes evaluations between ClearMemo calls.
//
// A Problem belongs to a single attempt and is not safe for concurrent use.
type Problem struct {
	name        string
	f           Objective
	lo, hi      float64
	dim         int
	evaluations int
	memo        map[string]float64
	keyBuf      []byte
}

// New creates a problem over [lo, hi]^dim.
// Returns an *Error if the domain or dimensionality is invalid.
func New(name string, f Objective, lo, hi float64, dim int) (*Problem, error) {
	if f == nil {
		return nil, &Error{Field: "objective", Reason: "cannot be nil"}
	}
	if math.IsNaN(lo) || math.IsNaN(hi) || math.IsInf(lo, 0) || math.IsInf(hi, 0) {
		return nil, &Error{Field: "domain", Reason: "bounds must be finite"}
	}
	if !(lo < hi) {
		return nil, &Error{Field: "domain", Reason: fmt.Sprintf("lower bound %g must be below upper bound %g", lo, hi)}
	}
	if dim <= 0 {
		return nil, &Error{Field: "dim", Reason: fmt.Sprintf("must be positive, got %d", dim)}
	}

	return &Problem{
		name:   name,
		f:      f,
		lo:     lo,
		hi:     hi,
		dim:    dim,
		memo:   make(map[string]float64),
		keyBuf: make([]byte, 8*dim),
	}, nil
}

// F evaluates x, serving bit-identical repeats from the memo.
// Only cache misses count as evaluations.
func (p *Problem) F(x []float64) float64 {
	key := p.key(x)
	if v, ok := p.memo[key]; ok {
		return v
	}

	v := p.f(x)
	p.evaluations++
	p.memo[key] = v
	return v
}

// FNoMemo evaluates x without consulting or filling the memo and without
// touching the evaluation counter. Used for export-time recomputation.
func (p *Problem) FNoMemo(x []float64) float64 {
	return p.f(x)
}

// ClearMemo drops all cached evaluations. Optimizers call it once per iteration.
func (p *Problem) ClearMemo() {
	clear(p.memo)
}

// MemoSize returns the number of cached evaluations.
func (p *Problem) MemoSize() int {
	return len(p.memo)
}

func (p *Problem) Name() string { return p.name }

// Domain returns the lower and upper bound shared by every dimension.
func (p *Problem) Domain() (lo, hi float64) { return p.lo, p.hi }

// Width returns hi - lo.
func (p *Problem) Width() float64 { return p.hi - p.lo }

func (p *Problem) Dim() int { return p.dim }

// Evaluations returns how many times the objective ran through F.
func (p *Problem) Evaluations() int { return p.evaluations }

// Clone returns a fresh problem with the same objective, domain and
// dimensionality, an empty memo and a zero evaluation counter.
func (p *Problem) Clone() *Problem {
	return &Problem{
		name:   p.name,
		f:      p.f,
		lo:     p.lo,
		hi:     p.hi,
		dim:    p.dim,
		memo:   make(map[string]float64),
		keyBuf: make([]byte, 8*p.dim),
	}
}

// key encodes the exact bit pattern of x. Vectors of the wrong length are a
// caller contract violation.
func (p *Problem) key(x []float64) string {
	if len(x) != p.dim {
		panic(fmt.Sprintf("problem %s: point has %d coordinates, want %d", p.name, len(x), p.dim))
	}
	for i, v := range x {
		binary.LittleEndian.PutUint64(p.keyBuf[i*8:], math.Float64bits(v))
	}
	return string(p.keyBuf)
}

// Error reports an invalid problem definition.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return "invalid problem: " + e.Field + " " + e.Reason
}
