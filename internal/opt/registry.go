package opt

import (
	"fmt"
	"math/rand"
	"sort"
	"strings"

	"github.com/cwbudde/gravbench/internal/params"
	"github.com/cwbudde/gravbench/internal/particle"
	"github.com/cwbudde/gravbench/internal/problem"
)

// variant describes a registered optimizer.
type variant struct {
	build    func(name string, prob *problem.Problem, p params.Params, rng *rand.Rand, opts []Option) (Optimizer, error)
	defaults func() params.Params
	axes     func() (params.Axis, params.Axis)
}

var variants = map[string]variant{
	"gsa": {
		build: func(name string, prob *problem.Problem, p params.Params, rng *rand.Rand, opts []Option) (Optimizer, error) {
			return NewGSA[*particle.GSAParticle](name, prob, p, particle.NewGSA, rng, opts...)
		},
		defaults: func() params.Params {
			return params.Params{
				"particle_count": params.Int(30),
				"g0":             params.Float(5000),
				"alpha":          params.Float(5),
				"normalizer":     params.Normalizer(MinMax.String()),
				"behavior":       params.Behavior(particle.Behavior{Edge: particle.Reflect}),
			}
		},
		axes: gravityAxes,
	},
	"tiled_gsa": {
		build: func(name string, prob *problem.Problem, p params.Params, rng *rand.Rand, opts []Option) (Optimizer, error) {
			if !p.Has("tiled") {
				p = p.With("tiled", params.Bool(true))
			}
			return NewGSA[*particle.GSAParticle](name, prob, p, particle.NewGSA, rng, opts...)
		},
		defaults: func() params.Params {
			return params.Params{
				"particle_count": params.Int(30),
				"g0":             params.Float(5000),
				"alpha":          params.Float(5),
				"normalizer":     params.Normalizer(MinMax.String()),
				"tiled":          params.Bool(true),
				"behavior":       params.Behavior(particle.Behavior{Edge: particle.Cycle}),
			}
		},
		axes: gravityAxes,
	},
	"pso": {
		build: func(name string, prob *problem.Problem, p params.Params, rng *rand.Rand, opts []Option) (Optimizer, error) {
			return NewPSO[*particle.PSOParticle](name, prob, p, particle.NewPSO, rng, opts...)
		},
		defaults: func() params.Params {
			return params.Params{
				"particle_count": params.Int(30),
				"w":              params.Float(0.8),
				"phi_p":          params.Float(1),
				"phi_g":          params.Float(1),
				"behavior":       params.Behavior(particle.Behavior{Edge: particle.Reflect}),
			}
		},
		axes: func() (params.Axis, params.Axis) {
			return floatAxis("phi_p", 0.5, 1, 1.5, 2), floatAxis("phi_g", 0.5, 1, 1.5, 2)
		},
	},
	"fdo": {
		build: func(name string, prob *problem.Problem, p params.Params, rng *rand.Rand, opts []Option) (Optimizer, error) {
			return NewFDO[*particle.FDOParticle](name, prob, p, particle.NewFDO, rng, opts...)
		},
		defaults: func() params.Params {
			return params.Params{
				"particle_count": params.Int(30),
				"wf":             params.Bool(false),
				"behavior":       params.Behavior(particle.Behavior{Edge: particle.Reflect}),
			}
		},
		axes: func() (params.Axis, params.Axis) {
			return intAxis("particle_count", 10, 20, 30, 50),
				params.Axis{Key: "wf", Values: []params.Value{params.Bool(false), params.Bool(true)}}
		},
	},
	"mayfly": {
		build: func(name string, prob *problem.Problem, p params.Params, rng *rand.Rand, opts []Option) (Optimizer, error) {
			return NewMayfly(name, prob, p, rng, opts...)
		},
		defaults: func() params.Params {
			return params.Params{"particle_count": params.Int(minMayflyPopulation)}
		},
	},
}

func gravityAxes() (params.Axis, params.Axis) {
	return floatAxis("g0", 100, 1000, 5000, 10000), floatAxis("alpha", 1, 5, 10, 20)
}

func floatAxis(key string, values ...float64) params.Axis {
	axis := params.Axis{Key: key}
	for _, v := range values {
		axis.Values = append(axis.Values, params.Float(v))
	}
	return axis
}

func intAxis(key string, values ...int) params.Axis {
	axis := params.Axis{Key: key}
	for _, v := range values {
		axis.Values = append(axis.Values, params.Int(v))
	}
	return axis
}

func lookup(name string) (string, variant, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	v, ok := variants[key]
	if !ok {
		return "", variant{}, fmt.Errorf("unknown optimizer %q (available: %s)", name, strings.Join(Names(), ", "))
	}
	return key, v, nil
}

// Names lists the registered optimizers.
func Names() []string {
	names := make([]string, 0, len(variants))
	for name := range variants {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New builds the named optimizer on prob and samples its population.
// Missing or mistyped parameters yield a *params.Error.
func New(name string, prob *problem.Problem, p params.Params, rng *rand.Rand, opts ...Option) (Optimizer, error) {
	key, v, err := lookup(name)
	if err != nil {
		return nil, err
	}
	return v.build(key, prob, p, rng, opts)
}

// Validate checks that p is complete for the named optimizer by building it
// once on a private copy of prob.
func Validate(name string, prob *problem.Problem, p params.Params) error {
	_, err := New(name, prob.Clone(), p, rand.New(rand.NewSource(0)))
	return err
}

// Defaults returns the built-in parameters of the named optimizer.
func Defaults(name string) (params.Params, error) {
	_, v, err := lookup(name)
	if err != nil {
		return nil, err
	}
	return v.defaults(), nil
}

// DefaultAxes returns the built-in grid-search axes of the named optimizer.
func DefaultAxes(name string) (x, y params.Axis, err error) {
	key, v, err := lookup(name)
	if err != nil {
		return params.Axis{}, params.Axis{}, err
	}
	if v.axes == nil {
		return params.Axis{}, params.Axis{}, fmt.Errorf("optimizer %s has no default grid axes", key)
	}
	x, y = v.axes()
	return x, y, nil
}
