// Package bench provides the catalog of black-box test functions used to
// benchmark the optimizers. See
// http://en.wikipedia.org/wiki/Test_functions_for_optimization.
package bench

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize/functions"

	"github.com/cwbudde/gravbench/internal/problem"
)

// Func is a named objective together with its default symmetric domain.
type Func struct {
	Name      string
	Objective problem.Objective
	Lo, Hi    float64
}

// Problem instantiates the function as a fresh problem of the given dimensionality.
func (fn Func) Problem(dim int) (*problem.Problem, error) {
	return problem.New(fn.Name, fn.Objective, fn.Lo, fn.Hi, dim)
}

var catalog = map[string]Func{}

func register(fn Func) {
	catalog[strings.ToLower(fn.Name)] = fn
}

func init() {
	register(Func{Name: "Sphere", Objective: Sphere, Lo: -1, Hi: 1})
	register(Func{Name: "Sphere100", Objective: Sphere, Lo: -100, Hi: 100})
	register(Func{Name: "Rosenbrock30", Objective: functions.ExtendedRosenbrock{}.Func, Lo: -30, Hi: 30})
	register(Func{Name: "Rastrigin5_12", Objective: Rastrigin, Lo: -5.12, Hi: 5.12})
	register(Func{Name: "Rastrigin100", Objective: Rastrigin, Lo: -100, Hi: 100})
	register(Func{Name: "Griewank600", Objective: Griewank, Lo: -600, Hi: 600})
	register(Func{Name: "HyperEllipsoid100", Objective: HyperEllipsoid, Lo: -100, Hi: 100})
	register(Func{Name: "Ackley32", Objective: Ackley, Lo: -32.768, Hi: 32.768})
	register(Func{Name: "Trigonometric", Objective: functions.Trigonometric{}.Func, Lo: -math.Pi, Hi: math.Pi})
}

// Lookup finds a catalog function by case-insensitive name.
func Lookup(name string) (Func, error) {
	fn, ok := catalog[strings.ToLower(name)]
	if !ok {
		return Func{}, fmt.Errorf("unknown benchmark function %q (available: %s)", name, strings.Join(Names(), ", "))
	}
	return fn, nil
}

// Names lists all catalog functions in sorted order.
func Names() []string {
	names := make([]string, 0, len(catalog))
	for _, fn := range catalog {
		names = append(names, fn.Name)
	}
	sort.Strings(names)
	return names
}

// Sphere: f(x) = sum(x_i^2), minimum 0 at the origin
func Sphere(x []float64) float64 {
	return floats.Dot(x, x)
}

// Rastrigin: f(x) = 10n + sum(x_i^2 - 10 cos(2 pi x_i)), minimum 0 at the origin
func Rastrigin(x []float64) float64 {
	const a = 10.0
	sum := a * float64(len(x))
	for _, v := range x {
		sum += v*v - a*math.Cos(2*math.Pi*v)
	}
	return sum
}

// Griewank: f(x) = 1 + sum(x_i^2)/4000 - prod(cos(x_i / sqrt(i+1))), minimum 0 at the origin
func Griewank(x []float64) float64 {
	sum := floats.Dot(x, x) / 4000
	prod := 1.0
	for i, v := range x {
		prod *= math.Cos(v / math.Sqrt(float64(i+1)))
	}
	return 1 + sum - prod
}

// HyperEllipsoid is the axis-parallel hyper-ellipsoid: f(x) = sum((i+1) x_i^2)
func HyperEllipsoid(x []float64) float64 {
	var sum float64
	for i, v := range x {
		sum += float64(i+1) * v * v
	}
	return sum
}

// Ackley in n dimensions, minimum 0 at the origin
func Ackley(x []float64) float64 {
	n := float64(len(x))
	var cosSum float64
	for _, v := range x {
		cosSum += math.Cos(2 * math.Pi * v)
	}
	return -20*math.Exp(-0.2*math.Sqrt(floats.Dot(x, x)/n)) - math.Exp(cosSum/n) + 20 + math.E
}
