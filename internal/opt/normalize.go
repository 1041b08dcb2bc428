package opt

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Normalizer maps population fitness (lower is better) to non-negative
// masses.
type Normalizer int

const (
	// MinMax is the original GSA scheme: 1 - (f - fmin)/(fmax - fmin), scaled to sum 1.
	MinMax Normalizer = iota
	// ZScore is max(0, -z/2) of the standardized fitness.
	ZScore
	// Robust is ZScore with median and IQR/1.3489 in place of mean and std.
	Robust
	// Rank is 1 - rank/n for the ascending fitness rank.
	Rank
	// Sigmoid2 is sigmoid(2 * goodness) with goodness = -z.
	Sigmoid2
	// Sigmoid4 is sigmoid(4 * goodness).
	Sigmoid4
)

var normalizerNames = map[Normalizer]string{
	MinMax:   "MinMax",
	ZScore:   "ZScore",
	Robust:   "Robust",
	Rank:     "Rank",
	Sigmoid2: "Sigmoid2",
	Sigmoid4: "Sigmoid4",
}

// Normalizers lists every strategy in declaration order.
func Normalizers() []Normalizer {
	return []Normalizer{MinMax, ZScore, Robust, Rank, Sigmoid2, Sigmoid4}
}

func (n Normalizer) String() string {
	if name, ok := normalizerNames[n]; ok {
		return name
	}
	return fmt.Sprintf("Normalizer(%d)", int(n))
}

// ParseNormalizer parses a case-insensitive strategy name.
func ParseNormalizer(s string) (Normalizer, error) {
	for n, name := range normalizerNames {
		if strings.EqualFold(name, strings.TrimSpace(s)) {
			return n, nil
		}
	}
	return 0, fmt.Errorf("unknown normalizer %q (expected one of MinMax, ZScore, Robust, Rank, Sigmoid2, Sigmoid4)", s)
}

// iqrToSigma converts an inter-quartile range to a normal-equivalent scale.
const iqrToSigma = 1.3489

// Masses computes one mass per fitness value. The result is always finite
// and non-negative, whatever the input.
func (n Normalizer) Masses(fitness []float64) []float64 {
	f, ok := sanitizeFitness(fitness)
	if !ok {
		return uniform(len(fitness))
	}

	switch n {
	case MinMax:
		return minMaxMasses(f)
	case ZScore:
		return zMasses(f)
	case Robust:
		return robustMasses(f)
	case Rank:
		return rankMasses(f)
	case Sigmoid2:
		return sigmoidMasses(f, 2)
	case Sigmoid4:
		return sigmoidMasses(f, 4)
	default:
		panic(fmt.Sprintf("unknown normalizer %d", int(n)))
	}
}

// sanitizeFitness replaces NaN and ±Inf with the worst finite value.
// It reports false when no value is finite.
func sanitizeFitness(fitness []float64) ([]float64, bool) {
	worst := math.Inf(-1)
	for _, v := range fitness {
		if isFinite(v) && v > worst {
			worst = v
		}
	}
	if math.IsInf(worst, -1) {
		return nil, false
	}

	out := make([]float64, len(fitness))
	for i, v := range fitness {
		if isFinite(v) {
			out[i] = v
		} else {
			out[i] = worst
		}
	}
	return out, true
}

func uniform(n int) []float64 {
	m := make([]float64, n)
	for i := range m {
		m[i] = 1 / float64(n)
	}
	return m
}

// degenerate reports whether a spread is too small to divide by.
func degenerate(spread, center float64) bool {
	return !(spread > 1e-12*math.Max(1, math.Abs(center)))
}

func minMaxMasses(f []float64) []float64 {
	fmin, fmax := floats.Min(f), floats.Max(f)
	if degenerate(fmax-fmin, fmax) {
		return uniform(len(f))
	}

	m := make([]float64, len(f))
	for i, v := range f {
		m[i] = 1 - (v-fmin)/(fmax-fmin)
	}
	floats.Scale(1/floats.Sum(m), m)
	return m
}

// standardize returns (f - center)/scale, or zeros for a degenerate scale.
func standardize(f []float64, center, scale float64) []float64 {
	z := make([]float64, len(f))
	if degenerate(scale, center) {
		return z
	}
	for i, v := range f {
		z[i] = (v - center) / scale
	}
	return z
}

func meanStd(f []float64) (mean, std float64) {
	if len(f) < 2 {
		return floats.Sum(f) / float64(max(len(f), 1)), 0
	}
	return stat.MeanStdDev(f, nil)
}

func zFromScores(z []float64) []float64 {
	m := make([]float64, len(z))
	for i, v := range z {
		m[i] = math.Max(0, -0.5*v)
	}
	return m
}

func zMasses(f []float64) []float64 {
	mean, std := meanStd(f)
	return zFromScores(standardize(f, mean, std))
}

func robustMasses(f []float64) []float64 {
	if len(f) < 2 {
		return make([]float64, len(f))
	}
	sorted := append([]float64(nil), f...)
	sort.Float64s(sorted)

	median := stat.Quantile(0.5, stat.LinInterp, sorted, nil)
	q1 := stat.Quantile(0.25, stat.LinInterp, sorted, nil)
	q3 := stat.Quantile(0.75, stat.LinInterp, sorted, nil)
	scale := (q3 - q1) / iqrToSigma

	if degenerate(scale, median) {
		// Fall back to the standard deviation around the median.
		_, scale = meanStd(f)
	}
	return zFromScores(standardize(f, median, scale))
}

func rankMasses(f []float64) []float64 {
	n := len(f)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return f[order[a]] < f[order[b]] })

	m := make([]float64, n)
	for rank, idx := range order {
		m[idx] = 1 - float64(rank)/float64(n)
	}
	return m
}

func sigmoidMasses(f []float64, scale float64) []float64 {
	mean, std := meanStd(f)
	z := standardize(f, mean, std)

	m := make([]float64, len(f))
	for i, v := range z {
		m[i] = 1 / (1 + math.Exp(scale*v))
	}
	return m
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
