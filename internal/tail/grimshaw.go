package tail

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"
)

const (
	// gridPoints is the number of seeds per search interval.
	gridPoints = 10
	// epsilon keeps the left interval off its singular ends.
	epsilon = 1e-8
	// rootDecimals is the rounding used to deduplicate roots.
	rootDecimals = 5
)

// Grimshaw fits a GPD to peaks by maximum likelihood.
//
// Candidate shape/scale pairs are derived from the roots of Grimshaw's
// stationarity equation w(t) = u(t)v(t) - 1, searched in two intervals:
// (-1/max(peaks), 0) and a positive interval derived from the ratio of the
// mean to the minimum peak. The exponential fit (gamma = 0, sigma = mean)
// is always a candidate; the candidate with the highest log-likelihood is
// returned. Empty input yields the zero Fit.
func Grimshaw(peaks []float64) Fit {
	if len(peaks) == 0 {
		return Fit{}
	}

	ymin := floats.Min(peaks)
	ymax := floats.Max(peaks)
	ymean := stat.Mean(peaks, nil)

	best := Fit{Gamma: 0, Sigma: ymean, LogLikelihood: LogLikelihood(peaks, 0, ymean)}
	if ymax <= 0 {
		return best
	}

	a := -1 / ymax
	eps := epsilon
	if math.Abs(a) < 2*eps {
		eps = math.Abs(a) / gridPoints
	}
	a += eps
	b := 2 * (ymean - ymin) / (ymean * ymin)
	c := 2 * (ymean - ymin) / (ymin * ymin)

	w := func(t float64) float64 { return stationarity(peaks, t) }
	dw := func(t float64) float64 { return stationarityDerivative(peaks, t) }

	roots := findRoots(w, dw, a+eps, -eps)
	roots = append(roots, findRoots(w, dw, b, c)...)

	for _, z := range dedupe(roots) {
		if z == 0 {
			continue
		}
		gamma := u(peaks, z) - 1
		sigma := gamma / z
		ll := LogLikelihood(peaks, gamma, sigma)
		if math.IsNaN(ll) || math.IsInf(ll, 0) {
			continue
		}
		if ll > best.LogLikelihood || math.IsNaN(best.LogLikelihood) {
			best = Fit{Gamma: gamma, Sigma: sigma, LogLikelihood: ll}
		}
	}
	return best
}

// u(t) = 1 + mean(log(1 + tY))
func u(peaks []float64, t float64) float64 {
	var acc float64
	for _, y := range peaks {
		acc += math.Log(1 + t*y)
	}
	return 1 + acc/float64(len(peaks))
}

// v(t) = mean(1 / (1 + tY))
func v(peaks []float64, t float64) float64 {
	var acc float64
	for _, y := range peaks {
		acc += 1 / (1 + t*y)
	}
	return acc / float64(len(peaks))
}

func stationarity(peaks []float64, t float64) float64 {
	return u(peaks, t)*v(peaks, t) - 1
}

func stationarityDerivative(peaks []float64, t float64) float64 {
	n := float64(len(peaks))
	var logAcc, invAcc, inv2Acc float64
	for _, y := range peaks {
		s := 1 + t*y
		logAcc += math.Log(s)
		invAcc += 1 / s
		inv2Acc += 1 / (s * s)
	}
	us := 1 + logAcc/n
	vs := invAcc / n
	jacU := (1 - vs) / t
	jacV := (-vs + inv2Acc/n) / t
	return us*jacV + vs*jacU
}

// findRoots minimises sum(f(x_i)^2) over a regular grid of seeds inside
// (lo, hi) with L-BFGS. The box constraint is enforced by optimising the
// logit of each coordinate.
func findRoots(f, df func(float64) float64, lo, hi float64) []float64 {
	if !(lo < hi) || math.IsInf(lo, 0) || math.IsInf(hi, 0) || math.IsNaN(lo) || math.IsNaN(hi) {
		return nil
	}
	width := hi - lo

	toX := func(z float64) float64 { return lo + width*sigmoid(z) }

	z0 := make([]float64, gridPoints)
	for i := range z0 {
		p := float64(i+1) / float64(gridPoints+1)
		z0[i] = math.Log(p / (1 - p))
	}

	problem := optimize.Problem{
		Func: func(z []float64) float64 {
			var sum float64
			for _, zi := range z {
				fx := f(toX(zi))
				sum += fx * fx
			}
			return sum
		},
		Grad: func(grad, z []float64) {
			for i, zi := range z {
				s := sigmoid(zi)
				x := lo + width*s
				grad[i] = 2 * f(x) * df(x) * width * s * (1 - s)
			}
		},
	}

	settings := &optimize.Settings{
		GradientThreshold: 1e-12,
		MajorIterations:   200,
	}
	// On a stalled line search Minimize still reports the best location.
	result, _ := optimize.Minimize(problem, z0, settings, &optimize.LBFGS{})
	if result == nil {
		return nil
	}

	roots := make([]float64, 0, len(result.X))
	for _, zi := range result.X {
		x := toX(zi)
		if math.IsNaN(x) || math.IsInf(x, 0) {
			continue
		}
		roots = append(roots, x)
	}
	return roots
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

func dedupe(xs []float64) []float64 {
	scale := math.Pow(10, rootDecimals)
	seen := make(map[float64]struct{}, len(xs))
	out := make([]float64, 0, len(xs))
	for _, x := range xs {
		r := math.Round(x*scale) / scale
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	sort.Float64s(out)
	return out
}
