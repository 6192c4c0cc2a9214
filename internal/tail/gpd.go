// Package tail fits a Generalized Pareto Distribution to threshold
// exceedances and turns the fit into a decision boundary.
//
// The functions are pure and safe for concurrent use.
package tail

import (
	"math"
)

// Side selects the tail a boundary belongs to.
type Side int

const (
	// Up is the right tail: boundaries lie above the initial threshold.
	Up Side = iota
	// Down is the left tail: boundaries lie below the initial threshold.
	Down
)

func (s Side) String() string {
	if s == Down {
		return "down"
	}
	return "up"
}

// Fit is a GPD fit over a set of peaks.
type Fit struct {
	Gamma         float64
	Sigma         float64
	LogLikelihood float64
}

// LogLikelihood returns the GPD log-likelihood of peaks for (gamma, sigma).
// It returns NaN when the parameters put a peak outside the support.
func LogLikelihood(peaks []float64, gamma, sigma float64) float64 {
	n := float64(len(peaks))
	if sigma <= 0 || n == 0 {
		return math.NaN()
	}
	if gamma == 0 {
		// exponential case: sum(y)/sigma with sigma = mean gives n
		var sum float64
		for _, y := range peaks {
			sum += y
		}
		return -n*math.Log(sigma) - sum/sigma
	}

	tau := gamma / sigma
	var acc float64
	for _, y := range peaks {
		s := 1 + tau*y
		if s <= 0 {
			return math.NaN()
		}
		acc += math.Log(s)
	}
	return -n*math.Log(sigma) - (1+1/gamma)*acc
}

// Quantile returns the boundary whose exceedance probability is risk, given
// a fit over nt peaks drawn from n observations. init is the threshold the
// peaks were measured from. Without peaks the boundary is init.
func Quantile(fit Fit, init float64, side Side, risk float64, n, nt int) float64 {
	if nt <= 0 || n <= 0 {
		return init
	}
	r := risk * float64(n) / float64(nt)

	var delta float64
	if fit.Gamma != 0 {
		delta = fit.Sigma / fit.Gamma * (math.Pow(r, -fit.Gamma) - 1)
	} else {
		delta = -fit.Sigma * math.Log(r)
	}

	if side == Down {
		return init - delta
	}
	return init + delta
}
