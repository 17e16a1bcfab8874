package stochastic

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/interp"

	"github.com/rzzdr/euro-option-pricer/pkg/utils/pools"
)

var scratch = pools.NewRegistry()

// cascadeWeights fills w with a binomial multiplicative cascade. Each level
// multiplies every weight by u or 1-u with u ~ U(0.2, 0.8).
func cascadeWeights(rng *rand.Rand, w []float64, depth int) {
	for i := range w {
		w[i] = 1
	}
	for level := 0; level < depth; level++ {
		for i := range w {
			u := 0.2 + 0.6*rng.Float64()
			if rng.Float64() < 0.5 {
				w[i] *= u
			} else {
				w[i] *= 1 - u
			}
		}
	}
}

// deformedTime turns cascade weights into trading time in place: the
// normalised cumulative weight scaled to steps*dt.
func deformedTime(w []float64, dt float64) {
	total := floats.Sum(w)
	floats.CumSum(w, w)
	floats.Scale(float64(len(w))*dt/total, w)
}

func (g Generator) multifractalPath(rng *rand.Rand, s0 float64) ([]float64, error) {
	p := g.Params
	n := p.Steps

	pool := scratch.For(n)
	returns := pool.Get()
	defer pool.Put(returns)
	clock := pool.Get()
	defer pool.Put(clock)

	drift := (p.Drift - 0.5*p.Volatility*p.Volatility) * p.Dt
	shock := p.Volatility * math.Sqrt(p.Dt)
	for i := range returns {
		returns[i] = drift + shock*rng.NormFloat64()
	}

	cascadeWeights(rng, clock, p.CascadeDepth)
	deformedTime(clock, p.Dt)

	// Keep a strictly increasing clock; ties keep their first return.
	m := 1
	for i := 1; i < n; i++ {
		if clock[i] > clock[m-1] {
			clock[m] = clock[i]
			returns[m] = returns[i]
			m++
		}
	}

	path := make([]float64, n)
	if m < 2 {
		for i := range path {
			path[i] = s0
		}
		return path, nil
	}

	var resample interp.PiecewiseLinear
	if err := resample.Fit(clock[:m], returns[:m]); err != nil {
		return nil, err
	}

	var logPrice float64
	for k := range path {
		logPrice += resample.Predict(float64(k) * p.Dt)
		path[k] = logPrice
	}

	shift := math.Log(s0) - path[0]
	for k := range path {
		path[k] = math.Exp(path[k] + shift)
	}
	return path, nil
}
