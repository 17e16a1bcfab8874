package stochastic

import (
	"math"
	"math/rand/v2"

	"github.com/rzzdr/euro-option-pricer/pkg/models"
	"github.com/rzzdr/euro-option-pricer/pkg/utils/errors"
)

const (
	DefaultMMARSteps    = 252
	DefaultCascadeDepth = 8
)

// Params holds the coefficients shared by every process.
// Steps and CascadeDepth are only read by the multifractal model.
type Params struct {
	Drift        float64
	Volatility   float64
	Dt           float64
	Steps        int
	CascadeDepth int
}

// State is a single point of a simulated path
type State struct {
	Kind       models.ProcessKind
	Price      float64
	Drift      float64
	Volatility float64
	Dt         float64
}

// Step returns the state one increment later given a standard normal draw z.
// The receiver is not modified.
func (s State) Step(z float64) State {
	dW := math.Sqrt(s.Dt) * z
	next := s
	switch s.Kind {
	case models.ProcessArithmetic:
		next.Price = s.Price + s.Drift*s.Dt + s.Volatility*dW
	default:
		next.Price = s.Price * math.Exp((s.Drift-0.5*s.Volatility*s.Volatility)*s.Dt+s.Volatility*dW)
	}
	return next
}

// Generator produces price paths for one process. It holds no mutable state
// and can be shared between goroutines; randomness comes from the caller.
type Generator struct {
	Kind   models.ProcessKind
	Params Params
}

// NewGenerator validates params for kind and returns a Generator.
// Zero MMAR settings are replaced by the defaults.
func NewGenerator(kind models.ProcessKind, params Params) (Generator, error) {
	if kind == models.ProcessMultifractal {
		if params.Steps == 0 {
			params.Steps = DefaultMMARSteps
		}
		if params.CascadeDepth == 0 {
			params.CascadeDepth = DefaultCascadeDepth
		}
	}
	g := Generator{Kind: kind, Params: params}
	if err := g.Validate(); err != nil {
		return Generator{}, err
	}
	return g, nil
}

// Validate reports an InvalidInput error when the parameters cannot produce a path
func (g Generator) Validate() error {
	p := g.Params
	if !(p.Dt > 0) {
		return errors.InvalidInputf("time step must be positive, got %v", p.Dt)
	}
	if p.Volatility < 0 || math.IsNaN(p.Volatility) {
		return errors.InvalidInputf("volatility must be non-negative, got %v", p.Volatility)
	}
	switch g.Kind {
	case models.ProcessArithmetic, models.ProcessGeometric:
	case models.ProcessMultifractal:
		if p.Steps < 2 {
			return errors.InvalidInputf("multifractal model needs at least 2 steps, got %d", p.Steps)
		}
		if p.CascadeDepth < 0 {
			return errors.InvalidInputf("cascade depth must be non-negative, got %d", p.CascadeDepth)
		}
	default:
		return errors.InvalidInputf("unsupported process %v", g.Kind)
	}
	return nil
}

// String returns the short name of the process
func (g Generator) String() string {
	return g.Kind.String()
}

// StepCount returns how many increments fit strictly inside T. A trailing
// remainder shorter than one dt is not simulated.
func StepCount(T, dt float64) int {
	if !(dt > 0) {
		return 0
	}
	n := 0
	for remaining := T; remaining-dt > 0; remaining -= dt {
		n++
	}
	return n
}

// Generate simulates one path starting at s0 and covering T years.
// The returned slice starts with s0. Multifractal paths always hold
// Params.Steps points regardless of T.
func (g Generator) Generate(rng *rand.Rand, s0, T float64) ([]float64, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}

	if g.Kind == models.ProcessMultifractal {
		if !(s0 > 0) {
			return nil, errors.InvalidInputf("multifractal model needs a positive initial price, got %v", s0)
		}
		return g.multifractalPath(rng, s0)
	}

	n := StepCount(T, g.Params.Dt)
	path := make([]float64, n+1)
	state := State{
		Kind:       g.Kind,
		Price:      s0,
		Drift:      g.Params.Drift,
		Volatility: g.Params.Volatility,
		Dt:         g.Params.Dt,
	}
	path[0] = s0
	for i := 1; i <= n; i++ {
		state = state.Step(rng.NormFloat64())
		path[i] = state.Price
	}
	return path, nil
}
