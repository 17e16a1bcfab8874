package volatility

import (
	"math"

	"gonum.org/v1/gonum/optimize"

	"github.com/rzzdr/euro-option-pricer/pkg/models"
	"github.com/rzzdr/euro-option-pricer/pkg/utils/errors"
	"github.com/rzzdr/euro-option-pricer/pkg/utils/logger"
)

const (
	minSigma       = 1e-6
	initialDrift   = 0.05
	initialSigma   = 0.25
	maxEvaluations = 20000
)

// MLEEstimator fits drift and volatility of a geometric Brownian motion to
// observed log returns by maximum likelihood. The fitted volatility is bounded
// by twice the historical volatility and reported blended with it.
type MLEEstimator struct {
	annualizationDays int
	log               *logger.Logger
}

// NewMLEEstimator creates an estimator whose historical volatility is
// annualised with annualizationDays (365 when zero)
func NewMLEEstimator(annualizationDays int) *MLEEstimator {
	if annualizationDays <= 0 {
		annualizationDays = 365
	}
	return &MLEEstimator{
		annualizationDays: annualizationDays,
		log:               logger.GetLogger("volatility.mle"),
	}
}

// NegLogLikelihood of (mu, sigma) for returns sampled every dt years.
// It is +Inf outside minSigma < sigma <= upper.
func NegLogLikelihood(mu, sigma float64, logReturns []float64, dt, upper float64) float64 {
	if sigma <= minSigma || sigma > upper {
		return math.Inf(1)
	}
	n := float64(len(logReturns))
	variance := sigma * sigma * dt
	mean := (mu - 0.5*sigma*sigma) * dt

	var sq float64
	for _, r := range logReturns {
		d := r - mean
		sq += d * d
	}
	return 0.5*n*math.Log(2*math.Pi*variance) + sq/(2*variance)
}

// Estimate fits the model to logReturns observed every dt years
func (e *MLEEstimator) Estimate(logReturns []float64, dt float64) (models.VolatilityEstimate, error) {
	if len(logReturns) < 2 {
		return models.VolatilityEstimate{}, errors.DataUnavailablef("need at least 2 returns for likelihood fit, got %d", len(logReturns))
	}
	if !(dt > 0) {
		return models.VolatilityEstimate{}, errors.InvalidInputf("time step must be positive, got %v", dt)
	}

	hist := Historical(logReturns, e.annualizationDays)
	upper := 2 * hist
	if !(upper > minSigma) {
		return models.VolatilityEstimate{}, errors.OptimizationFailure("no feasible volatility", errors.New("historical volatility is zero"))
	}

	start := []float64{initialDrift, initialSigma}
	if start[1] >= upper {
		start[1] = hist
	}

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			return NegLogLikelihood(x[0], x[1], logReturns, dt, upper)
		},
	}
	settings := &optimize.Settings{FuncEvaluations: maxEvaluations}

	res, err := optimize.Minimize(problem, start, settings, &optimize.NelderMead{})
	if err != nil {
		return models.VolatilityEstimate{}, errors.OptimizationFailure("likelihood minimisation failed", err)
	}
	if res.Status.Early() {
		return models.VolatilityEstimate{}, errors.OptimizationFailure("likelihood minimisation did not converge", res.Status.Err())
	}

	mu, sigma := res.X[0], res.X[1]
	if math.IsNaN(mu) || math.IsInf(mu, 0) || math.IsInf(res.F, 0) || math.IsNaN(res.F) {
		return models.VolatilityEstimate{}, errors.OptimizationFailure("likelihood optimum is not finite", nil)
	}

	e.log.Debugf("MLE fit mu=%.6f sigma=%.6f hist=%.6f after %d evaluations (%v)", mu, sigma, hist, res.FuncEvaluations, res.Status)

	return models.VolatilityEstimate{
		Drift:                mu,
		Volatility:           0.5 * (sigma + hist),
		FittedVolatility:     sigma,
		HistoricalVolatility: hist,
	}, nil
}
