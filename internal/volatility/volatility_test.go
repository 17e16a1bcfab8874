package volatility

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzzdr/euro-option-pricer/pkg/utils/errors"
	"github.com/rzzdr/euro-option-pricer/pkg/utils/logger"
)

func init() {
	logger.UseNop()
}

// gbmReturns draws n daily log returns of a GBM with the given parameters
func gbmReturns(seed uint64, n int, mu, sigma, dt float64) []float64 {
	rng := rand.New(rand.NewPCG(seed, seed+1))
	out := make([]float64, n)
	for i := range out {
		out[i] = (mu-0.5*sigma*sigma)*dt + sigma*math.Sqrt(dt)*rng.NormFloat64()
	}
	return out
}

func TestLogReturns(t *testing.T) {
	r, err := LogReturns([]float64{100, 110, 99})
	require.NoError(t, err)
	require.Len(t, r, 2)
	assert.InDelta(t, math.Log(1.1), r[0], 1e-15)
	assert.InDelta(t, math.Log(0.9), r[1], 1e-15)

	_, err = LogReturns([]float64{100})
	assert.True(t, errors.IsType(err, errors.ErrorTypeDataUnavailable))

	_, err = LogReturns([]float64{100, 0, 10})
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidInput))
}

func TestHistoricalUsesPopulationStd(t *testing.T) {
	r := []float64{0.01, -0.01, 0.01, -0.01}
	assert.InDelta(t, 0.01*math.Sqrt(365), Historical(r, 365), 1e-12)
	assert.Zero(t, Historical(nil, 252))
}

func TestNegLogLikelihoodBounds(t *testing.T) {
	r := []float64{0.01, -0.02, 0.005}
	assert.True(t, math.IsInf(NegLogLikelihood(0, 0, r, 1.0/365, 1), 1))
	assert.True(t, math.IsInf(NegLogLikelihood(0, 1.5, r, 1.0/365, 1), 1))
	assert.False(t, math.IsInf(NegLogLikelihood(0, 0.5, r, 1.0/365, 1), 0))
}

func TestMLERecoversDriftAndVolatility(t *testing.T) {
	const (
		n     = 5000
		mu    = 0.08
		sigma = 0.3
		dt    = 1.0 / 252
	)
	r := gbmReturns(7, n, mu, sigma, dt)

	est, err := NewMLEEstimator(252).Estimate(r, dt)
	require.NoError(t, err)

	assert.InDelta(t, sigma, est.FittedVolatility, 0.015)
	assert.InDelta(t, sigma, est.HistoricalVolatility, 0.015)
	// Drift is only known to sigma/sqrt(n*dt) from n*dt years of data
	assert.InDelta(t, mu, est.Drift, 3*sigma/math.Sqrt(n*dt))
	assert.InDelta(t, 0.5*(est.FittedVolatility+est.HistoricalVolatility), est.Volatility, 1e-12)
}

func TestMLEStepDiffersFromAnnualisation(t *testing.T) {
	const (
		sigma = 0.3
		dt    = 1.0 / 252
	)
	r := gbmReturns(21, 750, 0.05, sigma, dt)

	est, err := NewMLEEstimator(365).Estimate(r, dt)
	require.NoError(t, err)

	assert.InDelta(t, sigma*math.Sqrt(365.0/252), est.HistoricalVolatility, 0.03)
	assert.InDelta(t, sigma, est.FittedVolatility, 0.03)
	assert.Less(t, est.Volatility, est.HistoricalVolatility-0.01)
}

func TestMLEStartsInsideFeasibleBand(t *testing.T) {
	// Historical volatility around 0.05 puts 0.25 outside (0, 2h]
	r := gbmReturns(9, 1000, 0.02, 0.05, 1.0/365)

	est, err := NewMLEEstimator(365).Estimate(r, 1.0/365)
	require.NoError(t, err)
	assert.Greater(t, est.FittedVolatility, 0.0)
	assert.LessOrEqual(t, est.FittedVolatility, 2*est.HistoricalVolatility)
	assert.InDelta(t, est.HistoricalVolatility, est.FittedVolatility, 5e-3)
}

func TestMLEFailures(t *testing.T) {
	e := NewMLEEstimator(0)

	_, err := e.Estimate([]float64{0.01}, 1.0/365)
	assert.True(t, errors.IsType(err, errors.ErrorTypeDataUnavailable))

	_, err = e.Estimate([]float64{0, 0, 0, 0}, 1.0/365)
	assert.True(t, errors.IsType(err, errors.ErrorTypeOptimizationFailure))

	_, err = e.Estimate([]float64{0.01, -0.01}, 0)
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidInput))
}

func TestDatasetShapes(t *testing.T) {
	r := gbmReturns(1, 200, 0, 0.2, 1.0/252)
	x, y := Dataset(r, 252)

	require.Len(t, x, 200-126)
	require.Len(t, y, len(x))
	assert.Len(t, x[0], 6)
	assert.Equal(t, 1.0, x[0][0])

	// Row 0 is t=126: the one-day feature is the previous return
	assert.InDelta(t, r[125], x[0][1], 1e-15)
	for _, v := range y {
		assert.Greater(t, v, 0.0)
	}
}

func TestRegressionPredict(t *testing.T) {
	r := gbmReturns(3, 800, 0.05, 0.25, 1.0/252)
	p := NewRegressionPredictor(RegressionConfig{Seed: 17})

	res, err := p.Predict(r)
	require.NoError(t, err)

	assert.InDelta(t, 0.25, res.Historical, 0.03)
	assert.InDelta(t, 0.5*(res.Predicted+res.Historical), res.Volatility, 1e-12)
	assert.InDelta(t, 0.25, res.Predicted, 0.15)
	assert.Equal(t, 800-126, res.TrainRows+res.TestRows)
	assert.Equal(t, int(math.Ceil(0.2*float64(800-126))), res.TestRows)
	assert.GreaterOrEqual(t, res.TestRMSE, 0.0)

	again, err := p.Predict(r)
	require.NoError(t, err)
	assert.Equal(t, res.Predicted, again.Predicted)
}

func TestRegressionNeedsHistory(t *testing.T) {
	r := gbmReturns(5, 130, 0, 0.2, 1.0/252)
	_, err := NewRegressionPredictor(RegressionConfig{}).Predict(r)
	assert.True(t, errors.IsType(err, errors.ErrorTypeDataUnavailable))
}

func TestParseModeAndCombine(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeBlend, m)
	assert.True(t, m.UsesMLE())
	assert.True(t, m.UsesRegression())
	assert.InDelta(t, 0.25, m.Combine(0.2, 0.3), 1e-15)

	m, err = ParseMode("Regression")
	require.NoError(t, err)
	assert.False(t, m.UsesMLE())
	assert.Equal(t, 0.3, m.Combine(0.2, 0.3))

	_, err = ParseMode("garch")
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidInput))
}
