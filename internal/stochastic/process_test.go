package stochastic

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"

	"github.com/rzzdr/euro-option-pricer/pkg/models"
	"github.com/rzzdr/euro-option-pricer/pkg/utils/errors"
)

func TestStepCount(t *testing.T) {
	tests := []struct {
		name string
		T    float64
		dt   float64
		want int
	}{
		{"quarterly steps over a year", 1.0, 0.25, 3},
		{"remainder is dropped", 1.0, 0.3, 3},
		{"single step horizon", 0.25, 0.25, 0},
		{"zero horizon", 0, 0.25, 0},
		{"daily steps over a year", 1.0, 1.0 / 365, 365},
		{"invalid dt", 1.0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StepCount(tt.T, tt.dt))
		})
	}
}

func TestStateStepIsPure(t *testing.T) {
	s := State{Kind: models.ProcessGeometric, Price: 100, Drift: 0.05, Volatility: 0.2, Dt: 0.25}
	next := s.Step(0)

	assert.Equal(t, 100.0, s.Price)
	assert.InDelta(t, 100*math.Exp((0.05-0.02)*0.25), next.Price, 1e-12)

	abm := State{Kind: models.ProcessArithmetic, Price: 10, Drift: 2, Volatility: 1, Dt: 0.25}
	assert.InDelta(t, 10+0.5+0.5, abm.Step(1).Price, 1e-12)
}

func TestGeneratePathLength(t *testing.T) {
	g, err := NewGenerator(models.ProcessGeometric, Params{Drift: 0.05, Volatility: 0.2, Dt: 0.25})
	require.NoError(t, err)

	path, err := g.Generate(rand.New(rand.NewPCG(1, 2)), 100, 1.0)
	require.NoError(t, err)
	assert.Len(t, path, 4)
	assert.Equal(t, 100.0, path[0])
}

func TestGBMLogMoments(t *testing.T) {
	const (
		mu    = 0.05
		sigma = 0.2
		dt    = 1.0 / 52
		n     = 20000
	)
	g, err := NewGenerator(models.ProcessGeometric, Params{Drift: mu, Volatility: sigma, Dt: dt})
	require.NoError(t, err)

	rng := rand.New(rand.NewPCG(42, 7))
	logRet := make([]float64, n)
	for i := range logRet {
		path, err := g.Generate(rng, 100, 1.0)
		require.NoError(t, err)
		logRet[i] = math.Log(path[len(path)-1] / 100)
	}

	horizon := float64(StepCount(1.0, dt)) * dt
	mean, variance := stat.MeanVariance(logRet, nil)
	assert.InDelta(t, (mu-0.5*sigma*sigma)*horizon, mean, 0.01)
	assert.InDelta(t, sigma*sigma*horizon, variance, 0.003)
}

func TestABMMoments(t *testing.T) {
	const (
		mu    = 1.0
		sigma = 2.0
		dt    = 0.1
		n     = 20000
	)
	g, err := NewGenerator(models.ProcessArithmetic, Params{Drift: mu, Volatility: sigma, Dt: dt})
	require.NoError(t, err)

	rng := rand.New(rand.NewPCG(3, 4))
	diffs := make([]float64, n)
	for i := range diffs {
		path, err := g.Generate(rng, 50, 1.0)
		require.NoError(t, err)
		diffs[i] = path[len(path)-1] - 50
	}

	horizon := float64(StepCount(1.0, dt)) * dt
	mean, variance := stat.MeanVariance(diffs, nil)
	assert.InDelta(t, mu*horizon, mean, 0.1)
	assert.InDelta(t, sigma*sigma*horizon, variance, 0.25)
}

func TestZeroVolatilityIsDeterministic(t *testing.T) {
	g, err := NewGenerator(models.ProcessGeometric, Params{Drift: 0.1, Volatility: 0, Dt: 0.5})
	require.NoError(t, err)

	path, err := g.Generate(rand.New(rand.NewPCG(1, 1)), 100, 2.0)
	require.NoError(t, err)
	require.Len(t, path, 4)
	assert.InDelta(t, 100*math.Exp(0.1*1.5), path[3], 1e-9)
}

func TestGeneratorValidation(t *testing.T) {
	tests := []struct {
		name   string
		kind   models.ProcessKind
		params Params
	}{
		{"zero dt", models.ProcessGeometric, Params{Volatility: 0.2}},
		{"negative dt", models.ProcessArithmetic, Params{Volatility: 0.2, Dt: -1}},
		{"negative volatility", models.ProcessGeometric, Params{Volatility: -0.1, Dt: 0.1}},
		{"unknown kind", models.ProcessKind(9), Params{Volatility: 0.1, Dt: 0.1}},
		{"mmar too few steps", models.ProcessMultifractal, Params{Volatility: 0.1, Dt: 0.1, Steps: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewGenerator(tt.kind, tt.params)
			assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidInput), "got %v", err)

			_, err = Generator{Kind: tt.kind, Params: tt.params}.Generate(rand.New(rand.NewPCG(1, 1)), 100, 1)
			assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidInput), "got %v", err)
		})
	}
}
