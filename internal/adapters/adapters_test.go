package adapters

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzzdr/euro-option-pricer/config"
	"github.com/rzzdr/euro-option-pricer/internal/volatility"
	"github.com/rzzdr/euro-option-pricer/pkg/metrics"
	"github.com/rzzdr/euro-option-pricer/pkg/models"
	"github.com/rzzdr/euro-option-pricer/pkg/utils/errors"
	"github.com/rzzdr/euro-option-pricer/pkg/utils/logger"
)

func init() {
	logger.UseNop()
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Chdir(t.TempDir())
	cfg, err := config.Load("")
	require.NoError(t, err)

	cfg.Data.Source = "sample"
	cfg.Data.SampleTickers = []string{"SPY"}
	cfg.Rates.Dir = t.TempDir()
	cfg.Pricing.Simulations = 2000
	cfg.Pricing.Workers = 4
	return cfg
}

func TestPipelineOptions(t *testing.T) {
	cfg := testConfig(t)
	cfg.Volatility.Mode = "MLE"
	cfg.Pricing.StepsPerYear = 0
	cfg.Volatility.MLEDtDays = 250
	cfg.Volatility.MLEAnnualizationDays = 0

	opts, err := PipelineOptions(cfg)
	require.NoError(t, err)
	assert.Equal(t, 2000, opts.Simulations)
	assert.Equal(t, 365, opts.StepsPerYear)
	assert.Equal(t, volatility.ModeMLE, opts.VolatilityMode)
	assert.Equal(t, 250, opts.MLEStepDays)
	assert.Equal(t, 365, opts.MLEAnnualDays)
	assert.Equal(t, time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC), opts.HistoryStart)
	assert.Equal(t, "AU-10", opts.RateDataset)

	cfg.Pricing.HistoryEnd = "30/03/2025"
	_, err = PipelineOptions(cfg)
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidInput))
}

func TestBuildAndPrice(t *testing.T) {
	cfg := testConfig(t)
	c, err := Build(context.Background(), cfg, metrics.NewRecorder(), false)
	require.NoError(t, err)
	defer c.Close()

	vol, rate := 0.2, 0.04
	res, err := c.Pipeline.Price(context.Background(), models.PricingRequest{
		Ticker:        "SPY",
		ValuationDate: time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC),
		TTEDays:       30,
		Strike:        150,
		Overrides:     models.Overrides{Volatility: &vol, RiskFreeRate: &rate},
	})
	require.NoError(t, err)
	assert.Equal(t, 2000, res.Simulations)
	assert.Greater(t, res.CallPrice+res.PutPrice, 0.0)

	stats := c.Breakers.GetBreakerStats()
	assert.Contains(t, stats, "prices")
	assert.Contains(t, stats, "rates")
	assert.Equal(t, models.ProcessGeometric, c.DefaultProcess)

	require.NotNil(t, c.Admission)
	admission := c.Admission.Stats()
	assert.Equal(t, int64(1), admission.Admitted)
	assert.Equal(t, int64(0), admission.InFlight)
}

func TestBuildMissingRateDataset(t *testing.T) {
	cfg := testConfig(t)
	c, err := Build(context.Background(), cfg, nil, false)
	require.NoError(t, err)

	_, err = c.Pipeline.Price(context.Background(), models.PricingRequest{
		Ticker:        "SPY",
		ValuationDate: time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC),
		TTEDays:       30,
		Strike:        150,
	})
	assert.True(t, errors.IsType(err, errors.ErrorTypeDataUnavailable))
}

func TestBuildRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(cfg *config.Config)
		publish bool
	}{
		{"unknown data source", func(cfg *config.Config) { cfg.Data.Source = "ftp" }, false},
		{"unknown rates source", func(cfg *config.Config) { cfg.Rates.Source = "http" }, false},
		{"s3 without bucket", func(cfg *config.Config) { cfg.Rates.Source = "s3" }, false},
		{"unknown volatility mode", func(cfg *config.Config) { cfg.Volatility.Mode = "garch" }, false},
		{"unknown process", func(cfg *config.Config) { cfg.Pricing.Process = "heston" }, false},
		{"unknown kafka codec", func(cfg *config.Config) { cfg.Kafka.Codec = "avro" }, true},
		{"unknown admission strategy", func(cfg *config.Config) { cfg.Admission.Strategy = "drop" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(cfg)
			_, err := Build(context.Background(), cfg, nil, tt.publish)
			assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidInput), "got %v", err)
		})
	}
}

func TestBreakerConfig(t *testing.T) {
	bc := BreakerConfig(config.BreakerConfig{MaxFailures: 3}, nil)
	assert.Equal(t, 3, bc.MaxFailures)
	assert.Equal(t, time.Minute, bc.Timeout)
	require.NotNil(t, bc.OnStateChange)
	assert.NotPanics(t, func() { bc.OnStateChange("prices", 0, 2) })
}
