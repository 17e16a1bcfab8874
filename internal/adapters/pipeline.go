package adapters

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/rzzdr/euro-option-pricer/config"
	"github.com/rzzdr/euro-option-pricer/internal/pipeline"
	"github.com/rzzdr/euro-option-pricer/internal/rates"
	"github.com/rzzdr/euro-option-pricer/internal/volatility"
	"github.com/rzzdr/euro-option-pricer/pkg/metrics"
	"github.com/rzzdr/euro-option-pricer/pkg/models"
	"github.com/rzzdr/euro-option-pricer/pkg/utils/backpressure"
	"github.com/rzzdr/euro-option-pricer/pkg/utils/circuit"
	"github.com/rzzdr/euro-option-pricer/pkg/utils/errors"
	"github.com/rzzdr/euro-option-pricer/pkg/utils/logger"
)

// Components is a fully wired pricing stack
type Components struct {
	Pipeline       *pipeline.Pipeline
	Forecaster     *rates.Forecaster
	Breakers       *circuit.Manager
	Admission      *backpressure.Controller // nil when admission is disabled
	DefaultProcess models.ProcessKind
	closers        []func() error
}

// Close releases the cache and publisher connections
func (c *Components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

func parseConfigDate(key, s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation(time.DateOnly, s, time.UTC)
	if err != nil {
		return time.Time{}, errors.InvalidInputf("%s must be YYYY-MM-DD, got %q", key, s)
	}
	return t, nil
}

// PipelineOptions derives pipeline options from configuration
func PipelineOptions(cfg *config.Config) (pipeline.Options, error) {
	opts := pipeline.DefaultOptions()

	mode, err := volatility.ParseMode(cfg.Volatility.Mode)
	if err != nil {
		return opts, err
	}
	start, err := parseConfigDate("pricing.history_start", cfg.Pricing.HistoryStart)
	if err != nil {
		return opts, err
	}
	end, err := parseConfigDate("pricing.history_end", cfg.Pricing.HistoryEnd)
	if err != nil {
		return opts, err
	}

	setPositive(&opts.Simulations, cfg.Pricing.Simulations)
	setPositive(&opts.Workers, cfg.Pricing.Workers)
	setPositive(&opts.StepsPerYear, cfg.Pricing.StepsPerYear)
	setPositive(&opts.DaysPerYear, cfg.Pricing.DaysPerYear)
	setPositive(&opts.MMARSteps, cfg.Pricing.MMARSteps)
	setPositive(&opts.MMARDepth, cfg.Pricing.MMARDepth)
	setPositive(&opts.MLEStepDays, cfg.Volatility.MLEDtDays)
	setPositive(&opts.MLEAnnualDays, cfg.Volatility.MLEAnnualizationDays)
	opts.Seed = cfg.Pricing.Seed
	if cfg.Pricing.RateDataset != "" {
		opts.RateDataset = cfg.Pricing.RateDataset
	}
	if !start.IsZero() {
		opts.HistoryStart = start
	}
	if !end.IsZero() {
		opts.HistoryEnd = end
	}
	opts.VolatilityMode = mode
	opts.Regression = volatility.RegressionConfig{
		TradingDays:  cfg.Volatility.TradingDaysPerYear,
		TestFraction: cfg.Volatility.RegressionTestFraction,
		Seed:         cfg.Volatility.RegressionSeed,
	}
	return opts, nil
}

func setPositive(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

// ForecasterConfig converts the rates section into forecaster settings
func ForecasterConfig(cfg config.RatesConfig) rates.Config {
	model := rates.DefaultModelConfig()
	if cfg.Cap > 0 {
		model.Cap = cfg.Cap
	}
	if cfg.ChangepointPriorScale > 0 {
		model.ChangepointPriorScale = cfg.ChangepointPriorScale
	}
	return rates.Config{Model: model, HorizonDays: cfg.HorizonDays}
}

// NewAdmission builds the simulation budget shared by all pricing runs
func NewAdmission(cfg config.AdmissionConfig) (*backpressure.Controller, error) {
	strategy, err := backpressure.ParseStrategy(cfg.Strategy)
	if err != nil {
		return nil, err
	}
	return backpressure.NewController(backpressure.Config{
		Name:           "simulations",
		Strategy:       strategy,
		MaxSimulations: cfg.MaxSimulations,
		Rate:           cfg.Rate,
		Burst:          cfg.Burst,
	}), nil
}

// Build wires providers, the rate forecaster and the pipeline from
// configuration. publish attaches a Kafka publisher regardless of
// kafka.enabled.
func Build(ctx context.Context, cfg *config.Config, recorder *metrics.Recorder, publish bool) (*Components, error) {
	log := logger.GetLogger("adapters")

	opts, err := PipelineOptions(cfg)
	if err != nil {
		return nil, err
	}
	process := models.ProcessGeometric
	if cfg.Pricing.Process != "" {
		if process, err = models.ParseProcessKind(cfg.Pricing.Process); err != nil {
			return nil, err
		}
	}

	c := &Components{Breakers: circuit.NewManager(), DefaultProcess: process}

	prices, closePrices, err := NewPriceProvider(ctx, cfg, c.Breakers, recorder)
	if err != nil {
		return nil, err
	}
	c.closers = append(c.closers, closePrices)

	yields, err := NewYieldSource(ctx, cfg, c.Breakers, recorder)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	c.Forecaster = rates.NewForecaster(yields, ForecasterConfig(cfg.Rates), recorder)
	c.Pipeline = pipeline.New(prices, c.Forecaster, opts, recorder)

	if cfg.Admission.Enabled {
		admission, err := NewAdmission(cfg.Admission)
		if err != nil {
			_ = c.Close()
			return nil, err
		}
		c.Admission = admission
		c.Pipeline.SetAdmission(admission)
	}

	if publish || cfg.Kafka.Enabled {
		publisher, err := NewResultPublisher(cfg.Kafka, recorder)
		if err != nil {
			_ = c.Close()
			return nil, err
		}
		c.Pipeline.AddPublisher(publisher)
		c.closers = append(c.closers, publisher.Close)
		log.Infof("Publishing results to %s (%s)", cfg.Kafka.Topic, cfg.Kafka.Codec)
	}

	log.Infof("Pricing stack ready: data=%s rates=%s redis=%t volatility=%s",
		cfg.Data.Source, cfg.Rates.Source, cfg.Redis.Enabled, opts.VolatilityMode)
	return c, nil
}
