package pipeline

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rzzdr/euro-option-pricer/internal/kafka"
	"github.com/rzzdr/euro-option-pricer/internal/montecarlo"
	"github.com/rzzdr/euro-option-pricer/internal/rates"
	"github.com/rzzdr/euro-option-pricer/internal/risk"
	"github.com/rzzdr/euro-option-pricer/internal/stochastic"
	"github.com/rzzdr/euro-option-pricer/internal/store"
	"github.com/rzzdr/euro-option-pricer/internal/volatility"
	"github.com/rzzdr/euro-option-pricer/pkg/metrics"
	"github.com/rzzdr/euro-option-pricer/pkg/models"
	"github.com/rzzdr/euro-option-pricer/pkg/utils/backpressure"
	"github.com/rzzdr/euro-option-pricer/pkg/utils/errors"
	"github.com/rzzdr/euro-option-pricer/pkg/utils/logger"
)

// RateProvider returns the forecast rate window covering an option's life
type RateProvider interface {
	Window(ctx context.Context, dataset string, valuation time.Time, tteDays int) (models.RateWindow, error)
}

// Options holds the defaults and model settings of a Pipeline. Request fields
// left at their zero value take these.
type Options struct {
	Simulations    int
	Workers        int
	StepsPerYear   int // Monte Carlo time steps per year
	DaysPerYear    int // converts TTE days to years
	RateDataset    string
	HistoryStart   time.Time
	HistoryEnd     time.Time
	Seed           uint64
	VolatilityMode volatility.Mode
	MLEStepDays    int // observations per year, sets the MLE sampling step
	MLEAnnualDays  int // annualises the historical volatility of the MLE blend
	Regression     volatility.RegressionConfig
	MMARSteps      int
	MMARDepth      int
}

// DefaultOptions mirrors the shipped configuration
func DefaultOptions() Options {
	return Options{
		Simulations:    10000,
		Workers:        20,
		StepsPerYear:   365,
		DaysPerYear:    365,
		RateDataset:    rates.DefaultDataset,
		HistoryStart:   time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC),
		HistoryEnd:     time.Date(2025, 3, 30, 0, 0, 0, 0, time.UTC),
		VolatilityMode: volatility.ModeBlend,
		MLEStepDays:    252,
		MLEAnnualDays:  365,
		Regression:     volatility.RegressionConfig{TradingDays: 252, TestFraction: 0.2},
		MMARSteps:      stochastic.DefaultMMARSteps,
		MMARDepth:      stochastic.DefaultCascadeDepth,
	}
}

// Pipeline prices one option per call: history, volatility, rates,
// simulation, Greeks, then an optional publish
type Pipeline struct {
	prices     store.PriceProvider
	rates      RateProvider
	engine     *montecarlo.Engine
	mle        *volatility.MLEEstimator
	regression *volatility.RegressionPredictor
	greeks     *risk.GreeksCalculator
	publishers []kafka.ResultPublisher
	admission  *backpressure.Controller
	opts       Options
	metrics    *metrics.Recorder
	log        *logger.Logger
}

// Creates a new pricing pipeline. recorder may be nil.
func New(prices store.PriceProvider, rateProvider RateProvider, opts Options, recorder *metrics.Recorder) *Pipeline {
	def := DefaultOptions()
	if opts.StepsPerYear <= 0 {
		opts.StepsPerYear = def.StepsPerYear
	}
	if opts.DaysPerYear <= 0 {
		opts.DaysPerYear = def.DaysPerYear
	}
	if opts.VolatilityMode == "" {
		opts.VolatilityMode = def.VolatilityMode
	}
	if opts.RateDataset == "" {
		opts.RateDataset = def.RateDataset
	}
	if opts.MLEStepDays <= 0 {
		opts.MLEStepDays = def.MLEStepDays
	}
	if opts.MLEAnnualDays <= 0 {
		opts.MLEAnnualDays = def.MLEAnnualDays
	}

	return &Pipeline{
		prices:     prices,
		rates:      rateProvider,
		engine:     montecarlo.NewEngine(recorder),
		mle:        volatility.NewMLEEstimator(opts.MLEAnnualDays),
		regression: volatility.NewRegressionPredictor(opts.Regression),
		greeks:     risk.NewGreeksCalculator(),
		opts:       opts,
		metrics:    recorder,
		log:        logger.GetLogger("pipeline"),
	}
}

// AddPublisher attaches a downstream publisher for priced results. Call it
// before the pipeline serves requests.
func (p *Pipeline) AddPublisher(publisher kafka.ResultPublisher) {
	p.publishers = append(p.publishers, publisher)
}

// SetAdmission bounds the simulation work that may run concurrently
func (p *Pipeline) SetAdmission(admission *backpressure.Controller) {
	p.admission = admission
}

// Options returns the effective pipeline options
func (p *Pipeline) Options() Options {
	return p.opts
}

// withDefaults fills the zero fields of req from the pipeline options
func (p *Pipeline) withDefaults(req models.PricingRequest) models.PricingRequest {
	req.Ticker = strings.ToUpper(strings.TrimSpace(req.Ticker))
	if req.Simulations == 0 {
		req.Simulations = p.opts.Simulations
	}
	if req.Workers == 0 {
		req.Workers = p.opts.Workers
	}
	if req.RateDataset == "" {
		req.RateDataset = p.opts.RateDataset
	}
	if req.HistoryStart.IsZero() {
		req.HistoryStart = p.opts.HistoryStart
	}
	if req.HistoryEnd.IsZero() {
		req.HistoryEnd = p.opts.HistoryEnd
	}
	if req.Seed == 0 {
		req.Seed = p.opts.Seed
	}
	return req
}

// Validate rejects a request that cannot be priced. It runs before any data
// is fetched.
func Validate(req models.PricingRequest) error {
	switch {
	case req.Ticker == "":
		return errors.InvalidInput("ticker is required")
	case req.ValuationDate.IsZero():
		return errors.InvalidInput("valuation date is required")
	case !(req.Strike > 0):
		return errors.InvalidInputf("strike must be positive, got %v", float64(req.Strike))
	case req.TTEDays <= 0:
		return errors.InvalidInputf("expiry must be after the valuation date, got %d days", req.TTEDays)
	case req.Simulations < 1:
		return errors.InvalidInputf("simulations must be at least 1, got %d", req.Simulations)
	case req.Workers < 1:
		return errors.InvalidInputf("workers must be at least 1, got %d", req.Workers)
	case req.Simulations < req.Workers:
		return errors.InvalidInputf("simulations (%d) must be at least the worker count (%d)", req.Simulations, req.Workers)
	case !req.HistoryStart.Before(req.HistoryEnd):
		return errors.InvalidInputf("history start %s must be before end %s",
			req.HistoryStart.Format(time.DateOnly), req.HistoryEnd.Format(time.DateOnly))
	}

	switch req.EffectiveProcess() {
	case models.ProcessArithmetic, models.ProcessGeometric, models.ProcessMultifractal:
	default:
		return errors.InvalidInputf("unknown process kind %d", int(req.EffectiveProcess()))
	}

	if v := req.Overrides.Volatility; v != nil && !(*v > 0 && !math.IsInf(*v, 0)) {
		return errors.InvalidInputf("volatility override must be positive, got %v", *v)
	}
	if r := req.Overrides.RiskFreeRate; r != nil && (math.IsNaN(*r) || math.IsInf(*r, 0)) {
		return errors.InvalidInputf("rate override must be finite, got %v", *r)
	}
	return nil
}

// SnapIndex returns the index of the first date on or after target, or the
// last index when every date is earlier. dates must be sorted and non-empty.
func SnapIndex(dates []time.Time, target time.Time) int {
	target = models.DateOnly(target)
	i := sort.Search(len(dates), func(i int) bool { return !dates[i].Before(target) })
	if i == len(dates) {
		return len(dates) - 1
	}
	return i
}

// Price runs one request end to end
func (p *Pipeline) Price(ctx context.Context, req models.PricingRequest) (result *models.PricingResult, err error) {
	start := time.Now()
	req = p.withDefaults(req)
	process := req.EffectiveProcess()
	defer func() { p.metrics.RecordPricing(process.String(), time.Since(start), err) }()

	if err := Validate(req); err != nil {
		return nil, err
	}
	if p.opts.StepsPerYear <= 0 {
		return nil, errors.InvalidInputf("time step must be positive, got %d steps per year", p.opts.StepsPerYear)
	}

	log := p.log.With("ticker", req.Ticker, "tte_days", req.TTEDays)

	history, err := p.prices.GetPrices(ctx, req.Ticker, req.HistoryStart, req.HistoryEnd)
	if err != nil {
		return nil, errors.Wrapf(err, "fetch %s history", req.Ticker)
	}
	if history.Len() == 0 {
		return nil, errors.DataUnavailablef("no prices for %s between %s and %s", req.Ticker,
			req.HistoryStart.Format(time.DateOnly), req.HistoryEnd.Format(time.DateOnly))
	}

	idx := SnapIndex(history.Dates(), req.ValuationDate)
	spotPoint := history.Points[idx]
	if !spotPoint.Date.Equal(models.DateOnly(req.ValuationDate)) {
		log.Warnf("No close on %s, valuing at %s instead",
			req.ValuationDate.Format(time.DateOnly), spotPoint.Date.Format(time.DateOnly))
	}

	window, err := p.rateWindow(ctx, req, models.DateOnly(req.ValuationDate))
	if err != nil {
		return nil, err
	}
	rate := window.Mean()

	result = &models.PricingResult{
		RequestID:              uuid.NewString(),
		Ticker:                 req.Ticker,
		SpotPrice:              spotPoint.Close,
		Strike:                 req.Strike,
		RequestedValuationDate: models.DateOnly(req.ValuationDate),
		ValuationDate:          spotPoint.Date,
		TTEDays:                req.TTEDays,
		TimeToExpiry:           float64(req.TTEDays) / float64(p.opts.DaysPerYear),
		RiskFreeRate:           rate,
		Process:                process,
		RateDataset:            req.RateDataset,
		RateWindow:             window,
		History:                history,
	}
	if req.Overrides.RiskFreeRate != nil {
		result.RateDataset = "override"
	}

	if err := p.estimateVolatility(req, history, result); err != nil {
		return nil, err
	}

	if p.admission != nil {
		release, err := p.admission.Acquire(ctx, int64(req.Simulations))
		p.metrics.RecordAdmission(err == nil)
		if err != nil {
			return nil, err
		}
		defer release()
	}

	gen, err := stochastic.NewGenerator(process, stochastic.Params{
		Drift:        rate,
		Volatility:   result.Volatility,
		Dt:           1 / float64(p.opts.StepsPerYear),
		Steps:        p.opts.MMARSteps,
		CascadeDepth: p.opts.MMARDepth,
	})
	if err != nil {
		return nil, err
	}

	mc, err := p.engine.Run(ctx, montecarlo.Spec{
		Generator:   gen,
		Spot:        result.SpotPrice,
		Strike:      req.Strike,
		TTE:         result.TimeToExpiry,
		RateWindow:  window,
		Simulations: req.Simulations,
		Workers:     req.Workers,
		Seed:        req.Seed,
	})
	if err != nil {
		return nil, err
	}
	result.CallPrice, result.PutPrice = mc.CallPrice, mc.PutPrice
	result.CallStdErr, result.PutStdErr = mc.CallStdErr, mc.PutStdErr
	result.DiscountFactor = mc.DiscountFactor
	result.Paths = mc.Paths
	result.Simulations = len(mc.Paths)

	result.CallGreeks, result.PutGreeks, err = p.greeks.CalculateBoth(risk.Inputs{
		Spot:       result.SpotPrice,
		Strike:     req.Strike.Float64(),
		T:          result.TimeToExpiry,
		Rate:       rate,
		Volatility: result.Volatility,
	})
	if err != nil {
		return nil, err
	}

	result.Duration = time.Since(start)
	log.Infof("Priced %s: call=%.4f put=%.4f sigma=%.4f r=%.4f in %v",
		process, result.CallPrice, result.PutPrice, result.Volatility, rate, result.Duration)

	p.publish(ctx, result)
	return result, nil
}

func (p *Pipeline) rateWindow(ctx context.Context, req models.PricingRequest, valuation time.Time) (models.RateWindow, error) {
	if r := req.Overrides.RiskFreeRate; r != nil {
		return models.FlatRateWindow(valuation, req.TTEDays, *r), nil
	}
	if p.rates == nil {
		return nil, errors.DataUnavailable("no rate forecaster configured and no rate override given")
	}

	window, err := p.rates.Window(ctx, req.RateDataset, valuation, req.TTEDays)
	if err != nil {
		return nil, errors.Wrapf(err, "forecast %s rates", req.RateDataset)
	}
	return window, nil
}

// estimateVolatility fills the volatility fields of result
func (p *Pipeline) estimateVolatility(req models.PricingRequest, history *models.PriceSeries, result *models.PricingResult) error {
	if v := req.Overrides.Volatility; v != nil {
		result.Volatility = *v
		result.VolatilityMode = "override"
		return nil
	}

	mode := p.opts.VolatilityMode
	result.VolatilityMode = string(mode)

	returns, err := volatility.LogReturns(history.Closes())
	if err != nil {
		return errors.Wrapf(err, "%s log returns", req.Ticker)
	}

	var mleVol, regVol float64
	if mode.UsesMLE() {
		est, err := p.mle.Estimate(returns, 1/float64(p.opts.MLEStepDays))
		p.metrics.RecordVolatility("mle", req.Ticker, est.Volatility, err)
		if err != nil {
			return errors.Wrapf(err, "%s maximum likelihood volatility", req.Ticker)
		}
		result.MLE = &est
		mleVol = est.Volatility
	}
	if mode.UsesRegression() {
		reg, err := p.regression.Predict(returns)
		if err != nil {
			p.metrics.RecordVolatility("regression", req.Ticker, 0, err)
			return errors.Wrapf(err, "%s regression volatility", req.Ticker)
		}
		p.metrics.RecordVolatility("regression", req.Ticker, reg.Volatility, nil)
		result.RegressionVolatility = reg.Volatility
		regVol = reg.Volatility
	}

	result.Volatility = mode.Combine(mleVol, regVol)
	p.metrics.RecordVolatility(string(mode), req.Ticker, result.Volatility, nil)
	return nil
}

func (p *Pipeline) publish(ctx context.Context, result *models.PricingResult) {
	for _, publisher := range p.publishers {
		if err := publisher.Publish(ctx, result); err != nil {
			p.log.Errorf("Failed to publish result %s for %s: %v", result.RequestID, result.Ticker, err)
		}
	}
}
