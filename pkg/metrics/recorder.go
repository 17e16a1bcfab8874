package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder handles metrics recording and exposure. A nil *Recorder is valid
// and records nothing.
type Recorder struct {
	registry *prometheus.Registry

	// API metrics
	apiRequestCounter   *prometheus.CounterVec
	apiLatencyHistogram *prometheus.HistogramVec

	// Pricing metrics
	pricingCounter   *prometheus.CounterVec
	pricingLatency   *prometheus.HistogramVec
	simulationPaths  *prometheus.CounterVec
	simulationRuns   *prometheus.CounterVec
	simulationTiming *prometheus.HistogramVec

	// Estimation metrics
	volatilityCounter *prometheus.CounterVec
	volatilityGauge   *prometheus.GaugeVec
	rateFitCounter    *prometheus.CounterVec
	rateFitLatency    *prometheus.HistogramVec

	// Data and publishing metrics
	priceCacheCounter *prometheus.CounterVec
	publishCounter    *prometheus.CounterVec
	breakerState      *prometheus.GaugeVec
	admissionCounter  *prometheus.CounterVec

	// System metrics
	memoryUsageGauge    prometheus.Gauge
	goroutineCountGauge prometheus.Gauge
}

// NewRecorder creates a recorder with its own registry, so several recorders
// can coexist in one process
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Recorder{
		registry: reg,

		// API metrics
		apiRequestCounter: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricer_api_requests_total",
				Help: "The total number of API requests",
			},
			[]string{"method", "path", "status"},
		),
		apiLatencyHistogram: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pricer_api_latency_seconds",
				Help:    "API request latency distribution",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // From 1ms to ~16s
			},
			[]string{"method", "path"},
		),

		// Pricing metrics
		pricingCounter: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricer_pricing_requests_total",
				Help: "The total number of pricing runs by outcome",
			},
			[]string{"process", "status"},
		),
		pricingLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pricer_pricing_duration_seconds",
				Help:    "End-to-end pricing latency",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // From 10ms to ~80s
			},
			[]string{"process"},
		),
		simulationPaths: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricer_simulated_paths_total",
				Help: "The total number of simulated price paths",
			},
			[]string{"process"},
		),
		simulationRuns: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricer_simulation_runs_total",
				Help: "The total number of Monte Carlo runs by outcome",
			},
			[]string{"process", "status"},
		),
		simulationTiming: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pricer_simulation_duration_seconds",
				Help:    "Monte Carlo run latency",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
			},
			[]string{"process"},
		),

		// Estimation metrics
		volatilityCounter: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricer_volatility_estimations_total",
				Help: "The total number of volatility estimations by outcome",
			},
			[]string{"estimator", "status"},
		),
		volatilityGauge: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pricer_volatility_estimate",
				Help: "Most recent annualised volatility estimate",
			},
			[]string{"estimator", "ticker"},
		),
		rateFitCounter: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricer_rate_forecasts_total",
				Help: "The total number of rate curve fits by outcome",
			},
			[]string{"dataset", "status"},
		),
		rateFitLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pricer_rate_forecast_duration_seconds",
				Help:    "Rate curve fit latency",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // From 10ms to ~40s
			},
			[]string{"dataset"},
		),

		// Data and publishing metrics
		priceCacheCounter: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricer_price_cache_lookups_total",
				Help: "Price cache lookups by result",
			},
			[]string{"result"},
		),
		publishCounter: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricer_results_published_total",
				Help: "Published pricing results by outcome",
			},
			[]string{"status"},
		),
		breakerState: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pricer_breaker_state",
				Help: "Circuit breaker state per provider (0 closed, 1 half-open, 2 open)",
			},
			[]string{"breaker"},
		),
		admissionCounter: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricer_admission_decisions_total",
				Help: "Pricing runs admitted or refused by the simulation budget",
			},
			[]string{"decision"},
		),

		// System metrics
		memoryUsageGauge: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "pricer_memory_usage_bytes",
				Help: "Memory usage of the application in bytes",
			},
		),
		goroutineCountGauge: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "pricer_goroutine_count",
				Help: "Number of goroutines",
			},
		),
	}
}

// Registry returns the registry holding the recorder's metrics
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordAPIRequest records metrics for an API request
func (r *Recorder) RecordAPIRequest(method, path string, status int, latency time.Duration) {
	if r == nil {
		return
	}
	r.apiRequestCounter.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	r.apiLatencyHistogram.WithLabelValues(method, path).Observe(latency.Seconds())
}

// RecordPricing records one end-to-end pricing run
func (r *Recorder) RecordPricing(process string, latency time.Duration, err error) {
	if r == nil {
		return
	}
	r.pricingCounter.WithLabelValues(process, outcome(err)).Inc()
	r.pricingLatency.WithLabelValues(process).Observe(latency.Seconds())
}

// RecordSimulation records one Monte Carlo run and the paths it produced
func (r *Recorder) RecordSimulation(process string, paths int, latency time.Duration, err error) {
	if r == nil {
		return
	}
	r.simulationRuns.WithLabelValues(process, outcome(err)).Inc()
	r.simulationTiming.WithLabelValues(process).Observe(latency.Seconds())
	if paths > 0 {
		r.simulationPaths.WithLabelValues(process).Add(float64(paths))
	}
}

// RecordVolatility records a volatility estimation and, on success, its value
func (r *Recorder) RecordVolatility(estimator, ticker string, value float64, err error) {
	if r == nil {
		return
	}
	r.volatilityCounter.WithLabelValues(estimator, outcome(err)).Inc()
	if err == nil {
		r.volatilityGauge.WithLabelValues(estimator, ticker).Set(value)
	}
}

// RecordRateForecast records one rate curve fit
func (r *Recorder) RecordRateForecast(dataset string, latency time.Duration, err error) {
	if r == nil {
		return
	}
	r.rateFitCounter.WithLabelValues(dataset, outcome(err)).Inc()
	r.rateFitLatency.WithLabelValues(dataset).Observe(latency.Seconds())
}

// RecordCacheLookup records a price cache hit or miss
func (r *Recorder) RecordCacheLookup(hit bool) {
	if r == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	r.priceCacheCounter.WithLabelValues(result).Inc()
}

// RecordPublish records the outcome of publishing a pricing result
func (r *Recorder) RecordPublish(err error) {
	if r == nil {
		return
	}
	r.publishCounter.WithLabelValues(outcome(err)).Inc()
}

// RecordBreakerState records the state of a named circuit breaker
func (r *Recorder) RecordBreakerState(name string, state int) {
	if r == nil {
		return
	}
	r.breakerState.WithLabelValues(name).Set(float64(state))
}

// RecordAdmission counts one admission decision
func (r *Recorder) RecordAdmission(admitted bool) {
	if r == nil {
		return
	}
	decision := "admitted"
	if !admitted {
		decision = "refused"
	}
	r.admissionCounter.WithLabelValues(decision).Inc()
}

// RecordMemoryUsage records the current memory usage
func (r *Recorder) RecordMemoryUsage(bytesUsed uint64) {
	if r == nil {
		return
	}
	r.memoryUsageGauge.Set(float64(bytesUsed))
}

// RecordGoroutineCount records the current number of goroutines
func (r *Recorder) RecordGoroutineCount(count int) {
	if r == nil {
		return
	}
	r.goroutineCountGauge.Set(float64(count))
}
