package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/rzzdr/euro-option-pricer/config"
	"github.com/rzzdr/euro-option-pricer/internal/adapters"
	"github.com/rzzdr/euro-option-pricer/pkg/metrics"
	"github.com/rzzdr/euro-option-pricer/pkg/models"
	"github.com/rzzdr/euro-option-pricer/pkg/utils/errors"
	"github.com/rzzdr/euro-option-pricer/pkg/utils/logger"
	"github.com/rzzdr/euro-option-pricer/pkg/utils/performance"
)

type flags struct {
	configFile    string
	ticker        string
	valuation     string
	tteDays       int
	strike        float64
	historyStart  string
	historyEnd    string
	process       string
	rateDataset   string
	simulations   int
	workers       int
	seed          uint64
	volatility    float64
	riskFreeRate  float64
	overrideRate  bool
	overrideProc  string
	timeout       time.Duration
	publish       bool
	showPaths     int
	showRateCurve bool
	profile       string
	profileDir    string
}

func parseFlags() *flags {
	f := &flags{}
	flag.StringVar(&f.configFile, "config", "", "Path to configuration file (defaults to ./config/config.yaml)")
	flag.StringVar(&f.ticker, "ticker", "SPY", "Underlying ticker")
	flag.StringVar(&f.valuation, "valuation", time.Now().Format(time.DateOnly), "Valuation date, YYYY-MM-DD")
	flag.IntVar(&f.tteDays, "tte", 30, "Days to expiry")
	flag.Float64Var(&f.strike, "strike", 0, "Strike price (required)")
	flag.StringVar(&f.historyStart, "history-start", "", "First day of price history, YYYY-MM-DD")
	flag.StringVar(&f.historyEnd, "history-end", "", "Last day of price history, YYYY-MM-DD")
	flag.StringVar(&f.process, "process", "", "Simulated process: GBM, ABM or MMAR")
	flag.StringVar(&f.rateDataset, "rates", "", "Yield dataset id, e.g. AU-10 or US-1")
	flag.IntVar(&f.simulations, "simulations", 0, "Number of Monte Carlo paths")
	flag.IntVar(&f.workers, "workers", 0, "Number of simulation workers")
	flag.Uint64Var(&f.seed, "seed", 0, "Random seed, 0 for a fresh one")
	flag.Float64Var(&f.volatility, "volatility", 0, "Override volatility, annualised decimal")
	flag.Float64Var(&f.riskFreeRate, "rate", 0, "Override risk-free rate, decimal (use with -override-rate)")
	flag.BoolVar(&f.overrideRate, "override-rate", false, "Use -rate instead of the forecast curve")
	flag.StringVar(&f.overrideProc, "override-process", "", "Force a process regardless of -process")
	flag.DurationVar(&f.timeout, "timeout", 5*time.Minute, "Abort the run after this long")
	flag.BoolVar(&f.publish, "publish", false, "Publish the result to Kafka")
	flag.IntVar(&f.showPaths, "show-paths", 0, "Print the terminal prices of the first N paths")
	flag.BoolVar(&f.showRateCurve, "show-rates", false, "Print the forecast rate window")
	flag.StringVar(&f.profile, "profile", "", "Comma-separated profiles to capture: cpu, mem, mutex, block")
	flag.StringVar(&f.profileDir, "profile-dir", "./profiles", "Directory for captured profiles")
	flag.Parse()
	return f
}

func (f *flags) request(defaultProcess models.ProcessKind) (models.PricingRequest, error) {
	var req models.PricingRequest

	strike, err := models.NewStrike(f.strike)
	if err != nil {
		return req, err
	}
	valuation, err := parseDate("valuation", f.valuation)
	if err != nil {
		return req, err
	}
	start, err := parseDate("history-start", f.historyStart)
	if err != nil {
		return req, err
	}
	end, err := parseDate("history-end", f.historyEnd)
	if err != nil {
		return req, err
	}

	process := defaultProcess
	if f.process != "" {
		if process, err = models.ParseProcessKind(f.process); err != nil {
			return req, err
		}
	}

	req = models.PricingRequest{
		Ticker:        f.ticker,
		ValuationDate: valuation,
		TTEDays:       f.tteDays,
		Strike:        strike,
		HistoryStart:  start,
		HistoryEnd:    end,
		Process:       process,
		RateDataset:   f.rateDataset,
		Simulations:   f.simulations,
		Workers:       f.workers,
		Seed:          f.seed,
	}
	if f.volatility != 0 {
		v := f.volatility
		req.Overrides.Volatility = &v
	}
	if f.overrideRate {
		r := f.riskFreeRate
		req.Overrides.RiskFreeRate = &r
	}
	if f.overrideProc != "" {
		kind, err := models.ParseProcessKind(f.overrideProc)
		if err != nil {
			return req, err
		}
		req.Overrides.Process = &kind
	}
	return req, nil
}

func (f *flags) profilerConfig() (performance.ProfilerConfig, error) {
	cfg := performance.ProfilerConfig{OutputDir: f.profileDir, Label: strings.ToUpper(f.ticker)}
	if f.profile == "" {
		return cfg, nil
	}
	for _, kind := range strings.Split(f.profile, ",") {
		switch strings.ToLower(strings.TrimSpace(kind)) {
		case "cpu":
			cfg.EnableCPU = true
		case "mem", "memory", "heap":
			cfg.EnableMemory = true
		case "mutex":
			cfg.EnableMutex = true
		case "block":
			cfg.EnableBlock = true
		case "":
		default:
			return cfg, errors.InvalidInputf("-profile: unknown profile %q", kind)
		}
	}
	return cfg, nil
}

func parseDate(name, s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation(time.DateOnly, s, time.UTC)
	if err != nil {
		return time.Time{}, errors.InvalidInputf("-%s must be YYYY-MM-DD, got %q", name, s)
	}
	return t, nil
}

func main() {
	_ = godotenv.Load()
	os.Exit(run(parseFlags(), os.Stdout))
}

// run prices one request and returns the process exit code: 1 for setup or
// input errors, 2 when pricing fails
func run(f *flags, out io.Writer) int {
	path := f.configFile
	if path == "" {
		path = config.GetConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return 1
	}

	logger.Init(cfg.App.LogLevel, cfg.App.Environment)
	log := logger.GetLogger("pricer.main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	components, err := adapters.Build(ctx, cfg, metrics.NewRecorder(), f.publish)
	if err != nil {
		log.Errorf("Failed to build pricing stack: %v", err)
		return 1
	}
	defer components.Close()

	req, err := f.request(components.DefaultProcess)
	if err != nil {
		log.Errorf("Invalid request: %v", err)
		return 1
	}

	profCfg, err := f.profilerConfig()
	if err != nil {
		log.Errorf("Invalid request: %v", err)
		return 1
	}
	var profiler *performance.Profiler
	if profCfg.Enabled() {
		profiler = performance.NewProfiler(profCfg)
		if err := profiler.Start(); err != nil {
			log.Errorf("Failed to start profiler: %v", err)
			return 1
		}
	}

	result, err := components.Pipeline.Price(ctx, req)

	if profiler != nil {
		files, perr := profiler.Stop()
		if perr != nil {
			log.Warnf("Profiling incomplete: %v", perr)
		}
		for _, file := range files {
			fmt.Fprintf(os.Stderr, "profile: %s\n", file)
		}
	}
	if err != nil {
		log.Errorf("Pricing failed (%s): %v", errors.TypeOf(err), err)
		return 2
	}

	printSummary(out, result, f.showPaths, f.showRateCurve)
	return 0
}
