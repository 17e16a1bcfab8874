package montecarlo

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"github.com/rzzdr/euro-option-pricer/pkg/metrics"
	"github.com/rzzdr/euro-option-pricer/pkg/models"
	"github.com/rzzdr/euro-option-pricer/pkg/utils/errors"
	"github.com/rzzdr/euro-option-pricer/pkg/utils/logger"
)

// PathGenerator simulates a single price path from s0 over T years using rng
type PathGenerator interface {
	Generate(rng *rand.Rand, s0, T float64) ([]float64, error)
}

// Spec describes one Monte Carlo run
type Spec struct {
	Generator   PathGenerator
	Spot        float64
	Strike      models.Strike
	TTE         float64 // years
	RateWindow  models.RateWindow
	Simulations int
	Workers     int
	Seed        uint64 // 0 draws a fresh seed per worker
}

// Result of a Monte Carlo run. Paths are ordered by worker, then by draw.
type Result struct {
	CallPrice      float64
	PutPrice       float64
	CallStdErr     float64
	PutStdErr      float64
	DiscountFactor float64
	Paths          [][]float64
}

// Engine prices European options by averaging discounted payoffs over
// simulated paths
type Engine struct {
	log     *logger.Logger
	metrics *metrics.Recorder
}

// NewEngine creates a new Engine. recorder may be nil.
func NewEngine(recorder *metrics.Recorder) *Engine {
	return &Engine{
		log:     logger.GetLogger("montecarlo.engine"),
		metrics: recorder,
	}
}

// BatchSize returns the number of paths each of workers simulates. The
// remainder of simulations/workers is never simulated.
func BatchSize(simulations, workers int) int {
	if workers <= 0 {
		return 0
	}
	return simulations / workers
}

func validate(spec Spec) error {
	if spec.Generator == nil {
		return errors.InvalidInput("no path generator configured")
	}
	if v, ok := spec.Generator.(interface{ Validate() error }); ok {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	if spec.Simulations < 1 {
		return errors.InvalidInputf("simulations must be at least 1, got %d", spec.Simulations)
	}
	if spec.Workers < 1 {
		return errors.InvalidInputf("workers must be at least 1, got %d", spec.Workers)
	}
	if BatchSize(spec.Simulations, spec.Workers) == 0 {
		return errors.InvalidInputf("%d simulations cannot be split across %d workers", spec.Simulations, spec.Workers)
	}
	if !(spec.Strike > 0) {
		return errors.InvalidInputf("strike must be positive, got %v", spec.Strike)
	}
	if !(spec.TTE > 0) {
		return errors.InvalidInputf("time to expiry must be positive, got %v", spec.TTE)
	}
	if !(spec.Spot > 0) {
		return errors.InvalidInputf("spot must be positive, got %v", spec.Spot)
	}
	if len(spec.RateWindow) == 0 {
		return errors.InvalidInput("rate window is empty")
	}
	return nil
}

func newRand(seed uint64, worker int) *rand.Rand {
	if seed == 0 {
		return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return rand.New(rand.NewPCG(seed+uint64(worker), seed))
}

// Run simulates spec.Workers batches in parallel and aggregates the
// discounted call and put payoffs. Any failing or cancelled worker fails the
// whole run.
func (e *Engine) Run(ctx context.Context, spec Spec) (*Result, error) {
	start := time.Now()
	label := processLabel(spec.Generator)

	if err := validate(spec); err != nil {
		return nil, err
	}

	batch := BatchSize(spec.Simulations, spec.Workers)
	if dropped := spec.Simulations - batch*spec.Workers; dropped > 0 {
		e.log.Warnf("Dropping %d of %d simulations: not a multiple of %d workers", dropped, spec.Simulations, spec.Workers)
	}

	paths := make([][]float64, batch*spec.Workers)
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < spec.Workers; w++ {
		worker := w
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("worker %d panicked: %v", worker, r)
				}
			}()

			rng := newRand(spec.Seed, worker)
			out := paths[worker*batch : (worker+1)*batch]
			for i := range out {
				if err := gctx.Err(); err != nil {
					return err
				}
				path, err := spec.Generator.Generate(rng, spec.Spot, spec.TTE)
				if err != nil {
					return fmt.Errorf("worker %d: %w", worker, err)
				}
				if len(path) == 0 {
					return fmt.Errorf("worker %d: generator returned an empty path", worker)
				}
				out[i] = path
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		err = errors.WorkerFailure("monte carlo simulation failed", err)
		e.metrics.RecordSimulation(label, 0, time.Since(start), err)
		return nil, err
	}

	res := aggregate(paths, float64(spec.Strike), spec.TTE, spec.RateWindow.Mean())
	e.metrics.RecordSimulation(label, len(paths), time.Since(start), nil)
	e.log.Debugf("Simulated %d %s paths in %v: call=%.4f put=%.4f", len(paths), label, time.Since(start), res.CallPrice, res.PutPrice)
	return res, nil
}

// aggregate discounts the mean call and put payoffs of the terminal prices
func aggregate(paths [][]float64, strike, tte, rate float64) *Result {
	calls := make([]float64, len(paths))
	puts := make([]float64, len(paths))
	for i, p := range paths {
		terminal := p[len(p)-1]
		calls[i] = math.Max(terminal-strike, 0)
		puts[i] = math.Max(strike-terminal, 0)
	}

	discount := math.Exp(-tte * rate)
	callMean, callStd := meanStd(calls)
	putMean, putStd := meanStd(puts)
	n := math.Sqrt(float64(len(paths)))

	return &Result{
		CallPrice:      discount * callMean,
		PutPrice:       discount * putMean,
		CallStdErr:     discount * callStd / n,
		PutStdErr:      discount * putStd / n,
		DiscountFactor: discount,
		Paths:          paths,
	}
}

func meanStd(x []float64) (float64, float64) {
	if len(x) < 2 {
		return stat.Mean(x, nil), 0
	}
	return stat.MeanStdDev(x, nil)
}

func processLabel(g PathGenerator) string {
	if s, ok := g.(fmt.Stringer); ok {
		return s.String()
	}
	return "custom"
}
