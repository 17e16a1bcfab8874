// Package backpressure bounds how much Monte Carlo work runs at once.
//
// A Controller holds a budget of in-flight simulations. Each pricing run
// acquires as many units as it has simulations and releases them when the
// engine returns, so a handful of large runs and many small ones share the
// same CPU budget. An optional token bucket additionally caps how many runs
// may start per second.
package backpressure

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/rzzdr/euro-option-pricer/pkg/utils/errors"
	"github.com/rzzdr/euro-option-pricer/pkg/utils/logger"
)

// Strategy decides what happens when the budget is exhausted
type Strategy int

const (
	// Block waits for capacity until the context is done
	Block Strategy = iota
	// Reject fails immediately with an Overloaded error
	Reject
)

// String returns the config name of the strategy
func (s Strategy) String() string {
	if s == Reject {
		return "reject"
	}
	return "block"
}

// ParseStrategy accepts "block" (or empty) and "reject"
func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "", "block":
		return Block, nil
	case "reject":
		return Reject, nil
	default:
		return Block, errors.InvalidInputf("unknown backpressure strategy %q", s)
	}
}

// Config for a Controller
type Config struct {
	Name           string
	Strategy       Strategy
	MaxSimulations int64   // in-flight simulation budget
	Rate           float64 // runs started per second; 0 disables the limiter
	Burst          int
}

// Stats is a snapshot of a Controller
type Stats struct {
	Name      string `json:"name"`
	Strategy  string `json:"strategy"`
	Capacity  int64  `json:"capacity"`
	InFlight  int64  `json:"in_flight"`
	Admitted  int64  `json:"admitted"`
	Rejected  int64  `json:"rejected"`
	Throttled int64  `json:"throttled"`
}

// Controller admits pricing runs against a simulation budget
type Controller struct {
	name     string
	strategy Strategy
	capacity int64
	sem      *semaphore.Weighted
	limiter  *TokenBucketLimiter

	inFlight  atomic.Int64
	admitted  atomic.Int64
	rejected  atomic.Int64
	throttled atomic.Int64

	log *logger.Logger
}

// Creates a new backpressure controller
func NewController(config Config) *Controller {
	if config.MaxSimulations <= 0 {
		config.MaxSimulations = 200000
	}
	if config.Name == "" {
		config.Name = "simulations"
	}

	c := &Controller{
		name:     config.Name,
		strategy: config.Strategy,
		capacity: config.MaxSimulations,
		sem:      semaphore.NewWeighted(config.MaxSimulations),
		log:      logger.GetLogger("backpressure." + config.Name),
	}
	if config.Rate > 0 {
		burst := config.Burst
		if burst <= 0 {
			burst = int(config.Rate)
		}
		c.limiter = NewTokenBucketLimiter(config.Rate, burst)
	}

	c.log.Infof("Backpressure controller '%s' initialized with capacity %d, strategy %s",
		c.name, c.capacity, c.strategy)
	return c
}

// Acquire reserves weight units of the budget. Weights above the capacity are
// clamped so an oversized run waits for an idle engine instead of never
// starting. The returned release must be called exactly once.
func (c *Controller) Acquire(ctx context.Context, weight int64) (release func(), err error) {
	if weight < 1 {
		weight = 1
	}
	if weight > c.capacity {
		weight = c.capacity
	}

	if c.limiter != nil {
		if err := c.admitRate(ctx); err != nil {
			return nil, err
		}
	}

	switch c.strategy {
	case Reject:
		if !c.sem.TryAcquire(weight) {
			c.rejected.Add(1)
			return nil, errors.Overloaded("simulation budget exhausted, retry later")
		}
	default:
		if err := c.sem.Acquire(ctx, weight); err != nil {
			c.rejected.Add(1)
			return nil, errors.WithType(err, errors.ErrorTypeOverloaded, "waiting for simulation budget")
		}
	}

	c.admitted.Add(1)
	c.inFlight.Add(weight)

	var released atomic.Bool
	return func() {
		if released.CompareAndSwap(false, true) {
			c.inFlight.Add(-weight)
			c.sem.Release(weight)
		}
	}, nil
}

func (c *Controller) admitRate(ctx context.Context) error {
	if c.strategy == Reject {
		if !c.limiter.Allow() {
			c.throttled.Add(1)
			return errors.Overloaded("pricing rate limit exceeded, retry later")
		}
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		c.throttled.Add(1)
		return errors.WithType(err, errors.ErrorTypeOverloaded, "waiting for rate limiter")
	}
	return nil
}

// Stats returns the current counters
func (c *Controller) Stats() Stats {
	return Stats{
		Name:      c.name,
		Strategy:  c.strategy.String(),
		Capacity:  c.capacity,
		InFlight:  c.inFlight.Load(),
		Admitted:  c.admitted.Load(),
		Rejected:  c.rejected.Load(),
		Throttled: c.throttled.Load(),
	}
}
