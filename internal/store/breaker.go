package store

import (
	"context"
	"time"

	"github.com/rzzdr/euro-option-pricer/pkg/models"
	"github.com/rzzdr/euro-option-pricer/pkg/utils/circuit"
)

// BreakerPriceProvider stops calling a failing provider until its breaker
// timeout elapses
type BreakerPriceProvider struct {
	next    PriceProvider
	breaker *circuit.CircuitBreaker
}

// Creates a new breaker-guarded provider
func NewBreakerPriceProvider(next PriceProvider, breaker *circuit.CircuitBreaker) *BreakerPriceProvider {
	return &BreakerPriceProvider{next: next, breaker: breaker}
}

func (b *BreakerPriceProvider) GetPrices(ctx context.Context, ticker string, start, end time.Time) (*models.PriceSeries, error) {
	return circuit.Do(ctx, b.breaker, func(ctx context.Context) (*models.PriceSeries, error) {
		return b.next.GetPrices(ctx, ticker, start, end)
	})
}

// BreakerYieldSource guards a yield source the same way
type BreakerYieldSource struct {
	next    YieldSource
	breaker *circuit.CircuitBreaker
}

// Creates a new breaker-guarded yield source
func NewBreakerYieldSource(next YieldSource, breaker *circuit.CircuitBreaker) *BreakerYieldSource {
	return &BreakerYieldSource{next: next, breaker: breaker}
}

func (b *BreakerYieldSource) Load(ctx context.Context, id string) ([]models.RatePoint, error) {
	return circuit.Do(ctx, b.breaker, func(ctx context.Context) ([]models.RatePoint, error) {
		return b.next.Load(ctx, id)
	})
}
