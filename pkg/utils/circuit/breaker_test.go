package circuit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzzdr/euro-option-pricer/pkg/utils/errors"
	"github.com/rzzdr/euro-option-pricer/pkg/utils/logger"
)

func init() {
	logger.UseNop()
}

func failing(context.Context) (int, error) { return 0, fmt.Errorf("connection refused") }
func healthy(context.Context) (int, error) { return 7, nil }

func TestBreakerOpensAfterFailures(t *testing.T) {
	cb := NewCircuitBreaker("prices", Config{MaxFailures: 2, Timeout: time.Hour})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := Do(ctx, cb, failing)
		require.Error(t, err)
	}
	assert.Equal(t, StateOpen, cb.State())

	_, err := Do(ctx, cb, healthy)
	assert.ErrorIs(t, err, ErrCircuitBreakerOpen)
	assert.True(t, errors.IsType(err, errors.ErrorTypeDataUnavailable))
}

func TestBreakerIgnoresMissingData(t *testing.T) {
	cb := NewCircuitBreaker("prices", Config{MaxFailures: 1})
	missing := func(context.Context) (int, error) { return 0, errors.DataUnavailable("no such ticker") }

	for i := 0; i < 3; i++ {
		_, err := Do(context.Background(), cb, missing)
		require.Error(t, err)
	}
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	var changes []State
	cb := NewCircuitBreaker("rates", Config{
		MaxFailures:   1,
		Timeout:       time.Millisecond,
		OnStateChange: func(_ string, _, to State) { changes = append(changes, to) },
	})
	ctx := context.Background()

	_, _ = Do(ctx, cb, failing)
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(5 * time.Millisecond)
	v, err := Do(ctx, cb, healthy)
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, []State{StateOpen, StateHalfOpen, StateClosed}, changes)

	counts := cb.Counts()
	assert.Equal(t, 2, counts.Requests)
	assert.Equal(t, 1, counts.Successes)
}

func TestManagerReusesBreakers(t *testing.T) {
	m := NewManager()
	a := m.GetBreaker("prices", DefaultConfig())
	b := m.GetBreaker("prices", DefaultConfig())
	assert.Same(t, a, b)

	stats := m.GetBreakerStats()
	assert.Equal(t, "closed", stats["prices"].State)
	assert.Nil(t, stats["prices"].OpenUntil)
	assert.Equal(t, []string{"prices"}, m.Names())
	assert.Error(t, m.ResetBreaker("missing"))
	assert.NoError(t, m.ResetBreaker("prices"))
}

func TestBreakerStatsWhileOpen(t *testing.T) {
	clock := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker("prices", Config{MaxFailures: 1, Timeout: time.Minute, MaxRequests: 2})
	cb.now = func() time.Time { return clock }
	ctx := context.Background()

	_, _ = Do(ctx, cb, failing)
	_, err := Do(ctx, cb, healthy)
	require.ErrorIs(t, err, ErrCircuitBreakerOpen)
	assert.Contains(t, err.Error(), "retry in 1m0s")

	stats := cb.Stats()
	assert.Equal(t, "open", stats.State)
	assert.Equal(t, 1, stats.Failures)
	assert.Equal(t, 1, stats.Rejected)
	assert.Equal(t, "connection refused", stats.LastError)
	require.NotNil(t, stats.OpenUntil)
	assert.Equal(t, clock.Add(time.Minute), *stats.OpenUntil)

	clock = clock.Add(2 * time.Minute)
	_, err = Do(ctx, cb, healthy)
	require.NoError(t, err)
	assert.Equal(t, StateHalfOpen, cb.State())

	_, err = Do(ctx, cb, healthy)
	require.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
}

func TestHalfOpenFailureReopens(t *testing.T) {
	clock := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker("rates", Config{MaxFailures: 1, Timeout: time.Second})
	cb.now = func() time.Time { return clock }
	ctx := context.Background()

	_, _ = Do(ctx, cb, failing)
	clock = clock.Add(2 * time.Second)
	_, err := Do(ctx, cb, failing)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCircuitBreakerOpen)
	assert.Equal(t, StateOpen, cb.State())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
}

func TestPanicCountsAsFailure(t *testing.T) {
	cb := NewCircuitBreaker("prices", Config{MaxFailures: 1, Timeout: time.Hour})
	assert.Panics(t, func() {
		_, _ = Do(context.Background(), cb, func(context.Context) (int, error) { panic("boom") })
	})
	assert.Equal(t, StateOpen, cb.State())
}
