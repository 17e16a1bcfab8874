package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStrike(t *testing.T) {
	k, err := NewStrike(105.5)
	require.NoError(t, err)
	assert.Equal(t, 105.5, k.Float64())

	for _, v := range []float64{0, -1} {
		_, err := NewStrike(v)
		assert.Error(t, err, "strike %v", v)
	}
}

func TestParseProcessKind(t *testing.T) {
	tests := []struct {
		in   string
		want ProcessKind
	}{
		{"GBM", ProcessGeometric},
		{"abm", ProcessArithmetic},
		{"MMAR", ProcessMultifractal},
		{"Geometric Brownian Motion", ProcessGeometric},
		{"arithmetic brownian motion", ProcessArithmetic},
		{" Multifractal Model of Asset Returns ", ProcessMultifractal},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseProcessKind(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseProcessKind("heston")
	assert.Error(t, err)
}

func TestProcessKindJSON(t *testing.T) {
	mmar := ProcessMultifractal
	req := PricingRequest{Ticker: "CBA.AX", Overrides: Overrides{Process: &mmar}}

	b, err := json.Marshal(req)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"process":"MMAR"`)

	var decoded PricingRequest
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Equal(t, ProcessMultifractal, decoded.EffectiveProcess())
	assert.Equal(t, ProcessGeometric, decoded.Process)
}

func TestRateWindowMean(t *testing.T) {
	assert.Zero(t, RateWindow(nil).Mean())

	start := time.Date(2025, 3, 30, 0, 0, 0, 0, time.UTC)
	w := FlatRateWindow(start, 30, 0.04)
	assert.Len(t, w, 31)
	assert.InDelta(t, 0.04, w.Mean(), 1e-15)
	assert.Equal(t, start.AddDate(0, 0, 30), w[30].Date)

	w[0].Rate = 0.35
	assert.InDelta(t, 0.05, w.Mean(), 1e-12)
}

func TestPriceSeriesBetween(t *testing.T) {
	day := func(d int) time.Time { return time.Date(2025, 1, d, 0, 0, 0, 0, time.UTC) }
	s := &PriceSeries{Ticker: "X", Points: []PricePoint{{day(1), 1}, {day(2), 2}, {day(3), 3}, {day(6), 4}}}

	sub := s.Between(day(2), day(5))
	assert.Equal(t, []float64{2, 3}, sub.Closes())
	assert.Equal(t, 4, s.Len())
	assert.Equal(t, 0, (*PriceSeries)(nil).Len())
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "4.25%", FormatValue("%", 0.0425, 2))
	assert.Equal(t, "$10.45", FormatValue("$", 10.4506, 2))
	assert.Equal(t, "0.6368", FormatValue("", 0.63683, 4))
	assert.Equal(t, "3.000", FormatValue("x", 3, 3))
}

func TestOptionSideText(t *testing.T) {
	var s OptionSide
	require.NoError(t, s.UnmarshalText([]byte("put")))
	assert.Equal(t, OptionSidePut, s)
	assert.Equal(t, "call", OptionSideCall.String())
	assert.Error(t, s.UnmarshalText([]byte("straddle")))
}
