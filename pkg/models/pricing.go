package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/rzzdr/euro-option-pricer/pkg/utils/errors"
)

// Strike price of an option; always positive when built with NewStrike
type Strike float64

// NewStrike validates v and returns it as a Strike
func NewStrike(v float64) (Strike, error) {
	if !(v > 0) {
		return 0, errors.InvalidInputf("strike must be positive, got %v", v)
	}
	return Strike(v), nil
}

// Float64 returns the strike as a plain float
func (k Strike) Float64() float64 {
	return float64(k)
}

// The stochastic process used to simulate the underlying.
// The zero value is geometric Brownian motion.
type ProcessKind int

const (
	ProcessGeometric ProcessKind = iota
	ProcessArithmetic
	ProcessMultifractal
)

var processNames = map[ProcessKind]struct{ short, long string }{
	ProcessGeometric:    {"GBM", "Geometric Brownian Motion"},
	ProcessArithmetic:   {"ABM", "Arithmetic Brownian Motion"},
	ProcessMultifractal: {"MMAR", "Multifractal Model of Asset Returns"},
}

// String returns the short name of the process, e.g. "GBM"
func (k ProcessKind) String() string {
	if n, ok := processNames[k]; ok {
		return n.short
	}
	return fmt.Sprintf("ProcessKind(%d)", int(k))
}

// LongName returns the descriptive name of the process
func (k ProcessKind) LongName() string {
	if n, ok := processNames[k]; ok {
		return n.long
	}
	return k.String()
}

// ParseProcessKind accepts short or long process names, case-insensitively
func ParseProcessKind(s string) (ProcessKind, error) {
	s = strings.TrimSpace(s)
	for kind, n := range processNames {
		if strings.EqualFold(s, n.short) || strings.EqualFold(s, n.long) {
			return kind, nil
		}
	}
	return 0, errors.InvalidInputf("unknown process %q", s)
}

// MarshalText encodes the process as its short name
func (k ProcessKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes any name accepted by ParseProcessKind
func (k *ProcessKind) UnmarshalText(b []byte) error {
	parsed, err := ParseProcessKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Values that replace an estimated input. Nil fields are estimated as usual.
type Overrides struct {
	Volatility   *float64     `json:"volatility,omitempty"`
	RiskFreeRate *float64     `json:"risk_free_rate,omitempty"`
	Process      *ProcessKind `json:"process,omitempty"`
}

// A single pricing job. Zero Simulations, Workers or RateDataset fall back to
// the pipeline defaults.
type PricingRequest struct {
	Ticker        string      `json:"ticker"`
	ValuationDate time.Time   `json:"valuation_date"`
	TTEDays       int         `json:"tte_days"`
	Strike        Strike      `json:"strike"`
	HistoryStart  time.Time   `json:"history_start"`
	HistoryEnd    time.Time   `json:"history_end"`
	Process       ProcessKind `json:"process"`
	RateDataset   string      `json:"rate_dataset,omitempty"`
	Simulations   int         `json:"simulations,omitempty"`
	Workers       int         `json:"workers,omitempty"`
	Seed          uint64      `json:"seed,omitempty"`
	Overrides     Overrides   `json:"overrides"`
}

// EffectiveProcess returns the override process when set, otherwise Process
func (r *PricingRequest) EffectiveProcess() ProcessKind {
	if r.Overrides.Process != nil {
		return *r.Overrides.Process
	}
	return r.Process
}

// Everything produced by one pricing run
type PricingResult struct {
	RequestID              string              `json:"request_id"`
	Ticker                 string              `json:"ticker"`
	CallPrice              float64             `json:"call_price"`
	PutPrice               float64             `json:"put_price"`
	CallStdErr             float64             `json:"call_std_err"`
	PutStdErr              float64             `json:"put_std_err"`
	RiskFreeRate           float64             `json:"risk_free_rate"`
	DiscountFactor         float64             `json:"discount_factor"`
	SpotPrice              float64             `json:"spot_price"`
	Strike                 Strike              `json:"strike"`
	RequestedValuationDate time.Time           `json:"requested_valuation_date"`
	ValuationDate          time.Time           `json:"valuation_date"`
	TTEDays                int                 `json:"tte_days"`
	TimeToExpiry           float64             `json:"time_to_expiry"`
	Volatility             float64             `json:"volatility"`
	VolatilityMode         string              `json:"volatility_mode"`
	MLE                    *VolatilityEstimate `json:"mle,omitempty"`
	RegressionVolatility   float64             `json:"regression_volatility,omitempty"`
	Process                ProcessKind         `json:"process"`
	RateDataset            string              `json:"rate_dataset"`
	RateWindow             RateWindow          `json:"rate_window"`
	History                *PriceSeries        `json:"history,omitempty"`
	Paths                  [][]float64         `json:"paths,omitempty"`
	Simulations            int                 `json:"simulations"`
	CallGreeks             GreeksResult        `json:"call_greeks"`
	PutGreeks              GreeksResult        `json:"put_greeks"`
	Duration               time.Duration       `json:"duration_ns"`
}
