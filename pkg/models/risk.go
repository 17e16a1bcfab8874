package models

import "fmt"

// The side of a European option
type OptionSide int

const (
	OptionSideCall OptionSide = iota
	OptionSidePut
)

// String returns "call" or "put"
func (s OptionSide) String() string {
	if s == OptionSidePut {
		return "put"
	}
	return "call"
}

// MarshalText encodes the side as its name
func (s OptionSide) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts "call" or "put"
func (s *OptionSide) UnmarshalText(b []byte) error {
	switch string(b) {
	case "call", "Call", "CALL":
		*s = OptionSideCall
	case "put", "Put", "PUT":
		*s = OptionSidePut
	default:
		return fmt.Errorf("unknown option side %q", string(b))
	}
	return nil
}

// The Black-Scholes sensitivities of one option.
// Theta is per calendar day, Vega and Rho are per percentage point.
type GreeksResult struct {
	Side  OptionSide `json:"side"`
	Delta float64    `json:"delta"`
	Gamma float64    `json:"gamma"`
	Theta float64    `json:"theta"`
	Vega  float64    `json:"vega"`
	Rho   float64    `json:"rho"`
}

// Output of the likelihood estimator. Volatility is FittedVolatility blended
// with HistoricalVolatility; Drift is reported as fitted.
type VolatilityEstimate struct {
	Drift                float64 `json:"drift"`
	Volatility           float64 `json:"volatility"`
	FittedVolatility     float64 `json:"fitted_volatility"`
	HistoricalVolatility float64 `json:"historical_volatility"`
}

// Creates a new GreeksResult
func NewGreeksResult(side OptionSide, delta, gamma, theta, vega, rho float64) GreeksResult {
	return GreeksResult{
		Side:  side,
		Delta: delta,
		Gamma: gamma,
		Theta: theta,
		Vega:  vega,
		Rho:   rho,
	}
}
