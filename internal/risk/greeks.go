package risk

import (
	"math"

	"github.com/rzzdr/euro-option-pricer/pkg/models"
	"github.com/rzzdr/euro-option-pricer/pkg/utils/logger"
)

// GreeksCalculator handles calculation of option Greeks
type GreeksCalculator struct {
	log *logger.Logger
}

// NewGreeksCalculator creates a new Greeks calculator
func NewGreeksCalculator() *GreeksCalculator {
	return &GreeksCalculator{
		log: logger.GetLogger("risk.greeks"),
	}
}

// Calculate returns the Greeks of one option. Theta is per calendar day,
// Vega and Rho per percentage point.
func (gc *GreeksCalculator) Calculate(side models.OptionSide, in Inputs) (models.GreeksResult, error) {
	if err := in.Validate(); err != nil {
		gc.log.Debugf("Rejected Greeks inputs %+v: %v", in, err)
		return models.GreeksResult{}, err
	}

	S, K, T, r, sigma := in.Spot, in.Strike, in.T, in.Rate, in.Volatility
	d1, d2 := in.d()
	sqrtT := math.Sqrt(T)
	df := math.Exp(-r * T)
	pdf := normalPDF(d1)

	// Gamma and Vega are the same for both sides
	gamma := pdf / (S * sigma * sqrtT)
	vega := S * pdf * sqrtT / 100

	decay := -(S * pdf * sigma) / (2 * sqrtT)
	var delta, theta, rho float64
	if side == models.OptionSidePut {
		delta = normalCDF(d1) - 1
		theta = (decay + r*K*df*normalCDF(-d2)) / 365
		rho = -K * T * df * normalCDF(-d2) / 100
	} else {
		delta = normalCDF(d1)
		theta = (decay - r*K*df*normalCDF(d2)) / 365
		rho = K * T * df * normalCDF(d2) / 100
	}

	return models.NewGreeksResult(side, delta, gamma, theta, vega, rho), nil
}

// CalculateBoth returns the call and put Greeks for the same inputs
func (gc *GreeksCalculator) CalculateBoth(in Inputs) (call, put models.GreeksResult, err error) {
	if call, err = gc.Calculate(models.OptionSideCall, in); err != nil {
		return models.GreeksResult{}, models.GreeksResult{}, err
	}
	put, err = gc.Calculate(models.OptionSidePut, in)
	return call, put, err
}
