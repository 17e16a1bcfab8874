package risk

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/rzzdr/euro-option-pricer/pkg/models"
	"github.com/rzzdr/euro-option-pricer/pkg/utils/errors"
)

func normalCDF(x float64) float64 {
	return distuv.UnitNormal.CDF(x)
}

func normalPDF(x float64) float64 {
	return distuv.UnitNormal.Prob(x)
}

// Inputs to the Black-Scholes formulas. T is in years, Rate and Volatility
// are annualised decimals.
type Inputs struct {
	Spot       float64
	Strike     float64
	T          float64
	Rate       float64
	Volatility float64
}

// Validate rejects inputs for which d1 is undefined
func (in Inputs) Validate() error {
	switch {
	case !(in.Spot > 0):
		return errors.InvalidInputf("spot must be positive, got %v", in.Spot)
	case !(in.Strike > 0):
		return errors.InvalidInputf("strike must be positive, got %v", in.Strike)
	case !(in.T > 0):
		return errors.InvalidInputf("time to expiry must be positive, got %v", in.T)
	case !(in.Volatility > 0):
		return errors.InvalidInputf("volatility must be positive, got %v", in.Volatility)
	case math.IsNaN(in.Rate) || math.IsInf(in.Rate, 0):
		return errors.InvalidInputf("rate must be finite, got %v", in.Rate)
	}
	return nil
}

// d1 and d2 of the Black-Scholes formula
func (in Inputs) d() (float64, float64) {
	sqrtT := math.Sqrt(in.T)
	d1 := (math.Log(in.Spot/in.Strike) + (in.Rate+0.5*in.Volatility*in.Volatility)*in.T) / (in.Volatility * sqrtT)
	return d1, d1 - in.Volatility*sqrtT
}

// Price returns the closed-form price of a European option on side
func Price(side models.OptionSide, in Inputs) (float64, error) {
	if err := in.Validate(); err != nil {
		return 0, err
	}

	d1, d2 := in.d()
	df := math.Exp(-in.Rate * in.T)
	if side == models.OptionSidePut {
		return in.Strike*df*normalCDF(-d2) - in.Spot*normalCDF(-d1), nil
	}
	return in.Spot*normalCDF(d1) - in.Strike*df*normalCDF(d2), nil
}

// CallPrice returns the Black-Scholes price of a European call
func CallPrice(spot, strike, t, rate, vol float64) (float64, error) {
	return Price(models.OptionSideCall, Inputs{Spot: spot, Strike: strike, T: t, Rate: rate, Volatility: vol})
}

// PutPrice returns the Black-Scholes price of a European put
func PutPrice(spot, strike, t, rate, vol float64) (float64, error) {
	return Price(models.OptionSidePut, Inputs{Spot: spot, Strike: strike, T: t, Rate: rate, Volatility: vol})
}
