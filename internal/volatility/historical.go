package volatility

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/rzzdr/euro-option-pricer/pkg/utils/errors"
)

// LogReturns returns ln(p[i]/p[i-1]) for consecutive closes
func LogReturns(closes []float64) ([]float64, error) {
	if len(closes) < 2 {
		return nil, errors.DataUnavailablef("need at least 2 closes for returns, got %d", len(closes))
	}
	out := make([]float64, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if !(closes[i] > 0) || !(closes[i-1] > 0) {
			return nil, errors.InvalidInputf("close prices must be positive, got %v at index %d", closes[i], i)
		}
		out[i-1] = math.Log(closes[i] / closes[i-1])
	}
	return out, nil
}

// Historical returns the population standard deviation of logReturns scaled
// by sqrt(periodsPerYear)
func Historical(logReturns []float64, periodsPerYear int) float64 {
	if len(logReturns) == 0 {
		return 0
	}
	return stat.PopStdDev(logReturns, nil) * math.Sqrt(float64(periodsPerYear))
}
