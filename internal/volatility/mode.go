package volatility

import (
	"strings"

	"github.com/rzzdr/euro-option-pricer/pkg/utils/errors"
)

// Mode selects which estimators feed the pricing volatility
type Mode string

const (
	ModeBlend      Mode = "blend"
	ModeRegression Mode = "regression"
	ModeMLE        Mode = "mle"
)

// ParseMode accepts "blend", "regression" or "mle"; empty means blend
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeBlend, nil
	case ModeBlend, ModeRegression, ModeMLE:
		return m, nil
	default:
		return "", errors.InvalidInputf("unknown volatility mode %q", s)
	}
}

// UsesMLE reports whether the likelihood estimator contributes to m
func (m Mode) UsesMLE() bool {
	return m == ModeBlend || m == ModeMLE
}

// UsesRegression reports whether the regression predictor contributes to m
func (m Mode) UsesRegression() bool {
	return m == ModeBlend || m == ModeRegression
}

// Combine returns the pricing volatility for m from the blended outputs of
// each estimator
func (m Mode) Combine(mle, regression float64) float64 {
	switch m {
	case ModeMLE:
		return mle
	case ModeRegression:
		return regression
	default:
		return 0.5 * (mle + regression)
	}
}
