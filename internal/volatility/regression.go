package volatility

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/rzzdr/euro-option-pricer/pkg/utils/errors"
	"github.com/rzzdr/euro-option-pricer/pkg/utils/logger"
)

// Trailing windows, in observations, of the mean-return features
var featureWindows = []int{1, 5, 20, 63, 126}

const targetWindow = 20

// RegressionConfig configures a RegressionPredictor
type RegressionConfig struct {
	TradingDays  int     // annualisation of the target and historical volatility
	TestFraction float64 // share of rows held out to measure RMSE
	Seed         uint64  // 0 shuffles differently on every fit
}

// RegressionResult is the output of one regression fit
type RegressionResult struct {
	Predicted  float64 // model output for the most recent row
	Historical float64 // population std of all returns, annualised
	Volatility float64 // mean of Predicted and Historical
	TestRMSE   float64
	TrainRows  int
	TestRows   int
}

// RegressionPredictor forecasts rolling realised volatility from trailing
// mean returns with ordinary least squares
type RegressionPredictor struct {
	cfg RegressionConfig
	log *logger.Logger
}

// NewRegressionPredictor creates a new predictor, filling zero config values
// with 252 trading days and a 20% test split
func NewRegressionPredictor(cfg RegressionConfig) *RegressionPredictor {
	if cfg.TradingDays <= 0 {
		cfg.TradingDays = 252
	}
	if cfg.TestFraction <= 0 || cfg.TestFraction >= 1 {
		cfg.TestFraction = 0.2
	}
	return &RegressionPredictor{
		cfg: cfg,
		log: logger.GetLogger("volatility.regression"),
	}
}

// Dataset builds the design matrix rows (intercept first) and targets from
// log returns. Row t uses mean returns over windows ending at t-1 and targets
// the sample std of returns over [t-19, t], annualised.
func Dataset(logReturns []float64, tradingDays int) (features [][]float64, targets []float64) {
	first := featureWindows[len(featureWindows)-1]
	if first < targetWindow-1 {
		first = targetWindow - 1
	}

	prefix := make([]float64, len(logReturns)+1)
	for i, r := range logReturns {
		prefix[i+1] = prefix[i] + r
	}
	annual := math.Sqrt(float64(tradingDays))

	for t := first; t < len(logReturns); t++ {
		row := make([]float64, 0, len(featureWindows)+1)
		row = append(row, 1)
		for _, w := range featureWindows {
			row = append(row, (prefix[t]-prefix[t-w])/float64(w))
		}
		features = append(features, row)
		targets = append(targets, stat.StdDev(logReturns[t-targetWindow+1:t+1], nil)*annual)
	}
	return features, targets
}

// Predict fits the model on logReturns and predicts the latest volatility
func (p *RegressionPredictor) Predict(logReturns []float64) (*RegressionResult, error) {
	features, targets := Dataset(logReturns, p.cfg.TradingDays)
	cols := len(featureWindows) + 1
	if len(features) < cols+2 {
		return nil, errors.DataUnavailablef("regression needs at least %d usable rows, got %d from %d returns",
			cols+2, len(features), len(logReturns))
	}

	rng := p.newRand()
	order := rng.Perm(len(features))
	nTest := int(math.Ceil(p.cfg.TestFraction * float64(len(features))))
	if len(features)-nTest < cols {
		nTest = len(features) - cols
	}
	train, test := order[nTest:], order[:nTest]

	coef, err := fitOLS(features, targets, train)
	if err != nil {
		return nil, errors.OptimizationFailure("least squares fit failed", err)
	}

	var sq float64
	for _, i := range test {
		d := dot(coef, features[i]) - targets[i]
		sq += d * d
	}
	rmse := 0.0
	if len(test) > 0 {
		rmse = math.Sqrt(sq / float64(len(test)))
	}

	predicted := dot(coef, features[len(features)-1])
	hist := Historical(logReturns, p.cfg.TradingDays)

	p.log.Debugf("Regression fit on %d rows, test RMSE %.4f, predicted %.4f, historical %.4f",
		len(train), rmse, predicted, hist)

	return &RegressionResult{
		Predicted:  predicted,
		Historical: hist,
		Volatility: 0.5 * (predicted + hist),
		TestRMSE:   rmse,
		TrainRows:  len(train),
		TestRows:   len(test),
	}, nil
}

func (p *RegressionPredictor) newRand() *rand.Rand {
	if p.cfg.Seed == 0 {
		return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return rand.New(rand.NewPCG(p.cfg.Seed, p.cfg.Seed))
}

// fitOLS solves the least squares problem on the given rows via QR
func fitOLS(features [][]float64, targets []float64, rows []int) (_ []float64, err error) {
	defer func() {
		// mat panics on malformed input
		if r := recover(); r != nil {
			err = errors.Internal("least squares panicked")
		}
	}()

	cols := len(features[0])
	x := mat.NewDense(len(rows), cols, nil)
	y := mat.NewVecDense(len(rows), nil)
	for i, row := range rows {
		x.SetRow(i, features[row])
		y.SetVec(i, targets[row])
	}

	var beta mat.VecDense
	if err := beta.SolveVec(x, y); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return nil, err
		}
		// Ill-conditioned but solved; the coefficients are still usable.
	}
	return mat.Col(nil, 0, &beta), nil
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}
