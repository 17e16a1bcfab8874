package rates

import (
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/optimize"

	"github.com/rzzdr/euro-option-pricer/pkg/models"
	"github.com/rzzdr/euro-option-pricer/pkg/utils/errors"
)

const (
	secondsPerDay = 86400.0

	trendPriorScale  = 5.0
	seasonPriorScale = 10.0
	sigmaPriorScale  = 0.5
	laplaceSmoothing = 1e-4
)

// ModelConfig configures the additive trend plus seasonality model
type ModelConfig struct {
	Cap                   float64
	ChangepointPriorScale float64
	Changepoints          int
	ChangepointRange      float64
	YearlyOrder           int
	WeeklyOrder           int
	MaxIterations         int
}

// DefaultModelConfig caps rates at 6% with heavily damped trend changes
func DefaultModelConfig() ModelConfig {
	return ModelConfig{
		Cap:                   0.06,
		ChangepointPriorScale: 0.01,
		Changepoints:          25,
		ChangepointRange:      0.8,
		YearlyOrder:           10,
		WeeklyOrder:           3,
		MaxIterations:         500,
	}
}

type seasonality struct {
	name   string
	period float64 // days
	order  int
}

// FitStats describes how the optimiser finished
type FitStats struct {
	Status      optimize.Status
	Iterations  int
	Evaluations int
	Converged   bool
	Err         error
}

// Model is a fitted logistic-growth curve with piecewise-constant growth
// rate and Fourier seasonality, in the spirit of Prophet
type Model struct {
	cfg          ModelConfig
	start        time.Time
	spanDays     float64
	yScale       float64
	capScaled    float64
	changepoints []float64
	seasons      []seasonality

	k, m  float64
	delta []float64
	gamma []float64
	beta  []float64
	sigma float64
}

// problem holds the scaled training data
type problem struct {
	t        []float64
	y        []float64
	segment  []int
	features [][]float64
	model    *Model
}

// Fit estimates the model from observations by maximising the posterior.
// Observations are sorted by date; at least two distinct dates are needed.
func Fit(points []models.RatePoint, cfg ModelConfig) (*Model, FitStats, error) {
	if !(cfg.Cap > 0) {
		return nil, FitStats{}, errors.InvalidInputf("rate cap must be positive, got %v", cfg.Cap)
	}
	if !(cfg.ChangepointPriorScale > 0) {
		return nil, FitStats{}, errors.InvalidInputf("changepoint prior scale must be positive, got %v", cfg.ChangepointPriorScale)
	}
	if len(points) < 2 {
		return nil, FitStats{}, errors.DataUnavailablef("need at least 2 observations to fit a rate curve, got %d", len(points))
	}

	pts := make([]models.RatePoint, len(points))
	copy(pts, points)
	sort.Slice(pts, func(i, j int) bool { return pts[i].Date.Before(pts[j].Date) })

	mdl := &Model{cfg: cfg, start: pts[0].Date}
	mdl.spanDays = pts[len(pts)-1].Date.Sub(mdl.start).Seconds() / secondsPerDay
	if mdl.spanDays <= 0 {
		return nil, FitStats{}, errors.DataUnavailable("rate observations cover a single date")
	}

	for _, p := range pts {
		mdl.yScale = math.Max(mdl.yScale, math.Abs(p.Rate))
	}
	if mdl.yScale == 0 {
		return nil, FitStats{}, errors.DataUnavailable("rate observations are all zero")
	}
	mdl.capScaled = cfg.Cap / mdl.yScale

	pr := &problem{model: mdl}
	for _, p := range pts {
		pr.t = append(pr.t, mdl.scaledTime(p.Date))
		pr.y = append(pr.y, p.Rate/mdl.yScale)
	}

	mdl.changepoints = placeChangepoints(pr.t, cfg)
	mdl.seasons = chooseSeasonalities(pts, mdl.spanDays, cfg)
	for i, p := range pts {
		pr.segment = append(pr.segment, mdl.segmentOf(pr.t[i]))
		pr.features = append(pr.features, mdl.fourier(p.Date))
	}

	x0 := pr.initial()
	stats, err := pr.optimize(x0)
	if err != nil {
		return nil, stats, err
	}
	return mdl, stats, nil
}

func (m *Model) scaledTime(d time.Time) float64 {
	return d.Sub(m.start).Seconds() / secondsPerDay / m.spanDays
}

// placeChangepoints spreads potential changepoints evenly over the first
// ChangepointRange of the observations
func placeChangepoints(t []float64, cfg ModelConfig) []float64 {
	histSize := int(math.Floor(float64(len(t)) * cfg.ChangepointRange))
	n := cfg.Changepoints
	if n > histSize-1 {
		n = histSize - 1
	}
	if n <= 0 {
		return nil
	}
	out := make([]float64, 0, n)
	for i := 1; i <= n; i++ {
		idx := int(math.Round(float64(i) * float64(histSize-1) / float64(n)))
		out = append(out, t[idx])
	}
	return out
}

// chooseSeasonalities enables yearly terms with two years of data and weekly
// terms with two weeks of sub-weekly data
func chooseSeasonalities(pts []models.RatePoint, spanDays float64, cfg ModelConfig) []seasonality {
	var out []seasonality
	if cfg.YearlyOrder > 0 && spanDays >= 730 {
		out = append(out, seasonality{name: "yearly", period: 365.25, order: cfg.YearlyOrder})
	}
	minGap := math.Inf(1)
	for i := 1; i < len(pts); i++ {
		if gap := pts[i].Date.Sub(pts[i-1].Date).Hours() / 24; gap > 0 && gap < minGap {
			minGap = gap
		}
	}
	if cfg.WeeklyOrder > 0 && spanDays >= 14 && minGap < 7 {
		out = append(out, seasonality{name: "weekly", period: 7, order: cfg.WeeklyOrder})
	}
	return out
}

func (m *Model) segmentOf(t float64) int {
	return sort.Search(len(m.changepoints), func(i int) bool { return m.changepoints[i] > t })
}

func (m *Model) fourier(d time.Time) []float64 {
	days := float64(d.Unix()) / secondsPerDay
	var out []float64
	for _, s := range m.seasons {
		for n := 1; n <= s.order; n++ {
			arg := 2 * math.Pi * float64(n) * days / s.period
			out = append(out, math.Sin(arg), math.Cos(arg))
		}
	}
	return out
}

func (m *Model) numFeatures() int {
	n := 0
	for _, s := range m.seasons {
		n += 2 * s.order
	}
	return n
}

// offsets makes the logistic curve continuous at every changepoint
func offsets(k, m float64, delta, changepoints []float64) []float64 {
	gamma := make([]float64, len(delta))
	rate := k
	shift := m
	for i, ts := range changepoints {
		next := rate + delta[i]
		if next != 0 {
			gamma[i] = (ts - shift) * (1 - rate/next)
		}
		shift += gamma[i]
		rate = next
	}
	return gamma
}

// cumulative returns growth rate and offset for every segment
func cumulative(k, m float64, delta, gamma []float64) (rates, shifts []float64) {
	rates = make([]float64, len(delta)+1)
	shifts = make([]float64, len(delta)+1)
	rates[0], shifts[0] = k, m
	for i := range delta {
		rates[i+1] = rates[i] + delta[i]
		shifts[i+1] = shifts[i] + gamma[i]
	}
	return rates, shifts
}

func logistic(capScaled, t, rate, shift float64) float64 {
	return capScaled / (1 + math.Exp(-rate*(t-shift)))
}

// unpack splits the parameter vector
func (pr *problem) unpack(x []float64) (k, m float64, delta, beta []float64, logSigma float64) {
	s := len(pr.model.changepoints)
	f := pr.model.numFeatures()
	return x[0], x[1], x[2 : 2+s], x[2+s : 2+s+f], x[2+s+f]
}

// negLogPosterior is the MAP objective on the scaled data
func (pr *problem) negLogPosterior(x []float64) float64 {
	mdl := pr.model
	k, m, delta, beta, logSigma := pr.unpack(x)
	if math.Abs(logSigma) > 30 {
		return math.Inf(1)
	}
	gamma := offsets(k, m, delta, mdl.changepoints)
	rates, shifts := cumulative(k, m, delta, gamma)

	var sse float64
	for i, t := range pr.t {
		seg := pr.segment[i]
		fit := logistic(mdl.capScaled, t, rates[seg], shifts[seg])
		for j, b := range beta {
			fit += b * pr.features[i][j]
		}
		r := pr.y[i] - fit
		sse += r * r
	}

	sigma := math.Exp(logSigma)
	v := sse/(2*sigma*sigma) + float64(len(pr.y))*logSigma
	v += sigma * sigma / (2 * sigmaPriorScale * sigmaPriorScale)
	v += (k*k + m*m) / (2 * trendPriorScale * trendPriorScale)
	for _, d := range delta {
		v += math.Sqrt(d*d+laplaceSmoothing*laplaceSmoothing) / mdl.cfg.ChangepointPriorScale
	}
	for _, b := range beta {
		v += b * b / (2 * seasonPriorScale * seasonPriorScale)
	}
	if math.IsNaN(v) {
		return math.Inf(1)
	}
	return v
}

// initial solves the logistic curve through the first and last observation
func (pr *problem) initial() []float64 {
	mdl := pr.model
	s := len(mdl.changepoints)
	x := make([]float64, 2+s+mdl.numFeatures()+1)

	c := mdl.capScaled
	clamp := func(v float64) float64 { return math.Max(0.01*c, math.Min(0.99*c, v)) }
	y0, y1 := clamp(pr.y[0]), clamp(pr.y[len(pr.y)-1])
	r0, r1 := c/y0, c/y1
	if math.Abs(r0-r1) <= 0.01 {
		r0 *= 1.05
	}
	l0, l1 := math.Log(r0-1), math.Log(r1-1)
	T := pr.t[len(pr.t)-1] - pr.t[0]

	k := (l0 - l1) / T
	m := 0.0
	if l0 != l1 {
		m = l0 * T / (l0 - l1)
	}
	x[0], x[1] = k, m
	return x
}

func (pr *problem) optimize(x0 []float64) (FitStats, error) {
	mdl := pr.model
	f0 := pr.negLogPosterior(x0)
	if math.IsInf(f0, 0) {
		return FitStats{}, errors.OptimizationFailure("rate model has no finite starting point", nil)
	}

	gradSettings := &fd.Settings{Formula: fd.Central, Concurrent: true}
	p := optimize.Problem{
		Func: pr.negLogPosterior,
		Grad: func(grad, x []float64) {
			fd.Gradient(grad, pr.negLogPosterior, x, gradSettings)
		},
	}
	settings := &optimize.Settings{
		MajorIterations: mdl.cfg.MaxIterations,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-9,
			Relative:   1e-9,
			Iterations: 20,
		},
	}

	res, err := optimize.Minimize(p, x0, settings, &optimize.LBFGS{})
	if res == nil {
		return FitStats{Err: err}, errors.OptimizationFailure("rate model fit failed", err)
	}
	stats := FitStats{
		Status:      res.Status,
		Iterations:  res.MajorIterations,
		Evaluations: res.FuncEvaluations,
		Converged:   err == nil && !res.Status.Early(),
		Err:         err,
	}

	// Line search failures still leave a usable improvement behind.
	x := res.X
	if math.IsNaN(res.F) || math.IsInf(res.F, 0) || res.F > f0 {
		if err == nil {
			err = fmt.Errorf("optimum %v is worse than the start %v", res.F, f0)
		}
		return stats, errors.OptimizationFailure("rate model fit failed", err)
	}

	k, m, delta, beta, logSigma := pr.unpack(x)
	mdl.k, mdl.m = k, m
	mdl.delta = append([]float64(nil), delta...)
	mdl.beta = append([]float64(nil), beta...)
	mdl.gamma = offsets(k, m, mdl.delta, mdl.changepoints)
	mdl.sigma = math.Exp(logSigma) * mdl.yScale
	return stats, nil
}

// Predict returns the fitted rate at each date, in the units of the data
func (m *Model) Predict(dates []time.Time) []float64 {
	rates, shifts := cumulative(m.k, m.m, m.delta, m.gamma)
	out := make([]float64, len(dates))
	for i, d := range dates {
		t := m.scaledTime(d)
		seg := m.segmentOf(t)
		v := logistic(m.capScaled, t, rates[seg], shifts[seg])
		for j, f := range m.fourier(d) {
			v += m.beta[j] * f
		}
		out[i] = v * m.yScale
	}
	return out
}

// Trend returns the logistic component alone at each date
func (m *Model) Trend(dates []time.Time) []float64 {
	rates, shifts := cumulative(m.k, m.m, m.delta, m.gamma)
	out := make([]float64, len(dates))
	for i, d := range dates {
		t := m.scaledTime(d)
		seg := m.segmentOf(t)
		out[i] = logistic(m.capScaled, t, rates[seg], shifts[seg]) * m.yScale
	}
	return out
}

// Sigma returns the fitted observation noise in the units of the data
func (m *Model) Sigma() float64 {
	return m.sigma
}
