package rates

import (
	"context"
	"math"
	"math/rand/v2"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzzdr/euro-option-pricer/pkg/models"
	"github.com/rzzdr/euro-option-pricer/pkg/utils/errors"
	"github.com/rzzdr/euro-option-pricer/pkg/utils/logger"
)

func init() {
	logger.UseNop()
}

var historyStart = time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)

// risingCurve is three years of daily yields drifting from 2% to 4.5%
func risingCurve(level float64) []models.RatePoint {
	rng := rand.New(rand.NewPCG(1, 2))
	const days = 3 * 365
	out := make([]models.RatePoint, 0, days)
	for d := 0; d < days; d++ {
		frac := float64(d) / days
		r := level*(0.02+0.025*frac) + 0.001*math.Sin(2*math.Pi*float64(d)/365.25) + 0.0005*rng.NormFloat64()
		out = append(out, models.RatePoint{Date: historyStart.AddDate(0, 0, d), Rate: r})
	}
	return out
}

type fakeSource struct {
	points map[string][]models.RatePoint
	loads  atomic.Int32
}

func (s *fakeSource) Load(_ context.Context, id string) ([]models.RatePoint, error) {
	s.loads.Add(1)
	p, ok := s.points[id]
	if !ok {
		return nil, errors.DataUnavailablef("no file for %s", id)
	}
	return p, nil
}

func testConfig() Config {
	cfg := DefaultModelConfig()
	cfg.MaxIterations = 200
	return Config{Model: cfg, HorizonDays: 365}
}

func TestRegistry(t *testing.T) {
	assert.Equal(t, []string{"AU-10", "AU-2", "AU-3", "AU-5", "US-1", "US-10", "US-2", "US-5"}, Datasets())

	name, err := FileName("US-2")
	require.NoError(t, err)
	assert.Equal(t, "US_2yr_rfr.csv", name)

	_, err = FileName("JP-10")
	assert.True(t, errors.IsType(err, errors.ErrorTypeDataUnavailable))
}

func TestClean(t *testing.T) {
	day := func(d int) time.Time { return historyStart.AddDate(0, 0, d).Add(15 * time.Hour) }
	raw := []models.RatePoint{{Date: day(2), Rate: 4.1}, {Date: day(0), Rate: 0}, {Date: day(1), Rate: 3.9}}

	out := Clean(raw)
	require.Len(t, out, 2)
	assert.Equal(t, historyStart.AddDate(0, 0, 1), out[0].Date)
	assert.InDelta(t, 0.039, out[0].Rate, 1e-12)
	assert.InDelta(t, 0.041, out[1].Rate, 1e-12)
}

func TestOffsetsKeepTrendContinuous(t *testing.T) {
	changepoints := []float64{0.2, 0.5}
	delta := []float64{1.5, -2}
	k, m := 3.0, 0.4

	gamma := offsets(k, m, delta, changepoints)
	rates, shifts := cumulative(k, m, delta, gamma)
	for i, ts := range changepoints {
		before := logistic(1, ts, rates[i], shifts[i])
		after := logistic(1, ts, rates[i+1], shifts[i+1])
		assert.InDelta(t, before, after, 1e-12, "changepoint %d", i)
	}
}

func TestPlaceChangepoints(t *testing.T) {
	ts := make([]float64, 100)
	for i := range ts {
		ts[i] = float64(i) / 99
	}
	cps := placeChangepoints(ts, DefaultModelConfig())
	require.Len(t, cps, 25)
	assert.LessOrEqual(t, cps[len(cps)-1], ts[79])

	assert.Empty(t, placeChangepoints(ts[:2], DefaultModelConfig()))
}

func TestForecasterFitsAndCaps(t *testing.T) {
	src := &fakeSource{points: map[string][]models.RatePoint{"AU-10": risingCurve(1)}}
	f := NewForecaster(src, testConfig(), nil)

	fc, err := f.Forecast(context.Background(), "AU-10")
	require.NoError(t, err)
	require.Len(t, fc.Points, 3*365+365)

	last := fc.Points[len(fc.Points)-1].Date
	assert.Equal(t, historyStart.AddDate(0, 0, 3*365-1+365), last)

	var absErr float64
	obs := risingCurve(1)
	for i, p := range obs {
		absErr += math.Abs(fc.Points[i].Rate - p.Rate)
		assert.Equal(t, p.Date, fc.Points[i].Date)
	}
	assert.Less(t, absErr/float64(len(obs)), 0.004)

	_, err = f.Window(context.Background(), "AU-10", historyStart.AddDate(0, 6, 0), 30)
	require.NoError(t, err)
	assert.Equal(t, int32(1), src.loads.Load())
}

func TestTrendBoundedByCapForecastUnclipped(t *testing.T) {
	cfg := testConfig()
	raw := risingCurve(2)
	src := &fakeSource{points: map[string][]models.RatePoint{"US-10": raw}}
	fc, err := NewForecaster(src, cfg, nil).Forecast(context.Background(), "US-10")
	require.NoError(t, err)

	obs := Clean(raw)
	model, _, err := Fit(obs, cfg.Model)
	require.NoError(t, err)
	dates := forecastDates(obs, cfg.HorizonDays)
	trend := model.Trend(dates)
	predicted := model.Predict(dates)

	require.Len(t, fc.Points, len(dates))
	for i, p := range fc.Points {
		assert.LessOrEqual(t, trend[i], cfg.Model.Cap+1e-12)
		assert.InDelta(t, predicted[i], p.Rate, 1e-12)
	}
}

func TestForecastWindow(t *testing.T) {
	day := func(d int) time.Time { return historyStart.AddDate(0, 0, d) }
	fc := &Forecast{Dataset: "AU-10"}
	for d := 0; d < 100; d++ {
		fc.Points = append(fc.Points, models.RatePoint{Date: day(d), Rate: float64(d) / 1000})
	}

	w, err := fc.Window(day(10).Add(9*time.Hour), 30)
	require.NoError(t, err)
	require.Len(t, w, 31)
	assert.Equal(t, day(10), w[0].Date)
	assert.Equal(t, day(40), w[30].Date)
	assert.InDelta(t, 0.025, w.Mean(), 1e-12)

	w, err = fc.Window(day(90), 30)
	require.NoError(t, err)
	assert.Len(t, w, 10)

	_, err = fc.Window(day(200), 30)
	assert.True(t, errors.IsType(err, errors.ErrorTypeDataUnavailable))
}

func TestForecasterDataErrors(t *testing.T) {
	zeros := []models.RatePoint{{Date: historyStart, Rate: 0}, {Date: historyStart.AddDate(0, 0, 1), Rate: 0}}
	src := &fakeSource{points: map[string][]models.RatePoint{"AU-5": zeros}}
	f := NewForecaster(src, testConfig(), nil)

	_, err := f.Forecast(context.Background(), "AU-5")
	assert.True(t, errors.IsType(err, errors.ErrorTypeDataUnavailable), "got %v", err)

	_, err = f.Forecast(context.Background(), "AU-2")
	assert.True(t, errors.IsType(err, errors.ErrorTypeDataUnavailable), "got %v", err)

	_, err = f.Window(context.Background(), "XX-1", historyStart, 30)
	assert.True(t, errors.IsType(err, errors.ErrorTypeDataUnavailable), "got %v", err)
}

func TestFitRejectsBadConfig(t *testing.T) {
	cfg := DefaultModelConfig()
	cfg.Cap = 0
	_, _, err := Fit(risingCurve(1), cfg)
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidInput))

	_, _, err = Fit(risingCurve(1)[:1], DefaultModelConfig())
	assert.True(t, errors.IsType(err, errors.ErrorTypeDataUnavailable))
}
