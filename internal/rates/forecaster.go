package rates

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/rzzdr/euro-option-pricer/pkg/metrics"
	"github.com/rzzdr/euro-option-pricer/pkg/models"
	"github.com/rzzdr/euro-option-pricer/pkg/utils/errors"
	"github.com/rzzdr/euro-option-pricer/pkg/utils/logger"
)

// Source loads the raw observations of a yield dataset
type Source interface {
	Load(ctx context.Context, id string) ([]models.RatePoint, error)
}

// Config configures a Forecaster
type Config struct {
	Model       ModelConfig
	HorizonDays int // daily periods forecast past the last observation
}

// Forecast is a fitted rate curve over the history and the horizon
type Forecast struct {
	Dataset  string
	Points   []models.RatePoint
	Stats    FitStats
	FittedAt time.Time
}

// Window returns the contiguous forecast points with
// valuation <= date <= valuation+tteDays
func (f *Forecast) Window(valuation time.Time, tteDays int) (models.RateWindow, error) {
	from := models.DateOnly(valuation)
	to := from.AddDate(0, 0, tteDays)

	lo := sort.Search(len(f.Points), func(i int) bool { return !f.Points[i].Date.Before(from) })
	hi := sort.Search(len(f.Points), func(i int) bool { return f.Points[i].Date.After(to) })
	if lo >= hi {
		return nil, errors.DataUnavailablef("no %s forecast between %s and %s",
			f.Dataset, from.Format(time.DateOnly), to.Format(time.DateOnly))
	}

	w := make(models.RateWindow, hi-lo)
	copy(w, f.Points[lo:hi])
	return w, nil
}

// Forecaster fits and caches one rate curve per dataset
type Forecaster struct {
	source  Source
	cfg     Config
	metrics *metrics.Recorder
	log     *logger.Logger

	mu    sync.RWMutex
	cache map[string]*Forecast
	group singleflight.Group
}

// NewForecaster creates a new Forecaster. recorder may be nil.
func NewForecaster(source Source, cfg Config, recorder *metrics.Recorder) *Forecaster {
	if cfg.HorizonDays <= 0 {
		cfg.HorizonDays = 365
	}
	return &Forecaster{
		source:  source,
		cfg:     cfg,
		metrics: recorder,
		log:     logger.GetLogger("rates.forecaster"),
		cache:   make(map[string]*Forecast),
	}
}

// Forecast returns the fitted curve for dataset id, fitting it on first use
func (f *Forecaster) Forecast(ctx context.Context, id string) (*Forecast, error) {
	if _, err := FileName(id); err != nil {
		return nil, err
	}

	f.mu.RLock()
	cached, ok := f.cache[id]
	f.mu.RUnlock()
	if ok {
		return cached, nil
	}

	v, err, _ := f.group.Do(id, func() (interface{}, error) {
		fc, err := f.fit(ctx, id)
		if err != nil {
			return nil, err
		}
		f.mu.Lock()
		f.cache[id] = fc
		f.mu.Unlock()
		return fc, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Forecast), nil
}

// Window returns the forecast rates for dataset id over the life of an option
func (f *Forecaster) Window(ctx context.Context, id string, valuation time.Time, tteDays int) (models.RateWindow, error) {
	fc, err := f.Forecast(ctx, id)
	if err != nil {
		return nil, err
	}
	return fc.Window(valuation, tteDays)
}

// Invalidate drops any cached curve for id
func (f *Forecaster) Invalidate(id string) {
	f.mu.Lock()
	delete(f.cache, id)
	f.mu.Unlock()
}

func (f *Forecaster) fit(ctx context.Context, id string) (_ *Forecast, err error) {
	start := time.Now()
	defer func() {
		f.metrics.RecordRateForecast(id, time.Since(start), err)
	}()

	raw, err := f.source.Load(ctx, id)
	if err != nil {
		return nil, errors.Wrapf(err, "load rate dataset %s", id)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	obs := Clean(raw)
	if len(obs) == 0 {
		return nil, errors.DataUnavailablef("rate dataset %s has no non-zero observations", id)
	}

	model, stats, err := Fit(obs, f.cfg.Model)
	if err != nil {
		return nil, errors.Wrapf(err, "fit rate dataset %s", id)
	}
	if !stats.Converged {
		f.log.Warnf("Rate curve for %s stopped early after %d iterations (%v): %v", id, stats.Iterations, stats.Status, stats.Err)
	}

	dates := forecastDates(obs, f.cfg.HorizonDays)
	values := model.Predict(dates)
	points := make([]models.RatePoint, len(dates))
	for i, d := range dates {
		points[i] = models.RatePoint{Date: d, Rate: values[i]}
	}

	f.log.Infof("Fitted %s rate curve on %d observations in %v (%d points, last %s)",
		id, len(obs), time.Since(start), len(points), dates[len(dates)-1].Format(time.DateOnly))

	return &Forecast{
		Dataset:  id,
		Points:   points,
		Stats:    stats,
		FittedAt: time.Now(),
	}, nil
}

// Clean drops zero yields, normalises dates to whole days and converts
// percentage quotes to decimals when any observation exceeds 1
func Clean(raw []models.RatePoint) []models.RatePoint {
	out := make([]models.RatePoint, 0, len(raw))
	percent := false
	for _, p := range raw {
		if p.Rate == 0 || math.IsNaN(p.Rate) {
			continue
		}
		if math.Abs(p.Rate) > 1 {
			percent = true
		}
		out = append(out, models.RatePoint{Date: models.DateOnly(p.Date), Rate: p.Rate})
	}
	if percent {
		for i := range out {
			out[i].Rate /= 100
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// forecastDates returns the observation dates followed by horizon daily dates
func forecastDates(obs []models.RatePoint, horizon int) []time.Time {
	dates := make([]time.Time, 0, len(obs)+horizon)
	for i, p := range obs {
		if i > 0 && p.Date.Equal(obs[i-1].Date) {
			continue
		}
		dates = append(dates, p.Date)
	}
	last := dates[len(dates)-1]
	for d := 1; d <= horizon; d++ {
		dates = append(dates, last.AddDate(0, 0, d))
	}
	return dates
}
