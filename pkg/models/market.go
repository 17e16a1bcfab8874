package models

import (
	"time"
)

// A single daily close for an instrument
type PricePoint struct {
	Date  time.Time `json:"date"`
	Close float64   `json:"close"`
}

// Daily closes for one ticker, ordered by date
type PriceSeries struct {
	Ticker string       `json:"ticker"`
	Points []PricePoint `json:"points"`
}

// Len returns the number of observations in the series
func (s *PriceSeries) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Points)
}

// Closes returns the close prices in date order
func (s *PriceSeries) Closes() []float64 {
	out := make([]float64, len(s.Points))
	for i, p := range s.Points {
		out[i] = p.Close
	}
	return out
}

// Dates returns the observation dates in order
func (s *PriceSeries) Dates() []time.Time {
	out := make([]time.Time, len(s.Points))
	for i, p := range s.Points {
		out[i] = p.Date
	}
	return out
}

// Between returns a copy of the series restricted to start <= date <= end
func (s *PriceSeries) Between(start, end time.Time) *PriceSeries {
	out := &PriceSeries{Ticker: s.Ticker}
	for _, p := range s.Points {
		if p.Date.Before(start) || p.Date.After(end) {
			continue
		}
		out.Points = append(out.Points, p)
	}
	return out
}

// A single observed or forecast risk-free rate, as a decimal fraction
type RatePoint struct {
	Date time.Time `json:"date"`
	Rate float64   `json:"rate"`
}

// Contiguous daily rates covering the life of an option
type RateWindow []RatePoint

// Mean returns the arithmetic mean rate of the window, or 0 when it is empty
func (w RateWindow) Mean() float64 {
	if len(w) == 0 {
		return 0
	}
	var sum float64
	for _, p := range w {
		sum += p.Rate
	}
	return sum / float64(len(w))
}

// FlatRateWindow builds a window of one point per day from start for days+1 days
func FlatRateWindow(start time.Time, days int, rate float64) RateWindow {
	if days < 0 {
		days = 0
	}
	w := make(RateWindow, 0, days+1)
	for i := 0; i <= days; i++ {
		w = append(w, RatePoint{Date: start.AddDate(0, 0, i), Rate: rate})
	}
	return w
}

// DateOnly normalises t to midnight UTC of its calendar day
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
