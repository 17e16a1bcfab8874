package store

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rzzdr/euro-option-pricer/pkg/models"
	"github.com/rzzdr/euro-option-pricer/pkg/utils/errors"
	"github.com/rzzdr/euro-option-pricer/pkg/utils/logger"
)

// PriceProvider supplies daily closes for a ticker over an inclusive date range
type PriceProvider interface {
	GetPrices(ctx context.Context, ticker string, start, end time.Time) (*models.PriceSeries, error)
}

// CSVPriceProvider reads <TICKER>.csv files with Date and Close columns
type CSVPriceProvider struct {
	dir string
	log *logger.Logger
}

// Creates a new CSV price provider rooted at dir
func NewCSVPriceProvider(dir string) *CSVPriceProvider {
	return &CSVPriceProvider{
		dir: dir,
		log: logger.GetLogger("store.csv"),
	}
}

func (p *CSVPriceProvider) GetPrices(ctx context.Context, ticker string, start, end time.Time) (*models.PriceSeries, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if ticker == "" || strings.ContainsAny(ticker, `/\`) {
		return nil, errors.InvalidInputf("invalid ticker %q", ticker)
	}

	path := filepath.Join(p.dir, ticker+".csv")
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.DataUnavailablef("no price history for %s", ticker)
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	series, err := ParsePriceCSV(ticker, f)
	if err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}

	out := series.Between(models.DateOnly(start), models.DateOnly(end))
	p.log.Debugf("Loaded %d of %d closes for %s", out.Len(), series.Len(), ticker)
	return out, nil
}

// ParsePriceCSV reads a header row naming Date and Close columns followed by
// one row per trading day. Rows with an empty or non-positive close are skipped.
func ParsePriceCSV(ticker string, r io.Reader) (*models.PriceSeries, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, errors.DataUnavailablef("empty price file for %s", ticker)
	}

	dateCol, closeCol := -1, -1
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "date":
			dateCol = i
		case "close":
			closeCol = i
		}
	}
	if dateCol < 0 || closeCol < 0 {
		return nil, errors.InvalidInputf("price file for %s needs Date and Close columns", ticker)
	}

	series := &models.PriceSeries{Ticker: ticker}
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if len(record) <= dateCol || len(record) <= closeCol {
			continue
		}

		raw := strings.TrimSpace(record[closeCol])
		if raw == "" {
			continue
		}
		closePrice, err := strconv.ParseFloat(raw, 64)
		if err != nil || closePrice <= 0 {
			continue
		}

		date, err := parsePriceDate(record[dateCol])
		if err != nil {
			return nil, errors.InvalidInputf("line %d: bad date %q", line, record[dateCol])
		}
		series.Points = append(series.Points, models.PricePoint{Date: date, Close: closePrice})
	}

	sort.SliceStable(series.Points, func(i, j int) bool {
		return series.Points[i].Date.Before(series.Points[j].Date)
	})
	return series, nil
}

// parsePriceDate accepts ISO dates, optionally followed by a time of day
func parsePriceDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if len(s) > len(time.DateOnly) {
		s = s[:len(time.DateOnly)]
	}
	return time.ParseInLocation(time.DateOnly, s, time.UTC)
}
