package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rzzdr/euro-option-pricer/internal/rates"
	"github.com/rzzdr/euro-option-pricer/internal/risk"
	"github.com/rzzdr/euro-option-pricer/pkg/models"
	"github.com/rzzdr/euro-option-pricer/pkg/utils/backpressure"
	"github.com/rzzdr/euro-option-pricer/pkg/utils/circuit"
	"github.com/rzzdr/euro-option-pricer/pkg/utils/errors"
	"github.com/rzzdr/euro-option-pricer/pkg/utils/logger"
)

// Pricer runs one pricing request end to end
type Pricer interface {
	Price(ctx context.Context, req models.PricingRequest) (*models.PricingResult, error)
}

// Handlers contains all HTTP handlers for the API
type Handlers struct {
	pricer         Pricer
	greeks         *risk.GreeksCalculator
	breakers       *circuit.Manager
	requestTimeout time.Duration
	defaultProcess models.ProcessKind
	admission      *backpressure.Controller
	started        time.Time
	log            *logger.Logger
}

// NewHandlers creates new API handlers
func NewHandlers(pricer Pricer, breakers *circuit.Manager, requestTimeout time.Duration, defaultProcess models.ProcessKind) *Handlers {
	return &Handlers{
		pricer:         pricer,
		greeks:         risk.NewGreeksCalculator(),
		breakers:       breakers,
		requestTimeout: requestTimeout,
		defaultProcess: defaultProcess,
		started:        time.Now(),
		log:            logger.GetLogger("api.handlers"),
	}
}

// PriceRequest is the JSON body of POST /api/v1/options/price. Dates are
// YYYY-MM-DD; empty optional fields take the server defaults.
type PriceRequest struct {
	Ticker          string   `json:"ticker"`
	ValuationDate   string   `json:"valuation_date"`
	TTEDays         int      `json:"tte_days"`
	Strike          float64  `json:"strike"`
	HistoryStart    string   `json:"history_start"`
	HistoryEnd      string   `json:"history_end"`
	Process         string   `json:"process"`
	RateDataset     string   `json:"rate_dataset"`
	Simulations     int      `json:"simulations"`
	Workers         int      `json:"workers"`
	Seed            uint64   `json:"seed"`
	Volatility      *float64 `json:"volatility"`
	RiskFreeRate    *float64 `json:"risk_free_rate"`
	ProcessOverride string   `json:"process_override"`
	IncludePaths    bool     `json:"include_paths"`
	IncludeHistory  bool     `json:"include_history"`
}

func parseDate(field, s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation(time.DateOnly, s, time.UTC)
	if err != nil {
		return time.Time{}, errors.InvalidInputf("%s must be YYYY-MM-DD, got %q", field, s)
	}
	return t, nil
}

// ToModel converts the body into a pricing request, using defaultProcess
// when no process is named
func (r PriceRequest) ToModel(defaultProcess models.ProcessKind) (models.PricingRequest, error) {
	var req models.PricingRequest

	strike, err := models.NewStrike(r.Strike)
	if err != nil {
		return req, err
	}

	valuation, err := parseDate("valuation_date", r.ValuationDate)
	if err != nil {
		return req, err
	}
	start, err := parseDate("history_start", r.HistoryStart)
	if err != nil {
		return req, err
	}
	end, err := parseDate("history_end", r.HistoryEnd)
	if err != nil {
		return req, err
	}

	process := defaultProcess
	if r.Process != "" {
		if process, err = models.ParseProcessKind(r.Process); err != nil {
			return req, err
		}
	}

	req = models.PricingRequest{
		Ticker:        r.Ticker,
		ValuationDate: valuation,
		TTEDays:       r.TTEDays,
		Strike:        strike,
		HistoryStart:  start,
		HistoryEnd:    end,
		Process:       process,
		RateDataset:   r.RateDataset,
		Simulations:   r.Simulations,
		Workers:       r.Workers,
		Seed:          r.Seed,
		Overrides: models.Overrides{
			Volatility:   r.Volatility,
			RiskFreeRate: r.RiskFreeRate,
		},
	}

	if r.ProcessOverride != "" {
		kind, err := models.ParseProcessKind(r.ProcessOverride)
		if err != nil {
			return req, err
		}
		req.Overrides.Process = &kind
	}
	return req, nil
}

// GreeksRequest is the JSON body of POST /api/v1/options/greeks
type GreeksRequest struct {
	Spot       float64 `json:"spot"`
	Strike     float64 `json:"strike"`
	TTEDays    int     `json:"tte_days"`
	Rate       float64 `json:"rate"`
	Volatility float64 `json:"volatility"`
}

// GreeksResponse carries the closed-form prices and sensitivities
type GreeksResponse struct {
	CallPrice float64             `json:"call_price"`
	PutPrice  float64             `json:"put_price"`
	Call      models.GreeksResult `json:"call"`
	Put       models.GreeksResult `json:"put"`
}

// statusFor maps an error to its HTTP status
func statusFor(err error) int {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	switch errors.TypeOf(err) {
	case errors.ErrorTypeInvalidInput:
		return http.StatusBadRequest
	case errors.ErrorTypeDataUnavailable:
		return http.StatusNotFound
	case errors.ErrorTypeOptimizationFailure:
		return http.StatusUnprocessableEntity
	case errors.ErrorTypeOverloaded:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err as {"error", "type"} with its mapped status
func respondError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{
		"error": err.Error(),
		"type":  errors.TypeOf(err).String(),
	})
}

// PriceOptionHandler prices a European option with Monte Carlo simulation
func (h *Handlers) PriceOptionHandler(c *gin.Context) {
	var body PriceRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, errors.InvalidInputf("invalid request payload: %v", err))
		return
	}

	req, err := body.ToModel(h.defaultProcess)
	if err != nil {
		respondError(c, err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.requestTimeout)
	defer cancel()

	result, err := h.pricer.Price(ctx, req)
	if err != nil {
		h.log.Warnf("Pricing %s failed: %v", strings.ToUpper(req.Ticker), err)
		respondError(c, err)
		return
	}

	if !body.IncludePaths {
		result.Paths = nil
	}
	if !body.IncludeHistory {
		result.History = nil
	}
	c.JSON(http.StatusOK, result)
}

// GreeksHandler returns Black-Scholes prices and Greeks for both sides
func (h *Handlers) GreeksHandler(c *gin.Context) {
	var body GreeksRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, errors.InvalidInputf("invalid request payload: %v", err))
		return
	}

	in := risk.Inputs{
		Spot:       body.Spot,
		Strike:     body.Strike,
		T:          float64(body.TTEDays) / 365,
		Rate:       body.Rate,
		Volatility: body.Volatility,
	}

	call, put, err := h.greeks.CalculateBoth(in)
	if err != nil {
		respondError(c, err)
		return
	}
	callPrice, _ := risk.Price(models.OptionSideCall, in)
	putPrice, _ := risk.Price(models.OptionSidePut, in)

	c.JSON(http.StatusOK, GreeksResponse{
		CallPrice: callPrice,
		PutPrice:  putPrice,
		Call:      call,
		Put:       put,
	})
}

// ListDatasetsHandler returns the known yield-curve dataset ids
func (h *Handlers) ListDatasetsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"datasets": rates.Datasets(),
		"default":  rates.DefaultDataset,
	})
}

// HealthCheckHandler reports uptime and data provider breaker state
func (h *Handlers) HealthCheckHandler(c *gin.Context) {
	status := "ok"
	var breakers map[string]circuit.BreakerStats
	if h.breakers != nil {
		breakers = h.breakers.GetBreakerStats()
		for _, b := range breakers {
			if b.State != circuit.StateClosed.String() {
				status = "degraded"
			}
		}
	}

	body := gin.H{
		"status":    status,
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(h.started).Round(time.Second).String(),
		"breakers":  breakers,
	}
	if h.admission != nil {
		body["admission"] = h.admission.Stats()
	}
	c.JSON(http.StatusOK, body)
}
