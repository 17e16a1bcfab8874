package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzzdr/euro-option-pricer/pkg/metrics"
	"github.com/rzzdr/euro-option-pricer/pkg/models"
	"github.com/rzzdr/euro-option-pricer/pkg/utils/backpressure"
	"github.com/rzzdr/euro-option-pricer/pkg/utils/circuit"
	"github.com/rzzdr/euro-option-pricer/pkg/utils/errors"
	"github.com/rzzdr/euro-option-pricer/pkg/utils/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
	logger.UseNop()
}

type fakePricer struct {
	last     models.PricingRequest
	err      error
	deadline bool
}

func (f *fakePricer) Price(ctx context.Context, req models.PricingRequest) (*models.PricingResult, error) {
	f.last = req
	_, f.deadline = ctx.Deadline()
	if f.err != nil {
		return nil, f.err
	}
	return &models.PricingResult{
		RequestID: "req-1",
		Ticker:    req.Ticker,
		CallPrice: 4.2,
		PutPrice:  3.1,
		Strike:    req.Strike,
		Process:   req.EffectiveProcess(),
		Paths:     [][]float64{{100, 101}, {100, 99}},
		History:   &models.PriceSeries{Ticker: req.Ticker},
	}, nil
}

func newTestServer(pricer Pricer) (*Server, *metrics.Recorder) {
	recorder := metrics.NewRecorder()
	breakers := circuit.NewManager()
	breakers.GetBreaker("prices", circuit.DefaultConfig())
	return NewServer(Config{RequestTimeout: time.Minute}, pricer, breakers, recorder), recorder
}

func do(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func TestPriceOption(t *testing.T) {
	pricer := &fakePricer{}
	s, _ := newTestServer(pricer)

	w := do(t, s, http.MethodPost, "/api/v1/options/price", map[string]interface{}{
		"ticker":           "SPY",
		"valuation_date":   "2025-03-03",
		"tte_days":         30,
		"strike":           550,
		"process":          "arithmetic brownian motion",
		"process_override": "MMAR",
		"volatility":       0.2,
		"history_start":    "2022-01-01",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "MMAR", res["process"])
	assert.NotContains(t, res, "paths")
	assert.NotContains(t, res, "history")

	req := pricer.last
	assert.Equal(t, time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC), req.ValuationDate)
	assert.Equal(t, models.ProcessArithmetic, req.Process)
	require.NotNil(t, req.Overrides.Process)
	assert.Equal(t, models.ProcessMultifractal, *req.Overrides.Process)
	require.NotNil(t, req.Overrides.Volatility)
	assert.Equal(t, 0.2, *req.Overrides.Volatility)
	assert.Nil(t, req.Overrides.RiskFreeRate)
	assert.True(t, req.HistoryEnd.IsZero())
	assert.True(t, pricer.deadline)
}

func TestPriceOptionIncludePaths(t *testing.T) {
	s, _ := newTestServer(&fakePricer{})

	w := do(t, s, http.MethodPost, "/api/v1/options/price", map[string]interface{}{
		"ticker": "SPY", "valuation_date": "2025-03-03", "tte_days": 30, "strike": 550,
		"include_paths": true, "include_history": true,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var res models.PricingResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Len(t, res.Paths, 2)
	assert.NotNil(t, res.History)
}

func TestPriceOptionDefaultProcess(t *testing.T) {
	pricer := &fakePricer{}
	s := NewServer(Config{RequestTimeout: time.Minute, DefaultProcess: models.ProcessMultifractal},
		pricer, circuit.NewManager(), metrics.NewRecorder())

	w := do(t, s, http.MethodPost, "/api/v1/options/price", map[string]interface{}{
		"ticker": "SPY", "valuation_date": "2025-03-03", "tte_days": 30, "strike": 550,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.ProcessMultifractal, pricer.last.Process)
}

func TestPriceOptionBadInput(t *testing.T) {
	pricer := &fakePricer{}
	s, _ := newTestServer(pricer)

	tests := []struct {
		name string
		body interface{}
	}{
		{"malformed json", `{"ticker":`},
		{"zero strike", map[string]interface{}{"ticker": "SPY", "valuation_date": "2025-03-03", "tte_days": 30}},
		{"bad date", map[string]interface{}{"ticker": "SPY", "valuation_date": "03/03/2025", "tte_days": 30, "strike": 1}},
		{"bad process", map[string]interface{}{"ticker": "SPY", "valuation_date": "2025-03-03", "tte_days": 30, "strike": 1, "process": "heston"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, s, http.MethodPost, "/api/v1/options/price", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), "invalid_input")
		})
	}
	assert.Empty(t, pricer.last.Ticker)
}

func TestErrorStatusMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{errors.InvalidInput("tte must be positive"), http.StatusBadRequest},
		{errors.Wrap(errors.DataUnavailable("no prices"), "fetch"), http.StatusNotFound},
		{errors.OptimizationFailure("mle did not converge", nil), http.StatusUnprocessableEntity},
		{errors.Overloaded("simulation budget exhausted"), http.StatusTooManyRequests},
		{errors.WorkerFailure("worker 3 failed", fmt.Errorf("boom")), http.StatusInternalServerError},
		{errors.WorkerFailure("simulation aborted", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{fmt.Errorf("unexpected"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			s, _ := newTestServer(&fakePricer{err: tt.err})
			w := do(t, s, http.MethodPost, "/api/v1/options/price", map[string]interface{}{
				"ticker": "SPY", "valuation_date": "2025-03-03", "tte_days": 30, "strike": 550,
			})
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestGreeks(t *testing.T) {
	s, _ := newTestServer(&fakePricer{})

	w := do(t, s, http.MethodPost, "/api/v1/options/greeks", GreeksRequest{
		Spot: 100, Strike: 100, TTEDays: 365, Rate: 0.05, Volatility: 0.2,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var res GreeksResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.InDelta(t, 10.4506, res.CallPrice, 1e-3)
	assert.InDelta(t, 5.5735, res.PutPrice, 1e-3)
	assert.InDelta(t, 0.6368, res.Call.Delta, 1e-3)
	assert.InDelta(t, 0.01876, res.Call.Gamma, 1e-4)
	assert.Equal(t, models.OptionSidePut, res.Put.Side)

	w = do(t, s, http.MethodPost, "/api/v1/options/greeks", GreeksRequest{Spot: 100, Strike: 100, TTEDays: 0, Volatility: 0.2})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListDatasets(t *testing.T) {
	s, _ := newTestServer(&fakePricer{})

	w := do(t, s, http.MethodGet, "/api/v1/rates/datasets", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var res struct {
		Datasets []string `json:"datasets"`
		Default  string   `json:"default"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Contains(t, res.Datasets, "US-10")
	assert.Equal(t, "AU-10", res.Default)
}

func TestHealthAndMetrics(t *testing.T) {
	s, _ := newTestServer(&fakePricer{})

	w := do(t, s, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
	assert.Contains(t, w.Body.String(), `"prices"`)

	w = do(t, s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `pricer_api_requests_total`)
	assert.Contains(t, w.Body.String(), `path="/health"`)
}

func TestHealthReportsAdmission(t *testing.T) {
	admission := backpressure.NewController(backpressure.Config{MaxSimulations: 5000})
	s := NewServer(Config{Admission: admission}, &fakePricer{}, nil, metrics.NewRecorder())

	w := do(t, s, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var res struct {
		Status    string             `json:"status"`
		Admission backpressure.Stats `json:"admission"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "ok", res.Status)
	assert.Equal(t, int64(5000), res.Admission.Capacity)
	assert.Equal(t, "block", res.Admission.Strategy)
}

func TestResultFeedMounted(t *testing.T) {
	feed := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	s := NewServer(Config{ResultFeed: feed}, &fakePricer{}, nil, nil)

	w := do(t, s, http.MethodGet, "/ws/results", nil)
	assert.Equal(t, http.StatusTeapot, w.Code)

	s, _ = newTestServer(&fakePricer{})
	w = do(t, s, http.MethodGet, "/ws/results", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestNotFound(t *testing.T) {
	s, _ := newTestServer(&fakePricer{})
	w := do(t, s, http.MethodGet, "/api/v1/orders", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRequestIDHeader(t *testing.T) {
	s, _ := newTestServer(&fakePricer{})

	w := do(t, s, http.MethodGet, "/health", nil)
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	w = httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get(RequestIDHeader))
}

func TestRecoveryMiddleware(t *testing.T) {
	r := gin.New()
	r.Use(RequestIDMiddleware(), RecoveryMiddleware())
	r.GET("/boom", func(c *gin.Context) { panic("kaboom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), `"type":"internal"`)
	assert.NotContains(t, w.Body.String(), "kaboom")
}
