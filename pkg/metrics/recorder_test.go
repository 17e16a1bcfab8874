package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, r *Recorder) string {
	t.Helper()
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestRecorderCountsOutcomes(t *testing.T) {
	r := NewRecorder()

	r.RecordSimulation("GBM", 10000, 2*time.Second, nil)
	r.RecordSimulation("GBM", 0, time.Second, errors.New("worker failed"))
	r.RecordPricing("GBM", 3*time.Second, nil)

	body := scrape(t, r)
	assert.Contains(t, body, `pricer_simulated_paths_total{process="GBM"} 10000`)
	assert.Contains(t, body, `pricer_simulation_runs_total{process="GBM",status="ok"} 1`)
	assert.Contains(t, body, `pricer_simulation_runs_total{process="GBM",status="error"} 1`)
	assert.Contains(t, body, `pricer_pricing_requests_total{process="GBM",status="ok"} 1`)
}

func TestRecordersDoNotCollide(t *testing.T) {
	a := NewRecorder()
	b := NewRecorder()

	a.RecordCacheLookup(true)
	b.RecordCacheLookup(false)

	assert.Contains(t, scrape(t, a), `pricer_price_cache_lookups_total{result="hit"} 1`)
	assert.NotContains(t, scrape(t, b), `result="hit"`)
}

func TestNilRecorderIsSafe(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.RecordAPIRequest("GET", "/health", 200, time.Millisecond)
		r.RecordVolatility("mle", "CBA.AX", 0.2, nil)
		r.RecordPublish(nil)
	})
	assert.Nil(t, r.Registry())
}

func TestHandlerExposesVolatility(t *testing.T) {
	r := NewRecorder()
	r.RecordVolatility("mle", "CBA.AX", 0.21, nil)
	r.RecordVolatility("regression", "CBA.AX", 0.5, errors.New("not enough rows"))

	body := scrape(t, r)
	assert.Contains(t, body, `pricer_volatility_estimate{estimator="mle",ticker="CBA.AX"} 0.21`)
	assert.NotContains(t, body, `pricer_volatility_estimate{estimator="regression"`)
	assert.Contains(t, body, `pricer_volatility_estimations_total{estimator="regression",status="error"} 1`)
}

func TestBreakerAndAdmissionMetrics(t *testing.T) {
	r := NewRecorder()
	r.RecordBreakerState("prices", 2)
	r.RecordAdmission(true)
	r.RecordAdmission(false)
	r.RecordAdmission(false)

	body := scrape(t, r)
	assert.Contains(t, body, `pricer_breaker_state{breaker="prices"} 2`)
	assert.Contains(t, body, `pricer_admission_decisions_total{decision="admitted"} 1`)
	assert.Contains(t, body, `pricer_admission_decisions_total{decision="refused"} 2`)
}
