package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExporter_Collect(t *testing.T) {
	engine := NewEngine()
	defer engine.Stop()

	engine.RecordRequest("login", 10*time.Millisecond, 200, 100, nil)
	engine.RecordRequest("login", 12*time.Millisecond, 429, 50, nil)
	engine.RecordCheck("login status is 200", true)
	engine.RecordCheck("login status is 200", false)
	engine.RecordIteration()
	engine.SetActiveVUs(2)

	exp := NewExporter(engine, prometheus.Labels{"run": "test"})

	expected := `
# HELP fitload_iterations_total Completed scenario iterations.
# TYPE fitload_iterations_total counter
fitload_iterations_total{run="test"} 1
# HELP fitload_vus Virtual users currently running iterations.
# TYPE fitload_vus gauge
fitload_vus{run="test"} 2
`
	require.NoError(t, testutil.CollectAndCompare(exp, strings.NewReader(expected),
		"fitload_iterations_total", "fitload_vus"))

	// 2 request series + failed + bytes + 2 check series + iterations + 2 vu gauges + 4 quantiles
	assert.Equal(t, 13, testutil.CollectAndCount(exp))
}

func TestExporter_Handler(t *testing.T) {
	engine := NewEngine()
	defer engine.Stop()
	engine.RecordRequest("library", time.Millisecond, 200, 10, nil)

	handler, err := NewExporter(engine, nil).Handler()
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, string(body), `fitload_http_reqs_total{name="library",status="200"} 1`)
}
