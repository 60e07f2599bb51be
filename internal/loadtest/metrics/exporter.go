package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter exposes an Engine's counters as Prometheus metrics. Values are
// read from the engine at scrape time.
type Exporter struct {
	engine *Engine

	requests   *prometheus.Desc
	failed     *prometheus.Desc
	bytes      *prometheus.Desc
	checks     *prometheus.Desc
	iterations *prometheus.Desc
	activeVUs  *prometheus.Desc
	targetVUs  *prometheus.Desc
	latency    *prometheus.Desc
}

// NewExporter creates a collector for engine. constLabels are attached to
// every series, typically the run id and test name.
func NewExporter(engine *Engine, constLabels prometheus.Labels) *Exporter {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName("fitload", "", name), help, labels, constLabels)
	}
	return &Exporter{
		engine:     engine,
		requests:   desc("http_reqs_total", "HTTP requests sent, by request name and status code.", "name", "status"),
		failed:     desc("http_req_failed_total", "HTTP requests that failed at transport level or returned status >= 400."),
		bytes:      desc("data_received_bytes_total", "Response bytes received."),
		checks:     desc("checks_total", "Check evaluations, by check name and result.", "check", "result"),
		iterations: desc("iterations_total", "Completed scenario iterations."),
		activeVUs:  desc("vus", "Virtual users currently running iterations."),
		targetVUs:  desc("vus_target", "Virtual users requested by the load profile."),
		latency:    desc("http_req_duration_seconds", "Request latency percentiles.", "quantile"),
	}
}

// Describe implements prometheus.Collector.
func (x *Exporter) Describe(ch chan<- *prometheus.Desc) {
	ch <- x.requests
	ch <- x.failed
	ch <- x.bytes
	ch <- x.checks
	ch <- x.iterations
	ch <- x.activeVUs
	ch <- x.targetVUs
	ch <- x.latency
}

// Collect implements prometheus.Collector.
func (x *Exporter) Collect(ch chan<- prometheus.Metric) {
	e := x.engine

	for k, n := range e.StatusCounts() {
		ch <- prometheus.MustNewConstMetric(x.requests, prometheus.CounterValue, float64(n), k.Name, strconv.Itoa(k.Status))
	}
	ch <- prometheus.MustNewConstMetric(x.failed, prometheus.CounterValue, float64(e.failedRequests.Load()))
	ch <- prometheus.MustNewConstMetric(x.bytes, prometheus.CounterValue, float64(e.totalBytes.Load()))

	for _, c := range e.Checks() {
		ch <- prometheus.MustNewConstMetric(x.checks, prometheus.CounterValue, float64(c.Passes), c.Name, "pass")
		ch <- prometheus.MustNewConstMetric(x.checks, prometheus.CounterValue, float64(c.Fails), c.Name, "fail")
	}

	ch <- prometheus.MustNewConstMetric(x.iterations, prometheus.CounterValue, float64(e.Iterations()))
	ch <- prometheus.MustNewConstMetric(x.activeVUs, prometheus.GaugeValue, float64(e.ActiveVUs()))
	ch <- prometheus.MustNewConstMetric(x.targetVUs, prometheus.GaugeValue, float64(e.TargetVUs()))

	p := e.LatencyPercentiles()
	for q, v := range map[string]float64{
		"0.5":  p.P50.Seconds(),
		"0.9":  p.P90.Seconds(),
		"0.95": p.P95.Seconds(),
		"0.99": p.P99.Seconds(),
	} {
		ch <- prometheus.MustNewConstMetric(x.latency, prometheus.GaugeValue, v, q)
	}
}

// Handler registers the exporter on a fresh registry and returns the scrape
// handler for it.
func (x *Exporter) Handler() (http.Handler, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(x); err != nil {
		return nil, err
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), nil
}

var _ prometheus.Collector = (*Exporter)(nil)
