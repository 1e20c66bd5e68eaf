// Package metrics exposes Prometheus instruments for the connector, the
// pricing and referral engines, the presale poller and the HTTP API.
package metrics

import (
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "wasteland"

// Collector owns a dedicated Prometheus registry so tests and embedded
// servers never collide on the global one.
type Collector struct {
	registry *prometheus.Registry
	stats    *Stats

	connectAttempts *prometheus.CounterVec
	connectResults  *prometheus.CounterVec
	connectDuration *prometheus.HistogramVec

	priceCalcs  *prometheus.CounterVec
	outcomes    *prometheus.CounterVec
	tierChanges *prometheus.CounterVec
	hunters     prometheus.Gauge

	presaleRefresh *prometheus.CounterVec
	presaleSold    prometheus.Gauge
	presalePrice   prometheus.Gauge

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	wsClients       prometheus.Gauge

	goroutines prometheus.GaugeFunc
	uptime     prometheus.GaugeFunc
}

// New registers all instruments under namespace (DefaultNamespace if empty).
func New(namespace string) *Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	reg := prometheus.NewRegistry()
	start := time.Now()

	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help}, labels)
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help})
	}

	c := &Collector{
		registry: reg,
		stats:    NewStats(),

		connectAttempts: counter("connector_attempts_total", "Wallet connection attempts by stage and outcome.", "stage", "ok"),
		connectResults:  counter("connector_results_total", "Completed wallet initializations by result.", "result"),
		connectDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "connector_init_duration_seconds",
			Help:      "Wallet initialization time by result.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"result"}),

		priceCalcs:  counter("price_calculations_total", "Price breakdowns computed, by referral use.", "referral"),
		outcomes:    counter("referral_outcomes_total", "Recorded referral outcomes.", "result"),
		tierChanges: counter("hunter_tier_changes_total", "Hunter tier transitions.", "from", "to"),
		hunters:     gauge("hunters", "Hunters with a performance record."),

		presaleRefresh: counter("presale_refresh_total", "Presale state refreshes by outcome.", "ok"),
		presaleSold:    gauge("presale_tokens_sold", "Tokens sold in the presale."),
		presalePrice:   gauge("presale_token_price_wei", "Current presale token price in wei."),

		requests: counter("api_requests_total", "HTTP API requests by route and status.", "route", "status"),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "api_request_duration_seconds",
			Help:      "HTTP API latency by route.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}, []string{"route"}),
		wsClients: gauge("ws_clients", "Connected websocket clients."),
	}
	c.goroutines = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace, Name: "goroutines", Help: "Number of goroutines.",
	}, func() float64 { return float64(runtime.NumGoroutine()) })
	c.uptime = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace, Name: "uptime_seconds", Help: "Seconds since the process started.",
	}, func() float64 { return time.Since(start).Seconds() })

	reg.MustRegister(
		c.connectAttempts, c.connectResults, c.connectDuration,
		c.priceCalcs, c.outcomes, c.tierChanges, c.hunters,
		c.presaleRefresh, c.presaleSold, c.presalePrice,
		c.requests, c.requestDuration, c.wsClients,
		c.goroutines, c.uptime,
	)
	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Stats returns the in-process request stats.
func (c *Collector) Stats() *Stats {
	return c.stats
}

// ObserveConnectAttempt counts one factory or handle attempt.
func (c *Collector) ObserveConnectAttempt(stage string, ok bool) {
	c.connectAttempts.WithLabelValues(stage, strconv.FormatBool(ok)).Inc()
}

// ObserveConnectResult records a finished initialization.
func (c *Collector) ObserveConnectResult(result string, d time.Duration) {
	c.connectResults.WithLabelValues(result).Inc()
	c.connectDuration.WithLabelValues(result).Observe(d.Seconds())
}

// ObservePrice counts a price calculation.
func (c *Collector) ObservePrice(referral bool) {
	c.priceCalcs.WithLabelValues(strconv.FormatBool(referral)).Inc()
}

// ObserveOutcome counts a recorded referral outcome.
func (c *Collector) ObserveOutcome(successful bool) {
	result := "failure"
	if successful {
		result = "success"
	}
	c.outcomes.WithLabelValues(result).Inc()
}

// ObserveTierChange counts a tier transition.
func (c *Collector) ObserveTierChange(from, to string) {
	c.tierChanges.WithLabelValues(from, to).Inc()
}

// SetHunters sets the hunter count.
func (c *Collector) SetHunters(n int) {
	c.hunters.Set(float64(n))
}

// ObservePresaleRefresh counts a presale poll and, on success, updates the
// sold and price gauges.
func (c *Collector) ObservePresaleRefresh(ok bool, sold, priceWei float64) {
	c.presaleRefresh.WithLabelValues(strconv.FormatBool(ok)).Inc()
	if ok {
		c.presaleSold.Set(sold)
		c.presalePrice.Set(priceWei)
	}
}

// ObserveRequest records an API request in Prometheus and in Stats.
func (c *Collector) ObserveRequest(route string, status int, d time.Duration) {
	c.requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	c.requestDuration.WithLabelValues(route).Observe(d.Seconds())
	c.stats.Observe(route, status, d)
}

// AddWSClients adjusts the websocket client gauge.
func (c *Collector) AddWSClients(delta int) {
	c.wsClients.Add(float64(delta))
	c.stats.AddWSClients(int64(delta))
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
