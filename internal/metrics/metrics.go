// Package metrics exposes Prometheus metrics for the monitor: live stream
// counters plus store-backed gauges gathered at scrape time.
package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/callwatch/callwatch/internal/database"
)

// Stats counts event-stream activity as it happens. It satisfies the
// monitor's stats hook.
type Stats struct {
	eventsProcessed *prometheus.CounterVec
	eventsDiscarded *prometheus.CounterVec
	handlerErrors   *prometheus.CounterVec
	reconnects      prometheus.Counter
	connected       prometheus.Gauge
}

// NewStats creates and registers the stream counters.
func NewStats(reg prometheus.Registerer) *Stats {
	s := &Stats{
		eventsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "callwatch_events_processed_total",
			Help: "Events handled by the reconstruction pipeline",
		}, []string{"event"}),
		eventsDiscarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "callwatch_events_discarded_total",
			Help: "Events dropped by the allow-list filter",
		}, []string{"event"}),
		handlerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "callwatch_handler_errors_total",
			Help: "Event handler failures, including recovered panics",
		}, []string{"event"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "callwatch_reconnects_total",
			Help: "Reconnection attempts against the switch manager port",
		}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "callwatch_connected",
			Help: "Whether an authenticated switch session is live (1) or not (0)",
		}),
	}
	reg.MustRegister(s.eventsProcessed, s.eventsDiscarded, s.handlerErrors, s.reconnects, s.connected)
	return s
}

func (s *Stats) EventProcessed(event string) { s.eventsProcessed.WithLabelValues(event).Inc() }
func (s *Stats) EventDiscarded(event string) { s.eventsDiscarded.WithLabelValues(event).Inc() }
func (s *Stats) HandlerError(event string)   { s.handlerErrors.WithLabelValues(event).Inc() }
func (s *Stats) Reconnect()                  { s.reconnects.Inc() }

func (s *Stats) ConnectionState(connected bool) {
	if connected {
		s.connected.Set(1)
	} else {
		s.connected.Set(0)
	}
}

// Collector is a prometheus.Collector that gathers store-backed gauges at
// scrape time.
type Collector struct {
	calls     database.CallRepository
	exts      database.ExtensionRepository
	startTime time.Time

	activeCallsDesc *prometheus.Desc
	callsTotalDesc  *prometheus.Desc
	extensionsDesc  *prometheus.Desc
	uptimeDesc      *prometheus.Desc
}

// NewCollector creates a store-backed collector.
func NewCollector(calls database.CallRepository, exts database.ExtensionRepository, startTime time.Time) *Collector {
	return &Collector{
		calls:     calls,
		exts:      exts,
		startTime: startTime,

		activeCallsDesc: prometheus.NewDesc(
			"callwatch_active_calls",
			"Number of calls not yet ended (ringing + answered)",
			nil, nil,
		),
		callsTotalDesc: prometheus.NewDesc(
			"callwatch_calls_total",
			"Total calls reconstructed, by direction",
			[]string{"direction"}, nil,
		),
		extensionsDesc: prometheus.NewDesc(
			"callwatch_extensions",
			"Number of provisioned extensions",
			nil, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"callwatch_uptime_seconds",
			"Seconds since the process started",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.activeCallsDesc
	ch <- c.callsTotalDesc
	ch <- c.extensionsDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector. It queries the store at scrape time.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if active, err := c.calls.CountActive(ctx); err != nil {
		slog.Error("metrics: failed to count active calls", "error", err)
	} else {
		ch <- prometheus.MustNewConstMetric(
			c.activeCallsDesc, prometheus.GaugeValue, float64(active),
		)
	}

	if counts, err := c.calls.CountByDirection(ctx); err != nil {
		slog.Error("metrics: failed to count calls by direction", "error", err)
	} else {
		for _, dir := range []string{"incoming", "outgoing", "unknown"} {
			ch <- prometheus.MustNewConstMetric(
				c.callsTotalDesc, prometheus.CounterValue, float64(counts[dir]), dir,
			)
		}
	}

	if n, err := c.exts.Count(ctx); err != nil {
		slog.Error("metrics: failed to count extensions", "error", err)
	} else {
		ch <- prometheus.MustNewConstMetric(
			c.extensionsDesc, prometheus.GaugeValue, float64(n),
		)
	}

	ch <- prometheus.MustNewConstMetric(
		c.uptimeDesc, prometheus.GaugeValue, time.Since(c.startTime).Seconds(),
	)
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
