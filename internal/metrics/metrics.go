package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"transit-simulator/internal/log"
)

type Collector struct {
	reg *prometheus.Registry

	ActiveSessions   prometheus.Gauge
	SessionsStarted  prometheus.Counter
	SessionsFinished *prometheus.CounterVec // status label: stopped|completed|failed
	SessionsPruned   prometheus.Counter

	Ticks        prometheus.Counter
	TickDuration prometheus.Histogram

	Published       *prometheus.CounterVec // sink, result labels
	PublishDropped  prometheus.Counter
	PublishDuration prometheus.Histogram
	NATSConnected   prometheus.Gauge

	Materializations prometheus.Counter

	SpeedMultiplier     prometheus.Gauge
	UpdateInterval      prometheus.Gauge // seconds
	SchedulerResolution prometheus.Gauge // seconds
}

func NewCollector(speedMultiplier float64, updateInterval, resolution time.Duration) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sim_sessions_active",
			Help: "Number of running or paused simulation sessions.",
		}),
		SessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sim_sessions_started_total",
			Help: "Total simulation sessions started.",
		}),
		SessionsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sim_sessions_finished_total",
			Help: "Total simulation sessions that reached a terminal state.",
		}, []string{"status"}),
		SessionsPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sim_sessions_pruned_total",
			Help: "Total terminal sessions removed from the registry.",
		}),
		Ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sim_ticks_total",
			Help: "Total session ticks that produced a position.",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sim_tick_duration_seconds",
			Help:    "Duration of one scheduler pass over all running sessions.",
			Buckets: prometheus.ExponentialBuckets(0.00001, 2, 15),
		}),
		Published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sim_publish_total",
			Help: "Position updates handed to a sink.",
		}, []string{"sink", "result"}),
		PublishDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sim_publish_dropped_total",
			Help: "Position updates dropped because the publish queue was full.",
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sim_publish_duration_seconds",
			Help:    "Duration to marshal and publish one position update.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sim_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		Materializations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "calendar_materializations_total",
			Help: "Total calendar date materializations served.",
		}),
		SpeedMultiplier: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sim_default_speed_multiplier",
			Help: "Default speed multiplier for new sessions.",
		}),
		UpdateInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sim_default_update_interval_seconds",
			Help: "Default update interval for new sessions in seconds.",
		}),
		SchedulerResolution: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sim_scheduler_resolution_seconds",
			Help: "Scheduler wake-up resolution in seconds.",
		}),
	}

	reg.MustRegister(
		c.ActiveSessions, c.SessionsStarted, c.SessionsFinished, c.SessionsPruned,
		c.Ticks, c.TickDuration,
		c.Published, c.PublishDropped, c.PublishDuration, c.NATSConnected,
		c.Materializations,
		c.SpeedMultiplier, c.UpdateInterval, c.SchedulerResolution,
	)

	c.SpeedMultiplier.Set(speedMultiplier)
	c.UpdateInterval.Set(updateInterval.Seconds())
	c.SchedulerResolution.Set(resolution.Seconds())

	return c
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Server returns an HTTP server exposing /metrics on the given address.
// The caller runs and shuts it down.
func (c *Collector) Server(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	logger := log.WithComponent("metrics")
	logger.Info().Str("addr", addr).Msg("metrics listening")
	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}

// PublishResult records the outcome of one sink publish.
func (c *Collector) PublishResult(sink string, d time.Duration, err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.Published.WithLabelValues(sink, result).Inc()
	c.PublishDuration.Observe(d.Seconds())
}
