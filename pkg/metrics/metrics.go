// Package metrics exposes Prometheus collectors for the notification engine.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dmitrymomot/notifykit/pkg/broadcast"
	"github.com/dmitrymomot/notifykit/pkg/notifications"
	"github.com/dmitrymomot/notifykit/pkg/realtime"
	"github.com/dmitrymomot/notifykit/pkg/scheduler"
)

// Metrics holds every collector. It implements notifications.Recorder and
// scheduler.Recorder.
type Metrics struct {
	registry *prometheus.Registry

	NotificationsSent *prometheus.CounterVec
	ChannelDeliveries *prometheus.CounterVec
	ChannelDuration   *prometheus.HistogramVec
	SchedulerRuns     *prometheus.CounterVec
	SchedulerDuration *prometheus.HistogramVec
	BulkBatches       prometheus.Counter
	BulkRecipients    prometheus.Counter
	RealtimeSessions  prometheus.Gauge
	HTTPRequests      *prometheus.CounterVec
	HTTPDuration      *prometheus.HistogramVec
}

var (
	_ notifications.Recorder = (*Metrics)(nil)
	_ scheduler.Recorder     = (*Metrics)(nil)
)

// New creates the collectors on a private registry together with the Go
// runtime and process collectors.
func New(namespace string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		NotificationsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_sent_total",
			Help:      "Notifications accepted by the manager",
		}, []string{"type", "scheduled"}),
		ChannelDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_deliveries_total",
			Help:      "Channel delivery attempts by outcome",
		}, []string{"channel", "outcome"}),
		ChannelDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "channel_delivery_duration_seconds",
			Help:      "Time spent in a channel sender",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"channel"}),
		SchedulerRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_runs_total",
			Help:      "Scheduled job runs by outcome",
		}, []string{"job", "outcome"}),
		SchedulerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scheduler_run_duration_seconds",
			Help:      "Duration of scheduled job runs",
			Buckets:   []float64{.01, .05, .1, .5, 1, 5, 15, 60, 300},
		}, []string{"job"}),
		BulkBatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bulk_batches_total",
			Help:      "Bulk batches processed",
		}),
		BulkRecipients: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bulk_recipients_total",
			Help:      "Recipients processed by bulk sends",
		}),
		RealtimeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "realtime_sessions",
			Help:      "Open real-time sessions",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.NotificationsSent,
		m.ChannelDeliveries,
		m.ChannelDuration,
		m.SchedulerRuns,
		m.SchedulerDuration,
		m.BulkBatches,
		m.BulkRecipients,
		m.RealtimeSessions,
		m.HTTPRequests,
		m.HTTPDuration,
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) NotificationCreated(typ notifications.Type, scheduled bool) {
	m.NotificationsSent.WithLabelValues(string(typ), strconv.FormatBool(scheduled)).Inc()
}

func (m *Metrics) ChannelAttempt(ch notifications.Channel, err error, d time.Duration) {
	outcome := "delivered"
	if err != nil {
		outcome = "failed"
	}
	m.ChannelDeliveries.WithLabelValues(string(ch), outcome).Inc()
	m.ChannelDuration.WithLabelValues(string(ch)).Observe(d.Seconds())
}

func (m *Metrics) BulkBatch(size int) {
	m.BulkBatches.Inc()
	m.BulkRecipients.Add(float64(size))
}

func (m *Metrics) JobRun(job string, outcome scheduler.Outcome, d time.Duration) {
	m.SchedulerRuns.WithLabelValues(job, string(outcome)).Inc()
	if outcome != scheduler.OutcomeSkipped {
		m.SchedulerDuration.WithLabelValues(job).Observe(d.Seconds())
	}
}

// TrackPresence keeps RealtimeSessions in step with hub presence events
// until ctx is done or sub is closed.
func (m *Metrics) TrackPresence(ctx context.Context, sub broadcast.Subscriber[realtime.PresenceEvent]) {
	defer func() { _ = sub.Close() }()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Receive():
			if !ok {
				return
			}
			switch msg.Data.Kind {
			case realtime.PresenceConnected:
				m.RealtimeSessions.Inc()
			case realtime.PresenceDisconnected:
				m.RealtimeSessions.Dec()
			}
		}
	}
}

// Middleware records request counts and latency labelled by chi route
// pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.HTTPDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
