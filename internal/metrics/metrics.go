// Package metrics provides Prometheus instrumentation for the matchmaker. It
// exposes gauges for presence and schedule snapshot size, counters for
// rebuilds, sweeps and proposals, and histograms for request latency.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OnlineUsers tracks the number of entries currently held by the presence cache.
	OnlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "matchmaker_online_users",
		Help: "Current number of users held by the presence cache",
	})

	// PresenceEvictions counts entries removed by presence sweeps.
	PresenceEvictions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "matchmaker_presence_evictions_total",
		Help: "Total number of presence entries evicted after their TTL",
	})

	// PresenceSweeps counts sweeps performed by the presence cache.
	PresenceSweeps = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "matchmaker_presence_sweeps_total",
		Help: "Total number of presence sweeps",
	})

	// ScheduleRebuilds counts schedule matrix rebuilds, labeled by status:
	// "ok" or "error".
	ScheduleRebuilds = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "matchmaker_schedule_rebuilds_total",
		Help: "Total number of schedule matrix rebuilds",
	}, []string{"status"})

	// ScheduleRebuildDuration records how long a rebuild takes, including the
	// repository read.
	ScheduleRebuildDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "matchmaker_schedule_rebuild_seconds",
		Help:    "Schedule matrix rebuild duration in seconds",
		Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
	})

	// ScheduleUsers tracks the number of users with a weekly schedule in the
	// current snapshot.
	ScheduleUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "matchmaker_schedule_users",
		Help: "Users with a weekly schedule in the current matrix snapshot",
	})

	// PairProposals counts published pair proposals.
	PairProposals = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "matchmaker_pair_proposals_total",
		Help: "Total number of pair proposals published",
	})

	// RequestDuration records HTTP request latency by route and status code.
	RequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "matchmaker_http_request_duration_seconds",
		Help:    "HTTP request latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"route", "code"})

	// WSConnections tracks the current number of presence WebSocket connections.
	WSConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "matchmaker_ws_connections",
		Help: "Current number of presence WebSocket connections",
	})

	// RateLimited counts requests rejected by the rate limiter, labeled by rule.
	RateLimited = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "matchmaker_rate_limited_total",
		Help: "Requests rejected by the rate limiter",
	}, []string{"rule"})
)

func init() {
	prometheus.MustRegister(
		OnlineUsers,
		PresenceEvictions,
		PresenceSweeps,
		ScheduleRebuilds,
		ScheduleRebuildDuration,
		ScheduleUsers,
		PairProposals,
		RequestDuration,
		WSConnections,
		RateLimited,
	)
}

// ObserveRequest records one HTTP request.
func ObserveRequest(route string, code int, start time.Time) {
	if route == "" {
		route = "unknown"
	}
	RequestDuration.WithLabelValues(route, strconv.Itoa(code)).Observe(time.Since(start).Seconds())
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
