// Package metrics holds the Prometheus collectors shared by the api and worker processes.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LedgerDebits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_debits_total",
		Help: "Debit attempts by action type and result",
	}, []string{"action_type", "result"})

	LedgerTokensDeducted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_tokens_deducted_total",
		Help: "Tokens deducted by action type",
	}, []string{"action_type"})

	LedgerCredits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_credits_total",
		Help: "Tokens credited by reason",
	}, []string{"reason"})

	DispatchClaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_claimed_total",
		Help: "Queue items claimed for dialing",
	})

	DispatchOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_outcomes_total",
		Help: "Reported queue outcomes by resulting status",
	}, []string{"status"})

	WorkerPlacementFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "worker_placement_failures_total",
		Help: "Call placements that did not reach the provider",
	}, []string{"reason"})

	InboundCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inbound_calls_total",
		Help: "Inbound call routing decisions by reason",
	}, []string{"reason"})

	WorkerTicks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "worker_ticks_total",
		Help: "Dispatch loop iterations",
	})

	WorkerTickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "worker_tick_duration_seconds",
		Help:    "Time spent per dispatch loop iteration",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
	})

	HTTPLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Request latency",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"method", "route", "status"})
)

// Debit result labels.
const (
	ResultOK           = "ok"
	ResultReplayed     = "replayed"
	ResultInsufficient = "insufficient"
	ResultMisconfig    = "misconfigured"
	ResultError        = "error"
)

// GinMiddleware records request latency by route template.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		HTTPLatency.
			WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}
