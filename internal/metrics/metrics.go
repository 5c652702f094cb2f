// Package metrics exposes the process counters served on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ReadyChecksConfirmed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coordinator_ready_checks_confirmed_total",
		Help: "Ready checks where every participant accepted.",
	})

	ReadyChecksCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coordinator_ready_checks_cancelled_total",
		Help: "Ready checks cancelled by a decline.",
	})

	ReadyChecksTimedOut = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coordinator_ready_checks_timed_out_total",
		Help: "Ready checks that expired before full acceptance.",
	})

	ResultsResolved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coordinator_results_resolved_total",
		Help: "Match results applied to player ratings.",
	})

	DuplicateEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coordinator_duplicate_events_total",
		Help: "Change-feed deliveries suppressed by an idempotency guard.",
	})

	FeedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coordinator_feed_events_total",
		Help: "Change-feed events delivered to handlers.",
	}, []string{"collection"})

	FeedHandlerErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coordinator_feed_handler_errors_total",
		Help: "Change-feed handler invocations that returned an error.",
	}, []string{"collection"})

	DispatchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coordinator_dispatch_failures_total",
		Help: "Outbound chat deliveries that failed and were dropped.",
	})
)
