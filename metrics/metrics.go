package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TrackerEventsQueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storefront_tracker_events_queued_total",
		Help: "Total number of enriched events placed on the tracker queue.",
	})

	TrackerEventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_tracker_events_dropped_total",
		Help: "Total number of tracker events dropped, labelled by reason.",
	}, []string{"reason"})

	TrackerFlushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_tracker_flushes_total",
		Help: "Total number of tracker flushes, labelled by trigger and status.",
	}, []string{"trigger", "status"})

	IngestBatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_ingest_batches_total",
		Help: "Total number of tracking batches received, labelled by outcome.",
	}, []string{"status"})

	IngestEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storefront_ingest_events_total",
		Help: "Total number of tracking events stored.",
	})

	SessionUpsertFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storefront_session_upsert_failures_total",
		Help: "Total number of session upserts that failed and were skipped.",
	})

	CheckoutOrders = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_checkout_orders_total",
		Help: "Total number of checkout attempts, labelled by outcome.",
	}, []string{"status"})

	CartsSwept = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_carts_swept_total",
		Help: "Total number of carts moved by the sweeper, labelled by new status.",
	}, []string{"status"})

	SessionsDeactivated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storefront_sessions_deactivated_total",
		Help: "Total number of idle sessions marked inactive by the sweeper.",
	})

	CommerceRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_commerce_requests_total",
		Help: "Total number of commerce platform API calls, labelled by operation and outcome.",
	}, []string{"operation", "status"})

	CommerceBreakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "storefront_commerce_breaker_state",
		Help: "Commerce API circuit breaker state (0=closed, 1=half-open, 2=open).",
	})
)
