package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersPlacedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "canteen_orders_placed_total",
		Help: "Total number of orders placed",
	})

	OrdersVerifiedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "canteen_orders_verified_total",
		Help: "Total number of orders whose payment was verified",
	}, []string{"method"})

	OrdersFulfilledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "canteen_orders_fulfilled_total",
		Help: "Total number of orders handed over",
	})

	OrdersCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "canteen_orders_cancelled_total",
		Help: "Total number of orders cancelled by students",
	})

	OrdersRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "canteen_orders_rejected_total",
		Help: "Total number of checkout attempts rejected",
	}, []string{"reason"})

	StudentsAutoBlockedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "canteen_students_auto_blocked_total",
		Help: "Total number of automatic blocks after repeated cancellations",
	})

	PaymentCodeLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "canteen_payment_code_lookups_total",
		Help: "Total number of payment code verifications by result",
	}, []string{"result"})

	PaymentCodeCollisionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "canteen_payment_code_collisions_total",
		Help: "Total number of generated payment codes already held by an active order",
	})

	CancellationEvaluationLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "canteen_cancellation_evaluation_latency_seconds",
		Help:    "Latency of the cancel, record and auto-block transaction",
		Buckets: prometheus.DefBuckets,
	})

	FeedSubscribers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "canteen_feed_subscribers",
		Help: "Number of live snapshot subscribers per topic",
	}, []string{"topic"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
