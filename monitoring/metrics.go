package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HttpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	ResponseTimeHistogram = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_response_time_seconds",
			Help:    "Histogram of response times",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// outcome is one of paid, inactive, skipped
	ReferralEdgesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "referral_edges_processed_total",
			Help: "Placement edges consumed by subscription completions",
		},
		[]string{"outcome"},
	)

	ReferralPayoutTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "referral_payout_amount_total",
			Help: "Sum of all earnings written to the ledger",
		},
	)

	ReferralPromotionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "referral_promotions_total",
			Help: "Level promotions by the level that was closed",
		},
		[]string{"level"},
	)

	ActivationEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subscription_activation_events_total",
			Help: "Subscription activation events by final status",
		},
		[]string{"status"},
	)

	IntegrityErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "referral_integrity_errors_total",
			Help: "Store invariant violations detected while processing completions",
		},
	)
)
