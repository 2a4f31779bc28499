package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_negotiation", Name: "ride_requests_total", Help: "Ride requests created"})
	OffersTotal    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_negotiation", Name: "offers_total", Help: "Driver offers submitted"})
	CountersTotal  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_negotiation", Name: "counter_offers_total", Help: "Counter offers submitted"})
	MatchesTotal   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_negotiation", Name: "matches_total", Help: "Negotiations that produced an agreed ride"})
	RidesCompleted = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_negotiation", Name: "rides_completed_total", Help: "Rides completed"})
	RidesCancelled = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_negotiation", Name: "rides_cancelled_total", Help: "Rides cancelled"})
	PlatformFees   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_negotiation", Name: "platform_fees_total", Help: "Platform fees accrued, in currency units"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_negotiation", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ride_negotiation",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
