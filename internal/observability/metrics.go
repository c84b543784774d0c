package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OffersCreated     = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: "campusride", Name: "offers_created_total", Help: "Ride offers created"}, []string{"vehicle_type"})
	SeatsBooked       = promauto.NewCounter(prometheus.CounterOpts{Namespace: "campusride", Name: "seats_booked_total", Help: "Seats booked"})
	SeatsCancelled    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "campusride", Name: "seats_cancelled_total", Help: "Seats released by cancellation"})
	BookingRejections = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: "campusride", Name: "booking_rejections_total", Help: "Rejected booking operations"}, []string{"reason"})
	OffersOpen        = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "campusride", Name: "offers_open", Help: "Offers currently accepting bookings"})
	SyncErrors        = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: "campusride", Name: "sync_errors_total", Help: "Failed offer sync attempts"}, []string{"sink"})
	SyncDropped       = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: "campusride", Name: "sync_dropped_total", Help: "Offer events dropped because a sink queue was full"}, []string{"sink"})
	WalletTopUps      = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: "campusride", Name: "wallet_topups_total", Help: "Wallet top-up attempts"}, []string{"result"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "campusride", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "campusride",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
