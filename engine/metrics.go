package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var restrictionsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_restrictions_applied",
	Help: "Number of restrictions applied, by kind",
}, []string{"kind"})

var liftsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_lifts_applied",
	Help: "Number of restrictions lifted, by kind",
}, []string{"kind"})

var altAlertsRaised = promauto.NewCounter(prometheus.CounterOpts{
	Name: "warden_alt_alerts_raised",
	Help: "Number of connect-time restricted-alt alerts raised",
})

var watchlistHits = promauto.NewCounter(prometheus.CounterOpts{
	Name: "warden_watchlist_hits",
	Help: "Number of connections from watchlisted addresses",
})

var connectsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_connects_processed",
	Help: "Number of connect events processed, by outcome",
}, []string{"status"})

var expirySweepLifts = promauto.NewCounter(prometheus.CounterOpts{
	Name: "warden_expiry_sweep_lifts",
	Help: "Number of restrictions lifted by the expiry sweeper",
})

var connectDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "warden_connect_duration",
	Help:    "Full connect pipeline duration (seconds)",
	Buckets: prometheus.ExponentialBucketsRange(0.0001, 2, 15),
})
