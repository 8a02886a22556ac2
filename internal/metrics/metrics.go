package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	APICallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aqbias_openaq_api_calls_total",
			Help: "Total station directory / measurement API calls",
		},
		[]string{"endpoint", "status"},
	)

	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aqbias_openaq_api_latency_seconds",
			Help:    "Station API call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	LocationsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aqbias_locations_processed_total",
			Help: "Locations processed by final status",
		},
		[]string{"status"},
	)

	StationsFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aqbias_stations_fetched_total",
			Help: "Per-station fetch attempts by outcome",
		},
		[]string{"outcome"},
	)
)
