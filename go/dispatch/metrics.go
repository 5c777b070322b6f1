package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ticksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_ticks_total",
		Help: "Dispatch loop iterations, by loop and outcome.",
	}, []string{"loop", "status"})

	offersCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_offers_created_total",
		Help: "Offers committed by the dispatch loops.",
	}, []string{"loop"})

	edgesConsidered = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dispatch_fast_edges_considered",
		Help:    "Candidate edges evaluated per fast tick.",
		Buckets: prometheus.ExponentialBuckets(1, 4, 8),
	})
)
