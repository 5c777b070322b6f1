package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var replaysTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "idempotency_replays_total",
	Help: "Requests served from a stored idempotency record, by route.",
}, []string{"route"})
