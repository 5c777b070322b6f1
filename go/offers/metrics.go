package offers

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var offerOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "offer_outcomes_total",
	Help: "Offer outcomes by final disposition.",
}, []string{"outcome"})
