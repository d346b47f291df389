// Package metrics holds the Prometheus instruments shared by the checkout
// service and the order worker.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ReservationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mall",
		Subsystem: "checkout",
		Name:      "reservations_total",
		Help:      "Reservation attempts by result.",
	}, []string{"result"})

	CompensationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mall",
		Subsystem: "order",
		Name:      "compensations_total",
		Help:      "Expiry compensations by result.",
	}, []string{"result"})

	ExpirySignalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mall",
		Subsystem: "order",
		Name:      "expiry_signals_total",
		Help:      "Expiry signals drained from the schedule by result.",
	}, []string{"result"})
)

func Handler() http.Handler {
	return promhttp.Handler()
}
