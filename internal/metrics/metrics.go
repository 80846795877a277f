// Package metrics содержит Prometheus-метрики панели.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ProviderRequestDuration измеряет длительность запросов к провайдеру по действию и исходу.
var ProviderRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "smmpanel",
	Subsystem: "provider",
	Name:      "request_duration_seconds",
	Help:      "Duration of provider API requests by action and outcome.",
	Buckets:   prometheus.DefBuckets,
}, []string{"action", "outcome"})

// OrdersPlaced считает попытки размещения заказов по исходу.
var OrdersPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "smmpanel",
	Subsystem: "orders",
	Name:      "placed_total",
	Help:      "Order placement attempts by outcome.",
}, []string{"outcome"})

// PostCommitInconsistencies считает заказы, принятые провайдером, но не записанные локально.
var PostCommitInconsistencies = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "smmpanel",
	Subsystem: "ledger",
	Name:      "post_commit_inconsistencies_total",
	Help:      "Orders accepted by the provider whose local ledger write failed.",
})

// UnknownOutcomes считает запросы размещения с неизвестным исходом у провайдера.
var UnknownOutcomes = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "smmpanel",
	Subsystem: "orders",
	Name:      "unknown_outcomes_total",
	Help:      "Order placements whose provider outcome is unknown.",
})

// ObserveProvider фиксирует длительность запроса к провайдеру.
func ObserveProvider(action, outcome string, started time.Time) {
	ProviderRequestDuration.WithLabelValues(action, outcome).Observe(time.Since(started).Seconds())
}
