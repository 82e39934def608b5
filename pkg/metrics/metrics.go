package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type SagaMetrics struct {
	Transitions *prometheus.CounterVec
	Messages    *prometheus.CounterVec
	Created     prometheus.Counter
}

// NewSagaMetrics registers the saga counters on reg; tests pass their own
// registry to avoid duplicate-registration panics.
func NewSagaMetrics(reg prometheus.Registerer) *SagaMetrics {
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orderflow",
		Subsystem: "saga",
		Name:      "status_transitions_total",
		Help:      "Order status transition attempts by edge and result.",
	}, []string{"from", "to", "result"})
	messages := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orderflow",
		Subsystem: "saga",
		Name:      "messages_total",
		Help:      "Consumed saga messages by type and outcome.",
	}, []string{"type", "outcome"})
	created := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "orderflow",
		Subsystem: "saga",
		Name:      "orders_created_total",
		Help:      "Orders persisted in pending status.",
	})

	reg.MustRegister(transitions, messages, created)
	return &SagaMetrics{Transitions: transitions, Messages: messages, Created: created}
}

func Handler() http.Handler {
	return promhttp.Handler()
}
