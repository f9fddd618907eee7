package remote

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"voiceloop/internal/domain"
)

// Metrics counts conversation events for Prometheus. It implements
// ports.EventSink.
type Metrics struct {
	registry *prometheus.Registry

	TransitionsTotal *prometheus.CounterVec
	TurnsTotal       *prometheus.CounterVec
	NoticesTotal     prometheus.Counter
	ErrorsTotal      *prometheus.CounterVec
	Active           prometheus.Gauge
}

func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "voiceloop"
	}

	registry := prometheus.NewRegistry()

	transitions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Conversation state transitions by target state and reason",
		},
		[]string{"state", "reason"},
	)

	turns := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Conversation turns appended to history",
		},
		[]string{"speaker"},
	)

	notices := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notices_total",
			Help:      "Transient notices shown to the user",
		},
	)

	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Conversation errors by kind",
		},
		[]string{"kind"},
	)

	active := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "conversation_active",
			Help:      "1 while the hands-free loop is running",
		},
	)

	registry.MustRegister(transitions, turns, notices, errorsTotal, active)

	return &Metrics{
		registry:         registry,
		TransitionsTotal: transitions,
		TurnsTotal:       turns,
		NoticesTotal:     notices,
		ErrorsTotal:      errorsTotal,
		Active:           active,
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) StateChanged(status domain.Status, reason domain.StateReason) {
	m.TransitionsTotal.WithLabelValues(string(status.State), string(reason)).Inc()
	if status.Active {
		m.Active.Set(1)
	} else {
		m.Active.Set(0)
	}
}

func (m *Metrics) TurnAppended(turn domain.Turn) {
	m.TurnsTotal.WithLabelValues(string(turn.Speaker)).Inc()
}

func (m *Metrics) Notice(string) {
	m.NoticesTotal.Inc()
}

func (m *Metrics) SessionError(kind domain.ErrorKind, _ string) {
	m.ErrorsTotal.WithLabelValues(string(kind)).Inc()
}
