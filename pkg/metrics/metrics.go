package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "signbridge"

// Metrics groups the counters of one process. All methods are safe on a nil
// receiver so components can run without a registry.
type Metrics struct {
	registry *prometheus.Registry

	CallsTotal            *prometheus.CounterVec
	ICERestartsTotal      prometheus.Counter
	ICECandidatesTotal    *prometheus.CounterVec
	SentencesTotal        *prometheus.CounterVec
	GenerationLatency     prometheus.Histogram
	SignalingDroppedTotal *prometheus.CounterVec
	RelayConnections      prometheus.Gauge
	RelayMessagesTotal    *prometheus.CounterVec
}

// New creates the metric set and registers it on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		CallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "Calls that reached a terminal state, by outcome",
		}, []string{"outcome"}),
		ICERestartsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ice_restarts_total",
			Help:      "ICE restart offers sent",
		}),
		ICECandidatesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ice_candidates_total",
			Help:      "Remote ICE candidates, by disposition (applied, queued, failed)",
		}, []string{"disposition"}),
		SentencesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sentences_total",
			Help:      "Finalized sentences, by source and formatting method",
		}, []string{"source", "method"}),
		GenerationLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sentence_generation_seconds",
			Help:      "Latency of external sentence generation",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 8),
		}),
		SignalingDroppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signaling_dropped_total",
			Help:      "Signaling emits dropped while disconnected",
		}, []string{"event"}),
		RelayConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "relay_connections",
			Help:      "Clients currently connected to the relay",
		}),
		RelayMessagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_messages_total",
			Help:      "Envelopes handled by the relay, by event and result",
		}, []string{"event", "result"}),
	}

	m.registry.MustRegister(
		m.CallsTotal,
		m.ICERestartsTotal,
		m.ICECandidatesTotal,
		m.SentencesTotal,
		m.GenerationLatency,
		m.SignalingDroppedTotal,
		m.RelayConnections,
		m.RelayMessagesTotal,
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) CallFinished(outcome string) {
	if m == nil {
		return
	}
	m.CallsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ICERestart() {
	if m == nil {
		return
	}
	m.ICERestartsTotal.Inc()
}

func (m *Metrics) ICECandidate(disposition string) {
	if m == nil {
		return
	}
	m.ICECandidatesTotal.WithLabelValues(disposition).Inc()
}

func (m *Metrics) Sentence(source, method string) {
	if m == nil {
		return
	}
	m.SentencesTotal.WithLabelValues(source, method).Inc()
}

func (m *Metrics) ObserveGeneration(d time.Duration) {
	if m == nil {
		return
	}
	m.GenerationLatency.Observe(d.Seconds())
}

func (m *Metrics) SignalingDropped(event string) {
	if m == nil {
		return
	}
	m.SignalingDroppedTotal.WithLabelValues(event).Inc()
}

func (m *Metrics) RelayConnected(delta float64) {
	if m == nil {
		return
	}
	m.RelayConnections.Add(delta)
}

func (m *Metrics) RelayMessage(event, result string) {
	if m == nil {
		return
	}
	m.RelayMessagesTotal.WithLabelValues(event, result).Inc()
}
