package telemetry

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"quiz-live-service/internal/domain"
)

const namespace = "quiz_live"

// Metrics is the Prometheus implementation of app.Metrics.
type Metrics struct {
	roomsOpened   prometheus.Counter
	roomsActive   prometheus.Gauge
	roomsFinished *prometheus.CounterVec
	connections   *prometheus.GaugeVec
	answers       *prometheus.CounterVec
	rejections    *prometheus.CounterVec
	eventsDropped prometheus.Counter
}

// NewMetrics registers the collectors on reg. A nil reg uses the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		roomsOpened: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rooms_opened_total",
			Help:      "Sessions created.",
		}),
		roomsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms_active",
			Help:      "Sessions created and not yet finished.",
		}),
		roomsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rooms_finished_total",
			Help:      "Sessions finished, by reason.",
		}, []string{"reason"}),
		connections: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Attached connections, by role.",
		}, []string{"role"}),
		answers: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "answers_accepted_total",
			Help:      "Accepted answers, by correctness.",
		}, []string{"correct"}),
		rejections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "answers_rejected_total",
			Help:      "Rejected submissions, by error kind.",
		}, []string{"kind"}),
		eventsDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Outbound events discarded because a connection queue was full.",
		}),
	}
}

func (m *Metrics) RoomOpened() {
	m.roomsOpened.Inc()
	m.roomsActive.Inc()
}

func (m *Metrics) RoomFinished(reason domain.FinishReason) {
	m.roomsActive.Dec()
	m.roomsFinished.WithLabelValues(string(reason)).Inc()
}

func (m *Metrics) ConnectionAttached(role domain.Role) {
	m.connections.WithLabelValues(string(role)).Inc()
}

func (m *Metrics) ConnectionDetached(role domain.Role) {
	m.connections.WithLabelValues(string(role)).Dec()
}

func (m *Metrics) AnswerAccepted(correct bool) {
	m.answers.WithLabelValues(strconv.FormatBool(correct)).Inc()
}

func (m *Metrics) AnswerRejected(kind string) {
	m.rejections.WithLabelValues(kind).Inc()
}

func (m *Metrics) EventDropped() {
	m.eventsDropped.Inc()
}
