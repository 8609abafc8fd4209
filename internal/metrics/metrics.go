package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "clinic"

// Metrics exposes counters/histograms for booking, conversation and delivery flows.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	bookingsTotal  *prometheus.CounterVec
	inboundTotal   *prometheus.CounterVec
	oracleTotal    *prometheus.CounterVec
	oracleLatency  prometheus.Histogram
	deliveryTotal  *prometheus.CounterVec
	remindersTotal *prometheus.CounterVec
	outboxTotal    *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "booking",
			Name:      "operations_total",
			Help:      "Booking engine operations by outcome",
		}, []string{"operation", "outcome"}),
		inboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "inbound",
			Name:      "webhook_total",
			Help:      "Inbound provider webhooks by disposition",
		}, []string{"disposition"}),
		oracleTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "oracle",
			Name:      "decisions_total",
			Help:      "Decision oracle calls by result",
		}, []string{"result"}),
		oracleLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "oracle",
			Name:      "latency_seconds",
			Help:      "Latency of decision oracle calls",
			Buckets:   prometheus.DefBuckets,
		}),
		deliveryTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "deliveries_total",
			Help:      "Outbound deliveries by channel and status",
		}, []string{"channel", "status"}),
		remindersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reminder",
			Name:      "sent_total",
			Help:      "Reminder sweeper results",
		}, []string{"status"}),
		outboxTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "consumer_total",
			Help:      "Booking event consumer attempts",
		}, []string{"consumer", "status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.bookingsTotal, m.inboundTotal, m.oracleTotal, m.oracleLatency,
		m.deliveryTotal, m.remindersTotal, m.outboxTotal)
	return m
}

func (m *Metrics) ObserveBooking(operation, outcome string) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) ObserveInbound(disposition string) {
	if m == nil {
		return
	}
	m.inboundTotal.WithLabelValues(disposition).Inc()
}

func (m *Metrics) ObserveOracle(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.oracleTotal.WithLabelValues(result).Inc()
	m.oracleLatency.Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveDelivery(channel string, err error) {
	if m == nil {
		return
	}
	m.deliveryTotal.WithLabelValues(channel, status(err)).Inc()
}

func (m *Metrics) ObserveReminder(err error) {
	if m == nil {
		return
	}
	m.remindersTotal.WithLabelValues(status(err)).Inc()
}

func (m *Metrics) ObserveOutbox(consumer string, err error) {
	if m == nil {
		return
	}
	m.outboxTotal.WithLabelValues(consumer, status(err)).Inc()
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
