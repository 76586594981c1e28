package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"callboard/pkg/monitoring"
)

// Metrics holds all Prometheus metrics for the Crier service. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	// Hub metrics
	Subscribers        *prometheus.GaugeVec
	EventsPushed       *prometheus.CounterVec
	Publishes          *prometheus.CounterVec
	SubscribersDropped *prometheus.CounterVec
	DeliveryLag        *prometheus.HistogramVec

	// Session metrics
	ClientMessages *prometheus.CounterVec

	// Kafka metrics
	KafkaMessages *prometheus.CounterVec
	KafkaDuration *prometheus.HistogramVec
	KafkaLag      *prometheus.GaugeVec
}

// New registers the service metrics on mc.
func New(mc *monitoring.MetricsCollector) *Metrics {
	m := &Metrics{
		Subscribers:        mc.NewGauge("hub_subscribers_active", "Connected display subscribers", []string{"transport"}),
		EventsPushed:       mc.NewCounter("hub_events_pushed_total", "Events queued to subscribers", []string{"event_type"}),
		Publishes:          mc.NewCounter("announcements_published_total", "Announcement submissions", []string{"source", "status"}),
		SubscribersDropped: mc.NewCounter("hub_subscribers_dropped_total", "Subscribers removed by the hub", []string{"reason"}),
		DeliveryLag:        mc.NewHistogram("message_delivery_lag_seconds", "Time from announcement receipt to socket write", []string{"event_type"}, nil),
		ClientMessages:     mc.NewCounter("websocket_client_messages_total", "Messages received from display clients", []string{"action", "status"}),
	}
	km := mc.NewKafkaMetrics()
	m.KafkaMessages, m.KafkaDuration, m.KafkaLag = km.Messages, km.Duration, km.Lag
	return m
}

func (m *Metrics) SetSubscribers(n int) {
	if m == nil || m.Subscribers == nil {
		return
	}
	m.Subscribers.WithLabelValues("websocket").Set(float64(n))
}

func (m *Metrics) EventPushed(eventType string) {
	if m == nil || m.EventsPushed == nil {
		return
	}
	m.EventsPushed.WithLabelValues(eventType).Inc()
}

func (m *Metrics) Published(source, status string) {
	if m == nil || m.Publishes == nil {
		return
	}
	m.Publishes.WithLabelValues(source, status).Inc()
}

func (m *Metrics) SubscriberDropped(reason string) {
	if m == nil || m.SubscribersDropped == nil {
		return
	}
	m.SubscribersDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveDeliveryLag(eventType string, lag time.Duration) {
	if m == nil || m.DeliveryLag == nil {
		return
	}
	m.DeliveryLag.WithLabelValues(eventType).Observe(lag.Seconds())
}

func (m *Metrics) ClientMessage(action, status string) {
	if m == nil || m.ClientMessages == nil {
		return
	}
	m.ClientMessages.WithLabelValues(action, status).Inc()
}

func (m *Metrics) KafkaRecord(topic, status string, took time.Duration) {
	if m == nil {
		return
	}
	if m.KafkaMessages != nil {
		m.KafkaMessages.WithLabelValues(topic, "consume", status).Inc()
	}
	if m.KafkaDuration != nil {
		m.KafkaDuration.WithLabelValues("consume").Observe(took.Seconds())
	}
}

// KafkaLagObserved matches kafka.LagFunc.
func (m *Metrics) KafkaLagObserved(topic string, partition int32, lag int64) {
	if m == nil || m.KafkaLag == nil {
		return
	}
	m.KafkaLag.WithLabelValues(topic, strconv.FormatInt(int64(partition), 10)).Set(float64(lag))
}
