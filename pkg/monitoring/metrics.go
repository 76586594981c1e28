package monitoring

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector owns a private registry and the HTTP metrics shared by
// every route. Service metrics are created through NewCounter, NewGauge and
// NewHistogram so they land in the same namespace.
type MetricsCollector struct {
	namespace string
	registry  *prometheus.Registry

	requests   *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	inFlight   prometheus.Gauge
	upgrades   *prometheus.CounterVec
	buildInfo  *prometheus.GaugeVec
	skipRoutes map[string]bool
}

// KafkaMetrics groups the consumer-side Kafka series.
type KafkaMetrics struct {
	Messages *prometheus.CounterVec   // topic, operation, status
	Duration *prometheus.HistogramVec // operation
	Lag      *prometheus.GaugeVec     // topic, partition
}

// NewMetricsCollector creates a collector backed by its own registry, with the
// Go runtime and process collectors attached.
func NewMetricsCollector(serviceName, version, commit string) *MetricsCollector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewMetricsCollectorWithRegistry(serviceName, version, commit, reg)
}

// NewMetricsCollectorWithRegistry registers every metric on reg. Tests pass a
// fresh registry so collectors never collide.
func NewMetricsCollectorWithRegistry(serviceName, version, commit string, reg *prometheus.Registry) *MetricsCollector {
	mc := &MetricsCollector{
		// hyphens are not valid in metric names
		namespace:  strings.ReplaceAll(serviceName, "-", "_"),
		registry:   reg,
		skipRoutes: map[string]bool{"/metrics": true},
	}

	mc.requests = mc.NewCounter("http_requests_total", "HTTP requests by route and status", []string{"method", "route", "status"})
	mc.duration = mc.NewHistogram("http_request_duration_seconds", "HTTP request latency, websocket upgrades excluded", []string{"method", "route"},
		[]float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5})
	mc.upgrades = mc.NewCounter("websocket_upgrades_total", "Websocket upgrade attempts", []string{"route", "status"})

	mc.inFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: mc.namespace,
		Name:      "http_requests_in_flight",
		Help:      "HTTP requests currently being served",
	})
	mc.buildInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: mc.namespace,
		Name:      "build_info",
		Help:      "Build version and commit of the running binary",
	}, []string{"version", "commit"})
	reg.MustRegister(mc.inFlight, mc.buildInfo)
	mc.buildInfo.WithLabelValues(version, commit).Set(1)

	return mc
}

// Registry exposes the underlying registry, mostly for tests.
func (mc *MetricsCollector) Registry() *prometheus.Registry {
	return mc.registry
}

// MetricsMiddleware records request counts and latency per route. Websocket
// upgrades are counted separately since their "duration" is the life of the
// connection.
func (mc *MetricsCollector) MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		if mc.skipRoutes[route] {
			c.Next()
			return
		}

		if c.IsWebsocket() {
			c.Next()
			status := "ok"
			if c.Writer.Status() >= 400 {
				status = "rejected"
			}
			mc.upgrades.WithLabelValues(route, status).Inc()
			return
		}

		start := time.Now()
		mc.inFlight.Inc()
		defer mc.inFlight.Dec()

		c.Next()

		method := c.Request.Method
		mc.requests.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).Inc()
		mc.duration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	}
}

// Handler serves the private registry.
func (mc *MetricsCollector) Handler() gin.HandlerFunc {
	handler := promhttp.HandlerFor(mc.registry, promhttp.HandlerOpts{Registry: mc.registry})
	return gin.WrapH(handler)
}

func (mc *MetricsCollector) NewCounter(name, help string, labels []string) *prometheus.CounterVec {
	counter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: mc.namespace,
		Name:      name,
		Help:      help,
	}, labels)
	mc.registry.MustRegister(counter)
	return counter
}

func (mc *MetricsCollector) NewGauge(name, help string, labels []string) *prometheus.GaugeVec {
	gauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: mc.namespace,
		Name:      name,
		Help:      help,
	}, labels)
	mc.registry.MustRegister(gauge)
	return gauge
}

// NewHistogram uses the default buckets when buckets is nil.
func (mc *MetricsCollector) NewHistogram(name, help string, labels []string, buckets []float64) *prometheus.HistogramVec {
	if buckets == nil {
		buckets = prometheus.DefBuckets
	}
	histogram := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: mc.namespace,
		Name:      name,
		Help:      help,
		Buckets:   buckets,
	}, labels)
	mc.registry.MustRegister(histogram)
	return histogram
}

// NewKafkaMetrics registers the Kafka consumer series.
func (mc *MetricsCollector) NewKafkaMetrics() KafkaMetrics {
	return KafkaMetrics{
		Messages: mc.NewCounter("kafka_messages_total", "Kafka records by outcome", []string{"topic", "operation", "status"}),
		Duration: mc.NewHistogram("kafka_operation_duration_seconds", "Time spent handling one Kafka record", []string{"operation"}, nil),
		Lag:      mc.NewGauge("kafka_consumer_lag", "Records between the last handled offset and the high watermark", []string{"topic", "partition"}),
	}
}
