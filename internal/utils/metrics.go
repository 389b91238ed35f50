package utils

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector tracks request, delivery and session metrics. All
// collectors live in the registry passed to NewMetricsCollector so tests can
// use a throwaway registry.
type MetricsCollector struct {
	requests        *prometheus.CounterVec
	errors          *prometheus.CounterVec
	operationTimes  *prometheus.HistogramVec
	messagesSent    *prometheus.CounterVec
	fanoutDelivered *prometheus.CounterVec
	typingSignals   prometheus.Counter
	activeSessions  prometheus.Gauge

	systemStartTime time.Time
}

func NewMetricsCollector(reg prometheus.Registerer) *MetricsCollector {
	mc := &MetricsCollector{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gigchat_http_requests_total",
			Help: "Total HTTP requests",
		}, []string{"method", "route", "status"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gigchat_errors_total",
			Help: "Errors reported to callers, by code",
		}, []string{"code"}),
		operationTimes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gigchat_operation_duration_seconds",
			Help:    "Latency of chat operations",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"operation"}),
		messagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gigchat_messages_sent_total",
			Help: "Messages persisted, by entry path",
		}, []string{"path"}),
		fanoutDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gigchat_fanout_deliveries_total",
			Help: "Frames queued to live sessions, by event",
		}, []string{"event"}),
		typingSignals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gigchat_typing_signals_total",
			Help: "Typing indicators relayed",
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gigchat_active_sessions",
			Help: "Live websocket sessions",
		}),
		systemStartTime: time.Now(),
	}
	if reg != nil {
		reg.MustRegister(
			mc.requests, mc.errors, mc.operationTimes, mc.messagesSent,
			mc.fanoutDelivered, mc.typingSignals, mc.activeSessions,
		)
	}
	return mc
}

func (mc *MetricsCollector) IncrementRequests(method, route string, status int) {
	mc.requests.WithLabelValues(method, route, statusClass(status)).Inc()
}

func (mc *MetricsCollector) IncrementErrors(code string) {
	mc.errors.WithLabelValues(code).Inc()
}

func (mc *MetricsCollector) AddOperationLatency(operationName string, duration time.Duration) {
	mc.operationTimes.WithLabelValues(operationName).Observe(duration.Seconds())
}

func (mc *MetricsCollector) MessageSent(path string) {
	mc.messagesSent.WithLabelValues(path).Inc()
}

func (mc *MetricsCollector) FanoutDelivered(event string, n int) {
	if n > 0 {
		mc.fanoutDelivered.WithLabelValues(event).Add(float64(n))
	}
}

func (mc *MetricsCollector) TypingSignal() {
	mc.typingSignals.Inc()
}

func (mc *MetricsCollector) SessionOpened() {
	mc.activeSessions.Inc()
}

func (mc *MetricsCollector) SessionClosed() {
	mc.activeSessions.Dec()
}

// Uptime is the time since the collector was created.
func (mc *MetricsCollector) Uptime() time.Duration {
	return time.Since(mc.systemStartTime)
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
