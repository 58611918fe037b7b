package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "camback",
		Subsystem: "session",
		Name:      "requests_total",
		Help:      "Wire requests handled, by operation and status",
	}, []string{"op", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "camback",
		Subsystem: "session",
		Name:      "request_duration_seconds",
		Help:      "Time spent handling a wire request",
		Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
	}, []string{"op"})

	eventsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "camback",
		Subsystem: "session",
		Name:      "events_total",
		Help:      "Events sent to frontends",
	}, []string{"type"})

	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "camback",
		Subsystem: "session",
		Name:      "active",
		Help:      "Frontend sessions currently bound",
	})
)

// ObserveRequest records one handled request.
func ObserveRequest(op string, status int32, elapsed time.Duration) {
	requestsTotal.WithLabelValues(op, strconv.Itoa(int(status))).Inc()
	requestDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// IncEvents counts one event sent to a frontend.
func IncEvents(eventType string) {
	eventsSent.WithLabelValues(eventType).Inc()
}

// SessionOpened increments the active session gauge.
func SessionOpened() { activeSessions.Inc() }

// SessionClosed decrements the active session gauge.
func SessionClosed() { activeSessions.Dec() }
