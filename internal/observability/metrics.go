package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Drop reasons for CallsDropped.
const (
	DropUnauthorized = "unauthorized"
	DropNotRecipient = "not_recipient"
	DropUnresolved   = "unresolved"
	DropMalformed    = "malformed"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lockstep",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "lockstep",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	callsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lockstep",
			Subsystem: "calls",
			Name:      "sent_total",
			Help:      "Function calls originated by this peer.",
		},
		[]string{"transmission"},
	)
	callsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lockstep",
			Subsystem: "calls",
			Name:      "received_total",
			Help:      "Function calls received from links.",
		},
		[]string{"transmission"},
	)
	callsRelayed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "lockstep",
			Subsystem: "calls",
			Name:      "relayed_total",
			Help:      "Function calls rebroadcast by the host to other clients.",
		},
	)
	callsExecuted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "lockstep",
			Subsystem: "calls",
			Name:      "executed_total",
			Help:      "Function calls invoked locally.",
		},
	)
	callsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lockstep",
			Subsystem: "calls",
			Name:      "dropped_total",
			Help:      "Function calls discarded before invocation.",
		},
		[]string{"reason"},
	)
	connectionEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lockstep",
			Subsystem: "connection",
			Name:      "events_total",
			Help:      "Connection lifecycle events.",
		},
		[]string{"type"},
	)
	registeredObjects = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "lockstep",
			Subsystem: "registry",
			Name:      "objects",
			Help:      "Objects currently registered.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			callsSent, callsReceived, callsRelayed, callsExecuted, callsDropped,
			connectionEvents, registeredObjects,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordCallSent(transmission string) {
	RegisterMetrics()
	callsSent.WithLabelValues(transmission).Inc()
}

func RecordCallReceived(transmission string) {
	RegisterMetrics()
	callsReceived.WithLabelValues(transmission).Inc()
}

func RecordCallRelayed(n int) {
	RegisterMetrics()
	callsRelayed.Add(float64(n))
}

func RecordCallExecuted() {
	RegisterMetrics()
	callsExecuted.Inc()
}

func RecordCallDropped(reason string) {
	RegisterMetrics()
	callsDropped.WithLabelValues(reason).Inc()
}

func RecordConnectionEvent(eventType string) {
	RegisterMetrics()
	connectionEvents.WithLabelValues(eventType).Inc()
}

func SetRegisteredObjects(n int) {
	RegisterMetrics()
	registeredObjects.Set(float64(n))
}
