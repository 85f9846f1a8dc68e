// Package metrics содержит счётчики Prometheus для публикации событий, шлюза и мутаций.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	EventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_events_published_total",
			Help: "Events successfully handed to the pub/sub backend.",
		},
		[]string{"event"},
	)
	PublishFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_publish_failures_total",
			Help: "Events whose publish failed after the store write succeeded.",
		},
		[]string{"event"},
	)
	MutationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatsync_mutation_duration_seconds",
			Help:    "Duration of write+publish mutations.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)
	GatewayConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatsync_gateway_connections",
			Help: "Open websocket connections on the realtime gateway.",
		},
	)
	GatewaySubscriptions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatsync_gateway_subscriptions",
			Help: "Active (connection, channel) subscriptions on the realtime gateway.",
		},
	)
	BrokerDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_broker_dropped_total",
			Help: "Envelopes dropped by the in-process broker because a listener was full.",
		},
	)
)

func init() {
	prometheus.MustRegister(EventsPublished)
	prometheus.MustRegister(PublishFailures)
	prometheus.MustRegister(MutationDuration)
	prometheus.MustRegister(GatewayConnections)
	prometheus.MustRegister(GatewaySubscriptions)
	prometheus.MustRegister(BrokerDropped)
}

// ObserveMutation используется в defer: defer metrics.ObserveMutation("SendMessage", time.Now()).
func ObserveMutation(op string, start time.Time) {
	MutationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// Handler отдаёт метрики в формате Prometheus.
func Handler() http.Handler {
	return promhttp.Handler()
}
