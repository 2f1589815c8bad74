// Package metrics declares the prometheus instrumentation surfaced by
// the server's metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var ConnectionsOpenedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "synckit_connections_opened_total",
	Help: "counter of websocket connections accepted by the server",
})

var ConnectionsClosedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "synckit_connections_closed_total",
	Help: "counter of websocket connections closed, by reason",
}, []string{"reason"})

var ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "synckit_connections_active",
	Help: "gauge of currently open websocket connections",
})

var MessagesReceivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "synckit_messages_received_total",
	Help: "counter of inbound messages received, by type",
}, []string{"type"})

var MessagesSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "synckit_messages_sent_total",
	Help: "counter of outbound messages sent, by type",
}, []string{"type"})

var MessagesRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "synckit_messages_rejected_total",
	Help: "counter of inbound messages rejected before dispatch, by reason",
}, []string{"reason"})

var RateLimitDenialsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "synckit_rate_limit_denials_total",
	Help: "counter of requests denied by a rate limiter, by limiter",
}, []string{"limiter"})

var DocumentsActive = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "synckit_documents_active",
	Help: "gauge of documents with at least one subscriber",
})

var SubscribersActive = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "synckit_subscribers_active",
	Help: "gauge of connections subscribed to at least one document",
})

var DeltasAppliedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "synckit_deltas_applied_total",
	Help: "counter of deltas merged into document state, by outcome",
}, []string{"outcome"})

var AuthFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "synckit_auth_failures_total",
	Help: "counter of rejected authentication attempts",
})

var StorageErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "synckit_storage_errors_total",
	Help: "counter of storage operation failures, by operation",
}, []string{"operation"})

var CleanupSweepsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "synckit_cleanup_sweeps_total",
	Help: "counter of completed cleanup sweeps",
})

var PubsubReconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "synckit_pubsub_reconnects_total",
	Help: "counter of pubsub adapter reconnect attempts",
})
