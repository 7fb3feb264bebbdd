package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricConnsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "betterfly_connections_accepted_total",
		Help: "TCP connections accepted by the listener.",
	})
	metricLogins = promauto.NewCounter(prometheus.CounterOpts{
		Name: "betterfly_logins_total",
		Help: "Successful session authentications.",
	})
	metricLoginsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "betterfly_logins_rejected_total",
		Help: "Logins refused because the user was already online.",
	})
	metricFramesDispatched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "betterfly_frames_dispatched_total",
		Help: "Request frames handled by the dispatch pool.",
	})
	metricFramesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "betterfly_frames_written_total",
		Help: "Response frames written to live sessions.",
	})
	metricMessagesRouted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "betterfly_messages_routed_total",
		Help: "Chat posts persisted and routed.",
	})
	metricSyncReplayed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "betterfly_sync_messages_replayed_total",
		Help: "Offline messages replayed at login.",
	})
	metricOpsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "betterfly_operations_dropped_total",
		Help: "Requests dropped after a transient store error.",
	})
	metricPushEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "betterfly_push_enqueued_total",
		Help: "Notifications placed on the push queue.",
	})
	metricPushSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "betterfly_push_sent_total",
		Help: "Notifications accepted by APNs.",
	})
	metricPushInvalidToken = promauto.NewCounter(prometheus.CounterOpts{
		Name: "betterfly_push_invalid_tokens_total",
		Help: "Device tokens rejected by APNs and purged.",
	})
	metricPushFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "betterfly_push_failed_total",
		Help: "Notifications that failed for transient reasons.",
	})
	metricPushDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "betterfly_push_dropped_total",
		Help: "Notifications dropped because the push queue was full.",
	})
	metricSessionsStaged = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "betterfly_sessions_staged",
		Help: "Connections awaiting their first login.",
	})
	metricSessionsAuthenticated = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "betterfly_sessions_authenticated",
		Help: "Authenticated sessions currently online.",
	})
)
