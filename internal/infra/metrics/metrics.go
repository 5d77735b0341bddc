package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var eventsAppliedTotal = promauto.With(prometheus.DefaultRegisterer).NewCounterVec(
	prometheus.CounterOpts{
		Name: "clusterlens_events_applied_total",
		Help: "Total number of normalized watch events applied to the state store.",
	},
	[]string{"kind", "action"},
)

var watchRestartsTotal = promauto.With(prometheus.DefaultRegisterer).NewCounterVec(
	prometheus.CounterOpts{
		Name: "clusterlens_watch_restarts_total",
		Help: "Total number of watch streams lost and re-entered through backoff.",
	},
	[]string{"kind"},
)

var relistsTotal = promauto.With(prometheus.DefaultRegisterer).NewCounterVec(
	prometheus.CounterOpts{
		Name: "clusterlens_relists_total",
		Help: "Total number of full re-lists performed to reseed a kind's cursor.",
	},
	[]string{"kind"},
)

var subscribersConnected = promauto.With(prometheus.DefaultRegisterer).NewGauge(
	prometheus.GaugeOpts{
		Name: "clusterlens_subscribers_connected",
		Help: "Number of currently connected stream subscribers.",
	},
)

var broadcastSentTotal = promauto.With(prometheus.DefaultRegisterer).NewCounterVec(
	prometheus.CounterOpts{
		Name: "clusterlens_broadcast_sent_total",
		Help: "Total number of messages sent to subscribers, by message type.",
	},
	[]string{"type"},
)

var broadcastDroppedTotal = promauto.With(prometheus.DefaultRegisterer).NewCounter(
	prometheus.CounterOpts{
		Name: "clusterlens_broadcast_dropped_total",
		Help: "Total number of subscribers dropped because their send buffer overflowed.",
	},
)

var heartbeatTimeoutsTotal = promauto.With(prometheus.DefaultRegisterer).NewCounter(
	prometheus.CounterOpts{
		Name: "clusterlens_heartbeat_timeouts_total",
		Help: "Total number of subscribers closed for missing a heartbeat deadline.",
	},
)

var authFailuresTotal = promauto.With(prometheus.DefaultRegisterer).NewCounter(
	prometheus.CounterOpts{
		Name: "clusterlens_auth_failures_total",
		Help: "Total number of subscriber connections rejected by the auth validator.",
	},
)

// RecordEventApplied increments the applied-events counter for one
// kind/action pair.
func RecordEventApplied(kind, action string) {
	eventsAppliedTotal.WithLabelValues(kind, action).Inc()
}

// RecordWatchRestart increments the stream-loss counter for a kind.
func RecordWatchRestart(kind string) {
	watchRestartsTotal.WithLabelValues(kind).Inc()
}

// RecordRelist increments the full re-list counter for a kind.
func RecordRelist(kind string) {
	relistsTotal.WithLabelValues(kind).Inc()
}

// SetSubscribers records the current subscriber count.
func SetSubscribers(n int) {
	subscribersConnected.Set(float64(n))
}

// RecordBroadcastSent increments the sent-message counter for a
// message type.
func RecordBroadcastSent(msgType string) {
	broadcastSentTotal.WithLabelValues(msgType).Inc()
}

// RecordBroadcastDropped increments the slow-subscriber drop counter.
func RecordBroadcastDropped() {
	broadcastDroppedTotal.Inc()
}

// RecordHeartbeatTimeout increments the heartbeat-timeout counter.
func RecordHeartbeatTimeout() {
	heartbeatTimeoutsTotal.Inc()
}

// RecordAuthFailure increments the rejected-connection counter.
func RecordAuthFailure() {
	authFailuresTotal.Inc()
}
