package config

import "time"

// Env key constants. All configuration env vars use the CLUSTERLENS_
// prefix; duration values require explicit units (e.g. 15s, 5m, 1h).

// Path to kubeconfig file. If unset, KUBECONFIG is used as fallback.
const envKeyKubeConfig = "CLUSTERLENS_KUBECONFIG"

// Kubernetes API server URL. If unset, KUBERNETES_MASTER is used as fallback.
const envKeyKubeMaster = "CLUSTERLENS_KUBE_MASTER"

// Log level: debug, info, warn, error.
const envKeyLogLevel = "CLUSTERLENS_LOG_LEVEL"

// Log format: json or text.
const envKeyLogFormat = "CLUSTERLENS_LOG_FORMAT"

// Port for the API/stream HTTP server.
const envKeyHTTPPort = "CLUSTERLENS_HTTP_PORT"

// Port for Prometheus metrics (GET /metrics).
const envKeyMetricsPort = "CLUSTERLENS_METRICS_PORT"

// Display name of the mirrored cluster, reported in the subscriber
// handshake. Overridden by the cluster config file when present.
const envKeyClusterName = "CLUSTERLENS_CLUSTER_NAME"

// Optional YAML file carrying cluster identity and kube context.
const envKeyClusterConfig = "CLUSTERLENS_CLUSTER_CONFIG"

// Shared bearer token subscribers must present. Empty disables
// authentication (every connection is accepted).
const envKeyAuthToken = "CLUSTERLENS_AUTH_TOKEN"

// Optional cron expression forcing a periodic full resync per kind.
const envKeyResyncSchedule = "CLUSTERLENS_RESYNC_SCHEDULE"

// Timezone for the resync schedule (IANA, e.g. Europe/Berlin).
const envKeyResyncTZ = "CLUSTERLENS_RESYNC_TZ"

// Heartbeat ping interval per subscriber. Units required (e.g. 15s).
const (
	envKeyPingInterval = "CLUSTERLENS_PING_INTERVAL"
	envMinPingInterval = time.Second
)

// Deadline for a subscriber's liveness response. Units required.
const (
	envKeyPongTimeout = "CLUSTERLENS_PONG_TIMEOUT"
	envMinPongTimeout = time.Second
)

// Interval between periodic metrics frames to subscribers.
const (
	envKeyMetricsInterval = "CLUSTERLENS_METRICS_INTERVAL"
	envMinMetricsInterval = time.Second
)

// Initial and maximum reconnect backoff for lost watch streams.
const (
	envKeyBackoffInitial = "CLUSTERLENS_BACKOFF_INITIAL"
	envMinBackoffInitial = 100 * time.Millisecond
	envKeyBackoffMax     = "CLUSTERLENS_BACKOFF_MAX"
	envMinBackoffMax     = time.Second
)

// Component health check interval. Units required.
const (
	envKeyPingerInterval = "CLUSTERLENS_PINGER_INTERVAL"
	envMinPingerInterval = time.Second
)

// Standard k8s env keys used as fallback when CLUSTERLENS_* are unset.
const (
	envKeyKubeConfigFallback = "KUBECONFIG"
	envKeyKubeMasterFallback = "KUBERNETES_MASTER"
)
