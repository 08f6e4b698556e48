package metrics

import (
	"database/sql"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	metricPrefix = "companion_"

	resultSuccess = "success"
	resultError   = "error"
)

// Exported label values for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError

	DecisionIrrigate = "irrigate"
	DecisionSkip     = "skip"
	DecisionError    = "error"
)

var (
	registerOnce sync.Once
	registry     *prometheus.Registry

	hubConnected      prometheus.Gauge
	hubReconnects     prometheus.Counter
	hubRequests       *prometheus.CounterVec
	hubRequestLatency *prometheus.HistogramVec
	hubRESTRequests   *prometheus.CounterVec

	registryRebuilds       *prometheus.CounterVec
	registryRebuildLatency *prometheus.HistogramVec
	registryStateUpdates   prometheus.Counter
	registrySubscriptions  prometheus.Gauge

	irrigationDecisions  *prometheus.CounterVec
	irrigationRunSeconds *prometheus.CounterVec

	mirrorPublishes *prometheus.CounterVec

	apiRequests *prometheus.CounterVec
)

// Init creates and registers the companion collectors. Safe to call more
// than once; only the first call has an effect. A nil db skips the
// storage gauges.
func Init(db *sql.DB, logger *slog.Logger) {
	registerOnce.Do(func() {
		registry = prometheus.NewRegistry()

		hubConnected = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "hub_connected",
			Help: "1 while the shared hub connection is authenticated",
		})
		hubReconnects = prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "hub_reconnects_total",
			Help: "Reconnect attempts scheduled after a lost or failed socket",
		})
		hubRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "hub_requests_total",
				Help: "Websocket requests by message type and result",
			},
			[]string{"type", "result"},
		)
		hubRequestLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "hub_request_latency_seconds",
				Help:    "Websocket request round-trip latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"type"},
		)
		hubRESTRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "hub_rest_requests_total",
				Help: "REST requests to the hub by result",
			},
			[]string{"result"},
		)

		registryRebuilds = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "registry_rebuilds_total",
				Help: "Registry rebuilds by topic and result",
			},
			[]string{"topic", "result"},
		)
		registryRebuildLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "registry_rebuild_latency_seconds",
				Help:    "Registry rebuild latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"topic"},
		)
		registryStateUpdates = prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "registry_state_updates_total",
			Help: "Incremental state_changed events applied to the cache",
		})
		registrySubscriptions = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "registry_subscriptions",
			Help: "Live hub event subscriptions held by the registry",
		})

		irrigationDecisions = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "irrigation_decisions_total",
				Help: "Per-valve irrigation decisions by outcome",
			},
			[]string{"outcome"},
		)
		irrigationRunSeconds = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "irrigation_run_seconds_total",
				Help: "Scheduled irrigation time per valve in seconds",
			},
			[]string{"valve"},
		)

		mirrorPublishes = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "mirror_publishes_total",
				Help: "Mirror writes by sink and result",
			},
			[]string{"sink", "result"},
		)

		apiRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "api_requests_total",
				Help: "HTTP API requests by route pattern, method and status code",
			},
			[]string{"route", "method", "code"},
		)

		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			hubConnected,
			hubReconnects,
			hubRequests,
			hubRequestLatency,
			hubRESTRequests,
			registryRebuilds,
			registryRebuildLatency,
			registryStateUpdates,
			registrySubscriptions,
			irrigationDecisions,
			irrigationRunSeconds,
			mirrorPublishes,
			apiRequests,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// Handler serves the collectors in the Prometheus exposition format.
// Before Init it answers 503.
func Handler() http.Handler {
	if registry == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics not initialised", http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func registerDBMetrics(db *sql.DB, logger *slog.Logger) {
	registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "kv_store_keys",
			Help: "Keys held in the persistent key-value store",
		},
		func() float64 {
			var count int64
			if err := db.QueryRow("SELECT COUNT(*) FROM kv_store").Scan(&count); err != nil {
				if logger != nil {
					logger.Warn("metrics query failed", "error", err)
				}
				return 0
			}
			return float64(count)
		},
	))
}

// SetHubConnected records whether the shared connection is up.
func SetHubConnected(connected bool) {
	if hubConnected == nil {
		return
	}
	if connected {
		hubConnected.Set(1)
	} else {
		hubConnected.Set(0)
	}
}

// IncHubReconnect counts a scheduled reconnect attempt.
func IncHubReconnect() {
	if hubReconnects != nil {
		hubReconnects.Inc()
	}
}

// ObserveHubRequest records a websocket request outcome and latency.
func ObserveHubRequest(msgType, result string, duration time.Duration) {
	if msgType == "" {
		msgType = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if hubRequests != nil {
		hubRequests.WithLabelValues(msgType, result).Inc()
	}
	if hubRequestLatency != nil {
		hubRequestLatency.WithLabelValues(msgType).Observe(duration.Seconds())
	}
}

// IncHubREST counts a REST call outcome.
func IncHubREST(result string) {
	if result == "" {
		result = resultSuccess
	}
	if hubRESTRequests != nil {
		hubRESTRequests.WithLabelValues(result).Inc()
	}
}

// ObserveRegistryRebuild records a topic rebuild.
func ObserveRegistryRebuild(topic, result string, duration time.Duration) {
	if topic == "" {
		topic = "all"
	}
	if result == "" {
		result = resultSuccess
	}
	if registryRebuilds != nil {
		registryRebuilds.WithLabelValues(topic, result).Inc()
	}
	if registryRebuildLatency != nil {
		registryRebuildLatency.WithLabelValues(topic).Observe(duration.Seconds())
	}
}

// IncRegistryStateUpdate counts an applied state_changed event.
func IncRegistryStateUpdate() {
	if registryStateUpdates != nil {
		registryStateUpdates.Inc()
	}
}

// SetRegistrySubscriptions records the live subscription count.
func SetRegistrySubscriptions(n int) {
	if registrySubscriptions != nil {
		registrySubscriptions.Set(float64(n))
	}
}

// IncIrrigationDecision counts a per-valve decision outcome.
func IncIrrigationDecision(outcome string) {
	if outcome == "" {
		outcome = DecisionSkip
	}
	if irrigationDecisions != nil {
		irrigationDecisions.WithLabelValues(outcome).Inc()
	}
}

// AddIrrigationRun adds scheduled run time for a valve.
func AddIrrigationRun(valve string, seconds float64) {
	if seconds <= 0 {
		return
	}
	if irrigationRunSeconds != nil {
		irrigationRunSeconds.WithLabelValues(valve).Add(seconds)
	}
}

// IncMirrorPublish counts a mirror write to a sink (mqtt, influxdb).
func IncMirrorPublish(sink, result string) {
	if result == "" {
		result = resultSuccess
	}
	if mirrorPublishes != nil {
		mirrorPublishes.WithLabelValues(sink, result).Inc()
	}
}

// IncAPIRequest counts an HTTP API request. route is the router pattern,
// not the raw path, so entity ids never become label values.
func IncAPIRequest(route, method string, code int) {
	if apiRequests != nil {
		apiRequests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	}
}
