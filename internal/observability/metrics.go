// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the realtime layer.
type Metrics struct {
	// Transport metrics
	FramesReceived    prometheus.Counter
	FramesDropped     *prometheus.CounterVec
	ReconnectAttempts prometheus.Counter
	ReconnectFailures prometheus.Counter
	ConnectionState   prometheus.Gauge
	Connections       prometheus.Counter

	// Subscription metrics
	ActiveSubscriptions prometheus.Gauge
	ControlFramesSent   *prometheus.CounterVec
	SubscriptionErrors  prometheus.Counter

	// Router metrics
	EventsDispatched *prometheus.CounterVec
	HandlerErrors    *prometheus.CounterVec
	DispatchLatency  prometheus.Histogram

	// Cache metrics
	CacheKeysInvalidated *prometheus.CounterVec
	CacheRefetches       *prometheus.CounterVec
	CacheEntriesEvicted  prometheus.Counter

	// Aggregate metrics
	StockAlerts  prometheus.Gauge
	ActiveDrops  prometheus.Gauge
	WalletCredit prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "storefront_live"
	}

	return &Metrics{
		// Transport metrics
		FramesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "frames_received_total",
			Help:      "Total number of inbound frames parsed successfully",
		}),
		FramesDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "frames_dropped_total",
			Help:      "Total number of inbound frames dropped by reason",
		}, []string{"reason"}),
		ReconnectAttempts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "reconnect_attempts_total",
			Help:      "Total number of scheduled reconnect attempts",
		}),
		ReconnectFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "reconnect_exhausted_total",
			Help:      "Total number of times reconnection gave up",
		}),
		ConnectionState: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "connection_state",
			Help:      "Current connection state (0=disconnected 1=connecting 2=connected 3=reconnecting 4=failed)",
		}),
		Connections: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "connections_opened_total",
			Help:      "Total number of successfully opened connections",
		}),

		// Subscription metrics
		ActiveSubscriptions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "subscription",
			Name:      "active_keys",
			Help:      "Number of distinct (channel set, scope) subscriptions",
		}),
		ControlFramesSent: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscription",
			Name:      "control_frames_sent_total",
			Help:      "Total number of control frames sent by kind",
		}, []string{"kind"}),
		SubscriptionErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscription",
			Name:      "rejections_total",
			Help:      "Total number of subscriptions rejected by the server",
		}),

		// Router metrics
		EventsDispatched: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "events_dispatched_total",
			Help:      "Total number of routed events by category",
		}, []string{"category"}),
		HandlerErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "handler_errors_total",
			Help:      "Total number of listener errors and panics by event type",
		}, []string{"event_type"}),
		DispatchLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "dispatch_latency_seconds",
			Help:      "Time spent fanning out one event to all listeners",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
		}),

		// Cache metrics
		CacheKeysInvalidated: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "keys_invalidated_total",
			Help:      "Total number of cache entries marked stale by category",
		}, []string{"category"}),
		CacheRefetches: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "refetches_total",
			Help:      "Total number of cache refetches by result",
		}, []string{"result"}),
		CacheEntriesEvicted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "entries_evicted_total",
			Help:      "Total number of cache entries evicted by the sweep",
		}),

		// Aggregate metrics
		StockAlerts: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dashboard",
			Name:      "stock_alerts",
			Help:      "Number of products currently at or below their stock threshold",
		}),
		ActiveDrops: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dashboard",
			Name:      "active_drops",
			Help:      "Number of drops currently live",
		}),
		WalletCredit: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dashboard",
			Name:      "wallet_coins_credited_total",
			Help:      "Total number of reward coins credited to the local balance",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordFrameReceived increments the parsed frames counter.
func RecordFrameReceived() {
	DefaultMetrics.FramesReceived.Inc()
}

// RecordFrameDropped records an inbound frame dropped for reason.
func RecordFrameDropped(reason string) {
	DefaultMetrics.FramesDropped.WithLabelValues(reason).Inc()
}

// RecordReconnectScheduled increments the reconnect attempts counter.
func RecordReconnectScheduled() {
	DefaultMetrics.ReconnectAttempts.Inc()
}

// RecordReconnectExhausted increments the reconnect exhaustion counter.
func RecordReconnectExhausted() {
	DefaultMetrics.ReconnectFailures.Inc()
}

// RecordConnectionOpened increments the opened connections counter.
func RecordConnectionOpened() {
	DefaultMetrics.Connections.Inc()
}

// UpdateConnectionState sets the connection state gauge.
func UpdateConnectionState(state int) {
	DefaultMetrics.ConnectionState.Set(float64(state))
}

// UpdateActiveSubscriptions sets the active subscription keys gauge.
func UpdateActiveSubscriptions(n int) {
	DefaultMetrics.ActiveSubscriptions.Set(float64(n))
}

// RecordControlFrame records an outbound control frame of kind.
func RecordControlFrame(kind string) {
	DefaultMetrics.ControlFramesSent.WithLabelValues(kind).Inc()
}

// RecordSubscriptionError increments the rejected subscriptions counter.
func RecordSubscriptionError() {
	DefaultMetrics.SubscriptionErrors.Inc()
}

// RecordEventDispatched records a routed event and its fan-out duration.
func RecordEventDispatched(category string, seconds float64) {
	DefaultMetrics.EventsDispatched.WithLabelValues(category).Inc()
	DefaultMetrics.DispatchLatency.Observe(seconds)
}

// RecordHandlerError records a listener failure.
func RecordHandlerError(eventType string) {
	DefaultMetrics.HandlerErrors.WithLabelValues(eventType).Inc()
}

// RecordInvalidation records n cache entries marked stale for category.
func RecordInvalidation(category string, n int) {
	DefaultMetrics.CacheKeysInvalidated.WithLabelValues(category).Add(float64(n))
}

// RecordRefetch records a cache refetch outcome.
func RecordRefetch(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	DefaultMetrics.CacheRefetches.WithLabelValues(result).Inc()
}

// RecordEvicted records n entries removed by the cache sweep.
func RecordEvicted(n int) {
	DefaultMetrics.CacheEntriesEvicted.Add(float64(n))
}

// UpdateStockAlerts sets the stock alerts gauge.
func UpdateStockAlerts(n int) {
	DefaultMetrics.StockAlerts.Set(float64(n))
}

// UpdateActiveDrops sets the active drops gauge.
func UpdateActiveDrops(n int) {
	DefaultMetrics.ActiveDrops.Set(float64(n))
}

// RecordWalletCredit adds credited coins.
func RecordWalletCredit(coins int64) {
	if coins > 0 {
		DefaultMetrics.WalletCredit.Add(float64(coins))
	}
}
