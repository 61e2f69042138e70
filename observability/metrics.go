package observability

import (
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	cdpdMetricsOnce sync.Once
	cdpdRegistry    *CDPdMetrics
)

// ModuleMetrics returns the lazily-initialised registry used to record HTTP
// API activity per route.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "cdp",
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "Total API requests segmented by route, method and outcome.",
			}, []string{"route", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "cdp",
				Subsystem: "api",
				Name:      "errors_total",
				Help:      "Total API errors segmented by route, method and status code.",
			}, []string{"route", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "cdp",
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "cdp",
				Subsystem: "api",
				Name:      "throttles_total",
				Help:      "Count of API requests rejected due to throttling policies.",
			}, []string{"route", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of an API request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *moduleMetrics) Observe(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(route, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(route, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied route and
// reason. Reasons should be stable strings such as "rate_limit".
func (m *moduleMetrics) RecordThrottle(route, reason string) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(route, reason).Inc()
}

// CDPdMetrics wraps the collectors tracking the CDP daemon.
type CDPdMetrics struct {
	operations   *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	errors       *prometheus.CounterVec
	liquidations *prometheus.CounterVec
	badDebt      *prometheus.CounterVec
	oracleAge    *prometheus.GaugeVec
	conflicts    prometheus.Counter
	shutdown     prometheus.Gauge
}

// CDPMetrics exposes the metrics registry for cdpd.
func CDPMetrics() *CDPdMetrics {
	cdpdMetricsOnce.Do(func() {
		cdpdRegistry = newCDPdMetrics()
		prometheus.MustRegister(cdpdRegistry.collectors()...)
	})
	return cdpdRegistry
}

func newCDPdMetrics() *CDPdMetrics {
	return &CDPdMetrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cdp",
			Subsystem: "engine",
			Name:      "operations_total",
			Help:      "Count of CDP operations segmented by operation and outcome.",
		}, []string{"operation", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cdp",
			Subsystem: "engine",
			Name:      "operation_duration_seconds",
			Help:      "Latency distribution for CDP operations including storage and oracle reads.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cdp",
			Subsystem: "engine",
			Name:      "errors_total",
			Help:      "Count of CDP operation failures segmented by operation and error kind.",
		}, []string{"operation", "kind"}),
		liquidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cdp",
			Subsystem: "liquidation",
			Name:      "rounds_total",
			Help:      "Count of liquidation rounds segmented by collateral type and outcome.",
		}, []string{"collateral", "outcome"}),
		badDebt: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cdp",
			Subsystem: "liquidation",
			Name:      "bad_debt_total",
			Help:      "Debt left uncovered by exhausted collateral, in smallest debt units.",
		}, []string{"collateral"}),
		oracleAge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "cdp",
			Subsystem: "oracle",
			Name:      "quote_age_seconds",
			Help:      "Age of the most recent oracle quote used per collateral type.",
		}, []string{"collateral"}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cdp",
			Subsystem: "storage",
			Name:      "cas_conflicts_total",
			Help:      "Count of optimistic write conflicts that forced a retry.",
		}),
		shutdown: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cdp",
			Subsystem: "engine",
			Name:      "emergency_shutdown",
			Help:      "Indicates whether emergency shutdown is engaged (1) or not (0).",
		}),
	}
}

func (m *CDPdMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.operations,
		m.latency,
		m.errors,
		m.liquidations,
		m.badDebt,
		m.oracleAge,
		m.conflicts,
		m.shutdown,
	}
}

// ObserveOperation records the execution of a CDP operation. kind is the
// engine error kind on failure and is ignored on success.
func (m *CDPdMetrics) ObserveOperation(operation string, duration time.Duration, kind string, err error) {
	if m == nil {
		return
	}
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unknown"
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
		if kind = strings.TrimSpace(kind); kind == "" {
			kind = "internal"
		}
		m.errors.WithLabelValues(op, kind).Inc()
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordLiquidation counts a liquidation round and accumulates any bad debt
// it left behind.
func (m *CDPdMetrics) RecordLiquidation(collateral, outcome string, badDebt *big.Int) {
	if m == nil {
		return
	}
	label := labelAsset(collateral)
	if outcome = strings.TrimSpace(outcome); outcome == "" {
		outcome = "unspecified"
	}
	m.liquidations.WithLabelValues(label, outcome).Inc()
	if badDebt != nil && badDebt.Sign() > 0 {
		m.badDebt.WithLabelValues(label).Add(bigToFloat(badDebt))
	}
}

// RecordQuoteAge records how old the quote backing an operation was.
func (m *CDPdMetrics) RecordQuoteAge(collateral string, age time.Duration) {
	if m == nil {
		return
	}
	seconds := age.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.oracleAge.WithLabelValues(labelAsset(collateral)).Set(seconds)
}

// RecordConflict counts a compare-and-swap conflict.
func (m *CDPdMetrics) RecordConflict() {
	if m == nil {
		return
	}
	m.conflicts.Inc()
}

// SetShutdown toggles the emergency_shutdown gauge.
func (m *CDPdMetrics) SetShutdown(engaged bool) {
	if m == nil {
		return
	}
	if engaged {
		m.shutdown.Set(1)
		return
	}
	m.shutdown.Set(0)
}

func labelAsset(asset string) string {
	trimmed := strings.TrimSpace(asset)
	if trimmed == "" {
		return "UNKNOWN"
	}
	return strings.ToUpper(trimmed)
}

func bigToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	floatVal, acc := new(big.Float).SetInt(value).Float64()
	if acc != big.Exact {
		// Guard against NaN/Inf when conversion fails.
		if math.IsNaN(floatVal) || math.IsInf(floatVal, 0) {
			return 0
		}
	}
	return floatVal
}
