package observability

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/i-mwangi/chai-project-sub002/native/distribution"
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

	harvestdOnce     sync.Once
	harvestdRegistry *HarvestdMetrics
)

// ModuleMetrics returns the lazily-initialised registry recording HTTP API
// activity per module and route.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "harvest",
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "Total API requests segmented by module and route.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "harvest",
				Subsystem: "api",
				Name:      "errors_total",
				Help:      "Total API errors segmented by module, route, and status code.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "harvest",
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "harvest",
				Subsystem: "api",
				Name:      "throttles_total",
				Help:      "Count of API requests rejected due to throttling policies.",
			}, []string{"module", "reason"}),
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

// Observe records the outcome of a request. The status code should be the
// HTTP status that was ultimately written to the response writer.
func (m *moduleMetrics) Observe(module, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied module and
// reason. Reasons should be stable strings such as "rate_limit".
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(module, reason).Inc()
}

// HarvestdMetrics wraps collectors tracking payout and pool health.
type HarvestdMetrics struct {
	payouts       *prometheus.CounterVec
	payoutRetries prometheus.Histogram
	batchLatency  prometheus.Histogram
	batchHolders  prometheus.Counter
	liquidity     *prometheus.GaugeVec
	borrowed      *prometheus.GaugeVec
	utilisation   *prometheus.GaugeVec
	atRisk        *prometheus.GaugeVec
	pauseEngaged  *prometheus.GaugeVec
}

var _ distribution.Observer = (*HarvestdMetrics)(nil)

// Harvestd exposes the metrics registry for harvestd.
func Harvestd() *HarvestdMetrics {
	harvestdOnce.Do(func() {
		harvestdRegistry = &HarvestdMetrics{
			payouts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "harvest",
				Subsystem: "distribution",
				Name:      "payouts_total",
				Help:      "Holder payouts segmented by final outcome.",
			}, []string{"outcome"}),
			payoutRetries: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "harvest",
				Subsystem: "distribution",
				Name:      "payout_attempts",
				Help:      "Ledger attempts needed per holder payout.",
				Buckets:   []float64{1, 2, 3, 5, 8},
			}),
			batchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "harvest",
				Subsystem: "distribution",
				Name:      "batch_duration_seconds",
				Help:      "Latency distribution for distribution batches.",
				Buckets:   prometheus.DefBuckets,
			}),
			batchHolders: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "harvest",
				Subsystem: "distribution",
				Name:      "holders_processed_total",
				Help:      "Holders visited by the batch processor.",
			}),
			liquidity: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "harvest",
				Subsystem: "lending",
				Name:      "pool_liquidity",
				Help:      "Total liquidity per pool asset, including lent funds.",
			}, []string{"asset"}),
			borrowed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "harvest",
				Subsystem: "lending",
				Name:      "pool_borrowed",
				Help:      "Outstanding principal per pool asset.",
			}, []string{"asset"}),
			utilisation: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "harvest",
				Subsystem: "lending",
				Name:      "pool_utilisation",
				Help:      "Ratio of borrowed to total liquidity (0-1).",
			}, []string{"asset"}),
			atRisk: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "harvest",
				Subsystem: "lending",
				Name:      "loans_at_risk",
				Help:      "Active loans below the liquidation threshold at the last scan.",
			}, []string{"asset"}),
			pauseEngaged: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "harvest",
				Name:      "pause_engaged",
				Help:      "Indicates whether a module pause guard is active (1) or not (0).",
			}, []string{"module"}),
		}
		prometheus.MustRegister(
			harvestdRegistry.payouts,
			harvestdRegistry.payoutRetries,
			harvestdRegistry.batchLatency,
			harvestdRegistry.batchHolders,
			harvestdRegistry.liquidity,
			harvestdRegistry.borrowed,
			harvestdRegistry.utilisation,
			harvestdRegistry.atRisk,
			harvestdRegistry.pauseEngaged,
		)
	})
	return harvestdRegistry
}

// ObservePayout records one holder's settlement.
func (m *HarvestdMetrics) ObservePayout(outcome distribution.Outcome, attempts int) {
	if m == nil {
		return
	}
	m.payouts.WithLabelValues(outcome.String()).Inc()
	if attempts > 0 {
		m.payoutRetries.Observe(float64(attempts))
	}
}

// ObserveBatch records a completed batch pass.
func (m *HarvestdMetrics) ObserveBatch(duration time.Duration, processed int) {
	if m == nil {
		return
	}
	m.batchLatency.Observe(duration.Seconds())
	if processed > 0 {
		m.batchHolders.Add(float64(processed))
	}
}

// RecordPool updates the pool gauges for an asset.
func (m *HarvestdMetrics) RecordPool(asset string, liquidity, borrowed decimal.Decimal) {
	if m == nil {
		return
	}
	label := labelAsset(asset)
	total := liquidity.InexactFloat64()
	lent := borrowed.InexactFloat64()
	m.liquidity.WithLabelValues(label).Set(total)
	m.borrowed.WithLabelValues(label).Set(lent)
	utilisation := 0.0
	if total > 0 {
		utilisation = lent / total
		if utilisation > 1 {
			utilisation = 1
		}
	}
	m.utilisation.WithLabelValues(label).Set(utilisation)
}

// RecordAtRisk sets the number of liquidatable loans seen by the last scan.
func (m *HarvestdMetrics) RecordAtRisk(asset string, count int) {
	if m == nil {
		return
	}
	m.atRisk.WithLabelValues(labelAsset(asset)).Set(float64(count))
}

// SetPause toggles the pause_engaged gauge for a module.
func (m *HarvestdMetrics) SetPause(module string, engaged bool) {
	if m == nil {
		return
	}
	value := 0.0
	if engaged {
		value = 1
	}
	m.pauseEngaged.WithLabelValues(strings.ToLower(strings.TrimSpace(module))).Set(value)
}

func labelAsset(asset string) string {
	trimmed := strings.TrimSpace(asset)
	if trimmed == "" {
		return "UNKNOWN"
	}
	return strings.ToUpper(trimmed)
}
