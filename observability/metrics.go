package observability

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
)

type httpMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	httpMetricsOnce sync.Once
	httpRegistry    *httpMetrics

	referralOnce     sync.Once
	referralRegistry *ReferralMetrics
)

// HTTP returns the lazily-initialised registry recording referrald API
// activity.
func HTTP() *httpMetrics {
	httpMetricsOnce.Do(func() {
		httpRegistry = &httpMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "nameref",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total API requests segmented by route, method, and outcome.",
			}, []string{"route", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "nameref",
				Subsystem: "http",
				Name:      "errors_total",
				Help:      "Total API errors segmented by route, method, and status code.",
			}, []string{"route", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "nameref",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "nameref",
				Subsystem: "http",
				Name:      "throttles_total",
				Help:      "Count of API requests rejected due to throttling policies.",
			}, []string{"reason"}),
		}
		prometheus.MustRegister(
			httpRegistry.requests,
			httpRegistry.errors,
			httpRegistry.latency,
			httpRegistry.throttles,
		)
	})
	return httpRegistry
}

// Observe records the outcome of an API request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *httpMetrics) Observe(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
		m.errors.WithLabelValues(route, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.requests.WithLabelValues(route, method, outcome).Inc()
	m.latency.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter. Reasons should be stable
// strings such as "rate_limit".
func (m *httpMetrics) RecordThrottle(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(reason).Inc()
}

// ReferralMetrics captures referral program activity.
type ReferralMetrics struct {
	operations  *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	errors      *prometheus.CounterVec
	commissions *prometheus.CounterVec
	events      *prometheus.CounterVec
}

// Referral returns the singleton metrics registry for referral programs.
func Referral() *ReferralMetrics {
	referralOnce.Do(func() {
		referralRegistry = &ReferralMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "nameref",
				Subsystem: "referral",
				Name:      "operations_total",
				Help:      "Count of program operations segmented by program, operation, and outcome.",
			}, []string{"program", "operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "nameref",
				Subsystem: "referral",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for program operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "nameref",
				Subsystem: "referral",
				Name:      "errors_total",
				Help:      "Count of failed program operations segmented by operation and reason.",
			}, []string{"operation", "reason"}),
			commissions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "nameref",
				Subsystem: "referral",
				Name:      "commission_paid_total",
				Help:      "Sum of commission paid or credited to referrers, in base units.",
			}, []string{"program"}),
			events: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "nameref",
				Subsystem: "referral",
				Name:      "events_total",
				Help:      "Count of committed events segmented by type.",
			}, []string{"type"}),
		}
		prometheus.MustRegister(
			referralRegistry.operations,
			referralRegistry.latency,
			referralRegistry.errors,
			referralRegistry.commissions,
			referralRegistry.events,
		)
	})
	return referralRegistry
}

// Observe records the execution of a program operation.
func (m *ReferralMetrics) Observe(program, operation string, duration time.Duration, err error) {
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
		m.errors.WithLabelValues(op, errorReason(err)).Inc()
	}
	m.operations.WithLabelValues(program, op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordCommission adds a paid commission to the program total.
func (m *ReferralMetrics) RecordCommission(program string, amount *uint256.Int) {
	if m == nil || amount == nil {
		return
	}
	m.commissions.WithLabelValues(program).Add(bigToFloat(amount.ToBig()))
}

// RecordEvent counts a committed event.
func (m *ReferralMetrics) RecordEvent(eventType string) {
	if m == nil {
		return
	}
	if eventType = strings.TrimSpace(eventType); eventType == "" {
		eventType = "unknown"
	}
	m.events.WithLabelValues(eventType).Inc()
}

// errorReason reduces an error to its sentinel message so the label set stays
// bounded.
func errorReason(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			break
		}
		err = next
	}
	parts := strings.SplitN(err.Error(), ": ", 3)
	if len(parts) > 2 {
		parts = parts[:2]
	}
	reason := strings.TrimSpace(strings.Join(parts, ": "))
	if reason == "" {
		return "unknown"
	}
	return reason
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
