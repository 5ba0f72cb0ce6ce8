package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"contentlift_backend/pkg/subscription"
)

// Metrics holds the Prometheus collectors for subscription lifecycle
// operations. It satisfies subscription.Metrics.
type Metrics struct {
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec

	ProviderCallsTotal   *prometheus.CounterVec
	ProviderCallDuration *prometheus.HistogramVec

	ReconcileTotal *prometheus.CounterVec

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates and registers all collectors on registry.
func New(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		OperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "contentlift_subscription_operations_total",
				Help: "Total number of subscription operations",
			},
			[]string{"operation", "status"},
		),
		OperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "contentlift_subscription_operation_duration_seconds",
				Help:    "Subscription operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		ProviderCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "contentlift_provider_calls_total",
				Help: "Total number of billing provider calls",
			},
			[]string{"call", "status"},
		),
		ProviderCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "contentlift_provider_call_duration_seconds",
				Help:    "Billing provider call duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"call"},
		),
		ReconcileTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "contentlift_reconcile_events_total",
				Help: "Provider events processed, by outcome",
			},
			[]string{"outcome"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "contentlift_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "contentlift_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}

	registry.MustRegister(
		m.OperationsTotal,
		m.OperationDuration,
		m.ProviderCallsTotal,
		m.ProviderCallDuration,
		m.ReconcileTotal,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
	)
	return m
}

func (m *Metrics) ObserveOperation(op string, err error, elapsed time.Duration) {
	m.OperationsTotal.WithLabelValues(op, status(err)).Inc()
	m.OperationDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveProviderCall(call string, err error, elapsed time.Duration) {
	m.ProviderCallsTotal.WithLabelValues(call, status(err)).Inc()
	m.ProviderCallDuration.WithLabelValues(call).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveReconcile(outcome subscription.ReconcileOutcome) {
	m.ReconcileTotal.WithLabelValues(string(outcome)).Inc()
}

func (m *Metrics) ObserveHTTP(method, route string, code int, elapsed time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, route, statusClass(code)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// status keeps label cardinality bounded to a handful of error kinds.
func status(err error) string {
	if err == nil {
		return "ok"
	}
	var (
		pe *subscription.ProviderError
		nf *subscription.NotFoundError
		it *subscription.InvalidTransitionError
	)
	switch {
	case errors.As(err, &pe) && pe.Timeout:
		return "provider_timeout"
	case errors.As(err, &pe):
		return "provider_error"
	case errors.As(err, &nf):
		return "not_found"
	case errors.As(err, &it):
		return "invalid_transition"
	default:
		return "error"
	}
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
