// Package metrics holds the Prometheus collectors exported on /metrics. All
// collectors are registered with the default registry at init.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestTotals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_request_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "path"},
	)

	HTTPRequestInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_request_in_flight",
			Help: "Current in-flight requests",
		},
	)

	RateLimiterBucketsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rate_limiter_buckets_total",
			Help: "Number of client rate limiter buckets currently tracked",
		},
	)

	VisitsCommitted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "his_visits_committed_total",
			Help: "Consultations committed together with their prescription",
		},
	)

	PrescriptionsDispensed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "his_prescriptions_dispensed_total",
			Help: "Prescriptions dispensed",
		},
	)

	StockAdjustments = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "his_stock_adjustments_total",
			Help: "Manual stock adjustments applied",
		},
	)

	WorkflowRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "his_workflow_rejections_total",
			Help: "Actions rejected without mutating the store",
		},
		[]string{"action", "reason"},
	)

	MedicationStock = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "his_medication_stock",
			Help: "Units on hand per medication",
		},
		[]string{"medication_id"},
	)

	MedicationsByLevel = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "his_medications_by_stock_level",
			Help: "Catalog entries per stock level at the last sweep",
		},
		[]string{"level"},
	)
)

func init() {
	prometheus.MustRegister(HTTPRequestTotals)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(HTTPRequestInFlight)
	prometheus.MustRegister(RateLimiterBucketsTotal)
	prometheus.MustRegister(VisitsCommitted)
	prometheus.MustRegister(PrescriptionsDispensed)
	prometheus.MustRegister(StockAdjustments)
	prometheus.MustRegister(WorkflowRejections)
	prometheus.MustRegister(MedicationStock)
	prometheus.MustRegister(MedicationsByLevel)
}
