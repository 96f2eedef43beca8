// Package metrics holds the Prometheus collectors for the payment service.
package metrics

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	PaymentURLsIssued      prometheus.Counter
	PaymentURLsRejected    *prometheus.CounterVec
	Callbacks              *prometheus.CounterVec
	ReconciliationOutcomes *prometheus.CounterVec
	StorageRetries         prometheus.Counter
	StorageExhausted       prometheus.Counter
	HTTPRequestDuration    *prometheus.HistogramVec
}

// New builds the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PaymentURLsIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vnpay_payment_urls_issued_total",
			Help: "Total number of signed payment URLs issued",
		}),
		PaymentURLsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vnpay_payment_urls_rejected_total",
			Help: "Payment URL requests rejected by validation, by field",
		}, []string{"field"}),
		Callbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vnpay_callbacks_total",
			Help: "Provider callbacks received, by channel and verification result",
		}, []string{"channel", "result"}),
		ReconciliationOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vnpay_reconciliation_outcomes_total",
			Help: "Reconciliation outcomes by kind and status or reason",
		}, []string{"kind", "detail"}),
		StorageRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vnpay_storage_retries_total",
			Help: "Transient storage errors retried during reconciliation",
		}),
		StorageExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vnpay_storage_retries_exhausted_total",
			Help: "Reconciliations that gave up after exhausting storage retries",
		}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
	}

	reg.MustRegister(
		m.PaymentURLsIssued,
		m.PaymentURLsRejected,
		m.Callbacks,
		m.ReconciliationOutcomes,
		m.StorageRetries,
		m.StorageExhausted,
		m.HTTPRequestDuration,
	)
	return m
}
