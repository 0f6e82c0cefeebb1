package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce            sync.Once
	httpDurationHistogram   *prometheus.HistogramVec
	webhookOutcomeCounter   *prometheus.CounterVec
	donationsCreatedCounter *prometheus.CounterVec
	resolverCallHistogram   *prometheus.HistogramVec
	mailerCounter           *prometheus.CounterVec
	workerRunCounter        *prometheus.CounterVec
)

// Init registers all Prometheus collectors.
func Init() {
	registerOnce.Do(func() {
		httpDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"})

		webhookOutcomeCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webhook_notifications_total",
			Help: "Webhook reconciliation outcomes",
		}, []string{"outcome"})

		donationsCreatedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "donations_created_total",
			Help: "Donations persisted, by source and frequency",
		}, []string{"source", "frequency"})

		resolverCallHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mercadopago_request_duration_seconds",
			Help:    "MercadoPago API call latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation", "result"})

		mailerCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "emails_sent_total",
			Help: "Transactional email outcomes",
		}, []string{"kind", "result"})

		workerRunCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_runs_total",
			Help: "Background worker run outcomes",
		}, []string{"worker", "result"})

		prometheus.MustRegister(
			httpDurationHistogram,
			webhookOutcomeCounter,
			donationsCreatedCounter,
			resolverCallHistogram,
			mailerCounter,
			workerRunCounter,
		)
	})
}

func ObserveHTTP(method, path string, status int, duration time.Duration) {
	if httpDurationHistogram == nil {
		return
	}
	httpDurationHistogram.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}

func IncrementWebhookOutcome(outcome string) {
	if webhookOutcomeCounter == nil {
		return
	}
	webhookOutcomeCounter.WithLabelValues(outcome).Inc()
}

func IncrementDonationCreated(source, frequency string) {
	if donationsCreatedCounter == nil {
		return
	}
	donationsCreatedCounter.WithLabelValues(source, frequency).Inc()
}

func ObserveResolverCall(operation, result string, duration time.Duration) {
	if resolverCallHistogram == nil {
		return
	}
	resolverCallHistogram.WithLabelValues(operation, result).Observe(duration.Seconds())
}

func IncrementEmailSent(kind, result string) {
	if mailerCounter == nil {
		return
	}
	mailerCounter.WithLabelValues(kind, result).Inc()
}

func IncrementWorkerRun(worker, result string) {
	if workerRunCounter == nil {
		return
	}
	workerRunCounter.WithLabelValues(worker, result).Inc()
}
