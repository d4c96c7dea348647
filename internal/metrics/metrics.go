package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the scheduler and delivery channels.
type Metrics struct {
	JobExecutionsTotal     *prometheus.CounterVec
	JobDuration            *prometheus.HistogramVec
	JobConsecutiveFailures *prometheus.GaugeVec
	JobRunning             *prometheus.GaugeVec
	JobItemFailuresTotal   *prometheus.CounterVec
	JobLockErrorsTotal     *prometheus.CounterVec
	NotificationsTotal     *prometheus.CounterVec
	EmailsTotal            *prometheus.CounterVec
}

// New registers the collectors on reg. Pass prometheus.DefaultRegisterer in
// production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		JobExecutionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "licenseops",
			Subsystem: "jobs",
			Name:      "executions_total",
			Help:      "Total number of job execution attempts by final status.",
		}, []string{"job", "status"}), // status: completed, failed, timeout
		JobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "licenseops",
			Subsystem: "jobs",
			Name:      "duration_seconds",
			Help:      "Duration of job execution attempts.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
		}, []string{"job"}),
		JobConsecutiveFailures: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "licenseops",
			Subsystem: "jobs",
			Name:      "consecutive_failures",
			Help:      "Number of consecutive failed runs per job.",
		}, []string{"job"}),
		JobRunning: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "licenseops",
			Subsystem: "jobs",
			Name:      "running",
			Help:      "1 while a job run is in flight on this replica.",
		}, []string{"job"}),
		JobItemFailuresTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "licenseops",
			Subsystem: "jobs",
			Name:      "item_failures_total",
			Help:      "Per-tenant or per-license items that failed inside a job run.",
		}, []string{"job"}),
		JobLockErrorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "licenseops",
			Subsystem: "jobs",
			Name:      "lock_errors_total",
			Help:      "Runs that went ahead without the cross-replica lock because the lock backend failed.",
		}, []string{"job"}),
		NotificationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "licenseops",
			Subsystem: "notifier",
			Name:      "deliveries_total",
			Help:      "Notification delivery attempts by channel and outcome.",
		}, []string{"channel", "outcome"}), // outcome: delivered, failed
		EmailsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "licenseops",
			Subsystem: "mailer",
			Name:      "emails_total",
			Help:      "Emails handed to the provider by outcome.",
		}, []string{"provider", "outcome"}),
	}
}

// Noop returns collectors registered on a private registry.
func Noop() *Metrics {
	return New(prometheus.NewRegistry())
}
