package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	EmailsSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "emails_sent_total",
			Help: "Total emails sent",
		},
	)

	EmailFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "email_failures_total",
			Help: "Total failed emails",
		},
	)

	DispatchJobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_jobs_total",
			Help: "Campaign dispatch jobs by outcome",
		},
		[]string{"outcome"},
	)

	DispatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dispatch_duration_seconds",
			Help:    "Wall time of campaign dispatch jobs",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
	)

	QuotaRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quota_rejections_total",
			Help: "Send requests refused by the quota ledger",
		},
		[]string{"period"},
	)

	DedupSuppressed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dedup_suppressed_total",
			Help: "Duplicate requests suppressed by the dedup gate",
		},
	)

	EmailEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "email_events_total",
			Help: "Provider callback events by kind and ingestion outcome",
		},
		[]string{"kind", "outcome"},
	)
)

func Init() {
	prometheus.MustRegister(EmailsSent)
	prometheus.MustRegister(EmailFailures)
	prometheus.MustRegister(DispatchJobs)
	prometheus.MustRegister(DispatchDuration)
	prometheus.MustRegister(QuotaRejections)
	prometheus.MustRegister(DedupSuppressed)
	prometheus.MustRegister(EmailEvents)
}
