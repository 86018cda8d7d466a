package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Mail metrics
	MailSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "valinemail_mail_sent_total",
		Help: "Total number of notification emails handed to the SMTP server",
	}, []string{"kind"})
	MailSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "valinemail_mail_skipped_total",
		Help: "Total number of notification tasks skipped because a precondition was not met",
	}, []string{"kind", "reason"})
	MailFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "valinemail_mail_failed_total",
		Help: "Total number of notification tasks that failed to render or send",
	}, []string{"kind"})

	// Notification rounds
	RoundsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "valinemail_notify_rounds_total",
		Help: "Notification rounds by outcome",
	}, []string{"outcome"})
	PersistFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "valinemail_notify_persist_failures_total",
		Help: "Notification state writes that failed",
	})

	// Sweep
	SweepMatched = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "valinemail_sweep_matched_total",
		Help: "Comments picked up by reconciliation sweeps",
	})
	SweepRemaining = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "valinemail_sweep_last_matched",
		Help: "Comments matched by the most recent sweep; zero means the backlog is drained",
	})

	// Queue
	QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "valinemail_queue_depth",
		Help: "Comment ids waiting in the notify queue",
	})
	QueueDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "valinemail_queue_dropped_total",
		Help: "Comment ids dropped because the notify queue was full or stopped",
	})
	QueueRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "valinemail_queue_retries_total",
		Help: "Notification rounds rescheduled after a delivery failure",
	})
)

func init() {
	prometheus.MustRegister(MailSent)
	prometheus.MustRegister(MailSkipped)
	prometheus.MustRegister(MailFailed)
	prometheus.MustRegister(RoundsTotal)
	prometheus.MustRegister(PersistFailures)
	prometheus.MustRegister(SweepMatched)
	prometheus.MustRegister(SweepRemaining)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(QueueDropped)
	prometheus.MustRegister(QueueRetries)
}
