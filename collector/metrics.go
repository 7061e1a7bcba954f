package collector

import "github.com/prometheus/client_golang/prometheus"

var (
	metricCollected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auditor_collector_items_collected_total",
			Help: "Number of job observations queued for delivery",
		},
		[]string{"collector"},
	)
	metricCollectFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auditor_collector_collect_failures_total",
			Help: "Number of failed collection passes",
		},
		[]string{"collector"},
	)
	metricDelivered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auditor_collector_records_delivered_total",
			Help: "Number of records delivered to the store",
		},
		[]string{"collector"},
	)
	metricRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auditor_collector_records_rejected_total",
			Help: "Number of records permanently rejected by the store and dropped",
		},
		[]string{"collector"},
	)
	metricSendFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auditor_collector_send_failures_total",
			Help: "Number of delivery attempts that failed with an unreachable store",
		},
		[]string{"collector"},
	)
	metricIncompleteSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auditor_collector_incomplete_sent_total",
			Help: "Number of records sent with defaults after the backlog policy expired",
		},
		[]string{"collector"},
	)
	metricQueueLength = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "auditor_collector_queue_length",
			Help: "Number of entries in the durable delivery queue",
		},
		[]string{"collector"},
	)
)

func init() {
	prometheus.MustRegister(metricCollected)
	prometheus.MustRegister(metricCollectFailures)
	prometheus.MustRegister(metricDelivered)
	prometheus.MustRegister(metricRejected)
	prometheus.MustRegister(metricSendFailures)
	prometheus.MustRegister(metricIncompleteSent)
	prometheus.MustRegister(metricQueueLength)
}
