package store

import "github.com/prometheus/client_golang/prometheus"

var (
	metricCreates = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "auditor_store_records_created_total",
			Help: "Number of records created",
		},
	)
	metricConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "auditor_store_record_conflicts_total",
			Help: "Number of creates that hit an existing record_id",
		},
	)
	metricCloses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "auditor_store_records_closed_total",
			Help: "Number of records closed with a stop_time",
		},
	)
	metricNotFound = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "auditor_store_records_not_found_total",
			Help: "Number of close or get calls for an unknown record_id",
		},
	)
)

func init() {
	prometheus.MustRegister(metricCreates)
	prometheus.MustRegister(metricConflicts)
	prometheus.MustRegister(metricCloses)
	prometheus.MustRegister(metricNotFound)
}
