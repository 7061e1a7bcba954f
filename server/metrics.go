package server

import "github.com/prometheus/client_golang/prometheus"

var (
	metricRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auditor_server_requests_total",
			Help: "Number of handled API requests",
		},
		[]string{"method", "path"},
	)
	metricErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auditor_server_errors_total",
			Help: "Number of API requests answered with a typed error",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(metricRequests)
	prometheus.MustRegister(metricErrors)
}
