package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds all Prometheus metrics for the pipeline
type Metrics struct {
	// Stream consumer
	StreamMessages     *prometheus.CounterVec   // labels: stream, status
	ProcessingDuration *prometheus.HistogramVec // labels: stream
	PendingMessages    *prometheus.GaugeVec     // labels: stream
	ClassifierCalls    *prometheus.CounterVec   // labels: classifier, status

	// Broadcast hub
	HubConnections *prometheus.GaugeVec   // labels: channel
	HubMessages    *prometheus.CounterVec // labels: type, direction
	HubDropped     *prometheus.CounterVec // labels: reason

	// Alerting
	AlertsFired *prometheus.CounterVec // labels: rule

	// Database
	DBQueries     *prometheus.CounterVec
	DBDuration    *prometheus.HistogramVec
	DBConnections *prometheus.GaugeVec
}
