package calculator

import "github.com/prometheus/client_golang/prometheus"

// contextLabelNames are the labels every Context.PrometheusLabels provides.
var contextLabelNames = []string{"method", "transport"}

// MetricLabels returns the label names used by RegisterMetrics.
func MetricLabels() []string {
	return append([]string{"name", "status"}, contextLabelNames...)
}

// NewResponseTimeVec creates the response time histogram expected by RegisterMetrics.
func NewResponseTimeVec(namespace string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "response_time_seconds",
		Help:      "Time spent serving a call",
		Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1, 5},
	}, MetricLabels())
}

// NewErrorCountVec creates the error counter expected by RegisterMetrics.
func NewErrorCountVec(namespace string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "errors_total",
		Help:      "Number of calls answered with an error",
	}, append(MetricLabels(), "message"))
}

// ContextLabels builds the labels a Context reports for method on transport.
func ContextLabels(method, transport string) prometheus.Labels {
	return prometheus.Labels{
		"method":    method,
		"transport": transport,
	}
}
