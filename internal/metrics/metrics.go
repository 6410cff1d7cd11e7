package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	UploadRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upload_requests_total",
			Help: "Total upload requests by response status.",
		},
		[]string{"status"},
	)
	PipelineRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_runs_total",
			Help: "Total ingestion runs by terminal state and error kind.",
		},
		[]string{"state", "kind"},
	)
	Assessments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "report_assessments_total",
			Help: "Total report assessments by validity and fraud status.",
		},
		[]string{"validity", "fraud"},
	)
	ExtractionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "extraction_duration_seconds",
			Help:    "Latency of calls to the extraction service.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8),
		},
	)
	ErrorReportFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "error_report_write_failures_total",
			Help: "Total failures to persist an ingestion error report.",
		},
	)
)

func init() {
	prometheus.MustRegister(UploadRequests, PipelineRuns, Assessments, ExtractionDuration, ErrorReportFailures)
}

func Handler() http.Handler {
	return promhttp.Handler()
}
