package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	documentsParsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sopn_documents_parsed_total",
			Help: "Total number of documents run through the parse pipeline",
		},
		[]string{"status"}, // status: ok, error
	)

	parseDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sopn_parse_duration_seconds",
			Help:    "End-to-end parse duration in seconds",
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)

	pagesProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sopn_pages_processed_total",
			Help: "Total number of document pages processed",
		},
	)

	candidatesExtracted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sopn_candidates_extracted_total",
			Help: "Total number of candidate rows extracted from tables",
		},
	)

	// Cloud detection metrics
	detectionJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sopn_detection_jobs_total",
			Help: "Total number of cloud detection jobs by outcome",
		},
		[]string{"status"}, // status: succeeded, failed
	)

	detectionPolls = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sopn_detection_polls_total",
			Help: "Total number of detection result poll calls",
		},
	)
)

func startParseTimer() *prometheus.Timer {
	return prometheus.NewTimer(parseDuration)
}
