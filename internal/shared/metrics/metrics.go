package metrics

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Job outcomes recorded by the pipeline.
const (
	OutcomeCompleted       = "completed"
	OutcomeIllegible       = "illegible"
	OutcomeSkippedKind     = "skipped_kind"
	OutcomeSkippedDisabled = "skipped_disabled"
	OutcomeFailed          = "failed"
)

var (
	ocrJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docverify_ocr_jobs_total",
		Help: "OCR jobs processed by outcome",
	}, []string{"outcome"})

	ocrJobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "docverify_ocr_job_duration_seconds",
		Help:    "Duration of one OCR pipeline run",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
	})

	textDetectionCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docverify_text_detection_calls_total",
		Help: "Calls to the external text-detection service by status",
	}, []string{"status"}) // ok, error, rate_limited

	textDetectionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "docverify_text_detection_duration_seconds",
		Help:    "Latency of external text-detection calls",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
	})

	workerMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docverify_worker_messages_total",
		Help: "Queue messages handled by the worker by result",
	}, []string{"result"}) // received, completed, retried, delayed, abandoned, integrity, undecodable

	mismatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docverify_identity_mismatches_total",
		Help: "Identity mismatches detected by reason",
	}, []string{"reason"})

	proposalTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docverify_proposal_transitions_total",
		Help: "Proposal status transitions triggered by OCR mismatches",
	}, []string{"to", "applied"})
)

// IncOCRJob records one finished OCR job.
func IncOCRJob(outcome string) {
	ocrJobs.WithLabelValues(outcome).Inc()
}

// ObserveOCRJobDuration records how long one OCR job took.
func ObserveOCRJobDuration(d time.Duration) {
	if d < 0 {
		d = 0
	}
	ocrJobDuration.Observe(d.Seconds())
}

// IncTextDetectionCall records an external text-detection call.
func IncTextDetectionCall(status string) {
	textDetectionCalls.WithLabelValues(status).Inc()
}

// ObserveTextDetectionLatency records the latency of one text-detection call.
func ObserveTextDetectionLatency(d time.Duration) {
	textDetectionLatency.Observe(d.Seconds())
}

// IncWorkerMessage records a queue message handling result.
func IncWorkerMessage(result string) {
	workerMessages.WithLabelValues(result).Inc()
}

// IncMismatch records one mismatch reason.
func IncMismatch(reason string) {
	mismatches.WithLabelValues(reason).Inc()
}

// IncProposalTransition records a guarded transition attempt.
func IncProposalTransition(to string, applied bool) {
	label := "false"
	if applied {
		label = "true"
	}
	proposalTransitions.WithLabelValues(to, label).Inc()
}

// Handler exposes metrics in Prometheus text format.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
