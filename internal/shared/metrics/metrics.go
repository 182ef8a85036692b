package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"
)

var (
	jobsStartedTotal     atomic.Uint64
	jobsCompletedTotal   atomic.Uint64
	jobsFailedTotal      atomic.Uint64
	batchPollsTotal      atomic.Uint64
	batchPollErrorsTotal atomic.Uint64
	directFallbacksTotal atomic.Uint64
	resultsSkippedTotal  atomic.Uint64
	jobsResumedTotal     atomic.Uint64

	queueReceivedTotal     atomic.Uint64
	queueDroppedTotal      atomic.Uint64
	queueRedeliveriesTotal atomic.Uint64

	jobDuration = newHistogram([]float64{1000, 5000, 30000, 60000, 300000, 900000, 3600000, 14400000, 86400000})
)

// IncJobsStarted increments the started counter.
func IncJobsStarted() {
	jobsStartedTotal.Add(1)
}

// IncJobsCompleted increments the completed counter.
func IncJobsCompleted() {
	jobsCompletedTotal.Add(1)
}

// IncJobsFailed increments the failed counter.
func IncJobsFailed() {
	jobsFailedTotal.Add(1)
}

// IncBatchPolls counts status polls against the batch backend.
func IncBatchPolls() {
	batchPollsTotal.Add(1)
}

// IncBatchPollErrors counts polls that ended in a transient error.
func IncBatchPollErrors() {
	batchPollErrorsTotal.Add(1)
}

// IncDirectFallbacks counts jobs that fell back to per-unit translation.
func IncDirectFallbacks() {
	directFallbacksTotal.Add(1)
}

// AddResultsSkipped counts batch result lines that could not be used.
func AddResultsSkipped(n int) {
	if n <= 0 {
		return
	}
	resultsSkippedTotal.Add(uint64(n))
}

// IncJobsResumed counts jobs re-armed after a restart.
func IncJobsResumed() {
	jobsResumedTotal.Add(1)
}

// IncQueueReceived counts job messages taken off the queue.
func IncQueueReceived() {
	queueReceivedTotal.Add(1)
}

// IncQueueDropped counts messages deleted because they can never be processed.
func IncQueueDropped() {
	queueDroppedTotal.Add(1)
}

// IncQueueRedeliveries counts messages left for redelivery after a start error.
func IncQueueRedeliveries() {
	queueRedeliveriesTotal.Add(1)
}

// ObserveJobDurationMs records a job duration in milliseconds.
func ObserveJobDurationMs(value float64) {
	if value < 0 {
		value = 0
	}
	jobDuration.Observe(value)
}

// Handler exposes metrics in Prometheus text format.
func Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/plain; version=0.0.4")
		c.String(http.StatusOK, Render())
	}
}

// Render renders metrics in Prometheus text format.
func Render() string {
	var buf bytes.Buffer
	writeCounter(&buf, "translation_jobs_started_total", "Total translation jobs started", jobsStartedTotal.Load())
	writeCounter(&buf, "translation_jobs_completed_total", "Total translation jobs completed", jobsCompletedTotal.Load())
	writeCounter(&buf, "translation_jobs_failed_total", "Total translation jobs failed", jobsFailedTotal.Load())
	writeCounter(&buf, "translation_jobs_resumed_total", "Total translation jobs resumed after restart", jobsResumedTotal.Load())
	writeCounter(&buf, "batch_polls_total", "Total batch status polls", batchPollsTotal.Load())
	writeCounter(&buf, "batch_poll_errors_total", "Total batch status polls that failed", batchPollErrorsTotal.Load())
	writeCounter(&buf, "batch_results_skipped_total", "Total batch result lines skipped", resultsSkippedTotal.Load())
	writeCounter(&buf, "direct_fallbacks_total", "Total jobs that fell back to direct translation", directFallbacksTotal.Load())
	writeCounter(&buf, "queue_messages_received_total", "Total job messages received", queueReceivedTotal.Load())
	writeCounter(&buf, "queue_messages_dropped_total", "Total unprocessable job messages deleted", queueDroppedTotal.Load())
	writeCounter(&buf, "queue_messages_redelivered_total", "Total job messages left for redelivery", queueRedeliveriesTotal.Load())
	writeHistogram(&buf, "translation_job_duration_ms", "Translation job duration in milliseconds", jobDuration.Snapshot())
	return buf.String()
}

type histogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type histogramSnapshot struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram(buckets []float64) *histogram {
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

func (h *histogram) Observe(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += value
	for i, bound := range h.buckets {
		if value <= bound {
			h.counts[i]++
		}
	}
}

func (h *histogram) Snapshot() histogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := histogramSnapshot{
		buckets: append([]float64(nil), h.buckets...),
		counts:  append([]uint64(nil), h.counts...),
		sum:     h.sum,
		count:   h.count,
	}
	return out
}

func writeCounter(buf *bytes.Buffer, name, help string, value uint64) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s counter\n", name)
	fmt.Fprintf(buf, "%s %d\n", name, value)
}

func writeHistogram(buf *bytes.Buffer, name, help string, snap histogramSnapshot) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s histogram\n", name)
	for i, bound := range snap.buckets {
		fmt.Fprintf(buf, "%s_bucket{le=\"%s\"} %d\n", name, formatFloat(bound), snap.counts[i])
	}
	fmt.Fprintf(buf, "%s_bucket{le=\"+Inf\"} %d\n", name, snap.count)
	fmt.Fprintf(buf, "%s_sum %s\n", name, formatFloat(snap.sum))
	fmt.Fprintf(buf, "%s_count %d\n", name, snap.count)
}

func formatFloat(value float64) string {
	if value == float64(int64(value)) {
		return strconv.FormatInt(int64(value), 10)
	}
	return strconv.FormatFloat(value, 'f', -1, 64)
}
