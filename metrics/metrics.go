package metrics

import "sync/atomic"

// Metrics captures shared operational stats for the queue, workers and runs.
// Recorders are no-ops on a nil *Metrics.
type Metrics struct {
	queueLength   int64
	queueCapacity int64
	workerCount   int64

	processedJobs int64
	failedJobs    int64

	claimsWritten  int64
	defectiveSOs   int64
	ocrRequests    int64
	ocrFailures    int64
	filesDiscarded int64
}

// Snapshot provides a consistent view of the current metrics.
type Snapshot struct {
	QueueLength    int   `json:"queue_length"`
	QueueCapacity  int   `json:"queue_capacity"`
	WorkerCount    int   `json:"worker_count"`
	ProcessedJobs  int64 `json:"processed_jobs"`
	FailedJobs     int64 `json:"failed_jobs"`
	ClaimsWritten  int64 `json:"claims_written"`
	DefectiveSOs   int64 `json:"defective_sos"`
	OCRRequests    int64 `json:"ocr_requests"`
	OCRFailures    int64 `json:"ocr_failures"`
	FilesDiscarded int64 `json:"files_discarded"`
}

// New creates a zeroed Metrics instance.
func New() *Metrics {
	return &Metrics{}
}

// UpdateQueue records the current queue stats.
func (m *Metrics) UpdateQueue(length, capacity, workers int) {
	if m == nil {
		return
	}
	atomic.StoreInt64(&m.queueLength, int64(length))
	atomic.StoreInt64(&m.queueCapacity, int64(capacity))
	atomic.StoreInt64(&m.workerCount, int64(workers))
}

// RecordJobCompletion increments processed/failed counters based on outcome.
func (m *Metrics) RecordJobCompletion(err error) {
	if m == nil {
		return
	}
	atomic.AddInt64(&m.processedJobs, 1)
	if err != nil {
		atomic.AddInt64(&m.failedJobs, 1)
	}
}

// RecordRun adds the rows written and SOs flagged by one build.
func (m *Metrics) RecordRun(newRows, defective int) {
	if m == nil {
		return
	}
	atomic.AddInt64(&m.claimsWritten, int64(newRows))
	atomic.AddInt64(&m.defectiveSOs, int64(defective))
}

// RecordOCR counts one vision request.
func (m *Metrics) RecordOCR(err error) {
	if m == nil {
		return
	}
	atomic.AddInt64(&m.ocrRequests, 1)
	if err != nil {
		atomic.AddInt64(&m.ocrFailures, 1)
	}
}

// RecordDiscard counts an inbox file the watcher ignored.
func (m *Metrics) RecordDiscard() {
	if m == nil {
		return
	}
	atomic.AddInt64(&m.filesDiscarded, 1)
}

// Snapshot returns a read-only view of metrics.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		QueueLength:    int(atomic.LoadInt64(&m.queueLength)),
		QueueCapacity:  int(atomic.LoadInt64(&m.queueCapacity)),
		WorkerCount:    int(atomic.LoadInt64(&m.workerCount)),
		ProcessedJobs:  atomic.LoadInt64(&m.processedJobs),
		FailedJobs:     atomic.LoadInt64(&m.failedJobs),
		ClaimsWritten:  atomic.LoadInt64(&m.claimsWritten),
		DefectiveSOs:   atomic.LoadInt64(&m.defectiveSOs),
		OCRRequests:    atomic.LoadInt64(&m.ocrRequests),
		OCRFailures:    atomic.LoadInt64(&m.ocrFailures),
		FilesDiscarded: atomic.LoadInt64(&m.filesDiscarded),
	}
}
