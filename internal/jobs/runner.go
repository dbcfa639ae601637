// Package jobs runs pipeline stages for inbox sources on a bounded queue,
// persisting every job and its log lines.
package jobs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"lks_builder/internal/config"
	"lks_builder/internal/events"
	"lks_builder/internal/store"
	"lks_builder/metrics"
	"lks_builder/queue"
)

// Status values for jobs.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Stage represents pipeline phases.
type Stage string

const (
	StageBuild    Stage = "BUILD"
	StageEnhance  Stage = "ENHANCE"
	StageFixDates Stage = "FIX_DATES"
)

// ParseStage accepts a stage name in any case.
func ParseStage(s string) (Stage, bool) {
	switch Stage(strings.ToUpper(strings.TrimSpace(s))) {
	case StageBuild:
		return StageBuild, true
	case StageEnhance:
		return StageEnhance, true
	case StageFixDates:
		return StageFixDates, true
	}
	return "", false
}

// ErrQueueFull is returned when a job was recorded but could not be queued.
var ErrQueueFull = errors.New("queue full")

const logRingSize = 200

// ExecutionContext bundles dependencies for stage execution.
type ExecutionContext struct {
	Cfg     config.Config
	Store   *store.Store
	Bus     *events.Bus
	Metrics *metrics.Metrics
	Logger  *zap.Logger
	JobID   int64
	Logf    func(msg string)
}

// StageFunc is a stage implementation for one source.
type StageFunc func(ctx context.Context, exec ExecutionContext, sourceID string, params map[string]any) error

// Registry maps stages to implementations.
type Registry map[Stage]StageFunc

// Runner executes jobs on a queue.Queue.
type Runner struct {
	cfg       config.Config
	store     *store.Store
	reg       Registry
	queue     *queue.Queue
	bus       *events.Bus
	metrics   *metrics.Metrics
	logger    *zap.Logger
	logMu     sync.Mutex
	logBuffer map[int64][]string
}

// NewRunner constructs a runner. The queue is owned by the runner once Start
// is called.
func NewRunner(cfg config.Config, st *store.Store, reg Registry, q *queue.Queue, bus *events.Bus, m *metrics.Metrics, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.New()
	}
	return &Runner{
		cfg:       cfg,
		store:     st,
		reg:       reg,
		queue:     q,
		bus:       bus,
		metrics:   m,
		logger:    logger.Named("jobs"),
		logBuffer: make(map[int64][]string),
	}
}

// Start launches the queue workers.
func (r *Runner) Start(ctx context.Context) {
	r.queue.Start(ctx)
	r.syncQueueMetrics()
}

// Stop drains queued jobs until ctx is done.
func (r *Runner) Stop(ctx context.Context) {
	r.queue.Stop(ctx)
}

// QueueStats exposes the underlying queue counters.
func (r *Runner) QueueStats() queue.Stats { return r.queue.Stats() }

// Healthy reports whether the queue accepts work.
func (r *Runner) Healthy() bool { return r.queue.Healthy() }

// Enqueue inserts a job respecting idempotency. A repeat of a failed job is
// queued again under the same row.
func (r *Runner) Enqueue(ctx context.Context, sourceID string, stage Stage, params map[string]any) (*store.Job, error) {
	if _, ok := r.reg[stage]; !ok {
		return nil, fmt.Errorf("unknown stage %q", stage)
	}
	if params == nil {
		params = map[string]any{}
	}
	payload, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}
	now := config.Now()
	job := &store.Job{
		SourceID:       sourceID,
		Stage:          string(stage),
		Status:         StatusQueued,
		ParamsJSON:     string(payload),
		IdempotencyKey: idempotencyKey(sourceID, stage, payload),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	j, err := r.store.InsertJobIdempotent(ctx, job)
	if errors.Is(err, store.ErrConflict) {
		if j.Status != StatusFailed {
			return j, nil
		}
		if err := r.store.UpdateJobStatus(ctx, j.ID, StatusQueued, now); err != nil {
			return nil, err
		}
		j.Status = StatusQueued
	} else if err != nil {
		return nil, err
	}

	r.publishStatus(j, StatusQueued, nil)
	if !r.queue.Enqueue(r.queueJob(j)) {
		r.appendLog(j.ID, "dropped: queue full")
		_ = r.store.MarkJobFinished(ctx, j.ID, StatusFailed, config.Now())
		j.Status = StatusFailed
		r.publishStatus(j, StatusFailed, ErrQueueFull)
		return j, ErrQueueFull
	}
	r.syncQueueMetrics()
	return j, nil
}

func (r *Runner) queueJob(j *store.Job) queue.Job {
	return queue.Job{
		ID:     strconv.FormatInt(j.ID, 10),
		Source: j.SourceID,
		Work: func(ctx context.Context) error {
			return r.execute(ctx, j)
		},
		OnFinish: func(err error) {
			r.metrics.RecordJobCompletion(err)
			r.syncQueueMetrics()
		},
	}
}

func (r *Runner) execute(ctx context.Context, job *store.Job) (err error) {
	stage := Stage(job.Stage)
	fn := r.reg[stage]
	// Stage ctx may already be cancelled on shutdown; bookkeeping still lands.
	bg := context.Background()
	_ = r.store.MarkJobStarted(bg, job.ID, config.Now())
	_ = r.store.UpdateSourceStage(bg, job.SourceID, job.Stage, store.SourceRunning, nil, config.Now())
	r.publishStatus(job, StatusRunning, nil)
	r.appendLog(job.ID, fmt.Sprintf("start %s %s", job.Stage, job.SourceID))

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("stage %s panic: %v", job.Stage, p)
		}
		status, srcStatus := StatusSucceeded, store.SourceDone
		var errMsg *string
		if err != nil {
			status, srcStatus = StatusFailed, store.SourceFailed
			msg := err.Error()
			errMsg = &msg
			r.appendLog(job.ID, "error: "+msg)
			r.logger.Warn("job failed", zap.Int64("job", job.ID), zap.String("stage", job.Stage), zap.String("source", job.SourceID), zap.Error(err))
		} else {
			r.appendLog(job.ID, "done")
		}
		_ = r.store.MarkJobFinished(bg, job.ID, status, config.Now())
		_ = r.store.UpdateSourceStage(bg, job.SourceID, job.Stage, srcStatus, errMsg, config.Now())
		r.publishStatus(job, status, err)
	}()

	params := map[string]any{}
	_ = json.Unmarshal([]byte(job.ParamsJSON), &params)
	exec := ExecutionContext{
		Cfg:     r.cfg,
		Store:   r.store,
		Bus:     r.bus,
		Metrics: r.metrics,
		Logger:  r.logger.With(zap.Int64("job", job.ID), zap.String("source", job.SourceID)),
		JobID:   job.ID,
		Logf:    func(msg string) { r.appendLog(job.ID, msg) },
	}
	return fn(ctx, exec, job.SourceID, params)
}

func (r *Runner) publishStatus(j *store.Job, status string, err error) {
	ev := events.JobStatus{JobID: j.ID, SourceID: j.SourceID, Stage: j.Stage, Status: status}
	if err != nil {
		ev.Error = err.Error()
	}
	r.bus.Publish(ev)
}

func (r *Runner) syncQueueMetrics() {
	s := r.queue.Stats()
	r.metrics.UpdateQueue(s.Length, s.Capacity, s.WorkerCount)
}

func (r *Runner) appendLog(jobID int64, msg string) {
	r.logMu.Lock()
	defer r.logMu.Unlock()
	ts := config.Now()
	_ = r.store.AppendJobLog(context.Background(), jobID, msg, ts)
	r.logBuffer[jobID] = append(r.logBuffer[jobID], fmt.Sprintf("%s %s", ts.Format(time.RFC3339), msg))
	if len(r.logBuffer[jobID]) > logRingSize {
		r.logBuffer[jobID] = r.logBuffer[jobID][len(r.logBuffer[jobID])-logRingSize:]
	}
}

// Logs returns in-memory log buffer for SSE streaming.
func (r *Runner) Logs(jobID int64) []string {
	r.logMu.Lock()
	defer r.logMu.Unlock()
	return append([]string(nil), r.logBuffer[jobID]...)
}

func idempotencyKey(sourceID string, stage Stage, payload []byte) string {
	h := sha256.Sum256([]byte(sourceID + string(stage) + string(payload)))
	return hex.EncodeToString(h[:])
}
