// Package watch turns raw exports dropped into the inbox into BUILD jobs.
package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"lks_builder/backfill"
	"lks_builder/internal/config"
	"lks_builder/internal/jobs"
	"lks_builder/internal/store"
	"lks_builder/metrics"
)

// DefaultSettle is how long a file must stay quiet before it is queued.
const DefaultSettle = 500 * time.Millisecond

// Enqueuer is the part of jobs.Runner the watcher needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, sourceID string, stage jobs.Stage, params map[string]any) (*store.Job, error)
}

// Watcher monitors the inbox for raw exports and enqueues BUILD jobs.
type Watcher struct {
	cfg     config.Config
	runner  Enqueuer
	store   *store.Store
	metrics *metrics.Metrics
	logger  *zap.Logger
	Settle  time.Duration

	mu      sync.Mutex
	pending map[string]*time.Timer
	last    *backfill.Summary
	wg      sync.WaitGroup
}

func New(cfg config.Config, runner Enqueuer, st *store.Store, m *metrics.Metrics, logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		cfg:     cfg,
		runner:  runner,
		store:   st,
		metrics: m,
		logger:  logger.Named("watch"),
		Settle:  DefaultSettle,
		pending: make(map[string]*time.Timer),
	}
}

// IsRawExport reports whether path looks like a raw export the builder accepts.
func IsRawExport(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, "~$") || strings.HasPrefix(base, ".") {
		return false
	}
	switch strings.ToLower(filepath.Ext(base)) {
	case ".xlsx", ".xlsm", ".csv":
		return true
	default:
		return false
	}
}

func (w *Watcher) Start(ctx context.Context) error {
	if !w.cfg.EnableWatcher {
		w.logger.Info("watcher disabled")
		return nil
	}
	if err := os.MkdirAll(w.cfg.InboxDir, 0o755); err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(w.cfg.InboxDir); err != nil {
		_ = watcher.Close()
		return err
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				w.cancelPending()
				return
			case evt, ok := <-watcher.Events:
				if !ok {
					return
				}
				if evt.Op&(fsnotify.Create|fsnotify.Rename|fsnotify.Write) == 0 {
					continue
				}
				if !IsRawExport(evt.Name) {
					if evt.Op&fsnotify.Create != 0 {
						w.logger.Debug("ignoring non-export file", zap.String("path", evt.Name))
						w.metrics.RecordDiscard()
					}
					continue
				}
				w.schedule(ctx, evt.Name)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				w.logger.Warn("watcher error", zap.Error(err))
			}
		}
	}()
	w.logger.Info("watching inbox", zap.String("dir", w.cfg.InboxDir))
	return nil
}

// Wait blocks until the watch loop has exited after its context ended.
func (w *Watcher) Wait() { w.wg.Wait() }

// schedule debounces bursts of events for one path into a single enqueue.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Reset(w.Settle)
		return
	}
	w.pending[path] = time.AfterFunc(w.Settle, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		if _, err := w.enqueue(ctx, path); err != nil {
			w.logger.Warn("enqueue failed", zap.String("path", path), zap.Error(err))
		}
	})
}

func (w *Watcher) cancelPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
}

// enqueue registers the source and queues a BUILD keyed on its modification
// time, so a replaced file of the same name is built again.
func (w *Watcher) enqueue(ctx context.Context, path string) (*store.Job, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() || info.Size() == 0 {
		return nil, nil
	}
	sourceID := filepath.Base(path)
	if w.store != nil {
		existing, err := w.store.GetSource(ctx, sourceID)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			if err := w.store.UpsertSource(ctx, sourceID, path, string(jobs.StageBuild), store.SourcePending, nil, config.Now()); err != nil {
				return nil, err
			}
		}
	}
	params := map[string]any{"path": path, "mtime": info.ModTime().Unix()}
	job, err := w.runner.Enqueue(ctx, sourceID, jobs.StageBuild, params)
	if err != nil {
		return job, err
	}
	w.logger.Info("queued build", zap.String("source", sourceID), zap.Int64("job_id", job.ID))
	return job, nil
}

// ListCandidates lists raw exports in the inbox with their recorded status.
func (w *Watcher) ListCandidates(ctx context.Context) ([]backfill.Record, error) {
	entries, err := os.ReadDir(w.cfg.InboxDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	records := make([]backfill.Record, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !IsRawExport(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		rec := backfill.Record{
			Filename:  e.Name(),
			Path:      filepath.Join(w.cfg.InboxDir, e.Name()),
			ModTime:   info.ModTime(),
			SizeBytes: info.Size(),
			Status:    backfill.StatusPending,
		}
		if w.store != nil {
			src, err := w.store.GetSource(ctx, e.Name())
			if err != nil {
				return nil, err
			}
			if src != nil {
				rec.Status = src.Status
				rec.UpdatedAt = src.UpdatedAt
				// A file replaced after its last build needs another one.
				if src.Status == store.SourceDone && info.ModTime().After(src.UpdatedAt) {
					rec.Status = backfill.StatusPending
				}
			}
		}
		records = append(records, rec)
	}
	return records, nil
}

// QueueRecord enqueues a BUILD for one backfill candidate.
func (w *Watcher) QueueRecord(ctx context.Context, rec backfill.Record) (backfill.EnqueueResult, error) {
	job, err := w.enqueue(ctx, rec.Path)
	if errors.Is(err, jobs.ErrQueueFull) {
		return backfill.EnqueueResult{DroppedFull: true}, nil
	}
	if err != nil {
		return backfill.EnqueueResult{}, err
	}
	return backfill.EnqueueResult{Enqueued: job != nil}, nil
}

// OnBackfillComplete keeps the most recent summary for the ops API.
func (w *Watcher) OnBackfillComplete(summary backfill.Summary) {
	w.mu.Lock()
	w.last = &summary
	w.mu.Unlock()
}

// LastBackfill returns the summary of the latest backfill, if any.
func (w *Watcher) LastBackfill() *backfill.Summary {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.last == nil {
		return nil
	}
	s := *w.last
	return &s
}

// Backfill enqueues builds for inbox files that were never built successfully.
func (w *Watcher) Backfill(ctx context.Context, limit int) (backfill.Summary, error) {
	if limit <= 0 {
		limit = w.cfg.BackfillLimit
	}
	return backfill.Execute(ctx, w, limit, w.logger)
}
