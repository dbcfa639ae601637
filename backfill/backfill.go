// Package backfill picks inbox files that were never built successfully and
// queues them again.
package backfill

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"
)

// Record represents a file and its processing state used for backfill decisions.
type Record struct {
	Filename  string
	Path      string
	ModTime   time.Time
	SizeBytes int64
	Status    string
	UpdatedAt time.Time
}

// Status constants used by selection logic.
const (
	StatusDone    = "done"
	StatusRunning = "running"
	StatusPending = "pending"
	StatusFailed  = "failed"
)

// Summary captures backfill execution metrics.
type Summary struct {
	TotalCandidates     int `json:"total"`
	AlreadyProcessed    int `json:"already_processed"`
	Unprocessed         int `json:"unprocessed"`
	SelectedForBackfill int `json:"selected"`
	AttemptedEnqueue    int `json:"attempted_enqueue"`
	EnqueueSucceeded    int `json:"enqueued"`
	EnqueueDroppedFull  int `json:"dropped_full"`
	EnqueueFailed       int `json:"failed"`
}

// EnqueueResult captures queueing outcome for a record.
type EnqueueResult struct {
	Enqueued    bool
	DroppedFull bool
}

// Repository describes the data source needed for backfill.
type Repository interface {
	ListCandidates(ctx context.Context) ([]Record, error)
	QueueRecord(ctx context.Context, rec Record) (EnqueueResult, error)
	OnBackfillComplete(summary Summary)
}

// SelectPending returns up to limit records sorted by recency that are not fully processed.
// It also reports a summary of the candidate set.
func SelectPending(records []Record, limit int) ([]Record, Summary) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].ModTime.After(records[j].ModTime)
	})

	summary := Summary{TotalCandidates: len(records)}
	unprocessed := make([]Record, 0, len(records))
	for _, r := range records {
		if r.Status == StatusDone {
			summary.AlreadyProcessed++
			continue
		}
		unprocessed = append(unprocessed, r)
	}

	summary.Unprocessed = len(unprocessed)
	if limit >= 0 && limit < summary.Unprocessed {
		unprocessed = unprocessed[:limit]
	}
	summary.SelectedForBackfill = len(unprocessed)
	return unprocessed, summary
}

// Execute lists, selects and queues candidates, then reports the summary to
// the repository.
func Execute(ctx context.Context, repo Repository, limit int, logger *zap.Logger) (Summary, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	records, err := repo.ListCandidates(ctx)
	if err != nil {
		logger.Warn("backfill list failed", zap.Error(err))
		return Summary{}, err
	}

	selected, summary := SelectPending(records, limit)
	for _, rec := range selected {
		if ctx.Err() != nil {
			break
		}
		summary.AttemptedEnqueue++
		result, err := repo.QueueRecord(ctx, rec)
		if err != nil {
			summary.EnqueueFailed++
			logger.Warn("backfill enqueue failed", zap.String("file", rec.Filename), zap.Error(err))
			continue
		}
		if result.Enqueued {
			summary.EnqueueSucceeded++
		}
		if result.DroppedFull {
			summary.EnqueueDroppedFull++
		}
	}

	logger.Info("backfill summary",
		zap.Int("total", summary.TotalCandidates),
		zap.Int("unprocessed", summary.Unprocessed),
		zap.Int("selected", summary.SelectedForBackfill),
		zap.Int("enqueued", summary.EnqueueSucceeded),
		zap.Int("dropped_full", summary.EnqueueDroppedFull),
		zap.Int("already_processed", summary.AlreadyProcessed),
	)
	repo.OnBackfillComplete(summary)
	return summary, ctx.Err()
}

// Run executes the backfill asynchronously.
func Run(ctx context.Context, repo Repository, limit int, logger *zap.Logger) {
	go func() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		_, _ = Execute(ctx, repo, limit, logger)
	}()
}
