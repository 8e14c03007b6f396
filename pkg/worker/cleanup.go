package worker

import (
	"context"
	"time"

	"github.com/jwalitptl/medaccess-api/internal/repository"
	"github.com/jwalitptl/medaccess-api/pkg/logger"
)

// ChangeCleanupWorker deletes published document changes once they are
// older than the retention window.
type ChangeCleanupWorker struct {
	repo      repository.OutboxRepository
	retention time.Duration
	interval  time.Duration
	logger    *logger.Logger
	now       func() time.Time
}

func NewChangeCleanupWorker(repo repository.OutboxRepository, retention, interval time.Duration, log *logger.Logger) *ChangeCleanupWorker {
	return &ChangeCleanupWorker{
		repo:      repo,
		retention: retention,
		interval:  interval,
		logger:    log,
		now:       time.Now,
	}
}

func (w *ChangeCleanupWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Cleanup(ctx)
		}
	}
}

func (w *ChangeCleanupWorker) Cleanup(ctx context.Context) {
	cutoff := w.now().Add(-w.retention)
	rows, err := w.repo.DeleteProcessedBefore(ctx, cutoff)
	if err != nil {
		w.logger.Error(err, "Failed to clean up document changes")
		return
	}
	if rows > 0 {
		w.logger.Info("Cleaned up document changes", "rows", rows, "cutoff", cutoff)
	}
}
