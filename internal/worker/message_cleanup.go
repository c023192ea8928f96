package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/joaopba/hcc-med-pay-flow-sub001/internal/repository"
	"github.com/joaopba/hcc-med-pay-flow-sub001/pkg/logger"
)

// MessageCleanupWorker prunes delivered queue records and returns records
// stuck in_flight to pending after a crash mid-send.
type MessageCleanupWorker struct {
	repo            repository.MessageRepository
	retention       time.Duration
	staleAfter      time.Duration
	cleanupInterval time.Duration
	logger          *logger.Logger
	now             func() time.Time
}

func NewMessageCleanupWorker(repo repository.MessageRepository, retention, staleAfter, cleanupInterval time.Duration, log *logger.Logger) *MessageCleanupWorker {
	if log == nil {
		log = logger.NewNop()
	}
	return &MessageCleanupWorker{
		repo:            repo,
		retention:       retention,
		staleAfter:      staleAfter,
		cleanupInterval: cleanupInterval,
		logger:          log,
		now:             time.Now,
	}
}

func (w *MessageCleanupWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Cleanup(ctx); err != nil {
				// Log error but continue
				w.logger.Error(err, "Error cleaning up outbound messages")
			}
		}
	}
}

func (w *MessageCleanupWorker) Cleanup(ctx context.Context) error {
	now := w.now()

	if w.staleAfter > 0 {
		reclaimed, err := w.repo.ReclaimStale(ctx, now.Add(-w.staleAfter))
		if err != nil {
			return fmt.Errorf("failed to reclaim stale messages: %w", err)
		}
		if reclaimed > 0 {
			w.logger.Warn("Returned stale in-flight messages to pending", "count", reclaimed)
		}
	}

	if w.retention <= 0 {
		return nil
	}
	cutoff := now.Add(-w.retention)
	rows, err := w.repo.DeleteSentBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to cleanup sent messages: %w", err)
	}

	w.logger.Info("Cleaned up sent messages", "count", rows, "cutoff", cutoff.Format(time.RFC3339))
	return nil
}
