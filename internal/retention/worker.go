package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Purger deletes documents whose expiry has passed.
type Purger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// Worker periodically removes expired documents from a store that does not
// expire records on its own.
type Worker struct {
	store  Purger
	poll   time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// NewWorker creates a Worker. If pollInterval is <= 0, it defaults to 10 minutes.
func NewWorker(store Purger, pollInterval time.Duration, logger *slog.Logger) *Worker {
	if pollInterval <= 0 {
		pollInterval = 10 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		store:  store,
		poll:   pollInterval,
		now:    time.Now,
		logger: logger,
	}
}

// Run purges once immediately and then every poll interval until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	for {
		if _, err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error("retention sweep failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single sweep and returns the number of removed documents.
func (w *Worker) RunOnce(ctx context.Context) (int64, error) {
	n, err := w.store.PurgeExpired(ctx, w.now())
	if err != nil {
		return 0, fmt.Errorf("purging expired documents: %w", err)
	}
	if n > 0 {
		w.logger.Info("expired documents removed", "count", n)
	}
	return n, nil
}
