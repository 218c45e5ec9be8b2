package background

import (
	"context"
	"log/slog"
	"time"
)

// TokenPurger is implemented by repositories whose rows age out.
type TokenPurger interface {
	PurgeStale(ctx context.Context, retention time.Duration) (int64, error)
}

// CleanupManager periodically purges stale emailed tokens. Consumed and
// expired rows are kept for a retention window first so support can
// answer "what happened to my link" questions.
type CleanupManager struct {
	purgers   map[string]TokenPurger
	logger    *slog.Logger
	interval  time.Duration
	retention time.Duration
	stopCh    chan struct{}
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(magicLinks, passwordResets TokenPurger, logger *slog.Logger, interval, retention time.Duration) *CleanupManager {
	return &CleanupManager{
		purgers: map[string]TokenPurger{
			"email_magic_links": magicLinks,
			"password_resets":   passwordResets,
		},
		logger:    logger,
		interval:  interval,
		retention: retention,
		stopCh:    make(chan struct{}),
	}
}

// Start begins the periodic cleanup task
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.runCleanup(ctx)

	for {
		select {
		case <-ticker.C:
			cm.runCleanup(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

func (cm *CleanupManager) runCleanup(ctx context.Context) {
	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	for table, purger := range cm.purgers {
		rowsDeleted, err := purger.PurgeStale(cleanupCtx, cm.retention)
		if err != nil {
			cm.logger.Error("failed to purge stale tokens",
				slog.String("table", table), slog.Any("error", err))
			continue
		}
		if rowsDeleted > 0 {
			cm.logger.Info("stale token purge completed",
				slog.String("table", table), slog.Int64("rows_deleted", rowsDeleted))
		}
	}
}

// Stop signals the cleanup manager to stop
func (cm *CleanupManager) Stop() {
	close(cm.stopCh)
}
