package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/you-humble/degreegen/internal/domain"
)

type TaskStore interface {
	ExpiredTasks(ctx context.Context, now time.Time) []domain.Task
	DeleteExpired(ctx context.Context, now time.Time, ttl time.Duration) int
}

type FileCleaner interface {
	Delete(ctx context.Context, filename string) error
	CleanupOlderThan(ctx context.Context, maxAge time.Duration) error
}

type Cleaner struct {
	interval    time.Duration
	taskTTL     time.Duration
	taskStore   TaskStore
	fileCleaner FileCleaner
}

func NewCleaner(interval, taskTTL time.Duration, taskStore TaskStore, fileCleaner FileCleaner) *Cleaner {
	return &Cleaner{
		interval:    interval,
		taskTTL:     taskTTL,
		taskStore:   taskStore,
		fileCleaner: fileCleaner,
	}
}

func (c *Cleaner) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				c.Sweep(ctx, now)
			}
		}
	}()
}

// Sweep expires overdue tasks and deletes their archives, then forgets
// tasks and files older than twice the task TTL.
func (c *Cleaner) Sweep(ctx context.Context, now time.Time) {
	expired := c.taskStore.ExpiredTasks(ctx, now)
	if len(expired) > 0 {
		slog.Info("cleanup", slog.Int("count_of_expired_tasks", len(expired)))
	}

	for _, task := range expired {
		if task.ArchiveName == "" {
			continue
		}
		if err := c.fileCleaner.Delete(ctx, task.ArchiveName); err != nil {
			slog.Warn("cleanup archive",
				slog.String("task_id", task.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if n := c.taskStore.DeleteExpired(ctx, now, 2*c.taskTTL); n > 0 {
		slog.Info("cleanup tasks", slog.Int("deleted_tasks", n))
	}

	if err := c.fileCleaner.CleanupOlderThan(ctx, 2*c.taskTTL); err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("cleanup old files", slog.String("error", err.Error()))
	}
}
