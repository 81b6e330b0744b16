package progress

import (
	"context"
	"log/slog"

	"github.com/you-humble/degreegen/internal/domain"
)

type TaskStore interface {
	SetProgress(ctx context.Context, id string, progress int) (int, error)
	SetResult(ctx context.Context, id string, archive string) error
	UpdateStatus(ctx context.Context, id string, newStatus domain.TaskStatus, errReason string)
}

type Publisher interface {
	Publish(ctx context.Context, ev domain.Event) error
}

// Tracker records task progress in the task store and publishes it.
// Failures are logged and never interrupt the run.
type Tracker struct {
	store TaskStore
	pub   Publisher
}

func NewTracker(store TaskStore, pub Publisher) *Tracker {
	return &Tracker{store: store, pub: pub}
}

func (t *Tracker) Progress(ctx context.Context, taskID string, progress int) {
	if _, err := t.store.SetProgress(ctx, taskID, progress); err != nil {
		slog.Warn("store progress", slog.String("task_id", taskID), slog.String("error", err.Error()))
	}
	t.publish(ctx, domain.Event{Type: domain.EventProgress, TaskID: taskID, Progress: progress})
}

// Complete and Fail record terminal state even when the run's context
// has already been cancelled.
func (t *Tracker) Complete(ctx context.Context, taskID, archive string) {
	ctx = context.WithoutCancel(ctx)
	if err := t.store.SetResult(ctx, taskID, archive); err != nil {
		slog.Warn("store result", slog.String("task_id", taskID), slog.String("error", err.Error()))
	}
	t.publish(ctx, domain.Event{Type: domain.EventComplete, TaskID: taskID, ZipPath: archive})
}

func (t *Tracker) Fail(ctx context.Context, taskID string, reason error) {
	ctx = context.WithoutCancel(ctx)
	msg := reason.Error()
	t.store.UpdateStatus(ctx, taskID, domain.StatusFailed, msg)
	t.publish(ctx, domain.Event{Type: domain.EventFailed, TaskID: taskID, Error: msg})
	slog.Error("generation failed", slog.String("task_id", taskID), slog.String("error", msg))
}

func (t *Tracker) publish(ctx context.Context, ev domain.Event) {
	if err := t.pub.Publish(ctx, ev); err != nil {
		slog.Warn("publish event",
			slog.String("task_id", ev.TaskID),
			slog.String("event", string(ev.Type)),
			slog.String("error", err.Error()),
		)
	}
}
