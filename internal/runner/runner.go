// Package runner starts pipeline runs in the background. Start returns as
// soon as the job is accepted; the run itself reports through the task
// store and the progress channel.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/you-humble/degreegen/internal/domain"
)

var (
	ErrQueueFull  = fmt.Errorf("runner queue is full: %w", domain.ErrBusy)
	ErrStopped    = errors.New("runner is stopped")
	ErrNotClaimed = errors.New("task already claimed")
	ErrClaim      = errors.New("claim task")
)

// Executor runs a claimed job. Abort marks a job that will not run as
// failed so its task does not stay pending.
type Executor interface {
	Execute(ctx context.Context, job domain.Job) error
	Abort(ctx context.Context, taskID string, reason error)
}

type Claimer interface {
	Claim(ctx context.Context, id string) (bool, error)
}

// Process claims the task and runs the job. A task that is already
// claimed, or no longer pending, is never run a second time.
func Process(ctx context.Context, claimer Claimer, exec Executor, job domain.Job) error {
	claimed, err := claimer.Claim(ctx, job.TaskID)
	if err != nil {
		return fmt.Errorf("%w %s: %w", ErrClaim, job.TaskID, err)
	}
	if !claimed {
		return ErrNotClaimed
	}

	slog.Info("process start",
		slog.String("task_id", job.TaskID),
		slog.Int("records", len(job.Records)),
		slog.String("format", string(job.Format)),
	)
	if err := exec.Execute(ctx, job); err != nil {
		return err
	}
	slog.Info("process done", slog.String("task_id", job.TaskID))
	return nil
}

type Enqueuer interface {
	Enqueue(ctx context.Context, job domain.Job) error
}

// Queued hands jobs to an external queue; workers elsewhere run them.
type Queued struct {
	q Enqueuer
}

func NewQueued(q Enqueuer) *Queued {
	return &Queued{q: q}
}

func (r *Queued) Start(ctx context.Context, job domain.Job) error {
	return r.q.Enqueue(ctx, job)
}
