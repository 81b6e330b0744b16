package runner

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/you-humble/degreegen/internal/domain"
)

// Local runs jobs in-process on a fixed number of workers fed by a
// bounded queue.
type Local struct {
	claimer Claimer
	exec    Executor

	queue     chan domain.Job
	workerNum int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	started bool
	closed  bool
}

func NewLocal(claimer Claimer, exec Executor, queueSize, workerNum int) *Local {
	if queueSize <= 0 {
		queueSize = 16
	}
	if workerNum <= 0 {
		workerNum = 1
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Local{
		claimer:   claimer,
		exec:      exec,
		queue:     make(chan domain.Job, queueSize),
		workerNum: workerNum,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Run starts the workers. Jobs accepted before Run wait in the queue.
func (l *Local) Run(ctx context.Context) {
	l.mu.Lock()
	if l.closed || l.started {
		l.mu.Unlock()
		return
	}
	l.started = true
	l.cancel()
	l.ctx, l.cancel = context.WithCancel(ctx)
	l.mu.Unlock()

	l.wg.Add(l.workerNum)
	for i := range l.workerNum {
		go l.worker(i)
	}

	slog.Info("local runner is running", slog.Int("workers", l.workerNum))
}

// Start never blocks.
func (l *Local) Start(_ context.Context, job domain.Job) error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		return ErrStopped
	}

	select {
	case l.queue <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop lets the workers finish the queued jobs. When ctx ends first the
// in-flight runs are cancelled and the jobs still queued are aborted.
func (l *Local) Stop(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.queue)
	l.mu.Unlock()

	doneCh := make(chan struct{})
	go func() {
		defer close(doneCh)
		l.wg.Wait()
	}()

	select {
	case <-ctx.Done():
		l.cancel()
		<-doneCh
		return ctx.Err()
	case <-doneCh:
	}

	l.cancel()
	slog.Info("local runner stopped")
	return nil
}

func (l *Local) worker(id int) {
	defer l.wg.Done()

	for job := range l.queue {
		if l.ctx.Err() != nil {
			l.drop(job)
			continue
		}
		l.handle(id, job)
	}
}

func (l *Local) drop(job domain.Job) {
	slog.Warn("runner: dropping job after cancel", slog.String("task_id", job.TaskID))
	l.exec.Abort(context.WithoutCancel(l.ctx), job.TaskID, ErrStopped)
}

func (l *Local) handle(workerID int, job domain.Job) {
	err := Process(l.ctx, l.claimer, l.exec, job)
	switch {
	case err == nil:
	case errors.Is(err, ErrClaim) && l.ctx.Err() != nil:
		l.drop(job)
	case errors.Is(err, ErrNotClaimed):
		slog.Warn("runner: task skipped, not pending",
			slog.Int("worker", workerID),
			slog.String("task_id", job.TaskID),
		)
	default:
		slog.Error("runner: task failed",
			slog.Int("worker", workerID),
			slog.String("task_id", job.TaskID),
			slog.String("error", err.Error()),
		)
	}
}
