// Package replicator mirrors finished certificate archives to the remote
// store in the background, so a download still succeeds after the local
// copy is lost. An archive removed locally while it is being mirrored is
// withdrawn from the remote store as well.
package replicator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const retryBackoff = 200 * time.Millisecond

var errWithdrawn = errors.New("archive removed during upload")

type Storage interface {
	Save(ctx context.Context, reader io.Reader, filename string, size int64) (int64, string, error)
	Open(ctx context.Context, filename string) (io.ReadCloser, int64, error)
	Delete(ctx context.Context, filename string) error
}

// Job is one archive waiting to be mirrored. Size and Hash come from the
// local write and are checked against the remote copy.
type Job struct {
	Archive string
	Size    int64
	Hash    string
	Attempt int
}

// Stats counts archive outcomes since the replicator started.
type Stats struct {
	Mirrored  int64
	Withdrawn int64
	Failed    int64
}

type Replicator struct {
	local  Storage
	remote Storage

	// isGone reports errors meaning the local archive no longer exists.
	isGone func(error) bool

	queue      chan Job
	workerNum  int
	maxRetries int

	mirrored  atomic.Int64
	withdrawn atomic.Int64
	failed    atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewReplicator(local, remote Storage, queueSize, workerNum, maxRetries int, isGone func(error) bool) *Replicator {
	if queueSize <= 0 {
		queueSize = 100
	}
	if workerNum <= 0 {
		workerNum = 1
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	if isGone == nil {
		isGone = func(error) bool { return false }
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Replicator{
		local:      local,
		remote:     remote,
		isGone:     isGone,
		queue:      make(chan Job, queueSize),
		workerNum:  workerNum,
		maxRetries: maxRetries,
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (r *Replicator) Start(ctx context.Context) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.cancel()
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.mu.Unlock()

	r.wg.Add(r.workerNum)
	for i := range r.workerNum {
		go r.worker(i)
	}
}

// Stop cancels in-flight uploads and waits for the workers to exit.
func (r *Replicator) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.cancel()
	close(r.queue)
	r.mu.Unlock()

	doneCh := make(chan struct{})
	go func() {
		defer close(doneCh)
		r.wg.Wait()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-doneCh:
	}

	st := r.Stats()
	slog.Info("replicator: stopped",
		slog.Int64("mirrored", st.Mirrored),
		slog.Int64("withdrawn", st.Withdrawn),
		slog.Int64("failed", st.Failed),
	)
	return nil
}

func (r *Replicator) Stats() Stats {
	return Stats{
		Mirrored:  r.mirrored.Load(),
		Withdrawn: r.withdrawn.Load(),
		Failed:    r.failed.Load(),
	}
}

// Enqueue never blocks; it reports false when the queue is full or closed.
func (r *Replicator) Enqueue(job Job) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return false
	}

	select {
	case r.queue <- job:
		return true
	default:
		return false
	}
}

func (r *Replicator) worker(id int) {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case job, ok := <-r.queue:
			if !ok {
				return
			}
			r.handle(id, job)
		}
	}
}

func (r *Replicator) handle(workerID int, job Job) {
	l := slog.With(
		slog.Int("worker", workerID),
		slog.String("archive", job.Archive),
		slog.Int("attempt", job.Attempt),
	)

	err := r.mirror(r.ctx, job)
	switch {
	case err == nil:
		r.mirrored.Add(1)
		return
	case errors.Is(err, errWithdrawn):
		r.withdrawn.Add(1)
		l.Debug("archive deleted locally during upload, remote copy withdrawn")
		return
	case r.isGone(err):
		l.Debug("archive deleted locally before upload")
		return
	case errors.Is(err, context.Canceled):
		return
	case job.Attempt >= r.maxRetries:
		r.failed.Add(1)
		l.Error("archive not mirrored, retries exhausted", slog.String("error", err.Error()))
		return
	}

	job.Attempt++
	delay := time.Duration(job.Attempt) * retryBackoff
	l.Warn("archive mirror failed, retrying",
		slog.String("error", err.Error()),
		slog.Duration("delay", delay),
	)
	time.AfterFunc(delay, func() {
		if !r.Enqueue(job) {
			r.failed.Add(1)
			l.Error("archive not mirrored, queue full or closed")
		}
	})
}

// mirror uploads the local archive, checks the remote copy and withdraws
// it again when the local archive was deleted meanwhile.
func (r *Replicator) mirror(ctx context.Context, job Job) error {
	rc, size, err := r.local.Open(ctx, job.Archive)
	if err != nil {
		return fmt.Errorf("open local archive: %w", err)
	}
	defer rc.Close()

	if job.Size > 0 {
		size = job.Size
	}

	written, remoteHash, err := r.remote.Save(ctx, rc, job.Archive, size)
	if err != nil {
		return fmt.Errorf("upload archive: %w", err)
	}
	if written != size {
		return fmt.Errorf("upload archive: wrote %d of %d bytes", written, size)
	}
	if job.Hash != "" && remoteHash != "" && job.Hash != remoteHash {
		return fmt.Errorf("upload archive: hash mismatch local=%s remote=%s", job.Hash, remoteHash)
	}

	if err := r.stillLocal(ctx, job.Archive); err != nil {
		if !r.isGone(err) {
			return err
		}
		if err := r.remote.Delete(ctx, job.Archive); err != nil && !r.isGone(err) {
			return fmt.Errorf("withdraw remote archive: %w", err)
		}
		return errWithdrawn
	}

	slog.Debug("replicator: archive mirrored",
		slog.String("archive", job.Archive),
		slog.Int64("size", written),
	)
	return nil
}

func (r *Replicator) stillLocal(ctx context.Context, archive string) error {
	rc, _, err := r.local.Open(ctx, archive)
	if err != nil {
		return fmt.Errorf("recheck local archive: %w", err)
	}
	return rc.Close()
}
