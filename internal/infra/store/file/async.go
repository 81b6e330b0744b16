package filestore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/you-humble/degreegen/internal/infra/store/file/replicator"

	"golang.org/x/sync/errgroup"
)

type FileStore interface {
	Save(ctx context.Context, reader io.Reader, filename string, size int64) (int64, string, error)
	Open(ctx context.Context, filename string) (io.ReadCloser, int64, error)
	Delete(ctx context.Context, filename string) error
	CleanupOlderThan(ctx context.Context, maxAge time.Duration) error
}

// asyncStore keeps archives on local disk and mirrors each one to the
// remote store in the background. Downloads fall back to the remote copy;
// deleting an archive removes both copies.
type asyncStore struct {
	local      FileStore
	remote     FileStore
	replicator *replicator.Replicator
}

func NewAsyncStore(
	ctx context.Context,
	local FileStore,
	remote FileStore,
	queueSize,
	workerNum,
	maxRetries int,
) *asyncStore {
	repl := replicator.NewReplicator(local, remote, queueSize, workerNum, maxRetries, IsNotFound)
	repl.Start(ctx)

	return &asyncStore{
		local:      local,
		remote:     remote,
		replicator: repl,
	}
}

func (s *asyncStore) Close(ctx context.Context) error {
	return s.replicator.Stop(ctx)
}

func (s *asyncStore) Save(
	ctx context.Context,
	reader io.Reader,
	filename string,
	size int64,
) (int64, string, error) {
	written, hash, err := s.local.Save(ctx, reader, filename, size)
	if err != nil {
		return 0, "", err
	}

	if !s.replicator.Enqueue(replicator.Job{Archive: filename, Size: written, Hash: hash}) {
		slog.Error("asyncStore: mirror queue full, archive kept only locally",
			slog.String("archive", filename),
			slog.Int64("size", written),
		)
	}

	return written, hash, nil
}

func (s *asyncStore) Open(ctx context.Context, filename string) (io.ReadCloser, int64, error) {
	rc, size, err := s.local.Open(ctx, filename)
	if err == nil {
		return rc, size, nil
	}
	if !IsNotFound(err) {
		return nil, 0, err
	}

	slog.Debug("asyncStore: serving archive from remote", slog.String("archive", filename))
	return s.remote.Open(ctx, filename)
}

// Delete removes the local archive before the remote one, so a mirror
// upload still in flight sees it gone and withdraws its copy. A copy that
// does not exist is not an error.
func (s *asyncStore) Delete(ctx context.Context, filename string) error {
	var firstErr error

	if err := s.local.Delete(ctx, filename); err != nil && !IsNotFound(err) {
		firstErr = err
		slog.Warn("asyncStore: delete local failed",
			slog.String("archive", filename),
			slog.String("error", err.Error()),
		)
	}

	if err := s.remote.Delete(ctx, filename); err != nil && !IsNotFound(err) {
		if firstErr == nil {
			firstErr = err
		}
		slog.Warn("asyncStore: delete remote failed",
			slog.String("archive", filename),
			slog.String("error", err.Error()),
		)
	}

	return firstErr
}

func (s *asyncStore) CleanupOlderThan(ctx context.Context, maxAge time.Duration) error {
	eg, eCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		return s.local.CleanupOlderThan(eCtx, maxAge)
	})
	eg.Go(func() error {
		return s.remote.CleanupOlderThan(eCtx, maxAge)
	})

	return eg.Wait()
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrFileNotFound)
}
