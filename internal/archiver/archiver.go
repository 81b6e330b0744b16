// Package archiver packs generated certificates into a single ZIP stored in
// the file store.
package archiver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"github.com/klauspost/compress/zip"
)

type Store interface {
	Save(ctx context.Context, reader io.Reader, filename string, size int64) (int64, string, error)
}

type Archiver struct {
	store Store
	dir   string
}

// New returns an archiver writing archives under dir inside store.
func New(store Store, dir string) *Archiver {
	return &Archiver{store: store, dir: dir}
}

// Name is the store key of the archive for a task.
func (a *Archiver) Name(taskID string) string {
	return path.Join(a.dir, taskID+".zip")
}

// Archive stores a ZIP of the given files, each under its base name. Paths
// that do not exist are skipped with a warning.
func (a *Archiver) Archive(ctx context.Context, taskID string, paths []string) (string, error) {
	name := a.Name(taskID)
	pr, pw := io.Pipe()

	var added int
	done := make(chan struct{})
	go func() {
		defer close(done)
		n, err := writeZip(pw, paths)
		added = n
		_ = pw.CloseWithError(err)
	}()

	written, _, err := a.store.Save(ctx, pr, name, -1)
	_ = pr.CloseWithError(err)
	<-done
	if err != nil {
		return "", fmt.Errorf("store archive %s: %w", name, err)
	}

	slog.Info("archive created",
		slog.String("task_id", taskID),
		slog.String("archive", name),
		slog.Int("entries", added),
		slog.Int("skipped", len(paths)-added),
		slog.Int64("size", written),
	)
	return name, nil
}

func writeZip(w io.Writer, paths []string) (int, error) {
	zw := zip.NewWriter(w)
	added := 0

	for _, p := range paths {
		ok, err := addFile(zw, p)
		if err != nil {
			_ = zw.Close()
			return added, err
		}
		if ok {
			added++
		}
	}

	if err := zw.Close(); err != nil {
		return added, fmt.Errorf("close zip: %w", err)
	}
	return added, nil
}

func addFile(zw *zip.Writer, p string) (bool, error) {
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			slog.Warn("file not found, skipping", slog.String("path", p))
		} else {
			slog.Warn("cannot open file, skipping", slog.String("path", p), slog.String("error", err.Error()))
		}
		return false, nil
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		slog.Warn("not a regular file, skipping", slog.String("path", p))
		return false, nil
	}

	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return false, fmt.Errorf("zip header %s: %w", p, err)
	}
	hdr.Name = filepath.Base(p)
	hdr.Method = zip.Deflate

	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return false, fmt.Errorf("zip entry %s: %w", p, err)
	}
	if _, err := io.Copy(w, f); err != nil {
		return false, fmt.Errorf("zip copy %s: %w", p, err)
	}
	return true, nil
}
