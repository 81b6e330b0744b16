package filestore

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
)

func newLocal(c *qt.C) *localStore {
	s, err := NewLocalStore(filepath.Join(c.TempDir(), "store"))
	c.Assert(err, qt.IsNil)
	return s
}

func readAll(c *qt.C, rc io.ReadCloser) string {
	defer rc.Close()
	data, err := io.ReadAll(rc)
	c.Assert(err, qt.IsNil)
	return string(data)
}

func TestLocalStoreRoundTrip(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	s := newLocal(c)

	n, hash, err := s.Save(ctx, strings.NewReader("hello"), "archives/a.zip", -1)
	c.Assert(err, qt.IsNil)
	c.Check(n, qt.Equals, int64(5))
	c.Check(hash, qt.Equals, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824")

	rc, size, err := s.Open(ctx, "archives/a.zip")
	c.Assert(err, qt.IsNil)
	c.Check(size, qt.Equals, int64(5))
	c.Check(readAll(c, rc), qt.Equals, "hello")

	entries, err := os.ReadDir(filepath.Join(s.baseDir, "archives"))
	c.Assert(err, qt.IsNil)
	c.Check(entries, qt.HasLen, 1, qt.Commentf("temp file left behind"))

	c.Assert(s.Delete(ctx, "archives/a.zip"), qt.IsNil)
	_, _, err = s.Open(ctx, "archives/a.zip")
	c.Check(err, qt.ErrorIs, ErrFileNotFound)
	c.Check(s.Delete(ctx, "archives/a.zip"), qt.ErrorIs, ErrFileNotFound)
}

func TestLocalStoreRejectsEscapes(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	s := newLocal(c)

	for _, name := range []string{"", "  ", "../x", "/etc/passwd", "a/../../x"} {
		_, _, err := s.Save(ctx, strings.NewReader("x"), name, 1)
		c.Check(err, qt.Not(qt.IsNil), qt.Commentf("name %q", name))
	}
}

func TestLocalStoreCleanupOlderThan(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	s := newLocal(c)

	_, _, err := s.Save(ctx, strings.NewReader("old"), "old.zip", 3)
	c.Assert(err, qt.IsNil)
	_, _, err = s.Save(ctx, strings.NewReader("new"), "new.zip", 3)
	c.Assert(err, qt.IsNil)

	past := time.Now().Add(-2 * time.Hour)
	c.Assert(os.Chtimes(filepath.Join(s.baseDir, "old.zip"), past, past), qt.IsNil)

	c.Assert(s.CleanupOlderThan(ctx, time.Hour), qt.IsNil)

	_, _, err = s.Open(ctx, "old.zip")
	c.Check(err, qt.ErrorIs, ErrFileNotFound)
	rc, _, err := s.Open(ctx, "new.zip")
	c.Assert(err, qt.IsNil)
	c.Check(readAll(c, rc), qt.Equals, "new")
}

func TestAsyncStoreReplicatesAndFallsBack(t *testing.T) {
	c := qt.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	local, remote := newLocal(c), newLocal(c)
	s := NewAsyncStore(ctx, local, remote, 8, 2, 1)
	defer s.Close(context.Background())

	_, _, err := s.Save(ctx, strings.NewReader("zipdata"), "t1.zip", 7)
	c.Assert(err, qt.IsNil)

	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := os.Stat(filepath.Join(remote.baseDir, "t1.zip")); err == nil {
			break
		}
		if time.Now().After(deadline) {
			c.Fatal("file was not replicated")
		}
		time.Sleep(10 * time.Millisecond)
	}

	c.Assert(local.Delete(ctx, "t1.zip"), qt.IsNil)
	rc, size, err := s.Open(ctx, "t1.zip")
	c.Assert(err, qt.IsNil)
	c.Check(size, qt.Equals, int64(7))
	c.Check(readAll(c, rc), qt.Equals, "zipdata")

	c.Assert(s.Delete(ctx, "t1.zip"), qt.IsNil)
	_, _, err = s.Open(ctx, "t1.zip")
	c.Check(IsNotFound(err), qt.IsTrue)
}

// gatedStore holds every upload until release is closed.
type gatedStore struct {
	*localStore
	started chan struct{}
	release chan struct{}
}

func (g *gatedStore) Save(ctx context.Context, r io.Reader, filename string, size int64) (int64, string, error) {
	close(g.started)
	<-g.release
	return g.localStore.Save(ctx, r, filename, size)
}

func TestAsyncStoreDeleteDuringUploadWithdrawsRemote(t *testing.T) {
	c := qt.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	local := newLocal(c)
	remote := &gatedStore{localStore: newLocal(c), started: make(chan struct{}), release: make(chan struct{})}
	s := NewAsyncStore(ctx, local, remote, 8, 1, 0)
	defer s.Close(context.Background())

	_, _, err := s.Save(ctx, strings.NewReader("zipdata"), "t2.zip", 7)
	c.Assert(err, qt.IsNil)

	select {
	case <-remote.started:
	case <-time.After(5 * time.Second):
		c.Fatal("upload did not start")
	}

	// The archive is downloaded and deleted while its upload is running.
	c.Assert(s.Delete(ctx, "t2.zip"), qt.IsNil)
	close(remote.release)

	deadline := time.Now().Add(5 * time.Second)
	for s.replicator.Stats().Withdrawn == 0 {
		if time.Now().After(deadline) {
			c.Fatal("remote copy was not withdrawn")
		}
		time.Sleep(10 * time.Millisecond)
	}

	_, err = os.Stat(filepath.Join(remote.baseDir, "t2.zip"))
	c.Check(os.IsNotExist(err), qt.IsTrue)
	_, _, err = s.Open(ctx, "t2.zip")
	c.Check(IsNotFound(err), qt.IsTrue)
	c.Check(s.replicator.Stats().Mirrored, qt.Equals, int64(0))
}
