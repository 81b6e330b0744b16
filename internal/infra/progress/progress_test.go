package progress

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/you-humble/degreegen/internal/domain"

	qt "github.com/frankban/quicktest"
	"github.com/nats-io/nats.go"
)

// memConn delivers published messages synchronously to subscribers.
type memConn struct {
	mu   sync.Mutex
	subs map[string][]nats.MsgHandler
	sent []*nats.Msg
	err  error
}

func (m *memConn) Publish(subj string, data []byte) error {
	if m.err != nil {
		return m.err
	}
	msg := &nats.Msg{Subject: subj, Data: data}
	m.mu.Lock()
	m.sent = append(m.sent, msg)
	handlers := append([]nats.MsgHandler(nil), m.subs[subj]...)
	m.mu.Unlock()
	for _, h := range handlers {
		h(msg)
	}
	return nil
}

func (m *memConn) Subscribe(subj string, cb nats.MsgHandler) (*nats.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subs == nil {
		m.subs = map[string][]nats.MsgHandler{}
	}
	m.subs[subj] = append(m.subs[subj], cb)
	return nil, nil
}

func TestSubject(t *testing.T) {
	c := qt.New(t)
	b := NewBus(&memConn{}, "degrees.progress.")

	subj, err := b.Subject("0f8c-11")
	c.Assert(err, qt.IsNil)
	c.Assert(subj, qt.Equals, "degrees.progress.0f8c-11")

	for _, bad := range []string{"", "a.b", "*", ">", "a b"} {
		_, err := b.Subject(bad)
		c.Check(err, qt.IsNotNil, qt.Commentf("id %q", bad))
	}
}

func TestPublishEncodesEvent(t *testing.T) {
	c := qt.New(t)
	conn := &memConn{}
	b := NewBus(conn, "degrees.progress")

	err := b.Publish(context.Background(), domain.Event{
		Type:     domain.EventProgress,
		TaskID:   "t1",
		Progress: 55,
	})
	c.Assert(err, qt.IsNil)
	c.Assert(conn.sent, qt.HasLen, 1)
	c.Assert(conn.sent[0].Subject, qt.Equals, "degrees.progress.t1")

	var got map[string]any
	c.Assert(json.Unmarshal(conn.sent[0].Data, &got), qt.IsNil)
	c.Assert(got, qt.DeepEquals, map[string]any{
		"event":    "progress_update",
		"task_id":  "t1",
		"progress": float64(55),
	})
}

func TestPublishKeepsZeroProgress(t *testing.T) {
	c := qt.New(t)
	conn := &memConn{}
	b := NewBus(conn, "degrees.progress")
	ctx := context.Background()

	c.Assert(b.Publish(ctx, domain.Event{Type: domain.EventProgress, TaskID: "t1", Progress: 0}), qt.IsNil)
	c.Assert(b.Publish(ctx, domain.Event{Type: domain.EventComplete, TaskID: "t1", ZipPath: "t1.zip"}), qt.IsNil)
	c.Assert(conn.sent, qt.HasLen, 2)

	var first map[string]any
	c.Assert(json.Unmarshal(conn.sent[0].Data, &first), qt.IsNil)
	c.Assert(first, qt.DeepEquals, map[string]any{
		"event":    "progress_update",
		"task_id":  "t1",
		"progress": float64(0),
	})

	var done map[string]any
	c.Assert(json.Unmarshal(conn.sent[1].Data, &done), qt.IsNil)
	c.Assert(done, qt.DeepEquals, map[string]any{
		"event":    "generation_complete",
		"task_id":  "t1",
		"zip_path": "t1.zip",
	})
}

func TestPublishError(t *testing.T) {
	c := qt.New(t)
	boom := errors.New("no connection")
	b := NewBus(&memConn{err: boom}, "p")

	err := b.Publish(context.Background(), domain.Event{Type: domain.EventProgress, TaskID: "t1"})
	c.Assert(errors.Is(err, boom), qt.IsTrue)
}

func TestSubscribeOnlyOwnTask(t *testing.T) {
	c := qt.New(t)
	conn := &memConn{}
	b := NewBus(conn, "p")
	ctx := context.Background()

	events, stop, err := b.Subscribe(ctx, "mine")
	c.Assert(err, qt.IsNil)
	defer stop()

	c.Assert(b.Publish(ctx, domain.Event{Type: domain.EventProgress, TaskID: "other", Progress: 10}), qt.IsNil)
	c.Assert(b.Publish(ctx, domain.Event{Type: domain.EventProgress, TaskID: "mine", Progress: 20}), qt.IsNil)
	c.Assert(b.Publish(ctx, domain.Event{Type: domain.EventComplete, TaskID: "mine", ZipPath: "archives/mine.zip"}), qt.IsNil)

	got := []domain.Event{<-events, <-events}
	c.Assert(got, qt.DeepEquals, []domain.Event{
		{Type: domain.EventProgress, TaskID: "mine", Progress: 20},
		{Type: domain.EventComplete, TaskID: "mine", ZipPath: "archives/mine.zip"},
	})
	c.Assert(got[1].Terminal(), qt.IsTrue)

	select {
	case ev := <-events:
		c.Fatalf("unexpected event %+v", ev)
	case <-time.After(20 * time.Millisecond):
	}
}

type fakeTaskStore struct {
	mu       sync.Mutex
	progress []int
	archive  string
	status   domain.TaskStatus
	reason   string
	err      error
	ctxErrs  []error
}

func (s *fakeTaskStore) SetProgress(_ context.Context, _ string, p int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	s.progress = append(s.progress, p)
	return p, nil
}

func (s *fakeTaskStore) SetResult(ctx context.Context, _ string, archive string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctxErrs = append(s.ctxErrs, ctx.Err())
	if s.err != nil {
		return s.err
	}
	s.archive = archive
	s.status = domain.StatusDone
	return nil
}

func (s *fakeTaskStore) UpdateStatus(ctx context.Context, _ string, st domain.TaskStatus, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctxErrs = append(s.ctxErrs, ctx.Err())
	s.status = st
	s.reason = reason
}

type recordingPublisher struct {
	events  []domain.Event
	ctxErrs []error
}

func (p *recordingPublisher) Publish(ctx context.Context, ev domain.Event) error {
	p.events = append(p.events, ev)
	p.ctxErrs = append(p.ctxErrs, ctx.Err())
	return nil
}

func TestTrackerRecordsAndPublishes(t *testing.T) {
	c := qt.New(t)
	store := &fakeTaskStore{}
	pub := &recordingPublisher{}
	tr := NewTracker(store, pub)
	ctx := context.Background()

	tr.Progress(ctx, "t1", 30)
	tr.Progress(ctx, "t1", 80)
	tr.Complete(ctx, "t1", "archives/t1.zip")

	c.Assert(store.progress, qt.DeepEquals, []int{30, 80})
	c.Assert(store.archive, qt.Equals, "archives/t1.zip")
	c.Assert(store.status, qt.Equals, domain.StatusDone)
	c.Assert(pub.events, qt.DeepEquals, []domain.Event{
		{Type: domain.EventProgress, TaskID: "t1", Progress: 30},
		{Type: domain.EventProgress, TaskID: "t1", Progress: 80},
		{Type: domain.EventComplete, TaskID: "t1", ZipPath: "archives/t1.zip"},
	})
}

func TestTrackerFail(t *testing.T) {
	c := qt.New(t)
	store := &fakeTaskStore{}
	pub := &recordingPublisher{}
	tr := NewTracker(store, pub)

	tr.Fail(context.Background(), "t1", errors.New("render record 2: bad template"))

	c.Assert(store.status, qt.Equals, domain.StatusFailed)
	c.Assert(store.reason, qt.Equals, "render record 2: bad template")
	c.Assert(pub.events, qt.DeepEquals, []domain.Event{
		{Type: domain.EventFailed, TaskID: "t1", Error: "render record 2: bad template"},
	})
}

func TestTrackerPublishesDespiteStoreErrors(t *testing.T) {
	c := qt.New(t)
	store := &fakeTaskStore{err: errors.New("redis down")}
	pub := &recordingPublisher{}
	tr := NewTracker(store, pub)

	tr.Progress(context.Background(), "t1", 10)
	tr.Complete(context.Background(), "t1", "archives/t1.zip")

	c.Assert(pub.events, qt.HasLen, 2)
}

func TestTrackerTerminalWritesOutliveCancelledRun(t *testing.T) {
	c := qt.New(t)
	store := &fakeTaskStore{}
	pub := &recordingPublisher{}
	tr := NewTracker(store, pub)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tr.Fail(ctx, "t1", context.Canceled)
	c.Assert(store.status, qt.Equals, domain.StatusFailed)

	tr.Complete(ctx, "t2", "archives/t2.zip")
	c.Assert(store.archive, qt.Equals, "archives/t2.zip")

	c.Assert(store.ctxErrs, qt.DeepEquals, []error{nil, nil})
	c.Assert(pub.ctxErrs, qt.DeepEquals, []error{nil, nil})
}
