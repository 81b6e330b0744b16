package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/you-humble/degreegen/internal/domain"

	qt "github.com/frankban/quicktest"
	"github.com/nats-io/nats.go"
)

type fakeJS struct {
	msgs []*nats.Msg
	err  error
}

func (f *fakeJS) PublishMsg(m *nats.Msg, _ ...nats.PubOpt) (*nats.PubAck, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.msgs = append(f.msgs, m)
	return &nats.PubAck{Stream: "DEGREES", Sequence: uint64(len(f.msgs))}, nil
}

func TestEnqueueSetsMsgID(t *testing.T) {
	c := qt.New(t)
	js := &fakeJS{}
	q := New(js, "degrees.jobs")

	job := domain.Job{
		TaskID:  "t1",
		Format:  domain.FormatPDF,
		Records: []domain.Record{{"entryno": "2019CS001", "name": "Asha"}},
	}
	c.Assert(q.Enqueue(context.Background(), job), qt.IsNil)

	c.Assert(js.msgs, qt.HasLen, 1)
	msg := js.msgs[0]
	c.Assert(msg.Subject, qt.Equals, "degrees.jobs")
	c.Assert(msg.Header.Get(nats.MsgIdHdr), qt.Equals, "t1")

	got, err := Decode(msg.Data)
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.DeepEquals, job)
}

func TestEnqueueErrors(t *testing.T) {
	c := qt.New(t)

	err := New(&fakeJS{}, "s").Enqueue(context.Background(), domain.Job{})
	c.Assert(err, qt.ErrorMatches, "empty taskID")

	boom := errors.New("no responders")
	err = New(&fakeJS{err: boom}, "s").Enqueue(context.Background(), domain.Job{TaskID: "t1"})
	c.Assert(errors.Is(err, boom), qt.IsTrue)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	c := qt.New(t)

	_, err := Decode([]byte("t1"))
	c.Assert(err, qt.IsNotNil)

	_, err = Decode([]byte(`{"records":[]}`))
	c.Assert(err, qt.ErrorMatches, "decode job: empty task id")
}
