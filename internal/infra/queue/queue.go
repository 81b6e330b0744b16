package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/you-humble/degreegen/internal/domain"

	"github.com/nats-io/nats.go"
)

type Publisher interface {
	PublishMsg(m *nats.Msg, opts ...nats.PubOpt) (*nats.PubAck, error)
}

type queue struct {
	js      Publisher
	subject string
}

func New(js Publisher, subject string) *queue {
	return &queue{
		js:      js,
		subject: subject,
	}
}

// Enqueue publishes the job with the task id as message id, so the
// stream drops a second publish of the same task.
func (q *queue) Enqueue(ctx context.Context, job domain.Job) error {
	if job.TaskID == "" {
		return fmt.Errorf("empty taskID")
	}

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("enqueue task %s: marshal: %w", job.TaskID, err)
	}

	msg := &nats.Msg{
		Subject: q.subject,
		Data:    data,
		Header:  nats.Header{},
	}
	msg.Header.Set(nats.MsgIdHdr, job.TaskID)

	ack, err := q.js.PublishMsg(msg, nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("enqueue task %s: publish failed: %w", job.TaskID, err)
	}

	slog.Debug(
		"task enqueued",
		slog.String("task_id", job.TaskID),
		slog.String("subject", q.subject),
		slog.String("stream", ack.Stream),
		slog.Uint64("seq", ack.Sequence),
		slog.Bool("duplicate", ack.Duplicate),
	)

	return nil
}

func Decode(data []byte) (domain.Job, error) {
	var job domain.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return domain.Job{}, fmt.Errorf("decode job: %w", err)
	}
	if job.TaskID == "" {
		return domain.Job{}, fmt.Errorf("decode job: empty task id")
	}
	return job, nil
}
