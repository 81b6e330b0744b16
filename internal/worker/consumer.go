// Package worker consumes generation jobs from JetStream and sweeps
// expired tasks and archives.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/you-humble/degreegen/internal/infra/queue"
	"github.com/you-humble/degreegen/internal/runner"

	"github.com/nats-io/nats.go"
)

const fetchBackoff = 100 * time.Millisecond

// Message is the part of *nats.Msg a worker needs.
type Message interface {
	Ack(opts ...nats.AckOpt) error
	Nak(opts ...nats.AckOpt) error
}

type natsConsumer struct {
	js       nats.JetStreamContext
	stream   string
	subject  string
	durable  string
	size     int
	ackWait  time.Duration
	claimer  runner.Claimer
	executor runner.Executor

	done chan struct{}
	sub  *nats.Subscription
}

func NewConsumer(
	js nats.JetStreamContext,
	stream, subject, durable string,
	size int,
	ackWait time.Duration,
	claimer runner.Claimer,
	executor runner.Executor,
) *natsConsumer {
	if size <= 0 {
		size = 1
	}

	return &natsConsumer{
		js:       js,
		stream:   stream,
		subject:  subject,
		durable:  durable,
		size:     size,
		ackWait:  ackWait,
		claimer:  claimer,
		executor: executor,
		done:     make(chan struct{}, size),
	}
}

func (d *natsConsumer) Run(ctx context.Context) error {
	_, err := d.js.AddConsumer(d.stream, &nats.ConsumerConfig{
		Durable:       d.durable,
		AckPolicy:     nats.AckExplicitPolicy,
		AckWait:       d.ackWait,
		FilterSubject: d.subject,
		MaxAckPending: d.size * 2,
	})
	if err != nil && !errors.Is(err, nats.ErrConsumerNameAlreadyInUse) {
		return err
	}

	sub, err := d.js.PullSubscribe(d.subject, d.durable, nats.Bind(d.stream, d.durable))
	if err != nil {
		return err
	}
	d.sub = sub

	for range d.size {
		go func() {
			defer func() { d.done <- struct{}{} }()
			d.runWorker(ctx)
		}()
	}

	slog.Info("JetStream consumer is running",
		slog.Int("workers", d.size),
		slog.String("subject", d.subject),
	)
	return nil
}

// Stop waits for ctx, which must be the one passed to Run, and then for
// every worker to return.
func (d *natsConsumer) Stop(ctx context.Context) {
	<-ctx.Done()

	if d.sub == nil {
		return
	}
	for range d.size {
		<-d.done
	}

	if err := d.sub.Drain(); err != nil {
		slog.Warn("NATS subscription drain", slog.String("error", err.Error()))
	}

	slog.Info("JetStream consumer stopped")
}

func (d *natsConsumer) runWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			slog.Info("Worker stopping")
			return
		default:
		}

		msgs, err := d.sub.Fetch(1, nats.Context(ctx))
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, nats.ErrTimeout) {
				continue
			}
			slog.Warn("NATS Fetch", slog.String("error", err.Error()))
			time.Sleep(fetchBackoff)
			continue
		}

		for _, msg := range msgs {
			d.handle(ctx, msg.Data, msg)
		}
	}
}

// handle acks everything except a failed claim, which is retried by
// redelivery. A failed run is already recorded on the task.
func (d *natsConsumer) handle(ctx context.Context, data []byte, msg Message) {
	job, err := queue.Decode(data)
	if err != nil {
		slog.Error("drop message", slog.String("error", err.Error()))
		ack(msg)
		return
	}

	err = runner.Process(ctx, d.claimer, d.executor, job)
	switch {
	case err == nil:
	case errors.Is(err, runner.ErrNotClaimed):
		slog.Warn("redelivered task skipped", slog.String("task_id", job.TaskID))
	case errors.Is(err, runner.ErrClaim):
		slog.Error("claim", slog.String("task_id", job.TaskID), slog.String("error", err.Error()))
		if err := msg.Nak(); err != nil {
			slog.Warn("NATS Nak", slog.String("error", err.Error()))
		}
		return
	default:
		slog.Error("process", slog.String("task_id", job.TaskID), slog.String("error", err.Error()))
	}

	ack(msg)
}

func ack(msg Message) {
	if err := msg.Ack(); err != nil {
		slog.Warn("NATS Ack", slog.String("error", err.Error()))
	}
}
