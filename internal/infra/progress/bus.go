// Package progress delivers task events to the clients watching a task.
// Every task has its own NATS subject, <prefix>.<task_id>, so a client
// only receives the events of the task it subscribed to.
package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/you-humble/degreegen/internal/domain"

	"github.com/nats-io/nats.go"
)

const subscriberBuffer = 64

type Conn interface {
	Publish(subj string, data []byte) error
	Subscribe(subj string, cb nats.MsgHandler) (*nats.Subscription, error)
}

type Bus struct {
	conn   Conn
	prefix string
}

func NewBus(conn Conn, prefix string) *Bus {
	return &Bus{conn: conn, prefix: strings.TrimSuffix(prefix, ".")}
}

func (b *Bus) Subject(taskID string) (string, error) {
	if taskID == "" || strings.ContainsAny(taskID, ".*> \t\r\n") {
		return "", fmt.Errorf("invalid task id %q", taskID)
	}
	return b.prefix + "." + taskID, nil
}

func (b *Bus) Publish(_ context.Context, ev domain.Event) error {
	subj, err := b.Subject(ev.TaskID)
	if err != nil {
		return err
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := b.conn.Publish(subj, data); err != nil {
		return fmt.Errorf("publish %s: %w", subj, err)
	}
	return nil
}

// Subscribe streams the events of one task until ctx is done or the
// returned stop func is called.
func (b *Bus) Subscribe(ctx context.Context, taskID string) (<-chan domain.Event, func(), error) {
	subj, err := b.Subject(taskID)
	if err != nil {
		return nil, nil, err
	}

	events := make(chan domain.Event, subscriberBuffer)
	done := make(chan struct{})

	sub, err := b.conn.Subscribe(subj, func(msg *nats.Msg) {
		var ev domain.Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			slog.Warn("progress: bad event", slog.String("subject", msg.Subject), slog.String("error", err.Error()))
			return
		}
		select {
		case events <- ev:
		case <-done:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return nil, nil, fmt.Errorf("subscribe %s: %w", subj, err)
	}

	var once sync.Once
	stop := func() {
		once.Do(func() {
			if err := sub.Unsubscribe(); err != nil {
				slog.Debug("progress: unsubscribe", slog.String("subject", subj), slog.String("error", err.Error()))
			}
			close(done)
		})
	}
	return events, stop, nil
}
