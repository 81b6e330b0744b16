package transport

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/you-humble/degreegen/internal/domain"
)

const (
	snapshotEvent     = "task_snapshot"
	heartbeatInterval = 15 * time.Second
)

// events streams a task as Server-Sent Events: the stored snapshot first,
// then live events until a terminal one.
func (h *handler) events(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")
	logger := requestLogger(r, "events").With(slog.String("task_id", taskID))
	ctx := r.Context()

	task, events, stop, err := h.usecase.Watch(ctx, taskID)
	if err != nil {
		h.fail(w, logger, "Watch usecase", err)
		return
	}
	defer stop()

	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	send := func(name string, v any) bool {
		if err := writeEvent(w, name, v); err != nil {
			logger.Debug("sse write", slog.String("error", err.Error()))
			return false
		}
		if err := rc.Flush(); err != nil {
			logger.Debug("sse flush", slog.String("error", err.Error()))
			return false
		}
		return true
	}

	if !send(snapshotEvent, task) {
		return
	}
	if ev, ok := terminalEvent(task); ok {
		send(string(ev.Type), ev)
		return
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			if !send(string(ev.Type), ev) || ev.Terminal() {
				return
			}
		}
	}
}

// terminalEvent rebuilds the final event of a task that already ended.
func terminalEvent(t domain.Task) (domain.Event, bool) {
	switch t.Status {
	case domain.StatusDone:
		return domain.Event{Type: domain.EventComplete, TaskID: t.ID, ZipPath: t.ArchiveName}, true
	case domain.StatusFailed, domain.StatusExpired:
		msg := t.Error
		if msg == "" {
			msg = string(t.Status)
		}
		return domain.Event{Type: domain.EventFailed, TaskID: t.ID, Error: msg}, true
	default:
		return domain.Event{}, false
	}
}

func writeEvent(w http.ResponseWriter, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	return err
}
