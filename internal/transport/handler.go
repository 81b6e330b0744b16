package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/you-humble/degreegen/internal/catalog"
	"github.com/you-humble/degreegen/internal/domain"

	"github.com/google/uuid"
)

const maxGenerateBody = 1 << 20

type Usecase interface {
	Sessions() []catalog.Session
	Programmes() []catalog.Programme
	Semesters() []catalog.Semester
	Graduates(ctx context.Context, sel domain.Selection) ([]domain.Record, error)
	Generate(ctx context.Context, req domain.GenerateRequest) (string, error)
	Task(ctx context.Context, taskID string) (domain.Task, error)
	Watch(ctx context.Context, taskID string) (domain.Task, <-chan domain.Event, func(), error)
	Download(ctx context.Context, taskID string) (domain.DownloadResult, error)
}

type handler struct {
	usecase Usecase
}

func NewHandler(uc Usecase) *handler {
	return &handler{usecase: uc}
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) sessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.usecase.Sessions())
}

func (h *handler) programmes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.usecase.Programmes())
}

func (h *handler) semesters(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.usecase.Semesters())
}

func (h *handler) graduates(w http.ResponseWriter, r *http.Request) {
	logger := requestLogger(r, "graduates")

	q := r.URL.Query()
	sel := domain.Selection{
		SessionPK:   q.Get("session_pk"),
		ProgrammePK: q.Get("programme_pk"),
		SemesterPK:  q.Get("semester_pk"),
	}

	records, err := h.usecase.Graduates(r.Context(), sel)
	if err != nil {
		h.fail(w, logger, "Graduates usecase", err)
		return
	}
	if records == nil {
		records = []domain.Record{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(records),
		"records": records,
	})
}

func (h *handler) generate(w http.ResponseWriter, r *http.Request) {
	logger := requestLogger(r, "generate")

	defer r.Body.Close()
	r.Body = http.MaxBytesReader(w, r.Body, maxGenerateBody)

	var req domain.GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("decode request", slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	taskID, err := h.usecase.Generate(r.Context(), req)
	if err != nil {
		h.fail(w, logger, "Generate usecase", err)
		return
	}

	writeJSON(w, http.StatusAccepted, domain.GenerateResponse{TaskID: taskID})
}

func (h *handler) task(w http.ResponseWriter, r *http.Request) {
	logger := requestLogger(r, "task")

	task, err := h.usecase.Task(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, logger, "Task usecase", err)
		return
	}

	writeJSON(w, http.StatusOK, task)
}

func (h *handler) download(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")
	logger := requestLogger(r, "download").With(slog.String("task_id", taskID))

	result, err := h.usecase.Download(r.Context(), taskID)
	if err != nil {
		h.fail(w, logger, "Download usecase", err)
		return
	}
	defer result.Content.Close()

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition",
		`attachment; filename="`+result.FileName+`"`)
	if result.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(result.Size, 10))
	}

	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, result.Content); err != nil {
		logger.Error("download: send file", slog.String("error", err.Error()))
	}
}

func (h *handler) fail(w http.ResponseWriter, logger *slog.Logger, op string, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		logger.Error(op, slog.String("error", err.Error()))
		writeError(w, status, "")
		return
	}
	logger.Warn(op, slog.String("error", err.Error()))
	writeError(w, status, err.Error())
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrTaskNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrNoEntries),
		errors.Is(err, domain.ErrIncompleteFilter),
		errors.Is(err, domain.ErrUnsupportedFormat):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrTaskNotReady):
		return http.StatusTooEarly
	case errors.Is(err, domain.ErrTaskFailed):
		return http.StatusConflict
	case errors.Is(err, domain.ErrTaskExpired):
		return http.StatusGone
	case errors.Is(err, domain.ErrBusy):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func requestLogger(r *http.Request, name string) *slog.Logger {
	return slog.With(
		slog.String("request_id", uuid.NewString()),
		slog.String("handler", name),
		slog.String("remote_addr", r.RemoteAddr),
	)
}

func writeError(w http.ResponseWriter, status int, message string) {
	if message == "" {
		message = http.StatusText(status)
	}
	resp := domain.ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("writeJSON", slog.String("error", err.Error()))
	}
}
