package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/you-humble/degreegen/internal/catalog"
	"github.com/you-humble/degreegen/internal/domain"

	"github.com/google/uuid"
)

const downloadName = "degrees.zip"

type RecordSource interface {
	Graduates(ctx context.Context, sel domain.Selection) ([]domain.Record, error)
	ByEntries(ctx context.Context, sel domain.Selection, entries []string) ([]domain.Record, error)
}

type TaskStore interface {
	CreateTask(ctx context.Context, p domain.CreateTaskParams) error
	Task(ctx context.Context, id string) (domain.Task, error)
	UpdateStatus(ctx context.Context, id string, newStatus domain.TaskStatus, errReason string)
}

type FileStore interface {
	Open(ctx context.Context, filename string) (io.ReadCloser, int64, error)
	Delete(ctx context.Context, filename string) error
}

type Runner interface {
	Start(ctx context.Context, job domain.Job) error
}

type Events interface {
	Subscribe(ctx context.Context, taskID string) (<-chan domain.Event, func(), error)
}

type usecase struct {
	taskTTL   time.Duration
	records   RecordSource
	taskStore TaskStore
	fileStore FileStore
	runner    Runner
	events    Events
}

func New(
	taskTTL time.Duration,
	records RecordSource,
	taskStore TaskStore,
	fileStore FileStore,
	runner Runner,
	events Events,
) *usecase {
	return &usecase{
		taskTTL:   taskTTL,
		records:   records,
		taskStore: taskStore,
		fileStore: fileStore,
		runner:    runner,
		events:    events,
	}
}

func (uc *usecase) Sessions() []catalog.Session     { return catalog.Sessions() }
func (uc *usecase) Programmes() []catalog.Programme { return catalog.Programmes() }
func (uc *usecase) Semesters() []catalog.Semester   { return catalog.Semesters() }

func (uc *usecase) Graduates(ctx context.Context, sel domain.Selection) ([]domain.Record, error) {
	return uc.records.Graduates(ctx, sel)
}

// Generate fetches the selected records, registers a task and hands the
// job to the runner. It returns the task id without waiting for the run.
func (uc *usecase) Generate(ctx context.Context, req domain.GenerateRequest) (string, error) {
	if len(req.Entries) == 0 {
		return "", domain.ErrNoEntries
	}
	format, err := domain.ParseOutputFormat(req.Format)
	if err != nil {
		return "", err
	}

	sel := domain.Selection{
		SessionPK:   req.SessionPK,
		ProgrammePK: req.ProgrammePK,
		SemesterPK:  req.SemesterPK,
	}
	records, err := uc.records.ByEntries(ctx, sel, req.Entries)
	if err != nil {
		return "", fmt.Errorf("fetch records: %w", err)
	}

	taskID := uuid.NewString()
	if err := uc.taskStore.CreateTask(ctx, domain.CreateTaskParams{
		ID:     taskID,
		Format: format,
		Total:  len(records),
		TTL:    uc.taskTTL,
	}); err != nil {
		return "", fmt.Errorf("create task: %w", err)
	}

	job := domain.Job{TaskID: taskID, Format: format, Records: records}
	if err := uc.runner.Start(ctx, job); err != nil {
		slog.Error("start task",
			slog.String("task_id", taskID),
			slog.String("error", err.Error()),
		)
		uc.taskStore.UpdateStatus(ctx, taskID, domain.StatusFailed, err.Error())
		return "", fmt.Errorf("start task: %w", err)
	}

	slog.Info("task started",
		slog.String("task_id", taskID),
		slog.Int("requested", len(req.Entries)),
		slog.Int("found", len(records)),
		slog.String("format", string(format)),
	)
	return taskID, nil
}

func (uc *usecase) Task(ctx context.Context, taskID string) (domain.Task, error) {
	return uc.taskStore.Task(ctx, taskID)
}

// Watch subscribes before reading the snapshot so no event published in
// between is lost. The caller must call stop.
func (uc *usecase) Watch(ctx context.Context, taskID string) (domain.Task, <-chan domain.Event, func(), error) {
	events, stop, err := uc.events.Subscribe(ctx, taskID)
	if err != nil {
		return domain.Task{}, nil, nil, fmt.Errorf("subscribe: %w", err)
	}

	task, err := uc.taskStore.Task(ctx, taskID)
	if err != nil {
		stop()
		return domain.Task{}, nil, nil, err
	}
	return task, events, stop, nil
}

// Download opens the archive of a finished task. The archive is deleted
// once the returned content is closed.
func (uc *usecase) Download(ctx context.Context, taskID string) (domain.DownloadResult, error) {
	task, err := uc.taskStore.Task(ctx, taskID)
	if err != nil {
		return domain.DownloadResult{}, err
	}

	switch task.Status {
	case domain.StatusDone:
	case domain.StatusFailed:
		return domain.DownloadResult{}, domain.ErrTaskFailed
	case domain.StatusExpired:
		return domain.DownloadResult{}, domain.ErrTaskExpired
	default:
		return domain.DownloadResult{}, domain.ErrTaskNotReady
	}

	if task.ArchiveName == "" {
		return domain.DownloadResult{}, fmt.Errorf("empty archive name")
	}

	f, size, err := uc.fileStore.Open(ctx, task.ArchiveName)
	if err != nil {
		if errors.Is(err, domain.ErrFileNotFound) {
			return domain.DownloadResult{}, domain.ErrTaskExpired
		}
		return domain.DownloadResult{}, fmt.Errorf("open archive: %w", err)
	}

	return domain.DownloadResult{
		FileName: downloadName,
		Size:     size,
		Content: &deleteOnClose{
			ReadCloser: f,
			remove: func() {
				uc.removeArchive(context.WithoutCancel(ctx), taskID, task.ArchiveName)
			},
		},
	}, nil
}

func (uc *usecase) removeArchive(ctx context.Context, taskID, name string) {
	if err := uc.fileStore.Delete(ctx, name); err != nil {
		slog.Warn("delete archive after download",
			slog.String("task_id", taskID),
			slog.String("archive", name),
			slog.String("error", err.Error()),
		)
		return
	}
	slog.Info("archive deleted", slog.String("task_id", taskID), slog.String("archive", name))
}

type deleteOnClose struct {
	io.ReadCloser
	once   sync.Once
	remove func()
}

func (d *deleteOnClose) Close() error {
	err := d.ReadCloser.Close()
	d.once.Do(d.remove)
	return err
}
