// Package pipeline turns a batch of graduate records into one archive of
// certificates: render, optionally convert, archive.
//
// Progress is reported as a single percentage over the whole run:
// rendering covers 0-30, conversion 30-80 and archiving 80-100.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"

	"github.com/you-humble/degreegen/internal/converter"
	"github.com/you-humble/degreegen/internal/domain"
	"github.com/you-humble/degreegen/internal/fieldmap"
)

const (
	renderEnd  = 30
	convertEnd = 80
	archiveEnd = 100
)

type Renderer interface {
	Render(fields domain.Fields) ([]byte, error)
}

type ConvertPool interface {
	Run(ctx context.Context, paths []string, onSettled func(converter.Result))
}

type Archiver interface {
	Archive(ctx context.Context, taskID string, paths []string) (string, error)
}

// Reporter receives the task events. Implementations must not block for
// long; they are called from the pipeline goroutine.
type Reporter interface {
	Progress(ctx context.Context, taskID string, progress int)
	Complete(ctx context.Context, taskID, archive string)
	Fail(ctx context.Context, taskID string, reason error)
}

type Pipeline struct {
	renderer   Renderer
	pool       ConvertPool
	archiver   Archiver
	reporter   Reporter
	stagingDir string
}

func New(renderer Renderer, pool ConvertPool, archiver Archiver, reporter Reporter, stagingDir string) *Pipeline {
	return &Pipeline{
		renderer:   renderer,
		pool:       pool,
		archiver:   archiver,
		reporter:   reporter,
		stagingDir: stagingDir,
	}
}

// Execute runs the job and reports the outcome. A failed or panicking run
// is reported through Reporter.Fail and returned.
func (p *Pipeline) Execute(ctx context.Context, job domain.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in pipeline",
				slog.String("task_id", job.TaskID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("pipeline panic: %v", r)
		}
		if err != nil {
			p.reporter.Fail(context.WithoutCancel(ctx), job.TaskID, err)
		}
	}()

	archive, err := p.Run(ctx, job)
	if err != nil {
		return err
	}

	p.reporter.Complete(context.WithoutCancel(ctx), job.TaskID, archive)
	return nil
}

// Abort reports a job that will never run as failed.
func (p *Pipeline) Abort(ctx context.Context, taskID string, reason error) {
	p.reporter.Fail(context.WithoutCancel(ctx), taskID, reason)
}

// Run executes the three stages and returns the archive name. Staged files
// are removed before it returns.
func (p *Pipeline) Run(ctx context.Context, job domain.Job) (string, error) {
	logger := slog.With(
		slog.String("task_id", job.TaskID),
		slog.String("format", string(job.Format)),
		slog.Int("records", len(job.Records)),
	)

	if err := os.MkdirAll(p.stagingDir, 0o755); err != nil {
		return "", fmt.Errorf("staging dir: %w", err)
	}
	dir, err := os.MkdirTemp(p.stagingDir, "task-"+safeName(job.TaskID)+"-*")
	if err != nil {
		return "", fmt.Errorf("staging dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			logger.Warn("remove staging dir", slog.String("dir", dir), slog.String("error", err.Error()))
		}
	}()

	logger.Info("rendering started")
	docs, err := p.render(ctx, job, dir)
	if err != nil {
		return "", err
	}

	outputs := docs
	if job.Format.NeedsConversion() {
		logger.Info("conversion started")
		outputs = p.convert(ctx, job.TaskID, docs)
	} else {
		p.reporter.Progress(ctx, job.TaskID, convertEnd)
	}

	archive, err := p.archiver.Archive(ctx, job.TaskID, outputs)
	if err != nil {
		return "", fmt.Errorf("archive: %w", err)
	}
	p.reporter.Progress(ctx, job.TaskID, archiveEnd)

	logger.Info("generation finished",
		slog.String("archive", archive),
		slog.Int("outputs", len(outputs)),
	)
	return archive, nil
}

func (p *Pipeline) render(ctx context.Context, job domain.Job, dir string) ([]string, error) {
	total := len(job.Records)
	docs := make([]string, 0, total)

	for i, rec := range job.Records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		data, err := p.renderer.Render(fieldmap.Map(rec))
		if err != nil {
			return nil, fmt.Errorf("render record %d (%s): %w", i, rec["entryno"], err)
		}

		path := filepath.Join(dir, DocumentName(rec, i))
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return nil, fmt.Errorf("stage record %d: %w", i, err)
		}
		docs = append(docs, path)

		p.reporter.Progress(ctx, job.TaskID, stageProgress(0, renderEnd, i+1, total))
	}
	return docs, nil
}

func (p *Pipeline) convert(ctx context.Context, taskID string, docs []string) []string {
	total := len(docs)
	outputs := make([]string, 0, total)
	settled := 0

	p.pool.Run(ctx, docs, func(res converter.Result) {
		settled++
		if res.Err != nil {
			slog.Error("conversion failed",
				slog.String("task_id", taskID),
				slog.String("source", res.Source),
				slog.String("error", res.Err.Error()),
			)
		} else {
			outputs = append(outputs, res.Output)
		}
		p.reporter.Progress(ctx, taskID, stageProgress(renderEnd, convertEnd-renderEnd, settled, total))
	})

	return outputs
}

// DocumentName is the staged file name of the i-th record.
func DocumentName(rec domain.Record, i int) string {
	entry := safeName(rec["entryno"])
	if entry == "" {
		entry = fmt.Sprintf("doc_%d", i)
	}
	return entry + ".docx"
}

func stageProgress(base, span, done, total int) int {
	if total <= 0 {
		return base + span
	}
	return base + done*span/total
}

func safeName(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', 0:
			return '_'
		}
		return r
	}, s)
	if s == "." || s == ".." {
		return ""
	}
	return s
}
