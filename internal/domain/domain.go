package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusProcessing TaskStatus = "processing"
	StatusDone       TaskStatus = "done"
	StatusFailed     TaskStatus = "failed"
	StatusExpired    TaskStatus = "expired"
)

func (s TaskStatus) Terminal() bool {
	return s == StatusDone || s == StatusFailed || s == StatusExpired
}

type OutputFormat string

const (
	FormatDOCX OutputFormat = "docx"
	FormatPDF  OutputFormat = "pdf"
)

// ParseOutputFormat accepts "docx" or "pdf" in any case; empty means pdf.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatPDF:
		return FormatPDF, nil
	case FormatDOCX:
		return FormatDOCX, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
	}
}

func (f OutputFormat) NeedsConversion() bool {
	return f != FormatDOCX
}

// Record is one graduate row as returned by the record source.
type Record map[string]string

// Fields is a record renamed to the template vocabulary.
type Fields map[string]string

type Task struct {
	ID string `json:"id"`

	Status   TaskStatus   `json:"status"`
	Format   OutputFormat `json:"output_format"`
	Total    int          `json:"total"`
	Progress int          `json:"progress"`

	ArchiveName string `json:"zip_path,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Error     string    `json:"error,omitempty"`
}

type CreateTaskParams struct {
	ID     string
	Format OutputFormat
	Total  int
	TTL    time.Duration
}

// Job is what the task runner hands to a pipeline run.
type Job struct {
	TaskID  string       `json:"task_id"`
	Format  OutputFormat `json:"output_format"`
	Records []Record     `json:"records"`
}

type EventType string

const (
	EventProgress EventType = "progress_update"
	EventComplete EventType = "generation_complete"
	EventFailed   EventType = "generation_failed"
)

type Event struct {
	Type     EventType `json:"event"`
	TaskID   string    `json:"task_id"`
	Progress int       `json:"progress"`
	ZipPath  string    `json:"zip_path,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// MarshalJSON always writes progress on progress updates, including 0,
// and leaves it off terminal events.
func (e Event) MarshalJSON() ([]byte, error) {
	type wire struct {
		Type     EventType `json:"event"`
		TaskID   string    `json:"task_id"`
		Progress *int      `json:"progress,omitempty"`
		ZipPath  string    `json:"zip_path,omitempty"`
		Error    string    `json:"error,omitempty"`
	}
	w := wire{Type: e.Type, TaskID: e.TaskID, ZipPath: e.ZipPath, Error: e.Error}
	if e.Type == EventProgress {
		p := e.Progress
		w.Progress = &p
	}
	return json.Marshal(w)
}

func (e Event) Terminal() bool {
	return e.Type == EventComplete || e.Type == EventFailed
}

type GenerateRequest struct {
	SessionPK   string   `json:"session_pk"`
	ProgrammePK string   `json:"programme_pk"`
	SemesterPK  string   `json:"semester_pk"`
	Entries     []string `json:"entries"`
	Format      string   `json:"output_format"`
}

type Selection struct {
	SessionPK   string
	ProgrammePK string
	SemesterPK  string
}

func (s Selection) Complete() bool {
	return s.SessionPK != "" && s.ProgrammePK != "" && s.SemesterPK != ""
}

type GenerateResponse struct {
	TaskID string `json:"task_id"`
}

type DownloadResult struct {
	FileName string
	Size     int64
	Content  io.ReadCloser
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

var (
	ErrTaskNotFound      = errors.New("task not found")
	ErrTaskExists        = errors.New("task already exists")
	ErrTaskFailed        = errors.New("task failed")
	ErrTaskExpired       = errors.New("task expired")
	ErrTaskNotReady      = errors.New("task not ready")
	ErrNoEntries         = errors.New("no entries selected")
	ErrIncompleteFilter  = errors.New("session, programme and semester are required")
	ErrUnsupportedFormat = errors.New("unsupported output format")
	ErrFileNotFound      = errors.New("file not found")
	ErrBusy              = errors.New("too many tasks in progress")
)
