package converter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const (
	DefaultBinary       = "libreoffice"
	DefaultFormat       = "pdf"
	DefaultMaxRetries   = 100
	DefaultInitialDelay = time.Second
	DefaultRetryDelay   = 2 * time.Second
)

var ErrRetriesExhausted = errors.New("conversion retries exhausted")

// ExhaustedError is returned when every attempt failed. Output is the path
// the converted file would have had.
type ExhaustedError struct {
	Source   string
	Output   string
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("convert %s: failed after %d attempts: %v", e.Source, e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() []error {
	return []error{ErrRetriesExhausted, e.Last}
}

type Config struct {
	Binary       string
	Format       string
	MaxRetries   int
	InitialDelay time.Duration
	RetryDelay   time.Duration
}

func (c *Config) withDefaults() {
	if c.Binary == "" {
		c.Binary = DefaultBinary
	}
	if c.Format == "" {
		c.Format = DefaultFormat
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.InitialDelay < 0 {
		c.InitialDelay = 0
	}
	if c.RetryDelay < 0 {
		c.RetryDelay = 0
	}
}

// LibreOffice converts documents by running the office binary in headless
// mode, one process per document.
type LibreOffice struct {
	cfg Config
}

func NewLibreOffice(cfg Config) *LibreOffice {
	cfg.withDefaults()
	return &LibreOffice{cfg: cfg}
}

// OutputPath is the sibling of src with the target extension.
func (l *LibreOffice) OutputPath(src string) string {
	base := filepath.Base(src)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(filepath.Dir(src), name+"."+l.cfg.Format)
}

// Convert runs the converter until it exits with status zero or
// MaxRetries attempts have failed. It always returns the expected output
// path; callers must check the file exists.
func (l *LibreOffice) Convert(ctx context.Context, src string) (string, error) {
	out := l.OutputPath(src)
	logger := slog.With(slog.String("source", src))

	if err := wait(ctx, l.cfg.InitialDelay); err != nil {
		return out, err
	}

	var lastErr error
	for attempt := 1; attempt <= l.cfg.MaxRetries; attempt++ {
		lastErr = l.runOnce(ctx, src)
		if lastErr == nil {
			logger.Debug("converted",
				slog.String("output", out),
				slog.Int("attempt", attempt),
			)
			return out, nil
		}

		logger.Error("conversion attempt failed",
			slog.Int("attempt", attempt),
			slog.Int("max_retries", l.cfg.MaxRetries),
			slog.String("error", lastErr.Error()),
		)

		if attempt == l.cfg.MaxRetries {
			break
		}
		if err := wait(ctx, l.cfg.RetryDelay); err != nil {
			return out, fmt.Errorf("convert %s: %w", src, err)
		}
	}

	logger.Error("conversion abandoned", slog.Int("attempts", l.cfg.MaxRetries))
	return out, &ExhaustedError{
		Source:   src,
		Output:   out,
		Attempts: l.cfg.MaxRetries,
		Last:     lastErr,
	}
}

func (l *LibreOffice) runOnce(ctx context.Context, src string) error {
	cmd := exec.CommandContext(ctx, l.cfg.Binary,
		"--headless",
		"--convert-to", l.cfg.Format,
		src,
		"--outdir", filepath.Dir(src),
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%w: %s", err, msg)
		}
		return err
	}
	return nil
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
