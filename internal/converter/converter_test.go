package converter

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
)

// okScript mimics "soffice --headless --convert-to <fmt> <in> --outdir <dir>".
const okScript = `#!/bin/sh
base=$(basename "$4")
printf '%%PDF-1.4' > "$6/${base%.*}.$3"
`

// failScript records each call in $COUNTER and fails.
const failScript = `#!/bin/sh
echo call >> "$COUNTER"
echo "lock held" >&2
exit 1
`

// flakyScript fails until it has been called $SUCCEED_AT times.
const flakyScript = `#!/bin/sh
echo call >> "$COUNTER"
n=$(grep -c call "$COUNTER")
if [ "$n" -lt "$SUCCEED_AT" ]; then exit 1; fi
base=$(basename "$4")
printf '%%PDF-1.4' > "$6/${base%.*}.$3"
`

func writeScript(c *qt.C, body string) string {
	if runtime.GOOS == "windows" {
		c.Skip("shell scripts are not supported on windows")
	}
	path := filepath.Join(c.TempDir(), "fake-office")
	c.Assert(os.WriteFile(path, []byte(body), 0o755), qt.IsNil)
	return path
}

func stageDoc(c *qt.C, dir, name string) string {
	path := filepath.Join(dir, name)
	c.Assert(os.WriteFile(path, []byte("docx"), 0o644), qt.IsNil)
	return path
}

func countCalls(c *qt.C, counter string) int {
	data, err := os.ReadFile(counter)
	if errors.Is(err, os.ErrNotExist) {
		return 0
	}
	c.Assert(err, qt.IsNil)
	return strings.Count(string(data), "call")
}

func TestOutputPath(t *testing.T) {
	c := qt.New(t)

	l := NewLibreOffice(Config{})
	c.Check(l.OutputPath("/tmp/x/E001.docx"), qt.Equals, "/tmp/x/E001.pdf")
	c.Check(l.OutputPath("/tmp/x/a.b.docx"), qt.Equals, "/tmp/x/a.b.pdf")
}

func TestConfigDefaults(t *testing.T) {
	c := qt.New(t)

	l := NewLibreOffice(Config{})
	c.Check(l.cfg.Binary, qt.Equals, DefaultBinary)
	c.Check(l.cfg.Format, qt.Equals, "pdf")
	c.Check(l.cfg.MaxRetries, qt.Equals, 100)
	c.Check(l.cfg.InitialDelay, qt.Equals, time.Duration(0))
}

func TestConvertSuccess(t *testing.T) {
	c := qt.New(t)

	bin := writeScript(c, okScript)
	src := stageDoc(c, c.TempDir(), "E001.docx")

	l := NewLibreOffice(Config{Binary: bin, MaxRetries: 3})
	out, err := l.Convert(context.Background(), src)
	c.Assert(err, qt.IsNil)
	c.Check(out, qt.Equals, strings.TrimSuffix(src, ".docx")+".pdf")

	_, err = os.Stat(out)
	c.Check(err, qt.IsNil)
}

func TestConvertRetriesUntilSuccess(t *testing.T) {
	c := qt.New(t)

	bin := writeScript(c, flakyScript)
	counter := filepath.Join(c.TempDir(), "calls")
	c.Setenv("COUNTER", counter)
	c.Setenv("SUCCEED_AT", "3")
	src := stageDoc(c, c.TempDir(), "E002.docx")

	l := NewLibreOffice(Config{Binary: bin, MaxRetries: 5, RetryDelay: time.Millisecond})
	out, err := l.Convert(context.Background(), src)
	c.Assert(err, qt.IsNil)
	c.Check(countCalls(c, counter), qt.Equals, 3)

	_, err = os.Stat(out)
	c.Check(err, qt.IsNil)
}

func TestConvertGivesUpAfterMaxRetries(t *testing.T) {
	c := qt.New(t)

	bin := writeScript(c, failScript)
	counter := filepath.Join(c.TempDir(), "calls")
	c.Setenv("COUNTER", counter)
	src := stageDoc(c, c.TempDir(), "E003.docx")

	l := NewLibreOffice(Config{Binary: bin, MaxRetries: 4, RetryDelay: time.Millisecond})
	out, err := l.Convert(context.Background(), src)

	c.Assert(err, qt.ErrorIs, ErrRetriesExhausted)
	var exhausted *ExhaustedError
	c.Assert(errors.As(err, &exhausted), qt.IsTrue)
	c.Check(exhausted.Attempts, qt.Equals, 4)
	c.Check(err, qt.ErrorMatches, `.*lock held.*`)

	c.Check(countCalls(c, counter), qt.Equals, 4)
	c.Check(out, qt.Equals, strings.TrimSuffix(src, ".docx")+".pdf")
	_, err = os.Stat(out)
	c.Check(os.IsNotExist(err), qt.IsTrue)
}

func TestConvertMissingBinaryIsRetried(t *testing.T) {
	c := qt.New(t)

	src := stageDoc(c, c.TempDir(), "E004.docx")
	l := NewLibreOffice(Config{
		Binary:     filepath.Join(c.TempDir(), "does-not-exist"),
		MaxRetries: 2,
	})

	_, err := l.Convert(context.Background(), src)
	var exhausted *ExhaustedError
	c.Assert(errors.As(err, &exhausted), qt.IsTrue)
	c.Check(exhausted.Attempts, qt.Equals, 2)
}

func TestConvertStopsOnCancel(t *testing.T) {
	c := qt.New(t)

	bin := writeScript(c, failScript)
	c.Setenv("COUNTER", filepath.Join(c.TempDir(), "calls"))
	src := stageDoc(c, c.TempDir(), "E005.docx")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	l := NewLibreOffice(Config{Binary: bin, MaxRetries: 100, RetryDelay: time.Hour})
	start := time.Now()
	_, err := l.Convert(ctx, src)

	c.Check(err, qt.ErrorIs, context.DeadlineExceeded)
	c.Check(time.Since(start) < 10*time.Second, qt.IsTrue)
}
