// Package render fills a DOCX certificate template with record fields.
//
// Placeholders are written in the template as {{ fieldName }}. Word often
// splits text into several runs while editing, so a placeholder may have
// markup between its characters; such markup is dropped together with the
// placeholder.
package render

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/you-humble/degreegen/internal/domain"

	"github.com/klauspost/compress/zip"
)

var (
	placeholderRe = regexp.MustCompile(`\{(?:<[^>]*>)*\{((?:<[^>]*>|\s|[A-Za-z0-9_])+?)\}(?:<[^>]*>)*\}`)
	markupRe      = regexp.MustCompile(`<[^>]*>|\s`)
	identRe       = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

type DocxRenderer struct {
	template []byte
}

func NewDocxRenderer(templatePath string) (*DocxRenderer, error) {
	data, err := os.ReadFile(templatePath)
	if err != nil {
		return nil, fmt.Errorf("read template %q: %w", templatePath, err)
	}
	return NewDocxRendererFromBytes(data)
}

func NewDocxRendererFromBytes(template []byte) (*DocxRenderer, error) {
	zr, err := zip.NewReader(bytes.NewReader(template), int64(len(template)))
	if err != nil {
		return nil, fmt.Errorf("template is not a docx archive: %w", err)
	}
	found := false
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("template has no word/document.xml")
	}

	return &DocxRenderer{template: template}, nil
}

// Render returns a new DOCX with every placeholder replaced. Unknown
// placeholders render as empty text.
func (r *DocxRenderer) Render(fields domain.Fields) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(r.template), int64(len(r.template)))
	if err != nil {
		return nil, fmt.Errorf("open template: %w", err)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	for _, f := range zr.File {
		if err := copyEntry(zw, f, fields); err != nil {
			_ = zw.Close()
			return nil, fmt.Errorf("render %s: %w", f.Name, err)
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close docx: %w", err)
	}
	return buf.Bytes(), nil
}

func copyEntry(zw *zip.Writer, f *zip.File, fields domain.Fields) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:     f.Name,
		Method:   f.Method,
		Modified: f.Modified,
	})
	if err != nil {
		return err
	}

	if !isTextPart(f.Name) {
		_, err = io.Copy(w, rc)
		return err
	}

	data, err := io.ReadAll(rc)
	if err != nil {
		return err
	}
	_, err = w.Write(Substitute(data, fields))
	return err
}

func isTextPart(name string) bool {
	if name == "word/document.xml" {
		return true
	}
	if !strings.HasPrefix(name, "word/") || !strings.HasSuffix(name, ".xml") {
		return false
	}
	base := strings.TrimPrefix(name, "word/")
	return strings.HasPrefix(base, "header") || strings.HasPrefix(base, "footer")
}

// Substitute replaces {{ name }} placeholders in an XML part with the
// escaped field values.
func Substitute(part []byte, fields domain.Fields) []byte {
	return placeholderRe.ReplaceAllFunc(part, func(m []byte) []byte {
		inner := placeholderRe.FindSubmatch(m)[1]
		name := markupRe.ReplaceAllString(string(inner), "")
		if !identRe.MatchString(name) {
			return m
		}
		var out bytes.Buffer
		_ = xml.EscapeText(&out, []byte(fields[name]))
		return out.Bytes()
	})
}
