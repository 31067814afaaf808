// Package local extracts resume text in-process: PDF through unipdf, DOCX
// through the docx reader and plain text as-is. The format is sniffed from the
// content, with the file extension as a tie breaker.
package local

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/nguyenthenguyen/docx"
	"github.com/unidoc/unipdf/v3/common/license"
	"github.com/unidoc/unipdf/v3/extractor"
	"github.com/unidoc/unipdf/v3/model"

	"github.com/fairyhunter13/resume-analyzer/pkg/textx"
)

const (
	mimePDF  = "application/pdf"
	mimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	mimeText = "text/plain"
)

// ErrUnsupportedFormat is returned for documents no local reader handles.
var ErrUnsupportedFormat = errors.New("unsupported document format")

// Extractor implements domain.TextExtractor without external services.
type Extractor struct{}

// New returns an Extractor. A non-empty licenseKey activates unipdf metered licensing.
func New(licenseKey string) (*Extractor, error) {
	if key := strings.TrimSpace(licenseKey); key != "" {
		if err := license.SetMeteredKey(key); err != nil {
			return nil, fmt.Errorf("op=local.New: set unidoc license: %w", err)
		}
	}
	return &Extractor{}, nil
}

// Extract returns the normalized text of data.
func (e *Extractor) Extract(ctx context.Context, fileName string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", errors.New("op=local.Extract: empty document")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var (
		text string
		err  error
	)
	switch kind := Detect(fileName, data); kind {
	case mimePDF:
		text, err = extractPDF(data)
	case mimeDOCX:
		text, err = extractDOCX(data)
	case mimeText:
		if !utf8.Valid(data) {
			return "", errors.New("op=local.Extract: text is not valid UTF-8")
		}
		text = string(data)
	default:
		return "", fmt.Errorf("op=local.Extract: %w: %s", ErrUnsupportedFormat, kind)
	}
	if err != nil {
		return "", fmt.Errorf("op=local.Extract: %w", err)
	}
	text = textx.Normalize(text)
	if text == "" {
		return "", errors.New("op=local.Extract: no text extracted")
	}
	return text, nil
}

// Detect returns the base MIME type of data. Zip containers and unknown
// binaries fall back to the extension.
func Detect(fileName string, data []byte) string {
	m := mimetype.Detect(data)
	switch {
	case m.Is(mimePDF):
		return mimePDF
	case m.Is(mimeDOCX):
		return mimeDOCX
	case m.Is(mimeText):
		return mimeText
	}
	ext := strings.ToLower(filepath.Ext(fileName))
	if ext == ".docx" && m.Is("application/zip") {
		return mimeDOCX
	}
	if ext == ".txt" && utf8.Valid(data) {
		return mimeText
	}
	return strings.SplitN(m.String(), ";", 2)[0]
}

func extractPDF(data []byte) (string, error) {
	reader, err := model.NewPdfReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("read pdf: %w", err)
	}
	numPages, err := reader.GetNumPages()
	if err != nil {
		return "", fmt.Errorf("get page count: %w", err)
	}
	if numPages == 0 {
		return "", errors.New("pdf has no pages")
	}

	var b strings.Builder
	for i := 1; i <= numPages; i++ {
		page, err := reader.GetPage(i)
		if err != nil {
			slog.Warn("skipping unreadable pdf page", slog.Int("page", i), slog.Any("error", err))
			continue
		}
		ex, err := extractor.New(page)
		if err != nil {
			slog.Warn("skipping pdf page", slog.Int("page", i), slog.Any("error", err))
			continue
		}
		pageText, err := ex.ExtractText()
		if err != nil {
			slog.Warn("skipping pdf page", slog.Int("page", i), slog.Any("error", err))
			continue
		}
		b.WriteString(pageText)
		b.WriteString("\n")
	}
	return b.String(), nil
}

func extractDOCX(data []byte) (string, error) {
	r, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("read docx: %w", err)
	}
	defer func() { _ = r.Close() }()
	return textx.StripXML(r.Editable().GetContent()), nil
}
