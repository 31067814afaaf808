package local

import (
	"archive/zip"
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildDOCX(t *testing.T, body string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	files := map[string]string{
		"[Content_Types].xml": `<?xml version="1.0" encoding="UTF-8"?><Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types"><Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/></Types>`,
		"word/_rels/document.xml.rels": `<?xml version="1.0" encoding="UTF-8"?><Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships"></Relationships>`,
		"word/document.xml":   `<?xml version="1.0" encoding="UTF-8"?><w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` + body + `</w:body></w:document>`,
	}
	for _, name := range []string{"[Content_Types].xml", "word/document.xml", "word/_rels/document.xml.rels"} {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(files[name]))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestExtract_PlainText(t *testing.T) {
	t.Parallel()
	e, err := New("")
	require.NoError(t, err)

	got, err := e.Extract(context.Background(), "resume.txt", []byte("Jane Doe\n\nSkills:\tPHP, Laravel\x00"))
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe Skills: PHP, Laravel", got)
}

func TestExtract_DOCX(t *testing.T) {
	t.Parallel()
	e, err := New("")
	require.NoError(t, err)

	data := buildDOCX(t, `<w:p><w:r><w:t>Jane Doe</w:t></w:r></w:p><w:p><w:r><w:t>Go &amp; PHP</w:t></w:r></w:p>`)
	got, err := e.Extract(context.Background(), "resume.docx", data)
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe Go & PHP", got)
}

func TestExtract_Errors(t *testing.T) {
	t.Parallel()
	e, err := New("")
	require.NoError(t, err)

	t.Run("empty", func(t *testing.T) {
		_, err := e.Extract(context.Background(), "resume.txt", nil)
		require.Error(t, err)
	})
	t.Run("unsupported", func(t *testing.T) {
		png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
		_, err := e.Extract(context.Background(), "resume.png", png)
		require.ErrorIs(t, err, ErrUnsupportedFormat)
	})
	t.Run("broken pdf", func(t *testing.T) {
		_, err := e.Extract(context.Background(), "resume.pdf", []byte("%PDF-1.4\nnot really a pdf"))
		require.Error(t, err)
	})
	t.Run("blank text", func(t *testing.T) {
		_, err := e.Extract(context.Background(), "resume.txt", []byte("   \n  "))
		require.Error(t, err)
	})
	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := e.Extract(ctx, "resume.txt", []byte("text"))
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestDetect(t *testing.T) {
	t.Parallel()
	assert.Equal(t, mimePDF, Detect("x.bin", []byte("%PDF-1.7\n%\xe2\xe3\xcf\xd3\n")))
	assert.Equal(t, mimeText, Detect("notes.txt", []byte("hello")))
	assert.Equal(t, mimeDOCX, Detect("cv.docx", buildDOCX(t, "<w:p/>")))
}
