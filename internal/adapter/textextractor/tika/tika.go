// Package tika provides Apache Tika integration for text extraction.
//
// Documents are uploaded with PUT /tika and the plain text rendition is
// returned, sanitized and whitespace-collapsed.
package tika

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/fairyhunter13/resume-analyzer/pkg/textx"
)

const defaultBaseURL = "http://localhost:9998"

// Client is a minimal Apache Tika HTTP client implementing domain.TextExtractor.
// See: https://tika.apache.org/server/ for API details.
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxRetries uint64
}

// New constructs a Tika client with a default timeout.
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		maxRetries: 2,
	}
}

// Extract uploads data to the Tika server and returns plain text.
func (c *Client) Extract(ctx context.Context, fileName string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", errors.New("empty document")
	}

	var result string
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+"/tika", bytes.NewReader(data))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "text/plain")
		if ct := contentTypeFromExt(filepath.Ext(fileName)); ct != "" {
			req.Header.Set("Content-Type", ct)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode >= 500 {
			return fmt.Errorf("tika status %d", resp.StatusCode)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return backoff.Permanent(fmt.Errorf("tika status %d", resp.StatusCode))
		}
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		result = textx.Normalize(string(b))
		return nil
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = 200 * time.Millisecond
	expo.MaxInterval = 2 * time.Second
	bo := backoff.WithContext(backoff.WithMaxRetries(expo, c.maxRetries), ctx)
	if err := backoff.Retry(operation, bo); err != nil {
		slog.Warn("tika extraction failed", slog.String("file", fileName), slog.Any("error", err))
		return "", fmt.Errorf("op=tika.Extract: %w", err)
	}
	if result == "" {
		return "", errors.New("op=tika.Extract: no text extracted")
	}
	return result, nil
}

func contentTypeFromExt(ext string) string {
	ext = strings.ToLower(ext)
	switch ext {
	case ".pdf":
		return "application/pdf"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ".doc":
		return "application/msword"
	case ".txt":
		return "text/plain"
	default:
		if ext != "" {
			return mime.TypeByExtension(ext)
		}
	}
	return ""
}
