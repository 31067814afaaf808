// Package fsstore is a filesystem-backed domain.DocumentStore. Blobs are
// written once under resumes/ with ULID locators and never rewritten.
package fsstore

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/resume-analyzer/internal/domain"
)

const prefix = "resumes"

// Store keeps documents below Root.
type Store struct {
	Root string

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
	now     func() time.Time
}

// New creates the resumes directory under root.
func New(root string) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("op=fsstore.New: %w: empty root", domain.ErrInvalidArgument)
	}
	if err := os.MkdirAll(filepath.Join(root, prefix), 0o750); err != nil {
		return nil, fmt.Errorf("op=fsstore.New: %w", err)
	}
	return &Store{Root: root, entropy: ulid.Monotonic(rand.Reader, 0), now: time.Now}, nil
}

func (s *Store) newID() (ulid.ULID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.New(ulid.Timestamp(s.now()), s.entropy)
}

// Put writes data under a fresh locator such as resumes/01J...Q.pdf.
func (s *Store) Put(ctx context.Context, data []byte, ext string) (string, error) {
	_, span := otel.Tracer("storage.fs").Start(ctx, "Store.Put")
	defer span.End()

	id, err := s.newID()
	if err != nil {
		return "", fmt.Errorf("op=fsstore.Put: %w", err)
	}
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	locator := path.Join(prefix, id.String())
	if ext != "" {
		locator += "." + ext
	}
	span.SetAttributes(attribute.String("locator", locator), attribute.Int("bytes", len(data)))

	full, err := s.resolve(locator)
	if err != nil {
		return "", err
	}
	f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return "", fmt.Errorf("op=fsstore.Put: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(full)
		return "", fmt.Errorf("op=fsstore.Put: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(full)
		return "", fmt.Errorf("op=fsstore.Put: %w", err)
	}
	return locator, nil
}

// Get returns the blob at locator or domain.ErrDocumentNotFound.
func (s *Store) Get(ctx context.Context, locator string) ([]byte, error) {
	_, span := otel.Tracer("storage.fs").Start(ctx, "Store.Get")
	defer span.End()

	full, err := s.resolve(locator)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(full) //nolint:gosec // path is confined to Root by resolve.
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("op=fsstore.Get: %w: %s", domain.ErrDocumentNotFound, locator)
	}
	if err != nil {
		return nil, fmt.Errorf("op=fsstore.Get: %w", err)
	}
	return b, nil
}

// Exists reports whether a blob is stored at locator.
func (s *Store) Exists(_ context.Context, locator string) (bool, error) {
	full, err := s.resolve(locator)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(full)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("op=fsstore.Exists: %w", err)
	}
	return true, nil
}

// Delete removes the blob at locator. Missing blobs are not an error.
func (s *Store) Delete(_ context.Context, locator string) error {
	full, err := s.resolve(locator)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("op=fsstore.Delete: %w", err)
	}
	return nil
}

// resolve maps a locator to a path below Root, rejecting traversal.
func (s *Store) resolve(locator string) (string, error) {
	clean := path.Clean("/" + locator)[1:]
	if clean == "" || clean != locator || !strings.HasPrefix(clean, prefix+"/") {
		return "", fmt.Errorf("op=fsstore.resolve: %w: bad locator %q", domain.ErrDocumentNotFound, locator)
	}
	return filepath.Join(s.Root, filepath.FromSlash(clean)), nil
}
