// Package filestorage provides byte-oriented storages addressed by relative,
// slash-separated keys. Implementations are interchangeable: callers never
// depend on the concrete backend.
package filestorage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

// ErrNotFound is returned (possibly wrapped) when a key does not exist.
var ErrNotFound = errors.New("file not found")

// FileStorage reads and writes opaque blobs.
type FileStorage interface {
	// Read returns the content stored at key. The caller closes the reader.
	Read(ctx context.Context, key string) (io.ReadCloser, error)
	// Write replaces the content stored at key.
	Write(ctx context.Context, key string, r io.Reader) error
	// Exists reports whether key has content.
	Exists(ctx context.Context, key string) (bool, error)
}

// Location describes where fs keeps its blobs, for logs. Storages that do
// not tell are described by their type.
func Location(fs FileStorage) string {
	if l, ok := fs.(interface{ Location() string }); ok {
		return l.Location()
	}
	return fmt.Sprintf("%T", fs)
}

// Entry is a stored key and its size in bytes, or -1 if unknown.
type Entry struct {
	Key  string
	Size int64
}

// Lister is implemented by storages that can enumerate their keys.
type Lister interface {
	List(ctx context.Context, prefix string) ([]Entry, error)
}

// HTTPError carries a non-2xx response of a remote storage.
type HTTPError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	msg := fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.URL, e.StatusCode)
	if body := strings.TrimSpace(e.Body); body != "" {
		msg += ": " + body
	}
	return msg
}

// Is makes a 404 response match ErrNotFound.
func (e *HTTPError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == 404
}

// CleanKey validates a key and returns it in canonical form.
func CleanKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("key is required")
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return "", fmt.Errorf("invalid key %q: must be a relative slash-separated path", key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return "", fmt.Errorf("invalid key %q: must not leave the storage root", key)
		}
	}
	return path.Clean(key), nil
}

// ReadAll reads the full content at key.
func ReadAll(ctx context.Context, fs FileStorage, key string) ([]byte, error) {
	rc, err := fs.Read(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
