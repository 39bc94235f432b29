package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/zhernovs/ort/internal/filestorage"
	"github.com/zhernovs/ort/internal/model"
)

// FileBased keeps one YAML container per provenance key in a FileStorage.
// Adds are read-append-write cycles over the whole container; they are
// serialized per key within the process.
type FileBased struct {
	fs    filestorage.FileStorage
	locks *keyLock
}

type FileBasedOption func(*FileBased)

// WithoutWriteLock disables per-key serialization of adds. Concurrent adds
// for the same key may then lose updates.
func WithoutWriteLock() FileBasedOption {
	return func(f *FileBased) { f.locks = nil }
}

func NewFileBased(fs filestorage.FileStorage, opts ...FileBasedOption) *FileBased {
	f := &FileBased{fs: fs, locks: newKeyLock()}
	for _, o := range opts {
		o(f)
	}
	return f
}

func (f *FileBased) Name() string { return "FileBasedStorage" }

func (f *FileBased) Location() string { return filestorage.Location(f.fs) }

// FileStorage returns the underlying blob storage.
func (f *FileBased) FileStorage() filestorage.FileStorage { return f.fs }

// ReadContainer loads the container at key. A missing key yields an empty
// container and found == false.
func (f *FileBased) ReadContainer(ctx context.Context, key string) (c model.ScanResultContainer, found bool, err error) {
	raw, err := filestorage.ReadAll(ctx, f.fs, key)
	if err != nil {
		if errors.Is(err, filestorage.ErrNotFound) {
			return model.ScanResultContainer{Results: []model.ScanResult{}}, false, nil
		}
		return model.ScanResultContainer{}, false, &StorageError{Op: "read", Key: key, Err: err}
	}
	c, err = DecodeContainer(bytes.NewReader(raw))
	if err != nil {
		return model.ScanResultContainer{}, false, &StorageError{Op: "decode", Key: key, Err: err}
	}
	return c, true, nil
}

// WriteContainer replaces the container at key.
func (f *FileBased) WriteContainer(ctx context.Context, key string, c model.ScanResultContainer) error {
	b, err := EncodeContainer(c)
	if err != nil {
		return err
	}
	if err := f.fs.Write(ctx, key, bytes.NewReader(b)); err != nil {
		return &StorageError{Op: "write", Key: key, Err: err}
	}
	return nil
}

// ReadPackage concatenates the containers of the package's source artifact
// and repository keys. Unreadable containers are logged and skipped.
func (f *FileBased) ReadPackage(ctx context.Context, pkg model.Package) ([]model.ScanResult, error) {
	var results []model.ScanResult
	for _, key := range PackageKeys(pkg) {
		c, found, err := f.ReadContainer(ctx, key)
		if err != nil {
			slog.InfoContext(ctx, "could not read scan results", "key", key, "reason", err)
			continue
		}
		if !found {
			continue
		}
		results = append(results, c.Results...)
	}
	return results, nil
}

// AddResult appends result to the container at the result's provenance key.
// An existing container that cannot be read is never overwritten.
func (f *FileBased) AddResult(ctx context.Context, id model.Identifier, result model.ScanResult) error {
	key, ok := ResultKey(result.Provenance)
	if !ok {
		return &StorageError{Op: "add", Err: fmt.Errorf("scan result for %s has no provenance url", id.Coordinates())}
	}
	if f.locks != nil {
		unlock := f.locks.Lock(key)
		defer unlock()
	}

	c, found, err := f.ReadContainer(ctx, key)
	if err != nil {
		return err
	}
	if !found || c.ID.IsZero() {
		c.ID = id
	}
	c.Results = append(c.Results, result)
	if err := f.WriteContainer(ctx, key, c); err != nil {
		return err
	}
	slog.InfoContext(ctx, "stored scan result", "package", id.Coordinates(), "key", key)
	return nil
}

// UpdateContainer rewrites the container at key with fn under the key's
// write lock. fn reports whether it changed the container; unchanged
// containers are not written back. A missing key is not an error and fn is
// not called.
func (f *FileBased) UpdateContainer(ctx context.Context, key string, fn func(*model.ScanResultContainer) (bool, error)) (found bool, err error) {
	if f.locks != nil {
		unlock := f.locks.Lock(key)
		defer unlock()
	}
	c, found, err := f.ReadContainer(ctx, key)
	if err != nil || !found {
		return found, err
	}
	changed, err := fn(&c)
	if err != nil || !changed {
		return true, err
	}
	return true, f.WriteContainer(ctx, key, c)
}
