package filestorage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

type CacheMetrics struct {
	Hits   uint64
	Misses uint64
}

// CachedStorage keeps recently read blobs of an origin storage in memory.
// Writes go to the origin and evict the cached blob; the next read fetches
// it again.
type CachedStorage struct {
	origin FileStorage
	blobs  *lru.Cache[string, []byte]

	// gen is bumped around every write. A read that misses only fills the
	// cache if no write started or finished while it read the origin.
	mu  sync.Mutex
	gen uint64

	hits   atomic.Uint64
	misses atomic.Uint64
}

func NewCached(origin FileStorage, maxEntries int) (*CachedStorage, error) {
	if origin == nil {
		return nil, fmt.Errorf("origin storage is required")
	}
	if maxEntries <= 0 {
		maxEntries = 256
	}
	blobs, err := lru.New[string, []byte](maxEntries)
	if err != nil {
		return nil, err
	}
	return &CachedStorage{origin: origin, blobs: blobs}, nil
}

func (s *CachedStorage) Read(ctx context.Context, key string) (io.ReadCloser, error) {
	if raw, ok := s.blobs.Get(key); ok {
		s.hits.Add(1)
		return io.NopCloser(bytes.NewReader(raw)), nil
	}
	s.misses.Add(1)
	gen := s.generation()
	raw, err := ReadAll(ctx, s.origin, key)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.gen == gen {
		s.blobs.Add(key, raw)
	}
	s.mu.Unlock()
	return io.NopCloser(bytes.NewReader(raw)), nil
}

func (s *CachedStorage) Write(ctx context.Context, key string, r io.Reader) error {
	s.invalidate(key)
	defer s.invalidate(key)
	return s.origin.Write(ctx, key, r)
}

func (s *CachedStorage) generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

func (s *CachedStorage) invalidate(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.blobs.Remove(key)
}

func (s *CachedStorage) Location() string { return Location(s.origin) }

func (s *CachedStorage) Exists(ctx context.Context, key string) (bool, error) {
	if s.blobs.Contains(key) {
		return true, nil
	}
	return s.origin.Exists(ctx, key)
}

// List delegates to the origin if it can list.
func (s *CachedStorage) List(ctx context.Context, prefix string) ([]Entry, error) {
	l, ok := s.origin.(Lister)
	if !ok {
		return nil, fmt.Errorf("storage %T cannot list keys", s.origin)
	}
	return l.List(ctx, prefix)
}

func (s *CachedStorage) Metrics() CacheMetrics {
	return CacheMetrics{Hits: s.hits.Load(), Misses: s.misses.Load()}
}
