package storage

import (
	"bytes"
	"context"
	"fmt"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhernovs/ort/internal/config"
	"github.com/zhernovs/ort/internal/filestorage"
	"github.com/zhernovs/ort/internal/model"
)

func strPtr(s string) *string { return &s }

var (
	scanCode = model.ScannerDetails{Name: "ScanCode", Version: "3.2.1", Configuration: "--copyright --license"}

	artifact = model.RemoteArtifact{URL: "http://x/a.tgz", Hash: "0123abcd", HashAlgorithm: "SHA-1"}
	vcs      = model.VcsInfo{Type: "Git", URL: "https://github.com/oss/a.git", Revision: "v1.0.0"}

	pkgA = model.Package{
		ID:             model.Identifier{Type: "NPM", Name: "a", Version: "1.0.0"},
		SourceArtifact: artifact,
		VcsProcessed:   vcs,
	}
)

func artifactResult(fileCount int) model.ScanResult {
	a := artifact
	return model.ScanResult{
		Provenance: model.Provenance{SourceArtifact: &a},
		Scanner:    scanCode,
		Summary: model.ScanSummary{
			FileCount: fileCount,
			LicenseFindings: []model.LicenseFinding{
				{License: "MIT", Location: model.TextLocation{Path: "package/LICENSE", StartLine: 1, EndLine: 21}},
			},
		},
		RawResult: model.RawResult(`{"files":[]}`),
	}
}

func vcsResult(revision string) model.ScanResult {
	v := vcs
	v.Revision = revision
	v.ResolvedRevision = strPtr("0f1e2d3c")
	orig := vcs
	orig.Revision = revision
	return model.ScanResult{
		Provenance: model.Provenance{VcsInfo: &v, OriginalVcsInfo: &orig},
		Scanner:    scanCode,
		Summary:    model.ScanSummary{FileCount: 3},
		RawResult:  model.RawResult(`{}`),
	}
}

func newLocal(t *testing.T, opts ...FileBasedOption) (*ScanResultsStorage, *FileBased) {
	t.Helper()
	fs, err := filestorage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	fb := NewFileBased(fs, opts...)
	return New(fb), fb
}

func TestReadStoredArtifactResult(t *testing.T) {
	ctx := context.Background()
	s, _ := newLocal(t)

	res, err := s.Add(ctx, pkgA.ID, artifactResult(5))
	require.NoError(t, err)
	require.True(t, res.Success, res.Message)

	c, err := s.Read(ctx, pkgA)
	require.NoError(t, err)
	require.Equal(t, pkgA.ID, c.ID)
	require.Len(t, c.Results, 1)
	if diff := cmp.Diff(artifactResult(5), c.Results[0], cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("stored result mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, model.AccessSnapshot{NumReads: 1, NumHits: 1}, s.Stats())
}

func TestReadBlankURLs(t *testing.T) {
	ctx := context.Background()
	s, _ := newLocal(t)
	pkg := model.Package{ID: model.Identifier{Type: "NPM", Name: "b", Version: "1"}}

	c, err := s.Read(ctx, pkg)
	require.NoError(t, err)
	require.NotNil(t, c.Results)
	require.Empty(t, c.Results)

	c, err = s.ReadCompatible(ctx, pkg, scanCode)
	require.NoError(t, err)
	require.Empty(t, c.Results)
	require.Equal(t, model.AccessSnapshot{NumReads: 2, NumHits: 0}, s.Stats())
}

func TestReadConcatenatesArtifactAndRepository(t *testing.T) {
	ctx := context.Background()
	s, _ := newLocal(t)

	for _, r := range []model.ScanResult{artifactResult(5), vcsResult("v1.0.0")} {
		res, err := s.Add(ctx, pkgA.ID, r)
		require.NoError(t, err)
		require.True(t, res.Success, res.Message)
	}

	c, err := s.Read(ctx, pkgA)
	require.NoError(t, err)
	require.Len(t, c.Results, 2)
	require.NotNil(t, c.Results[0].Provenance.SourceArtifact)
	require.NotNil(t, c.Results[1].Provenance.VcsInfo)
}

func TestAddRejections(t *testing.T) {
	ctx := context.Background()
	s, fb := newLocal(t)

	noFiles := artifactResult(0)
	res, err := s.Add(ctx, pkgA.ID, noFiles)
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Contains(t, res.Message, "no files were scanned")

	nullRaw := artifactResult(2)
	nullRaw.RawResult = nil
	res, err = s.Add(ctx, pkgA.ID, nullRaw)
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Contains(t, res.Message, "raw result is null")

	noProvenance := artifactResult(2)
	noProvenance.Provenance = model.Provenance{}
	res, err = s.Add(ctx, pkgA.ID, noProvenance)
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Contains(t, res.Message, "no provenance information")

	ok, err := fb.FileStorage().Exists(ctx, SourceArtifactKey(artifact))
	require.NoError(t, err)
	require.False(t, ok, "rejected results must not reach the backend")
}

func TestReadCompatibleFilters(t *testing.T) {
	ctx := context.Background()
	s, _ := newLocal(t)

	newer := artifactResult(5)
	newer.Scanner.Version = "3.3.0"
	stale := vcsResult("v0.9.0")
	for _, r := range []model.ScanResult{artifactResult(5), newer, stale, vcsResult("v1.0.0")} {
		res, err := s.Add(ctx, pkgA.ID, r)
		require.NoError(t, err)
		require.True(t, res.Success, res.Message)
	}

	all, err := s.Read(ctx, pkgA)
	require.NoError(t, err)
	require.Len(t, all.Results, 4)

	c, err := s.ReadCompatible(ctx, pkgA, scanCode)
	require.NoError(t, err)
	require.Len(t, c.Results, 2)
	for _, r := range c.Results {
		require.True(t, r.Provenance.Matches(pkgA))
		require.True(t, scanCode.IsCompatible(r.Scanner))
		require.Contains(t, all.Results, r)
	}

	other := model.ScannerDetails{Name: "Licensee", Version: "9.0.0"}
	c, err = s.ReadCompatible(ctx, pkgA, other)
	require.NoError(t, err)
	require.Empty(t, c.Results)

	require.Equal(t, model.AccessSnapshot{NumReads: 3, NumHits: 2}, s.Stats())
}

func TestReadCompatibleUsesPolicy(t *testing.T) {
	ctx := context.Background()
	fs, err := filestorage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	s := New(NewFileBased(fs), WithCompatibility(model.CompatibilityPolicy{Version: model.VersionMajor}))

	stored := artifactResult(5)
	stored.Scanner = model.ScannerDetails{Name: "ScanCode", Version: "3.9.0", Configuration: "--license"}
	res, err := s.Add(ctx, pkgA.ID, stored)
	require.NoError(t, err)
	require.True(t, res.Success)

	c, err := s.ReadCompatible(ctx, pkgA, scanCode)
	require.NoError(t, err)
	require.Len(t, c.Results, 1)
}

func TestAddNormalizesSummary(t *testing.T) {
	ctx := context.Background()
	s, _ := newLocal(t)

	r := artifactResult(2)
	mit := r.Summary.LicenseFindings[0]
	apache := model.LicenseFinding{License: "Apache-2.0", Location: model.TextLocation{Path: "NOTICE", StartLine: 1, EndLine: 1}}
	r.Summary.LicenseFindings = []model.LicenseFinding{mit, apache, mit}
	res, err := s.Add(ctx, pkgA.ID, r)
	require.NoError(t, err)
	require.True(t, res.Success)

	c, err := s.Read(ctx, pkgA)
	require.NoError(t, err)
	require.Equal(t, []model.LicenseFinding{apache, mit}, c.Results[0].Summary.LicenseFindings)
}

func TestAddKeepsContainerID(t *testing.T) {
	ctx := context.Background()
	s, fb := newLocal(t)

	res, err := s.Add(ctx, pkgA.ID, artifactResult(1))
	require.NoError(t, err)
	require.True(t, res.Success)
	other := model.Identifier{Type: "NPM", Name: "a-fork", Version: "1.0.0"}
	res, err = s.Add(ctx, other, artifactResult(2))
	require.NoError(t, err)
	require.True(t, res.Success)

	c, found, err := fb.ReadContainer(ctx, SourceArtifactKey(artifact))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, pkgA.ID, c.ID)
	require.Len(t, c.Results, 2)
}

func TestAddRefusesToOverwriteUnreadableContainer(t *testing.T) {
	ctx := context.Background()
	fs, err := filestorage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	s := New(NewFileBased(fs))

	key := SourceArtifactKey(artifact)
	require.NoError(t, fs.Write(ctx, key, strings.NewReader("results: 42\n")))

	res, err := s.Add(ctx, pkgA.ID, artifactResult(3))
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Contains(t, res.Message, "Could not store scan result")

	raw, err := filestorage.ReadAll(ctx, fs, key)
	require.NoError(t, err)
	require.Equal(t, "results: 42\n", string(raw))

	// The unreadable container reads as a miss.
	c, err := s.Read(ctx, pkgA)
	require.NoError(t, err)
	require.Empty(t, c.Results)
}

func TestContainerFileLayout(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	fs, err := filestorage.NewLocalStorage(dir)
	require.NoError(t, err)
	s := New(NewFileBased(fs))

	res, err := s.Add(ctx, pkgA.ID, vcsResult("v1.0.0"))
	require.NoError(t, err)
	require.True(t, res.Success)

	key := RepositoryKey(vcs)
	require.True(t, IsContainerKey(key))
	b, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(key)))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(b), "id: NPM::a:1.0.0\n"), string(b))
	require.Contains(t, string(b), "resolved_revision: 0f1e2d3c")
}

// fakeBackend returns canned errors.
type fakeBackend struct {
	readErr error
	addErr  error
}

func (b *fakeBackend) Name() string { return "FakeStorage" }

func (b *fakeBackend) ReadPackage(context.Context, model.Package) ([]model.ScanResult, error) {
	return nil, b.readErr
}

func (b *fakeBackend) AddResult(context.Context, model.Identifier, model.ScanResult) error {
	return b.addErr
}

func TestStorageErrorsDoNotPropagate(t *testing.T) {
	ctx := context.Background()
	boom := &StorageError{Op: "read", Key: "k", Err: errors.New("connection reset")}
	s := New(&fakeBackend{readErr: boom, addErr: boom})

	c, err := s.Read(ctx, pkgA)
	require.NoError(t, err)
	require.Empty(t, c.Results)

	res, err := s.Add(ctx, pkgA.ID, artifactResult(1))
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Contains(t, res.Message, "connection reset")
	require.Equal(t, model.AccessSnapshot{NumReads: 1}, s.Stats())
}

func TestUnexpectedErrorsPropagate(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("invariant violated")
	s := New(&fakeBackend{readErr: boom, addErr: boom})

	_, err := s.Read(ctx, pkgA)
	require.ErrorIs(t, err, boom)
	_, err = s.ReadCompatible(ctx, pkgA, scanCode)
	require.ErrorIs(t, err, boom)
	_, err = s.Add(ctx, pkgA.ID, artifactResult(1))
	require.ErrorIs(t, err, boom)
	require.Equal(t, model.AccessSnapshot{}, s.Stats())
}

func TestMetrics(t *testing.T) {
	ctx := context.Background()
	s := New(&fakeBackend{})
	reads := testutil.ToFloat64(readsCounter.WithLabelValues("FakeStorage"))
	rejected := testutil.ToFloat64(addsCounter.WithLabelValues("FakeStorage", outcomeRejected))
	stored := testutil.ToFloat64(addsCounter.WithLabelValues("FakeStorage", outcomeStored))

	_, err := s.Read(ctx, pkgA)
	require.NoError(t, err)
	_, err = s.Add(ctx, pkgA.ID, artifactResult(0))
	require.NoError(t, err)
	_, err = s.Add(ctx, pkgA.ID, artifactResult(1))
	require.NoError(t, err)

	require.Equal(t, reads+1, testutil.ToFloat64(readsCounter.WithLabelValues("FakeStorage")))
	require.Equal(t, rejected+1, testutil.ToFloat64(addsCounter.WithLabelValues("FakeStorage", outcomeRejected)))
	require.Equal(t, stored+1, testutil.ToFloat64(addsCounter.WithLabelValues("FakeStorage", outcomeStored)))
}

// racyStorage widens the window between reading and writing a container.
// With barrier set, no write proceeds before two reads have happened.
type racyStorage struct {
	*filestorage.LocalStorage
	barrier bool
	delay   time.Duration

	reads    atomic.Int32
	bothRead chan struct{}
	once     sync.Once
}

func (s *racyStorage) Read(ctx context.Context, key string) (io.ReadCloser, error) {
	rc, err := s.LocalStorage.Read(ctx, key)
	if s.reads.Add(1) == 2 {
		s.once.Do(func() { close(s.bothRead) })
	}
	return rc, err
}

func (s *racyStorage) Write(ctx context.Context, key string, r io.Reader) error {
	if s.barrier {
		select {
		case <-s.bothRead:
		case <-time.After(5 * time.Second):
			return errors.New("second reader never arrived")
		}
	}
	time.Sleep(s.delay)
	return s.LocalStorage.Write(ctx, key, r)
}

func addConcurrently(t *testing.T, s *ScanResultsStorage) {
	t.Helper()
	first := artifactResult(1)
	second := artifactResult(2)
	second.Scanner.Version = "3.2.2"

	var wg sync.WaitGroup
	for _, r := range []model.ScanResult{first, second} {
		wg.Add(1)
		go func(r model.ScanResult) {
			defer wg.Done()
			res, err := s.Add(context.Background(), pkgA.ID, r)
			assert.NoError(t, err)
			assert.True(t, res.Success, res.Message)
		}(r)
	}
	wg.Wait()
}

func TestConcurrentAddsWithoutLockLoseUpdates(t *testing.T) {
	local, err := filestorage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	fs := &racyStorage{LocalStorage: local, barrier: true, bothRead: make(chan struct{})}
	fb := NewFileBased(fs, WithoutWriteLock())

	addConcurrently(t, New(fb))

	c, found, err := fb.ReadContainer(context.Background(), SourceArtifactKey(artifact))
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, c.Results, 1, "one of the two concurrent adds is lost")
}

func TestConcurrentAddsWithLockKeepBoth(t *testing.T) {
	local, err := filestorage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	fs := &racyStorage{LocalStorage: local, delay: 20 * time.Millisecond, bothRead: make(chan struct{})}
	fb := NewFileBased(fs)

	addConcurrently(t, New(fb))

	c, found, err := fb.ReadContainer(context.Background(), SourceArtifactKey(artifact))
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, c.Results, 2)
	require.Zero(t, fb.locks.len())
}

func TestKeyLock(t *testing.T) {
	l := newKeyLock()
	unlockA := l.Lock("a")
	unlockB := l.Lock("b")
	require.Equal(t, 2, l.len())

	acquired := make(chan struct{})
	go func() {
		unlock := l.Lock("a")
		close(acquired)
		unlock()
	}()
	select {
	case <-acquired:
		t.Fatal("second holder acquired a held key")
	case <-time.After(20 * time.Millisecond):
	}
	unlockA()
	<-acquired
	unlockB()
	require.Zero(t, l.len())
}

func TestPackageKeys(t *testing.T) {
	keys := PackageKeys(pkgA)
	require.Equal(t, []string{SourceArtifactKey(artifact), RepositoryKey(vcs)}, keys)
	require.True(t, strings.HasPrefix(keys[0], "scan-results/source-artifacts/"))
	require.True(t, strings.HasPrefix(keys[1], "scan-results/repositories/"))
	require.NotContains(t, strings.TrimPrefix(keys[0], "scan-results/source-artifacts/"), "//")

	require.Empty(t, PackageKeys(model.Package{}))

	_, ok := ResultKey(model.Provenance{VcsInfo: &model.VcsInfo{Type: "Git"}})
	require.False(t, ok)
}

func TestConfigure(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	no := false
	cfg := &config.Config{
		Storage: config.StorageConfig{
			Kind: config.StorageFile,
			File: &config.FileBasedConfig{
				Backend:      config.FileBackendConfig{Kind: config.BackendLocal, Local: &config.LocalConfig{Directory: dir}},
				CacheEntries: 8,
			},
		},
		Compatibility: config.CompatibilityConfig{Version: "major", Configuration: &no},
	}
	s, err := Configure(ctx, cfg)
	require.NoError(t, err)
	defer s.Close()
	require.Equal(t, "FileBasedStorage", s.Name())
	require.Equal(t, dir, s.Location())
	require.Equal(t, model.CompatibilityPolicy{Version: model.VersionMajor}, s.policy)

	res, err := s.Add(ctx, pkgA.ID, artifactResult(1))
	require.NoError(t, err)
	require.True(t, res.Success)
	require.FileExists(t, filepath.Join(dir, filepath.FromSlash(SourceArtifactKey(artifact))))

	_, err = Configure(ctx, &config.Config{Storage: config.StorageConfig{Kind: config.StorageFile}})
	require.Error(t, err)
}

func TestPolicyDefaults(t *testing.T) {
	p, err := Policy(config.CompatibilityConfig{})
	require.NoError(t, err)
	require.Equal(t, model.DefaultCompatibility, p)
	_, err = Policy(config.CompatibilityConfig{Version: "fuzzy"})
	require.Error(t, err)
}

func TestAddRejectsIdentifierThatCannotBeReadBack(t *testing.T) {
	ctx := context.Background()
	s, fb := newLocal(t)

	res, err := s.Add(ctx, model.Identifier{Type: "NPM", Name: "a:b", Version: "1.0.0"}, artifactResult(1))
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Contains(t, res.Message, "contains a colon")
	ok, err := fb.FileStorage().Exists(ctx, SourceArtifactKey(artifact))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAddTypelessIdentifier(t *testing.T) {
	ctx := context.Background()
	s, fb := newLocal(t)
	id := model.Identifier{Name: "a", Version: "1.0.0"}

	for i := 1; i <= 2; i++ {
		res, err := s.Add(ctx, id, artifactResult(i))
		require.NoError(t, err)
		require.True(t, res.Success, res.Message)
	}
	c, err := s.Read(ctx, pkgA)
	require.NoError(t, err)
	require.Len(t, c.Results, 2)

	stored, found, err := fb.ReadContainer(ctx, SourceArtifactKey(artifact))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, id, stored.ID)
}

// stallingOrigin holds the next read after fetching the content until
// release is closed.
type stallingOrigin struct {
	*filestorage.LocalStorage
	stall   atomic.Bool
	fetched chan struct{}
	release chan struct{}
}

func (s *stallingOrigin) Read(ctx context.Context, key string) (io.ReadCloser, error) {
	raw, err := filestorage.ReadAll(ctx, s.LocalStorage, key)
	if err != nil {
		return nil, err
	}
	if s.stall.CompareAndSwap(true, false) {
		close(s.fetched)
		<-s.release
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

func TestCachedReadDuringAddKeepsResults(t *testing.T) {
	ctx := context.Background()
	local, err := filestorage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	origin := &stallingOrigin{LocalStorage: local, fetched: make(chan struct{}), release: make(chan struct{})}
	cache, err := filestorage.NewCached(origin, 8)
	require.NoError(t, err)
	s := New(NewFileBased(cache))
	key := SourceArtifactKey(artifact)

	add := func(fileCount int) {
		res, err := s.Add(ctx, pkgA.ID, artifactResult(fileCount))
		require.NoError(t, err)
		require.True(t, res.Success, res.Message)
	}
	add(1)

	origin.stall.Store(true)
	done := make(chan error)
	go func() {
		_, err := filestorage.ReadAll(ctx, cache, key)
		done <- err
	}()
	<-origin.fetched
	add(2)
	close(origin.release)
	require.NoError(t, <-done)
	add(3)

	c, found, err := NewFileBased(local).ReadContainer(ctx, key)
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, c.Results, 3)
}

func TestConcurrentReadsAndAddsThroughCache(t *testing.T) {
	ctx := context.Background()
	local, err := filestorage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	cache, err := filestorage.NewCached(local, 4)
	require.NoError(t, err)
	s := New(NewFileBased(cache))

	const adders = 8
	var (
		wg      sync.WaitGroup
		readers sync.WaitGroup
		stop    = make(chan struct{})
	)
	for i := 0; i < 4; i++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				c, err := s.Read(ctx, pkgA)
				assert.NoError(t, err)
				assert.LessOrEqual(t, len(c.Results), adders)
			}
		}()
	}
	for i := 0; i < adders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r := artifactResult(i + 1)
			r.Scanner.Version = fmt.Sprintf("3.2.%d", i)
			res, err := s.Add(ctx, pkgA.ID, r)
			assert.NoError(t, err)
			assert.True(t, res.Success, res.Message)
		}(i)
	}
	wg.Wait()
	close(stop)
	readers.Wait()

	c, found, err := NewFileBased(local).ReadContainer(ctx, SourceArtifactKey(artifact))
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, c.Results, adders)

	cached, err := s.Read(ctx, pkgA)
	require.NoError(t, err)
	require.Len(t, cached.Results, adders)
}

func TestReadCompatibleNarrowsRead(t *testing.T) {
	ctx := context.Background()
	s, _ := newLocal(t)

	licensee := artifactResult(1)
	licensee.Scanner = model.ScannerDetails{Name: "Licensee", Version: "9.13.0"}
	minor := artifactResult(2)
	minor.Scanner.Version = "3.3.0"
	patch := vcsResult("v1.0.0")
	patch.Scanner.Version = "3.2.7"
	otherConfig := artifactResult(3)
	otherConfig.Scanner.Configuration = "--license"
	for _, r := range []model.ScanResult{artifactResult(4), licensee, minor, patch, otherConfig, vcsResult("v0.1.0")} {
		res, err := s.Add(ctx, pkgA.ID, r)
		require.NoError(t, err)
		require.True(t, res.Success, res.Message)
	}

	all, err := s.Read(ctx, pkgA)
	require.NoError(t, err)
	require.Len(t, all.Results, 6)

	scanners := []model.ScannerDetails{
		scanCode,
		licensee.Scanner,
		minor.Scanner,
		{Name: "ScanCode", Version: "4.0.0"},
		{Name: "FOSSology", Version: "1.0.0"},
	}
	for _, sc := range scanners {
		c, err := s.ReadCompatible(ctx, pkgA, sc)
		require.NoError(t, err)
		require.LessOrEqual(t, len(c.Results), len(all.Results), sc.Name+" "+sc.Version)
		for _, r := range c.Results {
			require.Contains(t, all.Results, r)
		}
	}
}
