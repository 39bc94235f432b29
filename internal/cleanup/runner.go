package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/zhernovs/ort/internal/db"
	"github.com/zhernovs/ort/internal/filestorage"
	"github.com/zhernovs/ort/internal/model"
	"github.com/zhernovs/ort/internal/storage"
)

type Options struct {
	// Policy decides which scanners produce interchangeable results.
	Policy model.CompatibilityPolicy
	// DryRun reports what would be removed without changing the storage.
	DryRun bool
	// Skip lists keys that are left untouched. Keys of the relational
	// storage are source artifact or repository URLs.
	Skip []string
	// Concurrency bounds the number of containers processed at once.
	Concurrency int
	// Limit stops after that many containers; zero means no limit.
	Limit int
}

func (o Options) concurrency() int {
	if o.Concurrency <= 0 {
		return 1
	}
	return o.Concurrency
}

func (o Options) skipped(key string) bool { return slices.Contains(o.Skip, key) }

// Report is the outcome for one container.
type Report struct {
	Key        string
	ID         model.Identifier
	Total      int
	Incomplete int
	Duplicates int
	Err        error
}

func (r Report) Removed() int { return r.Incomplete + r.Duplicates }
func (r Report) Kept() int    { return r.Total - r.Removed() }

type Summary struct {
	Processed int
	Skipped   int
	Failed    int
	Kept      int
	Removed   int
	Reports   []Report
}

func summarize(reports []Report, skipped int) Summary {
	s := Summary{Skipped: skipped, Reports: reports}
	for _, r := range reports {
		s.Processed++
		if r.Err != nil {
			s.Failed++
			continue
		}
		s.Kept += r.Kept()
		s.Removed += r.Removed()
	}
	return s
}

// run processes keys with bounded concurrency. Per key failures are recorded
// in the reports; only context cancellation stops the run.
func run(ctx context.Context, keys []string, opts Options, one func(context.Context, string) Report) (Summary, error) {
	var (
		todo    []string
		skipped int
	)
	for _, k := range keys {
		if opts.skipped(k) {
			slog.InfoContext(ctx, "ignoring skipped key", "key", k)
			skipped++
			continue
		}
		if opts.Limit > 0 && len(todo) >= opts.Limit {
			break
		}
		todo = append(todo, k)
	}

	reports := make([]Report, len(todo))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.concurrency())
	var mu sync.Mutex
	done := 0
	for i, key := range todo {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r := one(gctx, key)
			reports[i] = r

			mu.Lock()
			done++
			n := done
			mu.Unlock()
			if r.Err != nil {
				slog.WarnContext(gctx, "cleanup failed", "key", key, "progress", fmt.Sprintf("%d/%d", n, len(todo)), "reason", r.Err)
				return nil
			}
			slog.InfoContext(gctx, "cleaned up scan results",
				"key", key, "progress", fmt.Sprintf("%d/%d", n, len(todo)),
				"kept", r.Kept(), "incomplete", r.Incomplete, "duplicates", r.Duplicates, "dry_run", opts.DryRun)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Summary{}, err
	}
	return summarize(reports, skipped), nil
}

// FileRunner cleans up the YAML containers of a file based storage.
type FileRunner struct {
	fb   *storage.FileBased
	opts Options
}

func NewFileRunner(fb *storage.FileBased, opts Options) *FileRunner {
	return &FileRunner{fb: fb, opts: opts}
}

// Keys lists the container keys of the storage, largest first. The blob
// storage must support listing.
func (r *FileRunner) Keys(ctx context.Context) ([]string, error) {
	lister, ok := r.fb.FileStorage().(filestorage.Lister)
	if !ok {
		return nil, errors.New("file storage does not support listing; pass the keys explicitly")
	}
	entries, err := lister.List(ctx, "scan-results")
	if err != nil {
		return nil, fmt.Errorf("list scan results: %w", err)
	}
	entries = slices.DeleteFunc(entries, func(e filestorage.Entry) bool { return !storage.IsContainerKey(e.Key) })
	slices.SortStableFunc(entries, func(a, b filestorage.Entry) int {
		switch {
		case a.Size > b.Size:
			return -1
		case a.Size < b.Size:
			return 1
		default:
			return 0
		}
	})
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		keys = append(keys, e.Key)
	}
	return keys, nil
}

// Run cleans up the given keys, or all containers if keys is empty.
func (r *FileRunner) Run(ctx context.Context, keys []string) (Summary, error) {
	if len(keys) == 0 {
		listed, err := r.Keys(ctx)
		if err != nil {
			return Summary{}, err
		}
		keys = listed
	}
	keys = slices.DeleteFunc(slices.Clone(keys), func(k string) bool {
		if storage.IsContainerKey(k) {
			return false
		}
		slog.InfoContext(ctx, "ignoring key that is not a scan results container", "key", k)
		return true
	})
	return run(ctx, keys, r.opts, r.cleanKey)
}

func (r *FileRunner) cleanKey(ctx context.Context, key string) Report {
	rep := Report{Key: key}
	found, err := r.fb.UpdateContainer(ctx, key, func(c *model.ScanResultContainer) (bool, error) {
		rep.ID = c.ID
		rep.Total = len(c.Results)
		plan := Dedupe(ctx, c.Results, r.opts.Policy)
		rep.Incomplete = len(plan.Incomplete)
		rep.Duplicates = len(plan.Duplicates)
		if rep.Removed() == 0 || r.opts.DryRun {
			return false, nil
		}
		c.Results = plan.Apply(c.Results)
		return true, nil
	})
	if err != nil {
		rep.Err = err
	} else if !found {
		rep.Err = fmt.Errorf("container %s: %w", key, filestorage.ErrNotFound)
	}
	return rep
}

// RelationalRunner cleans up the rows of a PostgreSQL storage. Rows are
// grouped by the URL the file based storage would key them by.
type RelationalRunner struct {
	store *db.Store
	opts  Options
}

func NewRelationalRunner(store *db.Store, opts Options) *RelationalRunner {
	return &RelationalRunner{store: store, opts: opts}
}

// Run cleans up the given keys, or every stored key, most results first, if
// none are given.
func (r *RelationalRunner) Run(ctx context.Context, keys []string) (Summary, error) {
	if len(keys) == 0 {
		counts, err := r.store.Keys(ctx)
		if err != nil {
			return Summary{}, fmt.Errorf("list keys: %w", err)
		}
		for _, c := range counts {
			keys = append(keys, c.Key)
		}
	}
	return run(ctx, keys, r.opts, r.cleanKey)
}

func (r *RelationalRunner) cleanKey(ctx context.Context, key string) Report {
	rep := Report{Key: key}
	rows, err := r.store.KeyResults(ctx, key)
	if err != nil {
		rep.Err = err
		return rep
	}
	if len(rows) == 0 {
		rep.Err = fmt.Errorf("key %s: %w", key, filestorage.ErrNotFound)
		return rep
	}
	rep.ID = rows[0].Identifier

	results := make([]model.ScanResult, len(rows))
	for i, row := range rows {
		results[i] = row.Result
	}
	plan := Dedupe(ctx, results, r.opts.Policy)
	rep.Total = len(rows)
	rep.Incomplete = len(plan.Incomplete)
	rep.Duplicates = len(plan.Duplicates)
	if rep.Removed() == 0 || r.opts.DryRun {
		return rep
	}

	ids := make([]int64, 0, rep.Removed())
	for _, i := range plan.Removed() {
		ids = append(ids, rows[i].ID)
	}
	if _, err := r.store.DeleteResults(ctx, ids); err != nil {
		rep.Err = fmt.Errorf("delete duplicates under %s: %w", key, err)
	}
	return rep
}
