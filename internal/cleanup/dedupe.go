// Package cleanup removes scan results that can never be used again from a
// scan results storage: results with incomplete provenance, and duplicates
// of the same provenance produced by compatible scanners.
package cleanup

import (
	"context"
	"log/slog"

	"github.com/zhernovs/ort/internal/model"
)

// Plan lists by index which results of a container to keep and which to
// remove. Every index appears in exactly one of the lists.
type Plan struct {
	Keep       []int
	Incomplete []int
	Duplicates []int
}

// Removed returns the indices of all results to remove in ascending order.
func (p Plan) Removed() []int {
	out := make([]int, 0, len(p.Incomplete)+len(p.Duplicates))
	i, j := 0, 0
	for i < len(p.Incomplete) || j < len(p.Duplicates) {
		if j == len(p.Duplicates) || (i < len(p.Incomplete) && p.Incomplete[i] < p.Duplicates[j]) {
			out = append(out, p.Incomplete[i])
			i++
		} else {
			out = append(out, p.Duplicates[j])
			j++
		}
	}
	return out
}

// isDuplicate reports whether r reproduces kept: identical provenance and a
// scanner compatible under policy.
func isDuplicate(kept, r model.ScanResult, policy model.CompatibilityPolicy) bool {
	return r.Provenance.Equal(kept.Provenance) && policy.Compatible(kept.Scanner, r.Scanner)
}

// Dedupe plans the cleanup of results. Results with incomplete provenance
// are dropped. Of the remaining results the first of every duplicate class
// is kept, in input order. Applying a plan and planning again removes
// nothing.
func Dedupe(ctx context.Context, results []model.ScanResult, policy model.CompatibilityPolicy) Plan {
	var p Plan
	for i, r := range results {
		if !r.Provenance.IsComplete() {
			reason := "original VCS info is missing"
			if r.Provenance.VcsInfo.ResolvedRevision == nil {
				reason = "resolved revision is missing"
			}
			slog.InfoContext(ctx, "removing scan result with incomplete provenance",
				"provenance", r.Provenance.Description(), "reason", reason)
			p.Incomplete = append(p.Incomplete, i)
			continue
		}

		duplicate := false
		for _, k := range p.Keep {
			if isDuplicate(results[k], r, policy) {
				duplicate = true
				break
			}
		}
		if duplicate {
			slog.DebugContext(ctx, "found duplicate scan result",
				"provenance", r.Provenance.Description(), "scanner", r.Scanner.String())
			p.Duplicates = append(p.Duplicates, i)
			continue
		}
		p.Keep = append(p.Keep, i)
	}
	return p
}

// Apply returns the kept results of p.
func (p Plan) Apply(results []model.ScanResult) []model.ScanResult {
	out := make([]model.ScanResult, 0, len(p.Keep))
	for _, i := range p.Keep {
		out = append(out, results[i])
	}
	return out
}
