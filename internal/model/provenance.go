package model

import (
	"fmt"
	"strings"
)

// VcsInfo describes a location in a version control system.
type VcsInfo struct {
	Type     string `json:"type" yaml:"type"`
	URL      string `json:"url" yaml:"url"`
	Revision string `json:"revision" yaml:"revision"`
	// ResolvedRevision is nil until the revision has been resolved to a fixed commit.
	ResolvedRevision *string `json:"resolved_revision,omitempty" yaml:"resolved_revision,omitempty"`
	Path             string  `json:"path" yaml:"path"`
}

func (v VcsInfo) Equal(o VcsInfo) bool {
	return v.Type == o.Type &&
		v.URL == o.URL &&
		v.Revision == o.Revision &&
		v.Path == o.Path &&
		equalStringPtr(v.ResolvedRevision, o.ResolvedRevision)
}

// sameLocation compares everything but the resolved revision. A package's
// processed VCS info usually carries no resolved revision, so this is the
// comparison used for cache hits.
func (v VcsInfo) sameLocation(o VcsInfo) bool {
	return strings.EqualFold(v.Type, o.Type) && v.URL == o.URL && v.Path == o.Path
}

func (v VcsInfo) String() string {
	rev := v.Revision
	if v.ResolvedRevision != nil {
		rev = *v.ResolvedRevision
	}
	s := fmt.Sprintf("%s %s@%s", v.Type, v.URL, rev)
	if v.Path != "" {
		s += " (" + v.Path + ")"
	}
	return s
}

// RemoteArtifact is a downloadable source archive and its checksum.
type RemoteArtifact struct {
	URL           string `json:"url" yaml:"url"`
	Hash          string `json:"hash" yaml:"hash"`
	HashAlgorithm string `json:"hash_algorithm" yaml:"hash_algorithm"`
}

func (a RemoteArtifact) Equal(o RemoteArtifact) bool {
	return a.URL == o.URL && a.Hash == o.Hash && strings.EqualFold(a.HashAlgorithm, o.HashAlgorithm)
}

// Provenance records where scanned code came from. At least one of VcsInfo
// and SourceArtifact is set for results that are stored.
type Provenance struct {
	SourceArtifact  *RemoteArtifact `json:"source_artifact,omitempty" yaml:"source_artifact,omitempty"`
	VcsInfo         *VcsInfo        `json:"vcs_info,omitempty" yaml:"vcs_info,omitempty"`
	OriginalVcsInfo *VcsInfo        `json:"original_vcs_info,omitempty" yaml:"original_vcs_info,omitempty"`
}

// IsEmpty reports whether neither a source artifact nor VCS info is known.
func (p Provenance) IsEmpty() bool {
	return p.SourceArtifact == nil && p.VcsInfo == nil
}

// IsComplete reports whether the provenance can be used to reproduce a scan:
// VCS provenance needs both a resolved revision and the originally requested
// VCS info.
func (p Provenance) IsComplete() bool {
	if p.VcsInfo == nil {
		return true
	}
	return p.VcsInfo.ResolvedRevision != nil && p.OriginalVcsInfo != nil
}

func (p Provenance) Equal(o Provenance) bool {
	return equalPtr(p.SourceArtifact, o.SourceArtifact, RemoteArtifact.Equal) &&
		equalPtr(p.VcsInfo, o.VcsInfo, VcsInfo.Equal) &&
		equalPtr(p.OriginalVcsInfo, o.OriginalVcsInfo, VcsInfo.Equal)
}

// Matches reports whether the provenance still describes the package's
// declared source. A source artifact must match the package's artifact; VCS
// provenance matches if either the requested or the resolved revision equals
// the package's processed revision at the same location.
func (p Provenance) Matches(pkg Package) bool {
	if p.SourceArtifact != nil && strings.TrimSpace(pkg.SourceArtifact.URL) != "" &&
		p.SourceArtifact.Equal(pkg.SourceArtifact) {
		return true
	}
	if p.VcsInfo == nil || strings.TrimSpace(pkg.VcsProcessed.URL) == "" {
		return false
	}
	want := pkg.VcsProcessed
	if !p.VcsInfo.sameLocation(want) {
		return false
	}
	if p.VcsInfo.Revision == want.Revision {
		return true
	}
	if p.VcsInfo.ResolvedRevision != nil && *p.VcsInfo.ResolvedRevision == want.Revision {
		return true
	}
	return p.OriginalVcsInfo != nil && p.OriginalVcsInfo.sameLocation(want) && p.OriginalVcsInfo.Revision == want.Revision
}

func (p Provenance) Description() string {
	switch {
	case p.SourceArtifact != nil:
		return "source artifact " + p.SourceArtifact.URL
	case p.VcsInfo != nil:
		return "repository " + p.VcsInfo.String()
	default:
		return "unknown provenance"
	}
}

func equalStringPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalPtr[T any](a, b *T, eq func(T, T) bool) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return eq(*a, *b)
}
