package storage

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/zhernovs/ort/internal/filestorage"
	"github.com/zhernovs/ort/internal/model"
)

// ScanResultsFileName is the document name below each cache key directory.
const ScanResultsFileName = "scan-results.yml"

const (
	sourceArtifactsPrefix = "scan-results/source-artifacts/"
	repositoriesPrefix    = "scan-results/repositories/"
)

// SourceArtifactKey is the storage key for results of a source artifact.
func SourceArtifactKey(artifact model.RemoteArtifact) string {
	return sourceArtifactsPrefix + filestorage.EncodePathSegment(artifact.URL) + "/" + ScanResultsFileName
}

// RepositoryKey is the storage key for results of a VCS repository.
func RepositoryKey(vcs model.VcsInfo) string {
	return repositoriesPrefix + filestorage.EncodePathSegment(vcs.URL) + "/" + ScanResultsFileName
}

// PackageKeys returns the keys a package's results may be stored under: the
// source artifact key first, then the repository key. Blank URLs yield no key.
func PackageKeys(pkg model.Package) []string {
	keys := make([]string, 0, 2)
	if strings.TrimSpace(pkg.SourceArtifact.URL) != "" {
		keys = append(keys, SourceArtifactKey(pkg.SourceArtifact))
	}
	if strings.TrimSpace(pkg.VcsProcessed.URL) != "" {
		keys = append(keys, RepositoryKey(pkg.VcsProcessed))
	}
	return keys
}

// ResultKey is the key a result is added under: its source artifact if it
// has one, its repository otherwise.
func ResultKey(p model.Provenance) (string, bool) {
	if p.SourceArtifact != nil && strings.TrimSpace(p.SourceArtifact.URL) != "" {
		return SourceArtifactKey(*p.SourceArtifact), true
	}
	if p.VcsInfo != nil && strings.TrimSpace(p.VcsInfo.URL) != "" {
		return RepositoryKey(*p.VcsInfo), true
	}
	return "", false
}

// IsContainerKey reports whether key names a scan results document.
func IsContainerKey(key string) bool {
	return strings.HasPrefix(key, "scan-results/") && strings.HasSuffix(key, "/"+ScanResultsFileName)
}

// EncodeContainer serializes a container as YAML.
func EncodeContainer(c model.ScanResultContainer) ([]byte, error) {
	if c.Results == nil {
		c.Results = []model.ScanResult{}
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, fmt.Errorf("encode scan results of %s: %w", c.ID.Coordinates(), err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeContainer parses a YAML scan results document.
func DecodeContainer(r io.Reader) (model.ScanResultContainer, error) {
	var c model.ScanResultContainer
	if err := yaml.NewDecoder(r).Decode(&c); err != nil {
		if err == io.EOF {
			return model.ScanResultContainer{Results: []model.ScanResult{}}, nil
		}
		return model.ScanResultContainer{}, fmt.Errorf("decode scan results: %w", err)
	}
	if c.Results == nil {
		c.Results = []model.ScanResult{}
	}
	return c, nil
}
