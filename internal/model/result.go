package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
)

// RawResult is the tool-specific scanner output as JSON. A nil RawResult
// means the output was left out of a transient view; stored results use
// EmptyRawResult when the tool produced nothing.
type RawResult json.RawMessage

// EmptyRawResult is the stored form of a scan without raw output.
var EmptyRawResult = RawResult("{}")

// IsNull reports whether no raw output is attached.
func (r RawResult) IsNull() bool {
	trimmed := bytes.TrimSpace(r)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func (r RawResult) MarshalJSON() ([]byte, error) {
	if r.IsNull() {
		return []byte("null"), nil
	}
	return json.RawMessage(r).MarshalJSON()
}

func (r *RawResult) UnmarshalJSON(data []byte) error {
	if r == nil {
		return fmt.Errorf("model.RawResult: UnmarshalJSON on nil pointer")
	}
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*r = nil
		return nil
	}
	*r = append((*r)[0:0], data...)
	return nil
}

// MarshalYAML embeds the JSON document as native YAML so stored containers
// stay readable. Key order and number literals are kept as they are.
func (r RawResult) MarshalYAML() (any, error) {
	if r.IsNull() {
		return nil, nil
	}
	node, err := jsonToNode(r)
	if err != nil {
		return nil, fmt.Errorf("raw result is not valid JSON: %w", err)
	}
	return node, nil
}

func (r *RawResult) UnmarshalYAML(node *yaml.Node) error {
	if isNullNode(node) {
		*r = nil
		return nil
	}
	b, err := nodeToJSON(node)
	if err != nil {
		return fmt.Errorf("raw result cannot be represented as JSON: %w", err)
	}
	*r = b
	return nil
}

// ScanResult is a single scan of a single provenance.
type ScanResult struct {
	Provenance Provenance     `json:"provenance" yaml:"provenance"`
	Scanner    ScannerDetails `json:"scanner" yaml:"scanner"`
	Summary    ScanSummary    `json:"summary" yaml:"summary"`
	RawResult  RawResult      `json:"raw_result,omitempty" yaml:"raw_result,omitempty"`
}

// rootLicenseFilePrefixes are the file names that are treated as license
// files for every directory below the one containing them.
var rootLicenseFilePrefixes = []string{"license", "licence", "copying", "notice", "unlicense", "patents"}

func isRootLicenseFile(p string) bool {
	name := strings.ToLower(path.Base(p))
	for _, prefix := range rootLicenseFilePrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// FilterPath returns a copy restricted to findings below dir, plus license
// files in dir or any of its ancestors that apply to it. The copy carries no
// raw result. A blank dir returns r unchanged.
func (r ScanResult) FilterPath(dir string) ScanResult {
	dir = strings.Trim(strings.TrimSpace(dir), "/")
	if dir == "" {
		return r
	}

	applicable := func(loc TextLocation) bool {
		if strings.HasPrefix(loc.Path, dir+"/") {
			return true
		}
		if !isRootLicenseFile(loc.Path) {
			return false
		}
		parent := path.Dir(loc.Path)
		return parent == "." || parent == dir || strings.HasPrefix(dir+"/", parent+"/")
	}

	prov := r.Provenance
	if prov.VcsInfo != nil {
		v := *prov.VcsInfo
		v.Path = dir
		prov.VcsInfo = &v
	}
	if prov.OriginalVcsInfo != nil {
		v := *prov.OriginalVcsInfo
		v.Path = dir
		prov.OriginalVcsInfo = &v
	}

	files := map[string]struct{}{}
	var summary ScanSummary
	for _, f := range r.Summary.LicenseFindings {
		if applicable(f.Location) {
			summary.LicenseFindings = append(summary.LicenseFindings, f)
			files[f.Location.Path] = struct{}{}
		}
	}
	for _, f := range r.Summary.CopyrightFindings {
		if applicable(f.Location) {
			summary.CopyrightFindings = append(summary.CopyrightFindings, f)
			files[f.Location.Path] = struct{}{}
		}
	}
	summary.FileCount = len(files)

	return ScanResult{
		Provenance: prov,
		Scanner:    r.Scanner,
		Summary:    summary.Normalize(),
	}
}

// ScanResultContainer groups all results stored under one cache key.
type ScanResultContainer struct {
	ID      Identifier   `json:"id" yaml:"id"`
	Results []ScanResult `json:"results" yaml:"results"`
}

// AddResult reports the outcome of storing a scan result. Message is set
// when Success is false.
type AddResult struct {
	Success bool
	Message string
}
