package model

import (
	"cmp"
	"slices"
)

// TextLocation is a line range within a file, relative to the scanned root.
type TextLocation struct {
	Path      string `json:"path" yaml:"path"`
	StartLine int    `json:"start_line" yaml:"start_line"`
	EndLine   int    `json:"end_line" yaml:"end_line"`
}

func (l TextLocation) Compare(o TextLocation) int {
	return cmp.Or(
		cmp.Compare(l.Path, o.Path),
		cmp.Compare(l.StartLine, o.StartLine),
		cmp.Compare(l.EndLine, o.EndLine),
	)
}

type LicenseFinding struct {
	License  string       `json:"license" yaml:"license"`
	Location TextLocation `json:"location" yaml:"location"`
}

func (f LicenseFinding) Compare(o LicenseFinding) int {
	return cmp.Or(f.Location.Compare(o.Location), cmp.Compare(f.License, o.License))
}

type CopyrightFinding struct {
	Statement string       `json:"statement" yaml:"statement"`
	Location  TextLocation `json:"location" yaml:"location"`
}

func (f CopyrightFinding) Compare(o CopyrightFinding) int {
	return cmp.Or(f.Location.Compare(o.Location), cmp.Compare(f.Statement, o.Statement))
}

// ScanSummary holds the findings of a scan. The finding slices behave as
// sets: Normalize sorts them by location and drops exact duplicates.
type ScanSummary struct {
	FileCount         int                `json:"file_count" yaml:"file_count"`
	LicenseFindings   []LicenseFinding   `json:"license_findings" yaml:"license_findings"`
	CopyrightFindings []CopyrightFinding `json:"copyright_findings" yaml:"copyright_findings"`
}

// Normalize returns a copy with sorted, deduplicated findings.
func (s ScanSummary) Normalize() ScanSummary {
	s.LicenseFindings = sortedSet(s.LicenseFindings, LicenseFinding.Compare)
	s.CopyrightFindings = sortedSet(s.CopyrightFindings, CopyrightFinding.Compare)
	return s
}

func sortedSet[T comparable](in []T, compare func(T, T) int) []T {
	out := slices.Clone(in)
	if out == nil {
		out = []T{}
	}
	slices.SortFunc(out, compare)
	return slices.Compact(out)
}
