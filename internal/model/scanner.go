package model

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// ScannerDetails identifies the tool, version and configuration that produced
// a scan result.
type ScannerDetails struct {
	Name          string `json:"name" yaml:"name"`
	Version       string `json:"version" yaml:"version"`
	Configuration string `json:"configuration" yaml:"configuration"`
}

func (d ScannerDetails) String() string {
	return fmt.Sprintf("%s %s [%s]", d.Name, d.Version, d.Configuration)
}

// IsCompatible reports whether results of d may be reused for o under the
// default policy.
func (d ScannerDetails) IsCompatible(o ScannerDetails) bool {
	return DefaultCompatibility.Compatible(d, o)
}

// VersionTolerance selects how much two scanner versions may differ.
type VersionTolerance string

const (
	VersionExact VersionTolerance = "exact"
	VersionPatch VersionTolerance = "patch"
	VersionMinor VersionTolerance = "minor"
	VersionMajor VersionTolerance = "major"
)

func ParseVersionTolerance(s string) (VersionTolerance, error) {
	switch v := VersionTolerance(strings.ToLower(strings.TrimSpace(s))); v {
	case VersionExact, VersionPatch, VersionMinor, VersionMajor:
		return v, nil
	case "":
		return VersionMinor, nil
	default:
		return "", fmt.Errorf("unknown version tolerance %q (want exact, patch, minor or major)", s)
	}
}

// CompatibilityPolicy decides whether a stored result satisfies a request for
// another scanner. It is reflexive and symmetric, but not transitive for
// anything looser than VersionExact.
type CompatibilityPolicy struct {
	Version VersionTolerance
	// Configuration requires identical configuration fingerprints.
	Configuration bool
}

// DefaultCompatibility accepts the same major.minor version with an identical
// configuration.
var DefaultCompatibility = CompatibilityPolicy{Version: VersionMinor, Configuration: true}

func (p CompatibilityPolicy) Compatible(a, b ScannerDetails) bool {
	if a.Name != b.Name {
		return false
	}
	if p.Configuration && a.Configuration != b.Configuration {
		return false
	}
	return p.versionsCompatible(a.Version, b.Version)
}

func (p CompatibilityPolicy) versionsCompatible(a, b string) bool {
	if a == b {
		return true
	}
	if p.Version == VersionExact {
		return false
	}
	va, errA := semver.NewVersion(a)
	vb, errB := semver.NewVersion(b)
	if errA != nil || errB != nil {
		return false
	}
	switch p.Version {
	case VersionPatch:
		return va.Major() == vb.Major() && va.Minor() == vb.Minor() && va.Patch() == vb.Patch()
	case VersionMajor:
		return va.Major() == vb.Major()
	default:
		return va.Major() == vb.Major() && va.Minor() == vb.Minor()
	}
}
