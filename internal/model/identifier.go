package model

import (
	"fmt"
	"strings"

	"github.com/package-url/packageurl-go"
)

// Identifier names a package as "type:namespace:name:version".
type Identifier struct {
	Type      string
	Namespace string
	Name      string
	Version   string
}

// ParseIdentifier parses coordinates as produced by Identifier.Coordinates.
// Missing trailing components are left empty, and everything after the third
// colon belongs to the version. Every string Coordinates returns parses back.
func ParseIdentifier(coordinates string) Identifier {
	parts := strings.SplitN(coordinates, ":", 4)
	for len(parts) < 4 {
		parts = append(parts, "")
	}
	return Identifier{Type: parts[0], Namespace: parts[1], Name: parts[2], Version: parts[3]}
}

// Validate reports an error if the identifier would not survive a round trip
// through its coordinates. Only the version may contain colons.
func (id Identifier) Validate() error {
	for _, part := range []string{id.Type, id.Namespace, id.Name} {
		if strings.Contains(part, ":") {
			return fmt.Errorf("invalid identifier %q: %q contains a colon", id.Coordinates(), part)
		}
	}
	return nil
}

func (id Identifier) Coordinates() string {
	return strings.Join([]string{id.Type, id.Namespace, id.Name, id.Version}, ":")
}

func (id Identifier) String() string { return id.Coordinates() }

func (id Identifier) IsZero() bool { return id == Identifier{} }

// PURL returns the package URL for the identifier. The type is lower-cased as
// required by the purl specification.
func (id Identifier) PURL() string {
	if id.IsZero() {
		return ""
	}
	return packageurl.NewPackageURL(strings.ToLower(id.Type), id.Namespace, id.Name, id.Version, nil, "").ToString()
}

func (id Identifier) MarshalText() ([]byte, error) {
	if id.IsZero() {
		return []byte{}, nil
	}
	return []byte(id.Coordinates()), nil
}

func (id *Identifier) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*id = Identifier{}
		return nil
	}
	*id = ParseIdentifier(string(text))
	return nil
}

// Package is the read-only package descriptor handed over by the analyzer.
type Package struct {
	ID             Identifier     `json:"id" yaml:"id"`
	SourceArtifact RemoteArtifact `json:"source_artifact" yaml:"source_artifact"`
	VcsProcessed   VcsInfo        `json:"vcs_processed" yaml:"vcs_processed"`
}

func (p Package) String() string { return p.ID.Coordinates() }
