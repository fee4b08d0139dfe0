// Package artifact identifies released artifacts and the version
// requirements other artifacts place on them.
package artifact

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/mod/semver"
)

var nameRegexp = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)

// ID is an artifact name plus an exact version, like
// golang.org/x/mod/module.Version but for manifest artifacts.
// Versions are written without the "v" prefix ("0.4.5").
type ID struct {
	Name    string
	Version string
}

func New(name, version string) ID {
	return ID{
		Name:    name,
		Version: version,
	}
}

// ValidName reports whether s can be used as an artifact or feature name.
func ValidName(s string) bool {
	return nameRegexp.MatchString(s)
}

// ValidVersion reports whether v is a complete semantic version
// (major.minor.patch with optional pre-release and build metadata).
func ValidVersion(v string) bool {
	sv := "v" + v
	if !semver.IsValid(sv) {
		return false
	}
	core, _, _ := strings.Cut(sv, "+")
	return semver.Canonical(sv) == core
}

// CompareVersions compares two versions written without the "v" prefix.
// Invalid versions compare less than valid ones, as in [semver.Compare].
func CompareVersions(a, b string) int {
	return semver.Compare("v"+a, "v"+b)
}

func (id ID) Check() error {
	if !ValidName(id.Name) {
		return fmt.Errorf("invalid artifact name %q", id.Name)
	}
	if id.Version != "" && !ValidVersion(id.Version) {
		return fmt.Errorf("artifact %v: invalid version %q", id.Name, id.Version)
	}
	return nil
}

func (id ID) String() string {
	if id.Version == "" {
		return id.Name
	} else {
		return id.Name + "@" + id.Version
	}
}

func (id ID) MarshalText() ([]byte, error) {
	if err := id.Check(); err != nil {
		return nil, err
	}
	return []byte(id.String()), nil
}

func (id *ID) UnmarshalText(text []byte) error {
	id.Name, id.Version, _ = strings.Cut(string(text), "@")
	return id.Check()
}

// Compare orders IDs by name, then by version.
func Compare(a, b ID) int {
	if c := strings.Compare(a.Name, b.Name); c != 0 {
		return c
	}
	return CompareVersions(a.Version, b.Version)
}
