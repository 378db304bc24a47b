package model

import (
	"regexp"
	"strings"
)

var binaryFilenamePattern = regexp.MustCompile(`^(?P<name>.+)-(?P<version>[^-]+)-(?P<release>[^-]+)\.(?P<arch>[^.]+)\.rpm$`)

// Package is a built binary package observed in an incident.
type Package struct {
	Name    string
	Version string
	Release string
}

// ParseBinaryFilename extracts name, version and release from an rpm file
// name such as "curl-8.0.1-150400.5.1.x86_64.rpm". The architecture is
// dropped because patchinfo results mix all architectures.
func ParseBinaryFilename(filename string) (Package, bool) {
	m := binaryFilenamePattern.FindStringSubmatch(filename)
	if m == nil {
		return Package{}, false
	}
	return Package{
		Name:    m[binaryFilenamePattern.SubexpIndex("name")],
		Version: m[binaryFilenamePattern.SubexpIndex("version")],
		Release: m[binaryFilenamePattern.SubexpIndex("release")],
	}, true
}

// Artifacts is the binary listing of an incident's patchinfo build.
type Artifacts struct {
	Binaries []string // File names across all build architectures.
	PatchID  string   // From updateinfo.xml; empty when not published yet.
}

// Packages parses every rpm in the listing, skipping other files.
func (a Artifacts) Packages() []Package {
	var pkgs []Package
	for _, fn := range a.Binaries {
		if !strings.HasSuffix(fn, ".rpm") {
			continue
		}
		if p, ok := ParseBinaryFilename(fn); ok {
			pkgs = append(pkgs, p)
		}
	}
	return pkgs
}
