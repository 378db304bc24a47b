package model

import "strings"

// StreamKind selects how job settings are derived for a release stream.
type StreamKind string

const (
	StreamVendor    StreamKind = "vendor"
	StreamCommunity StreamKind = "community"
	StreamTest      StreamKind = "test"
)

// StreamKindForProject classifies an update project by its name prefix.
func StreamKindForProject(project string) StreamKind {
	switch {
	case strings.HasPrefix(project, "SUSE"):
		return StreamVendor
	case strings.HasPrefix(project, "openSUSE"):
		return StreamCommunity
	default:
		return StreamTest
	}
}

// RepoTarget is a fixed, request-independent test subject: a set of
// repositories tested as a whole whenever their content changes.
type RepoTarget struct {
	Project   string
	Settings  []Params
	Repos     []string
	Test      string            // Test name used to find the current build.
	Incidents map[string]string // Issue kind → project listing incidents under test.
}

// ProjectRepository maps a target project to the repository name incidents
// are built against ("SUSE:Updates:SLE-SERVER:12-SP3" → "SUSE_Updates_SLE-SERVER_12-SP3").
func ProjectRepository(project string) string {
	return strings.ReplaceAll(project, ":", "_")
}
