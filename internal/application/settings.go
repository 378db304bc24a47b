package application

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/ericfisherdev/qabot/internal/domain/model"
	"github.com/ericfisherdev/qabot/internal/domain/port/driven"
)

// ErrSuppressed marks settings that must not be submitted. Sibling settings
// for the same request are unaffected.
var ErrSuppressed = errors.New("settings suppressed")

// Signing keys imported by community stream jobs.
const (
	communitySigningKey = "gpg-pubkey-b3fd7e48-5549fd0f"
	testSigningKey      = "testkey"
)

// Vendor flavors with live-patch and kernel handling.
const (
	flavorKGraft          = "KGraft"
	flavorIncidents       = "Server-DVD-Incidents"
	flavorKernelIncidents = "Server-DVD-Incidents-Kernel"
)

var (
	kgraftPatchPattern    = regexp.MustCompile(`^kgraft-patch-([^.]+)\.`)
	incidentNumberPattern = regexp.MustCompile(`:(\d+)$`)
)

// UpdateInput is everything a release-stream variant needs to derive job
// settings for one request action.
type UpdateInput struct {
	SourceProject string
	TargetProject string
	Packages      []model.Package // Empty when only querying existing jobs.
	Request       model.Request
	RequestName   string
}

// Update derives job settings for one settings template of a release stream.
type Update interface {
	Kind() model.StreamKind
	// Settings returns fresh job parameters, or an error wrapping
	// ErrSuppressed when the template does not apply to the request.
	Settings(in UpdateInput) (model.Params, error)
}

// LatestGoodFinder is implemented by variants that pin jobs to the newest
// fully passing update build.
type LatestGoodFinder interface {
	AddLatestGoodUpdates(ctx context.Context, tests driven.TestService, params model.Params) error
}

// StreamOptions configures the variants built by NewUpdate.
type StreamOptions struct {
	VendorRepoPrefix    string
	CommunityRepoPrefix string
	// KGraft maps a live-patch target (e.g. "SLE12-SP3_Update_4") to extra
	// job settings.
	KGraft map[string]model.Params
}

// NewUpdate returns the variant for kind built around template.
func NewUpdate(kind model.StreamKind, template model.Params, opts StreamOptions) Update {
	switch kind {
	case model.StreamVendor:
		return &VendorUpdate{
			base:   baseUpdate{template: template, repoPrefix: opts.VendorRepoPrefix},
			kgraft: opts.KGraft,
		}
	case model.StreamCommunity:
		return &CommunityUpdate{
			base:       baseUpdate{template: template, repoPrefix: opts.CommunityRepoPrefix},
			kind:       model.StreamCommunity,
			signingKey: communitySigningKey,
		}
	default:
		return &CommunityUpdate{
			base:       baseUpdate{template: template, repoPrefix: opts.CommunityRepoPrefix},
			kind:       model.StreamTest,
			signingKey: testSigningKey,
		}
	}
}

type baseUpdate struct {
	template   model.Params
	repoPrefix string
}

func (u baseUpdate) settings(in UpdateInput) model.Params {
	s := u.template.Clone()
	s["_NOOBSOLETEBUILD"] = "1"
	// The leading colon reads well behind "Build" in the test service UI.
	s["BUILD"] = ":" + in.Request.ID + "." + in.RequestName
	s["INCIDENT_REPO"] = fmt.Sprintf("%s/%s/%s/",
		u.repoPrefix,
		strings.ReplaceAll(in.SourceProject, ":", ":/"),
		model.ProjectRepository(in.TargetProject),
	)
	return s
}

// VendorUpdate handles vendor-maintained streams, including kernel and
// live-patch incidents.
type VendorUpdate struct {
	base   baseUpdate
	kgraft map[string]model.Params
}

// Kind implements Update.
func (u *VendorUpdate) Kind() model.StreamKind { return model.StreamVendor }

// Settings implements Update.
func (u *VendorUpdate) Settings(in UpdateInput) (model.Params, error) {
	s := u.base.settings(in)
	flavor := s["FLAVOR"]

	var kgTarget string
	var kgAction model.Action
	if flavor == flavorKGraft || flavor == flavorKernelIncidents {
		kgTarget, kgAction = kgraftTarget(in.Request)
	}

	started := false
	if flavor == flavorKernelIncidents {
		kAction, isKernel := kernelAction(in.Request)
		if isKernel || kgTarget != "" {
			name, src := ".kernel.", kAction.SourceProject
			if kgTarget != "" {
				name, src = ".kgraft.", kgAction.SourceProject
				s["KGRAFT"] = "1"
			}
			incident, err := incidentNumber(src)
			if err != nil {
				return nil, err
			}
			started = true
			s["BUILD"] = ":" + in.Request.ID + name + incident
			if kgTarget != "" {
				s["VERSION"] = parseKGraftVersion(kgTarget)
			}
		}
	}

	if flavor == flavorKGraft && kgTarget != "" {
		if extra, ok := u.kgraft[kgTarget]; ok {
			incident, err := incidentNumber(kgAction.SourceProject)
			if err != nil {
				return nil, err
			}
			s.Merge(extra)
			s["BUILD"] = ":" + in.Request.ID + ".kgraft." + incident
			s["MAINT_UPDATE_RRID"] = kgAction.SourceProject + ":" + in.Request.ID
		}
	}

	switch flavor {
	case flavorKGraft:
		// Live-patch bases without a known target only carry the base.
		if _, ok := s["VIRSH_GUESTNAME"]; !ok {
			return nil, fmt.Errorf("%w: no live-patch target settings for build %s", ErrSuppressed, s["BUILD"])
		}
	case flavorIncidents:
		if strings.HasPrefix(in.RequestName, "kgraft-patch") {
			return nil, fmt.Errorf("%w: live patch %s is not tested as a regular incident", ErrSuppressed, in.RequestName)
		}
	case flavorKernelIncidents:
		if !started {
			return nil, fmt.Errorf("%w: not a kernel or live-patch incident", ErrSuppressed)
		}
	}

	return s, nil
}

// kgraftTarget finds the live-patch target of a request. Requests touching
// kernel packages are kernel incidents, never live patches.
func kgraftTarget(req model.Request) (string, model.Action) {
	var target string
	var action model.Action
	for _, a := range req.Actions {
		if strings.HasPrefix(a.SourcePackage, "kernel-") {
			return "", model.Action{}
		}
		if m := kgraftPatchPattern.FindStringSubmatch(a.SourcePackage); m != nil {
			target = m[1]
			action = a
		}
	}
	return target, action
}

// kernelAction returns the action carrying kernel-source, if any.
func kernelAction(req model.Request) (model.Action, bool) {
	for _, a := range req.Actions {
		if strings.HasPrefix(a.SourcePackage, "kernel-source") {
			return a, true
		}
	}
	return model.Action{}, false
}

// parseKGraftVersion turns "SLE12-SP3_Update_4" into "12-SP3".
func parseKGraftVersion(target string) string {
	v := strings.TrimLeft(target, "SLE")
	return strings.SplitN(v, "_", 2)[0]
}

// incidentNumber extracts the trailing incident number from a project name
// such as "SUSE:Maintenance:4242".
func incidentNumber(project string) (string, error) {
	m := incidentNumberPattern.FindStringSubmatch(project)
	if m == nil {
		return "", fmt.Errorf("%w: no incident number in project %q", ErrSuppressed, project)
	}
	return m[1], nil
}

// CommunityUpdate handles community streams; the test stream is the same
// with a non-production signing key.
type CommunityUpdate struct {
	base       baseUpdate
	kind       model.StreamKind
	signingKey string
}

// Kind implements Update.
func (u *CommunityUpdate) Kind() model.StreamKind { return u.kind }

// Settings implements Update.
func (u *CommunityUpdate) Settings(in UpdateInput) (model.Params, error) {
	s := u.base.settings(in)

	s["IMPORT_GPG_KEYS"] = u.signingKey
	s["ZYPPER_ADD_REPO_PREFIX"] = "incident"

	// TODO: installing every binary conflicts when an incident ships
	// alternatives (sendmail vs postfix); needs a per-package exclude list.
	if len(in.Packages) > 0 {
		seen := make(map[string]bool, len(in.Packages))
		var names, versions []string
		for _, p := range in.Packages {
			if !seen[p.Name] {
				seen[p.Name] = true
				names = append(names, p.Name)
			}
			versions = append(versions, fmt.Sprintf("%s %s-%s", p.Name, p.Version, p.Release))
		}
		sort.Strings(names)
		s["INSTALL_PACKAGES"] = strings.Join(names, " ")
		s["VERIFY_PACKAGE_VERSIONS"] = strings.Join(versions, " ")
	}

	s["ZYPPER_ADD_REPOS"] = s["INCIDENT_REPO"]
	s["ADDONURL"] = s["INCIDENT_REPO"]
	s["WITH_MAIN_REPO"] = "1"
	s["WITH_UPDATE_REPO"] = "1"

	return s, nil
}

// AddLatestGoodUpdates implements LatestGoodFinder.
func (u *CommunityUpdate) AddLatestGoodUpdates(ctx context.Context, tests driven.TestService, params model.Params) error {
	jobs, err := tests.ListJobs(ctx, model.JobQuery{
		Distri:  params["DISTRI"],
		Version: params["VERSION"],
		Arch:    params["ARCH"],
		Flavor:  "Updates",
		Scope:   model.ScopeCurrent,
		// Needs raising if released-update coverage ever grows past this.
		Limit: 100,
	})
	if err != nil {
		return fmt.Errorf("listing update jobs for %s %s %s: %w", params["DISTRI"], params["VERSION"], params["ARCH"], err)
	}

	if build, ok := LatestGoodBuild(jobs); ok {
		params["LATEST_GOOD_UPDATES_BUILD"] = build
	}
	return nil
}

// LatestGoodBuild returns the newest "<major>-<minor>" build whose
// publishing jobs (those carrying PUBLISH_HDD_1) all passed or soft-failed.
func LatestGoodBuild(jobs []model.Job) (string, bool) {
	passed := make(map[string]bool)
	for _, j := range jobs {
		if _, ok := j.Settings["PUBLISH_HDD_1"]; !ok {
			continue
		}
		build := j.Settings["BUILD"]
		if j.IsPassing() {
			if _, seen := passed[build]; !seen {
				passed[build] = true
			}
		} else {
			passed[build] = false
		}
	}

	var bestMajor, bestMinor int
	for build, ok := range passed {
		if !ok {
			continue
		}
		major, minor, err := splitBuildNumber(build)
		if err != nil {
			continue
		}
		if major > bestMajor || (major == bestMajor && minor > bestMinor) {
			bestMajor, bestMinor = major, minor
		}
	}

	if bestMajor == 0 {
		return "", false
	}
	return fmt.Sprintf("%d-%d", bestMajor, bestMinor), true
}

func splitBuildNumber(build string) (int, int, error) {
	parts := strings.Split(build, "-")
	if len(parts) < 2 {
		return 0, 0, fmt.Errorf("build %q has no sequence suffix", build)
	}
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, err
	}
	minor, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, err
	}
	return major, minor, nil
}
