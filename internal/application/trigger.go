package application

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ericfisherdev/qabot/internal/domain/model"
	"github.com/ericfisherdev/qabot/internal/domain/port/driven"
)

// buildDateLayout prefixes daily build ids: "<YYYYMMDD>-<n>".
const buildDateLayout = "20060102"

// BuildTrigger keeps fixed targets tested: it reuses a build while the
// target's repositories are unchanged and starts at least one fresh build
// per day.
type BuildTrigger struct {
	tests           driven.TestService
	meta            driven.RepoMetadata
	changes         driven.ChangeService
	incidentProject string // Prefix of incident projects, e.g. "SUSE:Maintenance:".
	dryRun          bool
	now             func() time.Time
}

// NewBuildTrigger creates a BuildTrigger.
func NewBuildTrigger(
	tests driven.TestService,
	meta driven.RepoMetadata,
	changes driven.ChangeService,
	incidentProject string,
	dryRun bool,
) *BuildTrigger {
	return &BuildTrigger{
		tests:           tests,
		meta:            meta,
		changes:         changes,
		incidentProject: incidentProject,
		dryRun:          dryRun,
		now:             time.Now,
	}
}

// jobsForTarget lists the latest jobs of the target's marker test. Querying
// every job of a target is too expensive, so one known test stands in for
// the whole build.
func (t *BuildTrigger) jobsForTarget(ctx context.Context, target model.RepoTarget) ([]model.Job, error) {
	if len(target.Settings) == 0 {
		return nil, fmt.Errorf("target %s has no settings", target.Project)
	}

	q := model.QueryFor(target.Settings[0])
	q.Test = target.Test
	q.Latest = true

	jobs, err := t.tests.ListJobs(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("listing jobs for target %s: %w", target.Project, err)
	}
	return jobs, nil
}

// CurrentBuild returns the build of the newest job of target, or "" when the
// target has never been tested.
func (t *BuildTrigger) CurrentBuild(ctx context.Context, target model.RepoTarget) (string, error) {
	jobs, err := t.jobsForTarget(ctx, target)
	if err != nil {
		return "", err
	}

	var build string
	var newest int64
	for _, j := range jobs {
		// Never go backwards in job id.
		if j.ID < newest {
			continue
		}
		build = j.Settings["BUILD"]
		newest = j.ID
	}
	return build, nil
}

// EnsureBuild returns the build currently live for target, submitting a new
// one when the repositories changed or no build exists for today.
// Submission failures are logged and do not change the returned build.
func (t *BuildTrigger) EnsureBuild(ctx context.Context, target model.RepoTarget) (string, error) {
	today := t.now().Format(buildDateLayout)

	hash, err := Fingerprint(ctx, t.meta, target.Repos)
	if err != nil {
		return "", err
	}

	jobs, err := t.jobsForTarget(ctx, target)
	if err != nil {
		return "", err
	}

	// A fresh run every day finds test regressions and randomly failing
	// tests even when nothing changed.
	if build := adoptedBuild(jobs, hash); build != "" && strings.HasPrefix(build, today) {
		return build, nil
	}

	build := nextBuildID(today, jobs)

	extra, err := t.incidentSettings(ctx, target.Incidents)
	if err != nil {
		return "", err
	}

	for _, tmpl := range target.Settings {
		params := tmpl.Clone()
		params.Merge(extra)
		params["BUILD"] = build
		params["REPOHASH"] = hash

		slog.Info("scheduling target build",
			"target", target.Project,
			"build", build,
			"version", params["VERSION"],
			"arch", params["ARCH"],
			"flavor", params["FLAVOR"],
		)
		if t.dryRun {
			continue
		}
		if err := t.tests.ScheduleJobs(ctx, params); err != nil {
			slog.Error("target build submission failed", "target", target.Project, "build", build, "flavor", params["FLAVOR"], "error", err)
		}
	}

	return build, nil
}

// adoptedBuild returns the build of the last job recorded with hash.
func adoptedBuild(jobs []model.Job, hash string) string {
	var build string
	for _, j := range jobs {
		if j.Settings["REPOHASH"] == hash {
			build = j.Settings["BUILD"]
		}
	}
	return build
}

// nextBuildID returns "<today>-<n+1>" where n is the highest sequence among
// today's builds.
func nextBuildID(today string, jobs []model.Job) string {
	highest := 0
	for _, j := range jobs {
		build := j.Settings["BUILD"]
		if !strings.HasPrefix(build, today) {
			continue
		}
		parts := strings.Split(build, "-")
		if len(parts) < 2 {
			continue
		}
		if n, err := strconv.Atoi(parts[1]); err == nil && n > highest {
			highest = n
		}
	}
	return fmt.Sprintf("%s-%d", today, highest+1)
}

// incidentSettings lists, per issue kind, the incidents currently under test
// in the given projects as "<KIND>_TEST_ISSUES" settings. Incidents still in
// staging (no release request in review) and live patches are left out.
func (t *BuildTrigger) incidentSettings(ctx context.Context, incidents map[string]string) (model.Params, error) {
	out := make(model.Params, len(incidents))
	if len(incidents) == 0 {
		return out, nil
	}

	kinds := make([]string, 0, len(incidents))
	for kind := range incidents {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)

	for _, kind := range kinds {
		project := incidents[kind]
		packages, err := t.changes.ListPackages(ctx, project)
		if err != nil {
			return nil, fmt.Errorf("listing incidents in %s: %w", project, err)
		}

		var ids []string
		for _, pkg := range packages {
			// Packages are named "patchinfo.<incident>".
			parts := strings.Split(strings.ReplaceAll(pkg, "_", "."), ".")
			if len(parts) < 2 {
				continue
			}
			id := parts[1]

			req, err := t.changes.FindReleaseRequestInReview(ctx, t.incidentProject+id)
			if err != nil {
				return nil, fmt.Errorf("looking up release request for incident %s: %w", id, err)
			}
			if req == nil {
				continue
			}
			if target, _ := kgraftTarget(*req); target != "" {
				continue
			}
			ids = append(ids, id)
		}

		out[kind+"_TEST_ISSUES"] = strings.Join(ids, ",")
	}

	return out, nil
}
