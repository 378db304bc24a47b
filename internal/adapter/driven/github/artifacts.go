package github

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	gh "github.com/google/go-github/v82/github"

	"github.com/ericfisherdev/qabot/internal/domain/model"
)

// IncidentArtifacts lists the assets of the incident's release. GitHub has
// no per-repository build results, so repository and pkg only label errors.
func (c *Client) IncidentArtifacts(ctx context.Context, sourceProject, repository, pkg string) (model.Artifacts, error) {
	number, ok := c.incidentNumber(sourceProject)
	if !ok {
		return model.Artifacts{}, fmt.Errorf("%s is not an incident of %s/%s", sourceProject, c.owner, c.repo)
	}

	tag := "incident-" + strconv.Itoa(number)
	rel, resp, err := c.gh.Repositories.GetReleaseByTag(ctx, c.owner, c.repo, tag)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return model.Artifacts{}, fmt.Errorf("no build results for %s %s in %s: release %s missing", sourceProject, pkg, repository, tag)
		}
		return model.Artifacts{}, fmt.Errorf("fetching release %s: %w", tag, err)
	}

	logRateLimit(resp, c.owner+"/"+c.repo+"/release", 0, len(rel.Assets))

	art := model.Artifacts{PatchID: rel.GetName()}
	for _, a := range rel.Assets {
		art.Binaries = append(art.Binaries, a.GetName())
	}
	return art, nil
}

// ListPackages returns "patchinfo.<number>" for every open pull request
// labelled with project.
func (c *Client) ListPackages(ctx context.Context, project string) ([]string, error) {
	opts := &gh.IssueListByRepoOptions{
		State:       "open",
		Labels:      []string{project},
		ListOptions: gh.ListOptions{PerPage: 100},
	}

	var packages []string

	for {
		issues, resp, err := c.gh.Issues.ListByRepo(ctx, c.owner, c.repo, opts)
		if err != nil {
			return nil, fmt.Errorf("listing pull requests labelled %s (page %d): %w", project, opts.ListOptions.Page, err)
		}

		logRateLimit(resp, c.owner+"/"+c.repo+"/issues", opts.ListOptions.Page, len(issues))

		for _, is := range issues {
			if is.IsPullRequest() {
				packages = append(packages, "patchinfo."+strconv.Itoa(is.GetNumber()))
			}
		}

		if resp.NextPage == 0 {
			break
		}
		opts.ListOptions.Page = resp.NextPage
	}

	return packages, nil
}

// LinkHasCICount reports whether the incident carries a copy-in label for
// the package part of pkg ("curl.SUSE_Updates_..." → "copy-in:curl").
func (c *Client) LinkHasCICount(ctx context.Context, project, pkg string) (bool, error) {
	number, ok := c.incidentNumber(project)
	if !ok {
		return false, nil
	}

	labels, resp, err := c.gh.Issues.ListLabelsByIssue(ctx, c.owner, c.repo, number, &gh.ListOptions{PerPage: 100})
	if err != nil {
		return false, fmt.Errorf("listing labels of %s/%s#%d: %w", c.owner, c.repo, number, err)
	}

	logRateLimit(resp, c.owner+"/"+c.repo+"/labels", 0, len(labels))

	name, _, _ := strings.Cut(pkg, ".")
	for _, l := range labels {
		if l.GetName() == labelCopyIn+name {
			return true, nil
		}
	}
	return false, nil
}
