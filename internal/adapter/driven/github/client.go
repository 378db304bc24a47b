// Package github implements the ChangeService port on top of GitHub pull
// requests using the go-github library.
//
// Each pull request of the configured repository stands for one incident.
// Labels carry what OBS keeps in request actions:
//
//	release:<target project>  the incident is released into that project
//	package:<name>            a source package of the incident
//	copy-in:<name>            that package was copied in, not linked
//	<project>                 the incident is listed in that project
//
// Builds are release assets of the release tagged "incident-<number>"; the
// release name is the patch id.
package github

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	gh "github.com/google/go-github/v82/github"
	"github.com/gregjones/httpcache"

	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit"

	"github.com/ericfisherdev/qabot/internal/domain/model"
	"github.com/ericfisherdev/qabot/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.ChangeService = (*Client)(nil)

const (
	labelRelease = "release:"
	labelPackage = "package:"
	labelCopyIn  = "copy-in:"
)

// Config selects the repository and the reviewer the bot acts as.
type Config struct {
	Token          string
	Repo           string // "owner/repo" holding the incident pull requests.
	Reviewer       string // Login whose requested review marks a pull request pending.
	IncidentPrefix string // Prepended to the pull request number to form the incident project.
}

// Client implements driven.ChangeService using the go-github library.
type Client struct {
	gh             *gh.Client
	owner          string
	repo           string
	reviewer       string
	incidentPrefix string
}

// NewClient creates a new GitHub API client with the following transport stack:
//  1. httpcache (ETag-based conditional request caching)
//  2. go-github-ratelimit (secondary rate limit middleware, sleeps on 429)
//  3. go-github (GitHub REST API client with PAT auth)
func NewClient(cfg Config) (*Client, error) {
	cacheTransport := httpcache.NewMemoryCacheTransport()
	rateLimitClient := github_ratelimit.NewClient(cacheTransport)
	client := gh.NewClient(rateLimitClient).WithAuthToken(cfg.Token)

	return newClient(client, cfg)
}

// NewClientWithHTTPClient creates a Client with a custom http.Client and base URL.
// This constructor is intended for testing, allowing injection of an httptest server.
func NewClientWithHTTPClient(httpClient *http.Client, baseURL string, cfg Config) (*Client, error) {
	client := gh.NewClient(httpClient)

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	client.BaseURL = u

	return newClient(client, cfg)
}

func newClient(client *gh.Client, cfg Config) (*Client, error) {
	owner, repo, err := splitRepo(cfg.Repo)
	if err != nil {
		return nil, err
	}
	return &Client{
		gh:             client,
		owner:          owner,
		repo:           repo,
		reviewer:       cfg.Reviewer,
		incidentPrefix: cfg.IncidentPrefix,
	}, nil
}

// ListPendingRequests returns open pull requests that request a review from
// the bot's reviewer login.
func (c *Client) ListPendingRequests(ctx context.Context) ([]model.Request, error) {
	opts := &gh.PullRequestListOptions{
		State:     "open",
		Sort:      "created",
		Direction: "asc",
		ListOptions: gh.ListOptions{
			PerPage: 100,
		},
	}

	var pending []model.Request

	for {
		prs, resp, err := c.gh.PullRequests.List(ctx, c.owner, c.repo, opts)
		if err != nil {
			return nil, fmt.Errorf("listing pull requests for %s/%s (page %d): %w", c.owner, c.repo, opts.Page, err)
		}

		logRateLimit(resp, c.owner+"/"+c.repo, opts.Page, len(prs))

		for _, pr := range prs {
			if c.reviewRequested(pr) {
				pending = append(pending, c.mapRequest(pr))
			}
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return pending, nil
}

// FindReleaseRequestInReview returns the open pull request behind an
// incident project, or nil when it is closed or not released anywhere yet.
func (c *Client) FindReleaseRequestInReview(ctx context.Context, sourceProject string) (*model.Request, error) {
	number, ok := c.incidentNumber(sourceProject)
	if !ok {
		return nil, nil
	}

	pr, resp, err := c.gh.PullRequests.Get(ctx, c.owner, c.repo, number)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("fetching pull request %s/%s#%d: %w", c.owner, c.repo, number, err)
	}

	logRateLimit(resp, c.owner+"/"+c.repo+"/pull", 0, 1)

	if pr.GetState() != "open" {
		return nil, nil
	}
	req := c.mapRequest(pr)
	if len(req.ActionsOfKind(model.ActionRelease)) == 0 {
		return nil, nil
	}
	return &req, nil
}

func (c *Client) reviewRequested(pr *gh.PullRequest) bool {
	for _, u := range pr.RequestedReviewers {
		if strings.EqualFold(u.GetLogin(), c.reviewer) {
			return true
		}
	}
	return false
}

// incidentNumber reverses incidentProject.
func (c *Client) incidentNumber(project string) (int, bool) {
	if !strings.HasPrefix(project, c.incidentPrefix) {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimPrefix(project, c.incidentPrefix))
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func (c *Client) incidentProject(number int) string {
	return c.incidentPrefix + strconv.Itoa(number)
}

// mapRequest converts a pull request into a request with one release
// action per package and target, plus the patchinfo action per target.
// It uses GetXxx() helper methods exclusively to avoid nil pointer panics.
func (c *Client) mapRequest(pr *gh.PullRequest) model.Request {
	state := model.RequestStateReview
	if !pr.GetMergedAt().IsZero() {
		state = model.RequestStateAccepted
	} else if pr.GetState() == "closed" {
		state = model.RequestStateDeclined
	}

	number := pr.GetNumber()
	req := model.Request{
		ID:      strconv.Itoa(number),
		Creator: pr.GetUser().GetLogin(),
		State:   state,
	}

	var targets, packages []string
	for _, l := range pr.Labels {
		name := l.GetName()
		switch {
		case strings.HasPrefix(name, labelRelease):
			targets = append(targets, strings.TrimPrefix(name, labelRelease))
		case strings.HasPrefix(name, labelPackage):
			packages = append(packages, strings.TrimPrefix(name, labelPackage))
		}
	}

	source := c.incidentProject(number)
	suffix := "." + strconv.Itoa(number)
	for _, target := range targets {
		for _, pkg := range packages {
			req.Actions = append(req.Actions, model.Action{
				Kind:          model.ActionRelease,
				SourceProject: source,
				SourcePackage: pkg + "." + model.ProjectRepository(target),
				TargetProject: target,
				TargetPackage: pkg + suffix,
			})
		}
		req.Actions = append(req.Actions, model.Action{
			Kind:          model.ActionRelease,
			SourceProject: source,
			SourcePackage: "patchinfo",
			TargetProject: target,
			TargetPackage: "patchinfo" + suffix,
		})
	}
	return req
}

// logRateLimit logs the GitHub API rate limit status after each call.
func logRateLimit(resp *gh.Response, endpoint string, page, count int) {
	if resp == nil {
		return
	}

	slog.Debug("github api call",
		"endpoint", endpoint,
		"page", page,
		"count", count,
		"rate_remaining", resp.Rate.Remaining,
		"rate_limit", resp.Rate.Limit,
	)

	if resp.Rate.Limit > 0 && resp.Rate.Remaining < 100 {
		slog.Warn("github rate limit low",
			"remaining", resp.Rate.Remaining,
			"reset_in", time.Until(resp.Rate.Reset.Time).Round(time.Second),
		)
	}
}

// splitRepo splits a "owner/repo" string into its two components.
func splitRepo(fullName string) (string, string, error) {
	parts := strings.SplitN(fullName, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repo name %q: expected owner/repo", fullName)
	}
	return parts[0], parts[1], nil
}
