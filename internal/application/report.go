package application

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/ericfisherdev/qabot/internal/domain/model"
	"github.com/ericfisherdev/qabot/internal/domain/port/driven"
)

// Report headers.
const (
	headerPassed   = "openQA tests passed"
	headerFailed   = "openQA tests problematic"
	headerNoTests  = "no openQA tests defined"
	noteNowTesting = "now testing in openQA"
)

// GroupReport summarizes the jobs of one job group and flavor.
type GroupReport struct {
	Name     string
	URL      string
	Passed   int
	Failures []string // One markdown list item per problematic job.
}

// Report is the grouped outcome of a request's jobs.
type Report struct {
	Groups []GroupReport // Sorted by name.
}

// HasFailures reports whether any job needs human attention.
func (r Report) HasFailures() bool {
	for _, g := range r.Groups {
		if len(g.Failures) > 0 {
			return true
		}
	}
	return false
}

// Markdown renders the report below header.
func (r Report) Markdown(header string) string {
	var b strings.Builder
	b.WriteString(header)
	b.WriteString("\n")
	for _, g := range r.Groups {
		fmt.Fprintf(&b, "\n\n__Group [%s](%s)__\n", g.Name, g.URL)
		fmt.Fprintf(&b, "(%d tests passed, %d failed)\n", g.Passed, len(g.Failures))
		for _, f := range g.Failures {
			b.WriteString("\n")
			b.WriteString(f)
		}
	}
	return b.String()
}

// Reporter builds reports, looking up failed steps in the test service.
type Reporter struct {
	tests driven.TestService
}

// NewReporter creates a Reporter.
func NewReporter(tests driven.TestService) *Reporter {
	return &Reporter{tests: tests}
}

// Build groups the latest attempt of every job by group and flavor.
func (r *Reporter) Build(ctx context.Context, jobs []model.Job) Report {
	groups := make(map[string]*GroupReport)

	for _, job := range latestJobs(jobs) {
		name := escapeMarkdown(job.Group) + "@" + escapeMarkdown(job.Settings["FLAVOR"])
		g, ok := groups[name]
		if !ok {
			g = &GroupReport{Name: name, URL: r.overviewURL(job)}
			groups[name] = g
		}

		summary := r.summarizeJob(ctx, job)
		if summary == "" {
			g.Passed++
			continue
		}
		g.Failures = append(g.Failures, summary)
	}

	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)

	report := Report{Groups: make([]GroupReport, 0, len(names))}
	for _, name := range names {
		report.Groups = append(report.Groups, *groups[name])
	}
	return report
}

// summarizeJob returns a list item for a problematic job, or "" when the
// job passed.
func (r *Reporter) summarizeJob(ctx context.Context, job model.Job) string {
	testURL := r.testURL(job.ID)
	name := escapeMarkdown(job.Settings["TEST"]) + "@" + escapeMarkdown(job.Settings["MACHINE"])

	switch job.Result {
	case model.JobResultPassed, model.JobResultFailed, model.JobResultSoftFailed:
	default:
		return fmt.Sprintf("- [%s](%s) is %s", name, testURL, job.Result)
	}

	var modules []string
	for _, m := range job.Modules {
		if m.Result != model.JobResultFailed {
			continue
		}
		modules = append(modules, r.stepLink(ctx, job.ID, testURL, m.Name))
	}

	if len(modules) > 0 {
		return fmt.Sprintf("- [%s](%s) failed in %s", name, testURL, strings.Join(modules, ","))
	}
	if job.Result == model.JobResultFailed {
		// Rare: failed without a failed module.
		return fmt.Sprintf("- [%s](%s) failed", name, testURL)
	}
	return ""
}

func (r *Reporter) stepLink(ctx context.Context, jobID int64, testURL, module string) string {
	step, err := r.tests.FirstFailedStep(ctx, jobID, module)
	if err != nil {
		slog.Debug("first failed step unavailable", "job", jobID, "module", module, "error", err)
		step = 1
	}
	return fmt.Sprintf("[%s](%s#step/%s/%d)", escapeMarkdown(module), testURL, module, step)
}

func (r *Reporter) testURL(jobID int64) string {
	return strings.TrimRight(r.tests.BaseURL(), "/") + "/tests/" + strconv.FormatInt(jobID, 10)
}

func (r *Reporter) overviewURL(job model.Job) string {
	q := url.Values{}
	q.Set("version", job.Settings["VERSION"])
	q.Set("groupid", strconv.FormatInt(job.GroupID, 10))
	q.Set("flavor", job.Settings["FLAVOR"])
	q.Set("distri", job.Settings["DISTRI"])
	q.Set("build", job.Settings["BUILD"])
	return strings.TrimRight(r.tests.BaseURL(), "/") + "/tests/overview?" + q.Encode()
}

// escapeMarkdown keeps underscores in test names from turning into emphasis.
func escapeMarkdown(s string) string {
	return strings.ReplaceAll(s, "_", `\_`)
}
