package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ericfisherdev/qabot/internal/domain/model"
	"github.com/ericfisherdev/qabot/internal/domain/port/driven"
)

// unknownBuild is queried for targets whose current build is not known, so
// the query matches nothing instead of everything.
const unknownBuild = "UNKNOWN"

// Options are the per-run switches of the orchestrator.
type Options struct {
	// Force re-checks requests that already have a verdict.
	Force bool
	// DryRun computes everything but submits no jobs and changes no review.
	DryRun bool
	// ReviewGroup and ReviewUser attribute review changes.
	ReviewGroup string
	ReviewUser  string
}

// TargetOutcome is what a pass did with one fixed target.
type TargetOutcome struct {
	Project string
	Build   string
	Held    bool // A pending shared evaluation kept the build from advancing.
	Err     string
}

// PassSummary describes one orchestrator pass.
type PassSummary struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Requests   int
	Verdicts   []model.Verdict
	Targets    []TargetOutcome
	Errors     []string // Per-item failures; the pass carried on.
	Err        string   // Set when the pass was aborted.
	// NewWaveHeld is set when unstarted requests were not scheduled because a
	// target is still waiting for its previous wave.
	NewWaveHeld bool
}

// Awaiting counts the requests still waiting for results.
func (s PassSummary) Awaiting() int {
	var n int
	for _, v := range s.Verdicts {
		if v.State == model.GateAwaiting {
			n++
		}
	}
	return n
}

// pass holds the state of one orchestrator pass. Nothing survives the pass.
type pass struct {
	id          string
	log         *slog.Logger
	builds      map[string]string // Target project → current build.
	pending     map[string]bool   // Targets that must not advance this pass.
	unavailable map[string]bool   // Targets whose current build could not be read.
	names       map[string]string // Request id → request name.
}

// Orchestrator gates requests on test results. Every pass reconstructs its
// view from the change-management and test-execution services.
type Orchestrator struct {
	changes  driven.ChangeService
	tests    driven.TestService
	trigger  *BuildTrigger
	comments *StatusCommenter
	reporter *Reporter
	streams  map[string][]Update // Target project → settings variants.
	targets  []model.RepoTarget  // Sorted by project.
	byTarget map[string]model.RepoTarget
	opts     Options

	verdicts driven.VerdictStore
	builds   driven.BuildStore
	archive  driven.ReportArchive

	newPassID func() string
	now       func() time.Time
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(
	changes driven.ChangeService,
	tests driven.TestService,
	trigger *BuildTrigger,
	comments *StatusCommenter,
	reporter *Reporter,
	streams map[string][]Update,
	targets []model.RepoTarget,
	opts Options,
) *Orchestrator {
	sorted := make([]model.RepoTarget, len(targets))
	copy(sorted, targets)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Project < sorted[j].Project })

	byTarget := make(map[string]model.RepoTarget, len(sorted))
	for _, t := range sorted {
		byTarget[t.Project] = t
	}

	return &Orchestrator{
		changes:   changes,
		tests:     tests,
		trigger:   trigger,
		comments:  comments,
		reporter:  reporter,
		streams:   streams,
		targets:   sorted,
		byTarget:  byTarget,
		opts:      opts,
		newPassID: uuid.NewString,
		now:       time.Now,
	}
}

// SetAuditStores enables the verdict and build audit trail.
func (o *Orchestrator) SetAuditStores(verdicts driven.VerdictStore, builds driven.BuildStore) {
	o.verdicts = verdicts
	o.builds = builds
}

// SetReportArchive enables archiving of final reports.
func (o *Orchestrator) SetReportArchive(archive driven.ReportArchive) {
	o.archive = archive
}

// Targets returns the configured fixed targets ordered by project.
func (o *Orchestrator) Targets() []model.RepoTarget {
	return o.targets
}

// CurrentBuild returns the build currently live for a fixed target.
func (o *Orchestrator) CurrentBuild(ctx context.Context, target model.RepoTarget) (string, error) {
	return o.trigger.CurrentBuild(ctx, target)
}

// RunPass evaluates every pending request and every fixed target once.
// Requests already under test are judged before any fixed target may start a
// new build, and new requests are only scheduled once no target is waiting
// for its previous wave. It only returns an error when the pending requests
// cannot be listed.
func (o *Orchestrator) RunPass(ctx context.Context) (PassSummary, error) {
	p := &pass{
		id:          o.newPassID(),
		builds:      make(map[string]string, len(o.targets)),
		pending:     make(map[string]bool),
		unavailable: make(map[string]bool),
		names:       make(map[string]string),
	}
	p.log = slog.With("pass", p.id)

	summary := PassSummary{ID: p.id, StartedAt: o.now()}
	defer func() {
		p.log.Info("pass complete",
			"requests", summary.Requests,
			"verdicts", len(summary.Verdicts),
			"errors", len(summary.Errors),
			"held", summary.NewWaveHeld,
			"duration", o.now().Sub(summary.StartedAt).Round(time.Millisecond),
		)
	}()

	o.gatherBuilds(ctx, p, &summary)

	requests, err := o.changes.ListPendingRequests(ctx)
	if err != nil {
		summary.Err = err.Error()
		summary.FinishedAt = o.now()
		return summary, fmt.Errorf("listing pending requests: %w", err)
	}
	summary.Requests = len(requests)

	var started, unstarted []model.Request
	for _, req := range requests {
		isStarted, err := o.classify(ctx, p, req)
		if err != nil {
			o.itemFailed(p, &summary, "request", req.ID, err)
			continue
		}
		if isStarted {
			started = append(started, req)
		} else {
			unstarted = append(unstarted, req)
		}
	}

	o.judge(ctx, p, started, &summary)

	for _, target := range o.targets {
		summary.Targets = append(summary.Targets, o.advanceTarget(ctx, p, target, &summary))
	}

	for _, t := range summary.Targets {
		if t.Held {
			summary.NewWaveHeld = true
		}
	}
	if summary.NewWaveHeld {
		p.log.Info("holding new requests until pending targets finish", "requests", len(unstarted))
	} else {
		o.judge(ctx, p, unstarted, &summary)
	}

	summary.FinishedAt = o.now()
	return summary, nil
}

// gatherBuilds reads the current build of every fixed target.
func (o *Orchestrator) gatherBuilds(ctx context.Context, p *pass, summary *PassSummary) {
	for _, target := range o.targets {
		build, err := o.trigger.CurrentBuild(ctx, target)
		if err != nil {
			o.itemFailed(p, summary, "target", target.Project, err)
			p.unavailable[target.Project] = true
			continue
		}
		p.builds[target.Project] = build
	}
}

// classify reports whether the request's own jobs exist. The shared jobs of
// its targets are read as well so running ones mark the target pending.
func (o *Orchestrator) classify(ctx context.Context, p *pass, req model.Request) (started bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("classifying request %s: panic: %v", req.ID, r)
		}
	}()

	jobs, err := o.requestJobs(ctx, p, req, true, false)
	if err != nil {
		return false, err
	}
	if _, err := o.requestJobs(ctx, p, req, false, true); err != nil {
		return false, err
	}
	return AggregateStatus(jobs) != model.QAStatusUnknown, nil
}

// advanceTarget ensures a current build for target unless requests judged
// against its previous build are still pending.
func (o *Orchestrator) advanceTarget(ctx context.Context, p *pass, target model.RepoTarget, summary *PassSummary) TargetOutcome {
	out := TargetOutcome{Project: target.Project, Build: p.builds[target.Project]}

	if p.unavailable[target.Project] {
		p.log.Warn("target held, current build unknown", "target", target.Project)
		out.Held = true
		out.Err = "current build unknown"
		return out
	}

	if p.pending[target.Project] {
		p.log.Info("target held by pending shared jobs", "target", target.Project, "build", out.Build)
		out.Held = true
		o.recordBuild(ctx, p, out)
		return out
	}

	build, err := o.trigger.EnsureBuild(ctx, target)
	if err != nil {
		o.itemFailed(p, summary, "target", target.Project, err)
		out.Err = err.Error()
		return out
	}

	p.builds[target.Project] = build
	out.Build = build
	o.recordBuild(ctx, p, out)
	return out
}

// judge evaluates requests one by one. A failing request never stops the
// others.
func (o *Orchestrator) judge(ctx context.Context, p *pass, requests []model.Request, summary *PassSummary) {
	for _, req := range requests {
		if ctx.Err() != nil {
			return
		}

		verdict, err := o.evaluate(ctx, p, req)
		if err != nil {
			o.itemFailed(p, summary, "request", req.ID, err)
			continue
		}

		p.log.Debug("request evaluated", "request", req.ID, "state", verdict.State, "status", verdict.Status)
		if verdict.State == model.GateAwaiting {
			// Judge the request against the target build it started with.
			for _, a := range req.ActionsOfKind(model.ActionRelease) {
				if _, ok := o.byTarget[a.TargetProject]; ok {
					p.pending[a.TargetProject] = true
				}
			}
		}
		summary.Verdicts = append(summary.Verdicts, verdict)
		o.recordVerdict(ctx, p, verdict)
	}
}

// evaluate moves one request through the gate. Panics are turned into errors
// so one broken request leaves the rest of the pass intact.
func (o *Orchestrator) evaluate(ctx context.Context, p *pass, req model.Request) (verdict model.Verdict, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("evaluating request %s: panic: %v", req.ID, r)
		}
	}()

	jobs, err := o.requestJobs(ctx, p, req, true, false)
	if err != nil {
		return model.Verdict{}, err
	}

	status := AggregateStatus(jobs)
	p.log.Debug("request status", "request", req.ID, "status", status)

	switch {
	case o.opts.Force || status == model.QAStatusUnknown:
		return o.startTesting(ctx, p, req)
	case status.IsFinal():
		return o.conclude(ctx, p, req, jobs, status)
	default:
		return model.Verdict{
			RequestID: req.ID,
			State:     model.GateAwaiting,
			Status:    status,
			Jobs:      len(jobs),
		}, nil
	}
}

// startTesting schedules the request's jobs. A request no settings apply to
// passes right away.
func (o *Orchestrator) startTesting(ctx context.Context, p *pass, req model.Request) (model.Verdict, error) {
	applicable, err := o.scheduleRequest(ctx, p, req)
	if err != nil {
		return model.Verdict{}, err
	}

	if o.opts.Force {
		o.comments.DeleteStatus(ctx, req.ID)
	}

	jobs, err := o.requestJobs(ctx, p, req, true, false)
	if err != nil {
		return model.Verdict{}, err
	}

	if applicable == 0 && len(jobs) == 0 {
		o.comments.PostStatus(ctx, req.ID, headerNoTests, model.Marker{State: model.CommentDone, Result: model.CommentAccepted})
		if err := o.changeReview(ctx, p, req, model.ReviewAccepted, headerNoTests); err != nil {
			return model.Verdict{}, err
		}
		return model.Verdict{
			RequestID: req.ID,
			State:     model.GatePassed,
			Status:    model.QAStatusPassed,
			Message:   headerNoTests,
		}, nil
	}

	// No notification until the result is known.
	if err := o.changeReview(ctx, p, req, model.ReviewOpen, noteNowTesting); err != nil {
		return model.Verdict{}, err
	}
	return model.Verdict{
		RequestID: req.ID,
		State:     model.GateAwaiting,
		Status:    AggregateStatus(jobs),
		Message:   noteNowTesting,
		Jobs:      len(jobs),
	}, nil
}

// conclude decides a request whose own jobs are done. The shared test
// repository jobs must be done too; they show up in the report but are left
// to humans to attribute.
func (o *Orchestrator) conclude(ctx context.Context, p *pass, req model.Request, jobs []model.Job, status model.QAStatus) (model.Verdict, error) {
	repoJobs, err := o.requestJobs(ctx, p, req, false, true)
	if err != nil {
		return model.Verdict{}, err
	}

	all := make([]model.Job, 0, len(jobs)+len(repoJobs))
	all = append(all, jobs...)
	all = append(all, repoJobs...)

	if AggregateStatus(all) == model.QAStatusInProgress {
		p.log.Debug("incident jobs done, waiting for test repository", "request", req.ID)
		return model.Verdict{
			RequestID: req.ID,
			State:     model.GateAwaiting,
			Status:    model.QAStatusInProgress,
			Jobs:      len(all),
		}, nil
	}

	report := o.reporter.Build(ctx, all)

	verdict := model.Verdict{RequestID: req.ID, Jobs: len(all)}
	header, result, decision := headerPassed, model.CommentAccepted, model.ReviewAccepted
	verdict.State, verdict.Status = model.GatePassed, model.QAStatusPassed
	if status == model.QAStatusFailed || report.HasFailures() {
		header, result, decision = headerFailed, model.CommentDeclined, model.ReviewDeclined
		verdict.State, verdict.Status = model.GateFailed, model.QAStatusFailed
	}

	p.log.Info("request decided", "request", req.ID, "result", result)
	verdict.Message = report.Markdown(header)

	o.comments.PostStatus(ctx, req.ID, verdict.Message, model.Marker{State: model.CommentDone, Result: result})
	o.archiveReport(ctx, p, req.ID, result, verdict.Message)

	if err := o.changeReview(ctx, p, req, decision, header); err != nil {
		return model.Verdict{}, err
	}
	return verdict, nil
}

// requestJobs lists the jobs a request is judged on: its own incident jobs
// and/or the shared jobs of its target projects' current builds. Targets
// whose shared jobs are still running are marked pending.
func (o *Orchestrator) requestJobs(ctx context.Context, p *pass, req model.Request, incident, testRepo bool) ([]model.Job, error) {
	if len(req.ActionsOfKind(model.ActionRelease)) == 0 {
		return nil, nil
	}

	sources := make(map[string]bool)
	targets := make(map[string]bool)
	for _, a := range req.Actions {
		sources[a.SourceProject] = true
		targets[a.TargetProject] = true
	}
	if len(sources) != 1 {
		return nil, fmt.Errorf("request %s releases from %d incidents, expected one", req.ID, len(sources))
	}
	var source string
	for s := range sources {
		source = s
	}

	projects := make([]string, 0, len(targets))
	for t := range targets {
		projects = append(projects, t)
	}
	sort.Strings(projects)

	var out []model.Job
	for _, prj := range projects {
		if incident {
			jobs, err := o.incidentJobs(ctx, p, req, source, prj)
			if err != nil {
				return nil, err
			}
			out = append(out, jobs...)
		}

		target, ok := o.byTarget[prj]
		if !testRepo || !ok {
			continue
		}
		if p.unavailable[prj] {
			return nil, fmt.Errorf("current build of %s unknown this pass", prj)
		}
		build := p.builds[prj]
		if build == "" {
			build = unknownBuild
		}
		for _, s := range target.Settings {
			q := model.QueryFor(s)
			q.Build = build
			q.Scope = model.ScopeRelevant
			jobs, err := o.tests.ListJobs(ctx, q)
			if err != nil {
				return nil, fmt.Errorf("listing shared jobs of %s build %s: %w", prj, build, err)
			}
			out = append(out, jobs...)
			if AggregateStatus(jobs) == model.QAStatusInProgress {
				p.pending[prj] = true
			}
		}
	}
	return out, nil
}

func (o *Orchestrator) incidentJobs(ctx context.Context, p *pass, req model.Request, source, target string) ([]model.Job, error) {
	updates := o.streams[target]
	if len(updates) == 0 {
		return nil, nil
	}

	name, err := o.requestName(ctx, p, req)
	if err != nil {
		return nil, err
	}

	var out []model.Job
	for _, u := range updates {
		s, err := u.Settings(UpdateInput{
			SourceProject: source,
			TargetProject: target,
			Request:       req,
			RequestName:   name,
		})
		if errors.Is(err, ErrSuppressed) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("deriving settings for request %s on %s: %w", req.ID, target, err)
		}

		q := model.QueryFor(s)
		q.Build = s["BUILD"]
		q.Scope = model.ScopeRelevant
		jobs, err := o.tests.ListJobs(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("listing jobs of request %s build %s: %w", req.ID, q.Build, err)
		}
		out = append(out, jobs...)
	}
	return out, nil
}

// requestName names a request after its first released package that is
// neither a patchinfo nor a copy-in link, memoised for the pass.
func (o *Orchestrator) requestName(ctx context.Context, p *pass, req model.Request) (string, error) {
	if name, ok := p.names[req.ID]; ok {
		return name, nil
	}

	name := "unknown"
	for _, a := range req.ActionsOfKind(model.ActionRelease) {
		if strings.HasPrefix(a.TargetPackage, "patchinfo") {
			continue
		}
		copied, err := o.changes.LinkHasCICount(ctx, a.SourceProject, a.SourcePackage)
		if err != nil {
			return "", fmt.Errorf("reading link of %s/%s: %w", a.SourceProject, a.SourcePackage, err)
		}
		if copied {
			continue
		}
		name = a.TargetPackage
		break
	}

	p.names[req.ID] = name
	return name, nil
}

// scheduleRequest submits jobs for every release action and returns how many
// settings applied.
func (o *Orchestrator) scheduleRequest(ctx context.Context, p *pass, req model.Request) (int, error) {
	var applicable int
	for _, a := range req.ActionsOfKind(model.ActionRelease) {
		n, err := o.scheduleAction(ctx, p, req, a)
		if err != nil {
			return applicable, err
		}
		applicable += n
	}
	return applicable, nil
}

func (o *Orchestrator) scheduleAction(ctx context.Context, p *pass, req model.Request, a model.Action) (int, error) {
	// Only the patchinfo collects the incident's binaries.
	if a.SourcePackage != "patchinfo" {
		return 0, nil
	}

	updates, ok := o.streams[a.TargetProject]
	if !ok {
		p.log.Warn("no settings for target project", "request", req.ID, "target", a.TargetProject)
		return 0, nil
	}

	artifacts, err := o.changes.IncidentArtifacts(ctx, a.SourceProject, model.ProjectRepository(a.TargetProject), a.SourcePackage)
	if err != nil {
		return 0, fmt.Errorf("reading binaries of %s: %w", a.SourceProject, err)
	}
	packages := artifacts.Packages()
	if len(packages) == 0 {
		return 0, fmt.Errorf("no packages found in %s for %s", a.SourceProject, a.TargetProject)
	}

	name, err := o.requestName(ctx, p, req)
	if err != nil {
		return 0, err
	}

	p.log.Debug("incident binaries", "request", req.ID, "packages", len(packages), "patch", artifacts.PatchID)

	var applicable int
	for _, u := range updates {
		s, err := u.Settings(UpdateInput{
			SourceProject: a.SourceProject,
			TargetProject: a.TargetProject,
			Packages:      packages,
			Request:       req,
			RequestName:   name,
		})
		if errors.Is(err, ErrSuppressed) {
			p.log.Info("settings not applicable", "request", req.ID, "kind", u.Kind(), "reason", err)
			continue
		}
		if err != nil {
			return applicable, fmt.Errorf("deriving settings for request %s: %w", req.ID, err)
		}

		if artifacts.PatchID != "" {
			s["INCIDENT_PATCH"] = artifacts.PatchID
		}
		if f, ok := u.(LatestGoodFinder); ok {
			if err := f.AddLatestGoodUpdates(ctx, o.tests, s); err != nil {
				p.log.Warn("latest good updates build unavailable", "request", req.ID, "error", err)
			}
		}

		applicable++
		p.log.Info("scheduling incident jobs",
			"request", req.ID,
			"version", s["VERSION"],
			"arch", s["ARCH"],
			"build", s["BUILD"],
		)
		if o.opts.DryRun {
			continue
		}
		if err := o.tests.ScheduleJobs(ctx, s); err != nil {
			p.log.Error("incident job submission failed", "request", req.ID, "build", s["BUILD"], "error", err)
		}
	}
	return applicable, nil
}

func (o *Orchestrator) changeReview(ctx context.Context, p *pass, req model.Request, decision model.ReviewDecision, msg string) error {
	change := model.ReviewChange{
		Decision: decision,
		Message:  msg,
		ByGroup:  o.opts.ReviewGroup,
		ByUser:   o.opts.ReviewUser,
	}

	if o.opts.DryRun {
		p.log.Info("dry run: review not changed", "request", req.ID, "decision", decision)
		return nil
	}
	if err := o.changes.ChangeReviewState(ctx, req.ID, change); err != nil {
		return fmt.Errorf("changing review of request %s to %s: %w", req.ID, decision, err)
	}
	return nil
}

func (o *Orchestrator) archiveReport(ctx context.Context, p *pass, requestID string, result model.CommentResult, body string) {
	if o.archive == nil || o.opts.DryRun {
		return
	}
	if err := o.archive.PutReport(ctx, requestID, result, body); err != nil {
		p.log.Error("archiving report failed", "request", requestID, "error", err)
	}
}

func (o *Orchestrator) recordVerdict(ctx context.Context, p *pass, v model.Verdict) {
	if o.verdicts == nil || o.opts.DryRun || v.Message == "" {
		return
	}
	err := o.verdicts.RecordVerdict(ctx, model.VerdictRecord{
		PassID:     p.id,
		RequestID:  v.RequestID,
		State:      v.State,
		Status:     v.Status,
		Message:    v.Message,
		RecordedAt: o.now().UTC(),
	})
	if err != nil {
		p.log.Error("recording verdict failed", "request", v.RequestID, "error", err)
	}
}

func (o *Orchestrator) recordBuild(ctx context.Context, p *pass, out TargetOutcome) {
	if o.builds == nil || o.opts.DryRun {
		return
	}
	err := o.builds.RecordBuild(ctx, model.BuildRecord{
		PassID:     p.id,
		Project:    out.Project,
		Build:      out.Build,
		Skipped:    out.Held,
		RecordedAt: o.now().UTC(),
	})
	if err != nil {
		p.log.Error("recording build failed", "target", out.Project, "error", err)
	}
}

func (o *Orchestrator) itemFailed(p *pass, summary *PassSummary, kind, id string, err error) {
	p.log.Error("skipping "+kind, kind, id, "error", err)
	summary.Errors = append(summary.Errors, fmt.Sprintf("%s %s: %v", kind, id, err))
}
