package application

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/ericfisherdev/qabot/internal/domain/model"
	"github.com/ericfisherdev/qabot/internal/domain/port/driven"
)

// --- Mock implementations ---

type mockTestService struct {
	jobs        []model.Job
	listErr     error
	failLists   int // Fail this many ListJobs calls before answering.
	scheduleErr error
	scheduled   []model.Params
	steps       map[string]int // "<job id>/<module>" → first failed step.
	queries     []model.JobQuery
}

var _ driven.TestService = (*mockTestService)(nil)

func (m *mockTestService) ListJobs(_ context.Context, q model.JobQuery) ([]model.Job, error) {
	m.queries = append(m.queries, q)
	if m.failLists > 0 {
		m.failLists--
		return nil, errors.New("transient 502")
	}
	if m.listErr != nil {
		return nil, m.listErr
	}

	var out []model.Job
	for _, j := range m.jobs {
		if !matches(j.Settings, "DISTRI", q.Distri) ||
			!matches(j.Settings, "VERSION", q.Version) ||
			!matches(j.Settings, "ARCH", q.Arch) ||
			!matches(j.Settings, "FLAVOR", q.Flavor) ||
			!matches(j.Settings, "TEST", q.Test) ||
			!matches(j.Settings, "BUILD", q.Build) {
			continue
		}
		out = append(out, j)
	}
	return out, nil
}

func matches(settings model.Params, key, want string) bool {
	return want == "" || settings[key] == want
}

func (m *mockTestService) ScheduleJobs(_ context.Context, params model.Params) error {
	if m.scheduleErr != nil {
		return m.scheduleErr
	}
	m.scheduled = append(m.scheduled, params.Clone())
	return nil
}

func (m *mockTestService) FirstFailedStep(_ context.Context, jobID int64, module string) (int, error) {
	step, ok := m.steps[fmt.Sprintf("%d/%s", jobID, module)]
	if !ok {
		return 0, fmt.Errorf("no fails for %s", module)
	}
	return step, nil
}

func (m *mockTestService) BaseURL() string {
	return "https://openqa.example.com"
}

type mockRepoMetadata struct {
	checksums map[string]string
}

func (m *mockRepoMetadata) PrimaryChecksum(_ context.Context, repoURL string) (string, error) {
	cs, ok := m.checksums[repoURL]
	if !ok {
		return "", fmt.Errorf("repo %s not found", repoURL)
	}
	return cs, nil
}

type reviewCall struct {
	RequestID string
	Change    model.ReviewChange
}

type mockChangeService struct {
	requests  []model.Request
	listErr   error
	inReview  map[string]*model.Request // Incident project → release request.
	artifacts map[string]model.Artifacts
	packages  map[string][]string
	cicount   map[string]bool // "<project>/<package>".

	comments  map[string][]model.Comment
	nextID    int64
	added     int
	deleted   int
	reviews   []reviewCall
	reviewErr error
}

var _ driven.ChangeService = (*mockChangeService)(nil)

func newMockChangeService() *mockChangeService {
	return &mockChangeService{
		inReview:  make(map[string]*model.Request),
		artifacts: make(map[string]model.Artifacts),
		packages:  make(map[string][]string),
		cicount:   make(map[string]bool),
		comments:  make(map[string][]model.Comment),
	}
}

func (m *mockChangeService) ListPendingRequests(_ context.Context) ([]model.Request, error) {
	return m.requests, m.listErr
}

func (m *mockChangeService) FindReleaseRequestInReview(_ context.Context, sourceProject string) (*model.Request, error) {
	return m.inReview[sourceProject], nil
}

func (m *mockChangeService) IncidentArtifacts(_ context.Context, sourceProject, _, _ string) (model.Artifacts, error) {
	a, ok := m.artifacts[sourceProject]
	if !ok {
		return model.Artifacts{}, fmt.Errorf("no build results for %s", sourceProject)
	}
	return a, nil
}

func (m *mockChangeService) ListPackages(_ context.Context, project string) ([]string, error) {
	return m.packages[project], nil
}

func (m *mockChangeService) LinkHasCICount(_ context.Context, project, pkg string) (bool, error) {
	return m.cicount[project+"/"+pkg], nil
}

func (m *mockChangeService) ListComments(_ context.Context, requestID string) ([]model.Comment, error) {
	return m.comments[requestID], nil
}

func (m *mockChangeService) AddComment(_ context.Context, requestID, body string) error {
	m.nextID++
	m.added++
	m.comments[requestID] = append(m.comments[requestID], model.Comment{ID: m.nextID, Body: body})
	return nil
}

func (m *mockChangeService) DeleteComment(_ context.Context, requestID string, commentID int64) error {
	kept := m.comments[requestID][:0]
	for _, c := range m.comments[requestID] {
		if c.ID != commentID {
			kept = append(kept, c)
		}
	}
	m.comments[requestID] = kept
	m.deleted++
	return nil
}

func (m *mockChangeService) ChangeReviewState(_ context.Context, requestID string, change model.ReviewChange) error {
	if m.reviewErr != nil {
		return m.reviewErr
	}
	m.reviews = append(m.reviews, reviewCall{RequestID: requestID, Change: change})
	return nil
}

type mockVerdictStore struct {
	records []model.VerdictRecord
}

func (m *mockVerdictStore) RecordVerdict(_ context.Context, rec model.VerdictRecord) error {
	m.records = append(m.records, rec)
	return nil
}

func (m *mockVerdictStore) ListVerdicts(_ context.Context, _ int) ([]model.VerdictRecord, error) {
	return m.records, nil
}

func (m *mockVerdictStore) LatestVerdict(_ context.Context, requestID string) (*model.VerdictRecord, error) {
	for i := len(m.records) - 1; i >= 0; i-- {
		if m.records[i].RequestID == requestID {
			return &m.records[i], nil
		}
	}
	return nil, nil
}

type mockBuildStore struct {
	records []model.BuildRecord
}

func (m *mockBuildStore) RecordBuild(_ context.Context, rec model.BuildRecord) error {
	m.records = append(m.records, rec)
	return nil
}

func (m *mockBuildStore) ListLatestBuilds(_ context.Context) ([]model.BuildRecord, error) {
	return m.records, nil
}

type mockArchive struct {
	reports map[string]string
}

func (m *mockArchive) PutReport(_ context.Context, requestID string, result model.CommentResult, body string) error {
	if m.reports == nil {
		m.reports = make(map[string]string)
	}
	m.reports[requestID+"/"+string(result)] = body
	return nil
}

// --- Helpers ---

func job(id int64, name string, state model.JobState, result model.JobResult, settings model.Params) model.Job {
	return model.Job{
		ID:       id,
		Name:     name,
		Group:    "Maintenance: SLE 12 SP3 Updates",
		GroupID:  42,
		State:    state,
		Result:   result,
		Settings: settings,
	}
}

func scheduledBuilds(m *mockTestService) []string {
	var out []string
	for _, p := range m.scheduled {
		out = append(out, p["BUILD"])
	}
	sort.Strings(out)
	return out
}
