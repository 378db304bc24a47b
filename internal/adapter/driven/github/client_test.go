package github_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	ghAdapter "github.com/ericfisherdev/qabot/internal/adapter/driven/github"
	"github.com/ericfisherdev/qabot/internal/domain/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	target   = "SUSE:Updates:SLE-SERVER:12-SP3:x86_64"
	incident = "SUSE:Maintenance:7"
)

// newTestClient creates a Client backed by the given httptest handler.
func newTestClient(t *testing.T, handler http.Handler) *ghAdapter.Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := ghAdapter.NewClientWithHTTPClient(
		server.Client(),
		server.URL+"/",
		ghAdapter.Config{
			Repo:           "owner/repo",
			Reviewer:       "qa-bot",
			IncidentPrefix: "SUSE:Maintenance:",
		},
	)
	require.NoError(t, err)

	return client
}

// prJSON is a helper struct for building GitHub API pull request responses.
type prJSON struct {
	Number    int        `json:"number"`
	State     string     `json:"state"`
	User      userJSON   `json:"user"`
	Labels    []lblJSON  `json:"labels"`
	Reviewers []userJSON `json:"requested_reviewers"`
	MergedAt  *string    `json:"merged_at,omitempty"`
}

type userJSON struct {
	Login string `json:"login"`
}

type lblJSON struct {
	Name string `json:"name"`
}

func incidentPR(number int, reviewers ...string) prJSON {
	pr := prJSON{
		Number: number,
		State:  "open",
		User:   userJSON{Login: "maintenance-robot"},
		Labels: []lblJSON{{Name: "release:" + target}, {Name: "package:curl"}, {Name: "security"}},
	}
	for _, r := range reviewers {
		pr.Reviewers = append(pr.Reviewers, userJSON{Login: r})
	}
	return pr
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestNewClient_InvalidRepo(t *testing.T) {
	_, err := ghAdapter.NewClientWithHTTPClient(http.DefaultClient, "http://localhost/", ghAdapter.Config{Repo: "norepo"})
	require.Error(t, err)
}

func TestListPendingRequests(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/owner/repo/pulls", r.URL.Path)
		assert.Equal(t, "open", r.URL.Query().Get("state"))

		if page := r.URL.Query().Get("page"); page == "" || page == "1" {
			w.Header().Set("Link", fmt.Sprintf(`<%s?page=2>; rel="next"`, "http://"+r.Host+r.URL.Path))
			writeJSON(w, []prJSON{incidentPR(7, "someone", "QA-Bot"), incidentPR(8, "someone")})
			return
		}
		writeJSON(w, []prJSON{incidentPR(9, "qa-bot")})
	})

	client := newTestClient(t, handler)
	reqs, err := client.ListPendingRequests(context.Background())

	require.NoError(t, err)
	require.Len(t, reqs, 2)
	assert.Equal(t, "7", reqs[0].ID)
	assert.Equal(t, "9", reqs[1].ID)

	req := reqs[0]
	assert.Equal(t, "maintenance-robot", req.Creator)
	assert.Equal(t, model.RequestStateReview, req.State)
	assert.Equal(t, []model.Action{
		{
			Kind:          model.ActionRelease,
			SourceProject: incident,
			SourcePackage: "curl.SUSE_Updates_SLE-SERVER_12-SP3_x86_64",
			TargetProject: target,
			TargetPackage: "curl.7",
		},
		{
			Kind:          model.ActionRelease,
			SourceProject: incident,
			SourcePackage: "patchinfo",
			TargetProject: target,
			TargetPackage: "patchinfo.7",
		},
	}, req.Actions)
}

func TestFindReleaseRequestInReview(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/repos/owner/repo/pulls/7":
			writeJSON(w, incidentPR(7))
		case "/repos/owner/repo/pulls/8":
			pr := incidentPR(8)
			pr.State = "closed"
			writeJSON(w, pr)
		case "/repos/owner/repo/pulls/9":
			writeJSON(w, prJSON{Number: 9, State: "open", Labels: []lblJSON{{Name: "package:vim"}}})
		default:
			w.WriteHeader(http.StatusNotFound)
			writeJSON(w, map[string]any{"message": "Not Found"})
		}
	})
	client := newTestClient(t, handler)

	tests := []struct {
		name    string
		project string
		wantID  string
	}{
		{name: "open and released", project: incident, wantID: "7"},
		{name: "closed", project: "SUSE:Maintenance:8"},
		{name: "no release target", project: "SUSE:Maintenance:9"},
		{name: "missing", project: "SUSE:Maintenance:10"},
		{name: "foreign project", project: "openSUSE:Maintenance:7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := client.FindReleaseRequestInReview(context.Background(), tt.project)
			require.NoError(t, err)
			if tt.wantID == "" {
				assert.Nil(t, req)
				return
			}
			require.NotNil(t, req)
			assert.Equal(t, tt.wantID, req.ID)
		})
	}
}

func TestIncidentArtifacts(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/owner/repo/releases/tags/incident-7" {
			w.WriteHeader(http.StatusNotFound)
			writeJSON(w, map[string]any{"message": "Not Found"})
			return
		}
		writeJSON(w, map[string]any{
			"id":   1,
			"name": "SUSE-SLE-SERVER-12-SP3-2024-7",
			"assets": []map[string]any{
				{"id": 10, "name": "curl-7.37.0-37.8.1.x86_64.rpm"},
				{"id": 11, "name": "libcurl4-7.37.0-37.8.1.x86_64.rpm"},
			},
		})
	})
	client := newTestClient(t, handler)

	art, err := client.IncidentArtifacts(context.Background(), incident, "SUSE_Updates_SLE-SERVER_12-SP3_x86_64", "patchinfo")
	require.NoError(t, err)
	assert.Equal(t, "SUSE-SLE-SERVER-12-SP3-2024-7", art.PatchID)
	assert.Equal(t, []string{"curl-7.37.0-37.8.1.x86_64.rpm", "libcurl4-7.37.0-37.8.1.x86_64.rpm"}, art.Binaries)

	_, err = client.IncidentArtifacts(context.Background(), "SUSE:Maintenance:8", "repo", "patchinfo")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no build results")
}

func TestListPackages(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/owner/repo/issues", r.URL.Path)
		assert.Equal(t, "SUSE:Maintenance:Test", r.URL.Query().Get("labels"))
		writeJSON(w, []map[string]any{
			{"number": 7, "pull_request": map[string]any{"url": "x"}},
			{"number": 12},
			{"number": 9, "pull_request": map[string]any{"url": "y"}},
		})
	})
	client := newTestClient(t, handler)

	pkgs, err := client.ListPackages(context.Background(), "SUSE:Maintenance:Test")
	require.NoError(t, err)
	assert.Equal(t, []string{"patchinfo.7", "patchinfo.9"}, pkgs)
}

func TestLinkHasCICount(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/owner/repo/issues/7/labels", r.URL.Path)
		writeJSON(w, []lblJSON{{Name: "copy-in:vim"}, {Name: "package:curl"}})
	})
	client := newTestClient(t, handler)

	copied, err := client.LinkHasCICount(context.Background(), incident, "vim.SUSE_Updates_SLE-SERVER_12-SP3_x86_64")
	require.NoError(t, err)
	assert.True(t, copied)

	copied, err = client.LinkHasCICount(context.Background(), incident, "curl.SUSE_Updates_SLE-SERVER_12-SP3_x86_64")
	require.NoError(t, err)
	assert.False(t, copied)
}

func TestComments(t *testing.T) {
	var created, deleted []string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/repos/owner/repo/issues/7/comments":
			writeJSON(w, []map[string]any{
				{"id": 55, "body": "<!-- openqa state=seen -->\n\nnow testing in openQA"},
				{"id": 56, "body": "lgtm"},
			})
		case r.Method == http.MethodPost && r.URL.Path == "/repos/owner/repo/issues/7/comments":
			var body map[string]string
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			created = append(created, body["body"])
			w.WriteHeader(http.StatusCreated)
			writeJSON(w, map[string]any{"id": 57, "body": body["body"]})
		case r.Method == http.MethodDelete:
			deleted = append(deleted, r.URL.Path)
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
	})
	client := newTestClient(t, handler)
	ctx := context.Background()

	comments, err := client.ListComments(ctx, "7")
	require.NoError(t, err)
	require.Len(t, comments, 2)
	assert.Equal(t, model.Comment{ID: 55, Body: "<!-- openqa state=seen -->\n\nnow testing in openQA"}, comments[0])

	require.NoError(t, client.AddComment(ctx, "7", "hello"))
	require.NoError(t, client.DeleteComment(ctx, "7", 55))

	assert.Equal(t, []string{"hello"}, created)
	assert.Equal(t, []string{"/repos/owner/repo/issues/comments/55"}, deleted)

	_, err = client.ListComments(ctx, "owner/repo#7")
	require.Error(t, err)
}

func TestChangeReviewState(t *testing.T) {
	tests := []struct {
		name      string
		decision  model.ReviewDecision
		wantEvent string
	}{
		{name: "accepted approves", decision: model.ReviewAccepted, wantEvent: "APPROVE"},
		{name: "declined requests changes", decision: model.ReviewDeclined, wantEvent: "REQUEST_CHANGES"},
		{name: "open submits nothing", decision: model.ReviewOpen},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got map[string]any
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/repos/owner/repo/pulls/7/reviews", r.URL.Path)
				body, _ := io.ReadAll(r.Body)
				assert.NoError(t, json.Unmarshal(body, &got))
				writeJSON(w, map[string]any{"id": 1})
			})
			client := newTestClient(t, handler)

			err := client.ChangeReviewState(context.Background(), "7", model.ReviewChange{
				Decision: tt.decision,
				Message:  "openQA tests passed",
			})
			require.NoError(t, err)

			if tt.wantEvent == "" {
				assert.Nil(t, got)
				return
			}
			assert.Equal(t, tt.wantEvent, got["event"])
			assert.Equal(t, "openQA tests passed", got["body"])
		})
	}
}

func TestVerifyReviewer(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/user", r.URL.Path)
		writeJSON(w, userJSON{Login: "qa-bot"})
	})
	client := newTestClient(t, handler)
	require.NoError(t, client.VerifyReviewer(context.Background()))

	other, err := ghAdapter.NewClientWithHTTPClient(http.DefaultClient, "http://127.0.0.1:1/", ghAdapter.Config{Repo: "owner/repo"})
	require.NoError(t, err)
	require.Error(t, other.VerifyReviewer(context.Background()))
}
