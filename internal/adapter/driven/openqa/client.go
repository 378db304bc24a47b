// Package openqa implements the TestService port against the openQA REST API.
package openqa

import (
	"context"
	"crypto/hmac"
	"crypto/sha1" //nolint:gosec // openQA signs API requests with HMAC-SHA1.
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ericfisherdev/qabot/internal/domain/model"
	"github.com/ericfisherdev/qabot/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.TestService = (*Client)(nil)

const defaultRetryInterval = 5 * time.Second

// Config holds the openQA connection settings.
type Config struct {
	BaseURL       string
	APIKey        string
	APISecret     string
	RetryInterval time.Duration // Wait before the single submission retry.
}

// Client talks to one openQA instance.
type Client struct {
	baseURL       string
	apiKey        string
	apiSecret     string
	retryInterval time.Duration
	httpClient    *http.Client
	now           func() time.Time
}

// New creates an openQA client with a 30 second request timeout.
func New(cfg Config) *Client {
	return NewWithHTTPClient(&http.Client{Timeout: 30 * time.Second}, cfg)
}

// NewWithHTTPClient creates a client using httpClient, for tests against an
// httptest server.
func NewWithHTTPClient(httpClient *http.Client, cfg Config) *Client {
	retry := cfg.RetryInterval
	if retry <= 0 {
		retry = defaultRetryInterval
	}
	return &Client{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:        cfg.APIKey,
		apiSecret:     cfg.APISecret,
		retryInterval: retry,
		httpClient:    httpClient,
		now:           time.Now,
	}
}

// BaseURL returns the instance URL used for job and overview links.
func (c *Client) BaseURL() string {
	return c.baseURL
}

type jobsResponse struct {
	Jobs []jobJSON `json:"jobs"`
}

type jobJSON struct {
	ID       int64          `json:"id"`
	Name     string         `json:"name"`
	Group    string         `json:"group"`
	GroupID  int64          `json:"group_id"`
	State    string         `json:"state"`
	Result   string         `json:"result"`
	CloneID  int64          `json:"clone_id"`
	Settings map[string]any `json:"settings"`
	Modules  []moduleJSON   `json:"modules"`
}

type moduleJSON struct {
	Name   string `json:"name"`
	Result string `json:"result"`
}

type failsResponse struct {
	FirstFailedStep *int `json:"first_failed_step"`
}

// ListJobs queries /api/v1/jobs.
func (c *Client) ListJobs(ctx context.Context, q model.JobQuery) ([]model.Job, error) {
	var resp jobsResponse
	if err := c.getJSON(ctx, "/api/v1/jobs", jobQueryValues(q), &resp); err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}

	jobs := make([]model.Job, 0, len(resp.Jobs))
	for _, j := range resp.Jobs {
		jobs = append(jobs, mapJob(j))
	}
	return jobs, nil
}

// ScheduleJobs posts params to /api/v1/isos. A failed submission is retried
// once unless openQA rejected the request itself.
func (c *Client) ScheduleJobs(ctx context.Context, params model.Params) error {
	form := url.Values{}
	for _, k := range params.Keys() {
		form.Set(k, params[k])
	}

	op := func() error {
		err := c.postForm(ctx, "/api/v1/isos", form)
		var se *statusError
		if errors.As(err, &se) && se.code >= 400 && se.code < 500 {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		slog.Warn("openqa submission failed, retrying", "build", params["BUILD"], "wait", wait, "error", err)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(c.retryInterval), 1), ctx)
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return fmt.Errorf("scheduling build %s: %w", params["BUILD"], err)
	}
	return nil
}

// FirstFailedStep reads the module's failure summary. openQA omits the step
// for modules that failed before running one; that case reports step 1.
func (c *Client) FirstFailedStep(ctx context.Context, jobID int64, module string) (int, error) {
	path := fmt.Sprintf("/tests/%d/modules/%s/fails", jobID, url.PathEscape(module))

	var resp failsResponse
	if err := c.getJSON(ctx, path, nil, &resp); err != nil {
		return 0, fmt.Errorf("reading fails of %s in job %d: %w", module, jobID, err)
	}
	if resp.FirstFailedStep == nil {
		return 1, nil
	}
	return *resp.FirstFailedStep, nil
}

func jobQueryValues(q model.JobQuery) url.Values {
	v := url.Values{}
	set := func(key, value string) {
		if value != "" {
			v.Set(key, value)
		}
	}
	set("distri", q.Distri)
	set("version", q.Version)
	set("arch", q.Arch)
	set("flavor", q.Flavor)
	set("test", q.Test)
	set("build", q.Build)
	set("scope", string(q.Scope))
	if q.Latest {
		v.Set("latest", "1")
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	return v
}

func mapJob(j jobJSON) model.Job {
	job := model.Job{
		ID:       j.ID,
		Name:     j.Name,
		Group:    j.Group,
		GroupID:  j.GroupID,
		State:    model.JobState(j.State),
		Result:   model.JobResult(j.Result),
		CloneID:  j.CloneID,
		Settings: model.ParamsFromAny(j.Settings),
	}
	if job.Result == "" {
		job.Result = model.JobResultNone
	}
	for _, m := range j.Modules {
		job.Modules = append(job.Modules, model.JobModule{Name: m.Name, Result: model.JobResult(m.Result)})
	}
	return job
}

// statusError is a non-2xx answer from openQA.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("openqa returned %d: %s", e.code, e.body)
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, dst any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func (c *Client) postForm(ctx context.Context, path string, form url.Values) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req)
	if err != nil {
		return err
	}
	slog.Debug("openqa accepted submission", "response", truncate(string(body), 200))
	return nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	c.sign(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &statusError{code: resp.StatusCode, body: truncate(string(body), 200)}
	}
	return body, nil
}

// sign adds openQA API key authentication. The hash covers the request path
// with its query followed by the timestamp.
func (c *Client) sign(req *http.Request) {
	if c.apiKey == "" {
		return
	}
	ts := strconv.FormatInt(c.now().Unix(), 10)
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("X-API-Microtime", ts)
	req.Header.Set("X-API-Hash", apiHash(c.apiSecret, req.URL.RequestURI(), ts))
}

func apiHash(secret, pathQuery, ts string) string {
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(pathQuery + ts))
	return hex.EncodeToString(mac.Sum(nil))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
