// Package obs implements the ChangeService port against the Open Build
// Service XML API.
package obs

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ericfisherdev/qabot/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.ChangeService = (*Client)(nil)

// Config holds the OBS connection settings. Pending requests are those with
// an open review by ReviewGroup, or by ReviewUser when no group is set.
type Config struct {
	APIURL      string
	Username    string
	Password    string
	ReviewGroup string
	ReviewUser  string
}

// Client is an OBS API client using HTTP basic auth.
type Client struct {
	apiURL      string
	username    string
	password    string
	reviewGroup string
	reviewUser  string
	httpClient  *http.Client
}

// New creates an OBS client with a 60 second request timeout; build result
// listings of large incidents are slow.
func New(cfg Config) *Client {
	return NewWithHTTPClient(&http.Client{Timeout: 60 * time.Second}, cfg)
}

// NewWithHTTPClient creates a client using httpClient, for tests against an
// httptest server.
func NewWithHTTPClient(httpClient *http.Client, cfg Config) *Client {
	return &Client{
		apiURL:      strings.TrimRight(cfg.APIURL, "/"),
		username:    cfg.Username,
		password:    cfg.Password,
		reviewGroup: cfg.ReviewGroup,
		reviewUser:  cfg.ReviewUser,
		httpClient:  httpClient,
	}
}

// statusError is a non-2xx answer from OBS.
type statusError struct {
	method string
	path   string
	code   int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("obs %s %s returned %d: %s", e.method, e.path, e.code, e.body)
}

func isNotFound(err error) bool {
	var se *statusError
	return errors.As(err, &se) && se.code == http.StatusNotFound
}

// makeURL joins escaped path segments onto the API URL.
func (c *Client) makeURL(query url.Values, segments ...string) string {
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	u := c.apiURL + "/" + strings.Join(escaped, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func (c *Client) getXML(ctx context.Context, u string, dst any) error {
	body, err := c.do(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	if err := xml.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("decoding %s: %w", u, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, u string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	req.Header.Set("Accept", "application/xml")
	if body != nil {
		req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing %s %s: %w", method, u, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text := string(data)
		if len(text) > 200 {
			text = text[:200]
		}
		return nil, &statusError{method: method, path: req.URL.Path, code: resp.StatusCode, body: text}
	}
	return data, nil
}
