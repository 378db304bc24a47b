// Package repomd reads rpm-md repository metadata over HTTP.
package repomd

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ericfisherdev/qabot/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.RepoMetadata = (*Client)(nil)

// Client fetches repodata/repomd.xml. Responses are never cached so every
// pass sees the current repository content.
type Client struct {
	httpClient *http.Client
}

// New creates a repomd client with a 30 second request timeout.
func New() *Client {
	return NewWithHTTPClient(&http.Client{Timeout: 30 * time.Second})
}

// NewWithHTTPClient creates a client using httpClient.
func NewWithHTTPClient(httpClient *http.Client) *Client {
	return &Client{httpClient: httpClient}
}

type repomdDoc struct {
	Data []struct {
		Type     string `xml:"type,attr"`
		Checksum string `xml:"checksum"`
	} `xml:"data"`
}

// PrimaryChecksum returns the checksum of the primary metadata file.
func (c *Client) PrimaryChecksum(ctx context.Context, repoURL string) (string, error) {
	u := strings.TrimRight(repoURL, "/") + "/repodata/repomd.xml"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("creating request for %s: %w", u, err)
	}
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching %s: %w", u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetching %s: status %d", u, resp.StatusCode)
	}

	var doc repomdDoc
	if err := xml.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return "", fmt.Errorf("parsing %s: %w", u, err)
	}

	for _, d := range doc.Data {
		if d.Type == "primary" {
			cs := strings.TrimSpace(d.Checksum)
			if cs == "" {
				break
			}
			return cs, nil
		}
	}
	return "", fmt.Errorf("no primary checksum in %s", u)
}
