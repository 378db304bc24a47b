package repomd

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const repomdXML = `<?xml version="1.0" encoding="UTF-8"?>
<repomd xmlns="http://linux.duke.edu/metadata/repo" xmlns:rpm="http://linux.duke.edu/metadata/rpm">
  <revision>1710489600</revision>
  <data type="other">
    <checksum type="sha256">1111</checksum>
    <location href="repodata/other.xml.gz"/>
  </data>
  <data type="primary">
    <checksum type="sha256">
      4a0b5c1f
    </checksum>
    <open-checksum type="sha256">9999</open-checksum>
    <location href="repodata/primary.xml.gz"/>
  </data>
</repomd>`

func TestPrimaryChecksum(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /update/repodata/repomd.xml", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(repomdXML))
	})
	mux.HandleFunc("GET /empty/repodata/repomd.xml", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<repomd><data type="other"><checksum>1</checksum></data></repomd>`))
	})
	mux.HandleFunc("GET /broken/repodata/repomd.xml", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<repomd><data`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewWithHTTPClient(srv.Client())

	tests := []struct {
		name    string
		repo    string
		want    string
		wantErr bool
	}{
		{name: "trailing slash", repo: srv.URL + "/update/", want: "4a0b5c1f"},
		{name: "no trailing slash", repo: srv.URL + "/update", want: "4a0b5c1f"},
		{name: "no primary entry", repo: srv.URL + "/empty/", wantErr: true},
		{name: "malformed document", repo: srv.URL + "/broken/", wantErr: true},
		{name: "missing repository", repo: srv.URL + "/nope/", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.PrimaryChecksum(context.Background(), tt.repo)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
