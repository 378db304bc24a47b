package s3

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/qabot/internal/domain/model"
)

type putRecord struct {
	method      string
	path        string
	contentType string
	body        string
}

func newTestArchive(t *testing.T, status int) (*Archive, *[]putRecord) {
	t.Helper()

	var mu sync.Mutex
	var puts []putRecord
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		puts = append(puts, putRecord{
			method:      r.Method,
			path:        r.URL.Path,
			contentType: r.Header.Get("Content-Type"),
			body:        string(body),
		})
		mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)

	a, err := New(context.Background(), Config{
		Endpoint:  srv.URL,
		Region:    "us-east-1",
		Bucket:    "qabot",
		AccessKey: "AKIDEXAMPLE",
		SecretKey: "secret",
	}, slog.Default())
	require.NoError(t, err)
	return a, &puts
}

func TestArchive_Key(t *testing.T) {
	a, _ := newTestArchive(t, http.StatusOK)
	assert.Equal(t, "reports/123456/accepted.md", a.Key("123456", model.CommentAccepted))
}

func TestArchive_PutReport(t *testing.T) {
	a, puts := newTestArchive(t, http.StatusOK)

	err := a.PutReport(context.Background(), "123456", model.CommentDeclined, "openQA tests problematic\n")
	require.NoError(t, err)

	require.Len(t, *puts, 1)
	got := (*puts)[0]
	assert.Equal(t, http.MethodPut, got.method)
	assert.Equal(t, "/qabot/reports/123456/declined.md", got.path)
	assert.Equal(t, "text/markdown; charset=utf-8", got.contentType)
	assert.Contains(t, got.body, "openQA tests problematic")
}

func TestArchive_PutReportError(t *testing.T) {
	a, _ := newTestArchive(t, http.StatusForbidden)

	err := a.PutReport(context.Background(), "123456", model.CommentAccepted, "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reports/123456/accepted.md")
}
