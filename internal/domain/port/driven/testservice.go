package driven

import (
	"context"

	"github.com/ericfisherdev/qabot/internal/domain/model"
)

// TestService defines the driven port for the test-execution service.
type TestService interface {
	// ListJobs returns jobs matching q.
	ListJobs(ctx context.Context, q model.JobQuery) ([]model.Job, error)
	// ScheduleJobs submits one product build; the service creates a job per
	// matching test suite. Transient failures are retried at most once.
	ScheduleJobs(ctx context.Context, params model.Params) error
	// FirstFailedStep returns the first failed step of a failed module.
	FirstFailedStep(ctx context.Context, jobID int64, module string) (int, error)
	// BaseURL is used to link jobs and overviews from reports.
	BaseURL() string
}

// RepoMetadata reads package repository metadata.
type RepoMetadata interface {
	// PrimaryChecksum returns the checksum of the repository's primary
	// metadata as advertised by repodata/repomd.xml.
	PrimaryChecksum(ctx context.Context, repoURL string) (string, error)
}
