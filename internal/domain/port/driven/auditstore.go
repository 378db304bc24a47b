package driven

import (
	"context"

	"github.com/ericfisherdev/qabot/internal/domain/model"
)

// VerdictStore keeps an audit trail of verdicts. Decisions are never derived
// from it; every pass reconstructs state from the external services.
type VerdictStore interface {
	RecordVerdict(ctx context.Context, rec model.VerdictRecord) error
	// ListVerdicts returns the most recent records first.
	ListVerdicts(ctx context.Context, limit int) ([]model.VerdictRecord, error)
	// LatestVerdict returns nil, nil when the request has no record.
	LatestVerdict(ctx context.Context, requestID string) (*model.VerdictRecord, error)
}

// BuildStore keeps an audit trail of fixed-target builds.
type BuildStore interface {
	RecordBuild(ctx context.Context, rec model.BuildRecord) error
	// ListLatestBuilds returns the newest record per project, ordered by project.
	ListLatestBuilds(ctx context.Context) ([]model.BuildRecord, error)
}

// ReportArchive stores final reports outside the change-management service.
type ReportArchive interface {
	// PutReport writes (or overwrites) the report for requestID and result.
	PutReport(ctx context.Context, requestID string, result model.CommentResult, body string) error
}
