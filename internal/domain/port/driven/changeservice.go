package driven

import (
	"context"

	"github.com/ericfisherdev/qabot/internal/domain/model"
)

// RequestSource lists requests awaiting the bot's review.
type RequestSource interface {
	// ListPendingRequests returns requests with an open review assigned to
	// the bot.
	ListPendingRequests(ctx context.Context) ([]model.Request, error)
	// FindReleaseRequestInReview returns the release request in review whose
	// source is sourceProject, or nil when the incident is still staging.
	FindReleaseRequestInReview(ctx context.Context, sourceProject string) (*model.Request, error)
}

// ArtifactSource reads incident build results and project listings.
type ArtifactSource interface {
	// IncidentArtifacts lists the binaries built for pkg in sourceProject
	// against repository, across all architectures, along with the patch id.
	IncidentArtifacts(ctx context.Context, sourceProject, repository, pkg string) (model.Artifacts, error)
	// ListPackages returns the package names of a project.
	ListPackages(ctx context.Context, project string) ([]string, error)
	// LinkHasCICount reports whether project/pkg is a copy-in link rather
	// than a plain link to its origin.
	LinkHasCICount(ctx context.Context, project, pkg string) (bool, error)
}

// Commenter reads and writes request comments.
type Commenter interface {
	ListComments(ctx context.Context, requestID string) ([]model.Comment, error)
	AddComment(ctx context.Context, requestID, body string) error
	DeleteComment(ctx context.Context, requestID string, commentID int64) error
}

// Reviewer moves the bot's review on a request.
type Reviewer interface {
	ChangeReviewState(ctx context.Context, requestID string, change model.ReviewChange) error
}

// ChangeService is the full change-management port.
type ChangeService interface {
	RequestSource
	ArtifactSource
	Commenter
	Reviewer
}
