package application

import (
	"context"
	"log/slog"
	"strings"

	"github.com/ericfisherdev/qabot/internal/domain/model"
	"github.com/ericfisherdev/qabot/internal/domain/port/driven"
)

// StatusCommenter maintains one marker-tagged status comment per request.
// It never returns errors: a failed comment must not block the review
// transition that follows it.
type StatusCommenter struct {
	comments driven.Commenter
	enabled  bool
	dryRun   bool
}

// NewStatusCommenter creates a StatusCommenter. When enabled is false every
// call is a no-op.
func NewStatusCommenter(comments driven.Commenter, enabled, dryRun bool) *StatusCommenter {
	return &StatusCommenter{
		comments: comments,
		enabled:  enabled,
		dryRun:   dryRun,
	}
}

// PostStatus replaces the request's status comment with msg tagged by
// marker. An existing comment in the same state with the same number of
// lines is considered unchanged and left alone.
func (c *StatusCommenter) PostStatus(ctx context.Context, requestID, msg string, marker model.Marker) {
	if !c.enabled {
		return
	}

	body := marker.String() + "\n\n" + msg

	existing, prev, err := c.find(ctx, requestID)
	if err != nil {
		slog.Error("reading status comment failed", "request", requestID, "error", err)
		return
	}

	if existing != nil && prev.State == marker.State && lineCount(existing.Body) == lineCount(body) {
		slog.Debug("status comment unchanged", "request", requestID, "comment", existing.ID, "state", prev.State)
		return
	}

	slog.Debug("posting status comment", "request", requestID, "state", marker.State, "result", marker.Result)
	if c.dryRun {
		slog.Info("dry run: status comment not posted", "request", requestID, "state", marker.State, "result", marker.Result)
		return
	}

	if existing != nil {
		if err := c.comments.DeleteComment(ctx, requestID, existing.ID); err != nil {
			slog.Error("deleting status comment failed", "request", requestID, "comment", existing.ID, "error", err)
			return
		}
	}

	if err := c.comments.AddComment(ctx, requestID, body); err != nil {
		slog.Error("adding status comment failed", "request", requestID, "error", err)
	}
}

// DeleteStatus removes the request's status comment, if any.
func (c *StatusCommenter) DeleteStatus(ctx context.Context, requestID string) {
	if !c.enabled {
		return
	}

	existing, _, err := c.find(ctx, requestID)
	if err != nil {
		slog.Error("reading status comment failed", "request", requestID, "error", err)
		return
	}
	if existing == nil {
		return
	}

	slog.Debug("deleting old status comment", "request", requestID, "comment", existing.ID)
	if c.dryRun {
		return
	}
	if err := c.comments.DeleteComment(ctx, requestID, existing.ID); err != nil {
		slog.Error("deleting status comment failed", "request", requestID, "comment", existing.ID, "error", err)
	}
}

// find returns the first marker-tagged comment on the request.
func (c *StatusCommenter) find(ctx context.Context, requestID string) (*model.Comment, model.Marker, error) {
	comments, err := c.comments.ListComments(ctx, requestID)
	if err != nil {
		return nil, model.Marker{}, err
	}

	for i := range comments {
		if m, ok := model.ParseMarker(comments[i].Body); ok {
			return &comments[i], m, nil
		}
	}
	return nil, model.Marker{}, nil
}

func lineCount(s string) int {
	return strings.Count(s, "\n") + 1
}
