package github

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	gh "github.com/google/go-github/v82/github"

	"github.com/ericfisherdev/qabot/internal/domain/model"
)

// ListComments returns the conversation comments of a pull request.
// It handles pagination automatically.
func (c *Client) ListComments(ctx context.Context, requestID string) ([]model.Comment, error) {
	number, err := prNumber(requestID)
	if err != nil {
		return nil, err
	}

	opts := &gh.IssueListCommentsOptions{
		ListOptions: gh.ListOptions{PerPage: 100},
	}
	var all []model.Comment

	for {
		comments, resp, err := c.gh.Issues.ListComments(ctx, c.owner, c.repo, number, opts)
		if err != nil {
			return nil, fmt.Errorf("listing comments for %s/%s#%d (page %d): %w", c.owner, c.repo, number, opts.Page, err)
		}

		logRateLimit(resp, c.owner+"/"+c.repo+"/comments", opts.Page, len(comments))

		for _, cm := range comments {
			all = append(all, model.Comment{ID: cm.GetID(), Body: cm.GetBody()})
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return all, nil
}

// AddComment adds a PR-level comment via the Issues API.
func (c *Client) AddComment(ctx context.Context, requestID, body string) error {
	number, err := prNumber(requestID)
	if err != nil {
		return err
	}

	comment := &gh.IssueComment{Body: gh.Ptr(body)}
	_, resp, err := c.gh.Issues.CreateComment(ctx, c.owner, c.repo, number, comment)
	if err != nil {
		return fmt.Errorf("creating comment on %s/%s#%d: %w", c.owner, c.repo, number, err)
	}

	logRateLimit(resp, c.owner+"/"+c.repo+"/create-comment", 0, 1)
	return nil
}

// DeleteComment removes a PR-level comment.
func (c *Client) DeleteComment(ctx context.Context, requestID string, commentID int64) error {
	resp, err := c.gh.Issues.DeleteComment(ctx, c.owner, c.repo, commentID)
	if err != nil {
		return fmt.Errorf("deleting comment %d on %s/%s#%s: %w", commentID, c.owner, c.repo, requestID, err)
	}

	logRateLimit(resp, c.owner+"/"+c.repo+"/delete-comment", 0, 1)
	return nil
}

// ChangeReviewState submits an approving or change-requesting review.
// ReviewOpen submits nothing: any submitted review withdraws the pending
// review request, which would drop the pull request from the next pass.
func (c *Client) ChangeReviewState(ctx context.Context, requestID string, change model.ReviewChange) error {
	number, err := prNumber(requestID)
	if err != nil {
		return err
	}

	var event string
	switch change.Decision {
	case model.ReviewAccepted:
		event = "APPROVE"
	case model.ReviewDeclined:
		event = "REQUEST_CHANGES"
	case model.ReviewOpen:
		slog.Debug("github review left open", "request", requestID, "message", change.Message)
		return nil
	default:
		return fmt.Errorf("unsupported review decision %q", change.Decision)
	}

	review := &gh.PullRequestReviewRequest{
		Event: gh.Ptr(event),
		Body:  gh.Ptr(change.Message),
	}

	_, resp, err := c.gh.PullRequests.CreateReview(ctx, c.owner, c.repo, number, review)
	if err != nil {
		return fmt.Errorf("creating review for %s/%s#%d: %w", c.owner, c.repo, number, err)
	}

	logRateLimit(resp, c.owner+"/"+c.repo+"/create-review", 0, 1)
	return nil
}

func prNumber(requestID string) (int, error) {
	n, err := strconv.Atoi(requestID)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid pull request id %q", requestID)
	}
	return n, nil
}
