package obs

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/ericfisherdev/qabot/internal/domain/model"
)

type commentsXML struct {
	Comments []struct {
		ID   int64  `xml:"id,attr"`
		Who  string `xml:"who,attr"`
		Body string `xml:",chardata"`
	} `xml:"comment"`
}

// ListComments returns the comments of a request in posting order.
func (c *Client) ListComments(ctx context.Context, requestID string) ([]model.Comment, error) {
	var doc commentsXML
	if err := c.getXML(ctx, c.makeURL(nil, "comments", "request", requestID), &doc); err != nil {
		return nil, fmt.Errorf("listing comments of request %s: %w", requestID, err)
	}

	out := make([]model.Comment, 0, len(doc.Comments))
	for _, cm := range doc.Comments {
		out = append(out, model.Comment{ID: cm.ID, Body: cm.Body})
	}
	return out, nil
}

// AddComment posts body as a new request comment.
func (c *Client) AddComment(ctx context.Context, requestID, body string) error {
	if _, err := c.do(ctx, http.MethodPost, c.makeURL(nil, "comments", "request", requestID), strings.NewReader(body)); err != nil {
		return fmt.Errorf("adding comment to request %s: %w", requestID, err)
	}
	return nil
}

// DeleteComment removes a comment. Comment ids are global in OBS.
func (c *Client) DeleteComment(ctx context.Context, requestID string, commentID int64) error {
	if _, err := c.do(ctx, http.MethodDelete, c.makeURL(nil, "comment", strconv.FormatInt(commentID, 10)), nil); err != nil {
		return fmt.Errorf("deleting comment %d of request %s: %w", commentID, requestID, err)
	}
	return nil
}
