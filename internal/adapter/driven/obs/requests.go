package obs

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/ericfisherdev/qabot/internal/domain/model"
)

type collectionXML struct {
	Requests []requestXML `xml:"request"`
}

type requestXML struct {
	ID      string      `xml:"id,attr"`
	Creator string      `xml:"creator,attr"`
	State   stateXML    `xml:"state"`
	Actions []actionXML `xml:"action"`
}

type stateXML struct {
	Name string `xml:"name,attr"`
}

type actionXML struct {
	Type   string      `xml:"type,attr"`
	Source endpointXML `xml:"source"`
	Target endpointXML `xml:"target"`
}

type endpointXML struct {
	Project string `xml:"project,attr"`
	Package string `xml:"package,attr"`
}

// ListPendingRequests searches requests in review with a new review
// assigned to the bot.
func (c *Client) ListPendingRequests(ctx context.Context) ([]model.Request, error) {
	var reviewer string
	switch {
	case c.reviewGroup != "":
		reviewer = fmt.Sprintf("@by_group='%s'", c.reviewGroup)
	case c.reviewUser != "":
		reviewer = fmt.Sprintf("@by_user='%s'", c.reviewUser)
	default:
		return nil, fmt.Errorf("listing pending requests: no review group or user configured")
	}
	xpath := fmt.Sprintf("(state/@name='review' or state/@name='new') and review[%s and @state='new']", reviewer)

	reqs, err := c.searchRequests(ctx, xpath)
	if err != nil {
		return nil, fmt.Errorf("listing pending requests: %w", err)
	}
	slog.Debug("obs pending requests", "count", len(reqs))
	return reqs, nil
}

// FindReleaseRequestInReview returns the release request of an incident
// project, or nil while the incident is not in review yet.
func (c *Client) FindReleaseRequestInReview(ctx context.Context, sourceProject string) (*model.Request, error) {
	xpath := fmt.Sprintf("(state/@name='review') and (action/source/@project='%s' and action/@type='%s')",
		sourceProject, model.ActionRelease)

	reqs, err := c.searchRequests(ctx, xpath)
	if err != nil {
		return nil, fmt.Errorf("searching release request of %s: %w", sourceProject, err)
	}
	if len(reqs) == 0 {
		return nil, nil
	}
	return &reqs[0], nil
}

func (c *Client) searchRequests(ctx context.Context, xpath string) ([]model.Request, error) {
	var coll collectionXML
	if err := c.getXML(ctx, c.makeURL(url.Values{"match": {xpath}}, "search", "request"), &coll); err != nil {
		return nil, err
	}

	reqs := make([]model.Request, 0, len(coll.Requests))
	for _, r := range coll.Requests {
		reqs = append(reqs, mapRequest(r))
	}
	return reqs, nil
}

func mapRequest(r requestXML) model.Request {
	req := model.Request{
		ID:      r.ID,
		Creator: r.Creator,
		State:   model.RequestState(r.State.Name),
	}
	for _, a := range r.Actions {
		req.Actions = append(req.Actions, model.Action{
			Kind:          model.ActionKind(a.Type),
			SourceProject: a.Source.Project,
			SourcePackage: a.Source.Package,
			TargetProject: a.Target.Project,
			TargetPackage: a.Target.Package,
		})
	}
	return req
}

// ChangeReviewState moves the bot's review. ReviewOpen keeps the review new
// and only attaches the message.
func (c *Client) ChangeReviewState(ctx context.Context, requestID string, change model.ReviewChange) error {
	newState := string(change.Decision)
	if change.Decision == model.ReviewOpen {
		newState = "new"
	}

	q := url.Values{"cmd": {"changereviewstate"}, "newstate": {newState}}
	if change.ByGroup != "" {
		q.Set("by_group", change.ByGroup)
	}
	if change.ByUser != "" {
		q.Set("by_user", change.ByUser)
	}

	if _, err := c.do(ctx, http.MethodPost, c.makeURL(q, "request", requestID), strings.NewReader(change.Message)); err != nil {
		return fmt.Errorf("changing review of request %s to %s: %w", requestID, newState, err)
	}
	return nil
}
