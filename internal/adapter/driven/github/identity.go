package github

import (
	"context"
	"fmt"
	"strings"
)

// VerifyReviewer checks that the token authenticates as the configured
// reviewer, so reviews are attributed to the login pending requests are
// matched against.
func (c *Client) VerifyReviewer(ctx context.Context) error {
	user, _, err := c.gh.Users.Get(ctx, "")
	if err != nil {
		return fmt.Errorf("token validation failed: %w", err)
	}
	if !strings.EqualFold(user.GetLogin(), c.reviewer) {
		return fmt.Errorf("token authenticates as %q, expected reviewer %q", user.GetLogin(), c.reviewer)
	}
	return nil
}
