package model

import (
	"fmt"
	"regexp"
)

var markerPattern = regexp.MustCompile(`^<!-- openqa state=(done|seen)(?: result=(accepted|declined))? -->`)

// CommentState is the phase recorded in a status comment marker.
type CommentState string

const (
	CommentSeen CommentState = "seen"
	CommentDone CommentState = "done"
)

// CommentResult is the decision recorded in a done marker.
type CommentResult string

const (
	CommentAccepted CommentResult = "accepted"
	CommentDeclined CommentResult = "declined"
)

// Comment is a comment on a request.
type Comment struct {
	ID   int64
	Body string
}

// Marker tags the bot's own status comment so it can be found and replaced.
type Marker struct {
	State  CommentState
	Result CommentResult // Only set when State is CommentDone.
}

// String renders the marker line.
func (m Marker) String() string {
	if m.Result != "" {
		return fmt.Sprintf("<!-- openqa state=%s result=%s -->", m.State, m.Result)
	}
	return fmt.Sprintf("<!-- openqa state=%s -->", m.State)
}

// ParseMarker reads the marker from the first line of a comment body.
func ParseMarker(body string) (Marker, bool) {
	m := markerPattern.FindStringSubmatch(body)
	if m == nil {
		return Marker{}, false
	}
	return Marker{State: CommentState(m[1]), Result: CommentResult(m[2])}, true
}
