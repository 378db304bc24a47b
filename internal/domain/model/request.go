package model

// ActionKind identifies what a request action asks the change-management
// service to do.
type ActionKind string

const (
	// ActionRelease releases an incident into its target update project.
	ActionRelease ActionKind = "maintenance_release"
	ActionSubmit  ActionKind = "submit"
)

// RequestState is the state of a request in the change-management service.
type RequestState string

const (
	RequestStateNew      RequestState = "new"
	RequestStateReview   RequestState = "review"
	RequestStateAccepted RequestState = "accepted"
	RequestStateDeclined RequestState = "declined"
)

// Action is one source → target operation carried by a request.
type Action struct {
	Kind          ActionKind
	SourceProject string
	SourcePackage string
	TargetProject string
	TargetPackage string
}

// Request is a proposed change awaiting review. It is owned by the
// change-management service; the bot only reads it.
type Request struct {
	ID      string
	Creator string
	State   RequestState
	Actions []Action
}

// ActionsOfKind returns the actions of the given kind in request order.
func (r Request) ActionsOfKind(kind ActionKind) []Action {
	var out []Action
	for _, a := range r.Actions {
		if a.Kind == kind {
			out = append(out, a)
		}
	}
	return out
}

// ReviewDecision is the state a review is moved to.
type ReviewDecision string

const (
	// ReviewOpen keeps the review open and attaches an informational note.
	ReviewOpen     ReviewDecision = "review"
	ReviewAccepted ReviewDecision = "accepted"
	ReviewDeclined ReviewDecision = "declined"
)

// ReviewChange is a review state transition attributed to the bot's
// reviewer group and/or user.
type ReviewChange struct {
	Decision ReviewDecision
	Message  string
	ByGroup  string
	ByUser   string
}
