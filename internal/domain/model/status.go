package model

// QAStatus is the aggregate verdict over a set of jobs.
type QAStatus string

const (
	QAStatusUnknown    QAStatus = "unknown"
	QAStatusInProgress QAStatus = "in_progress"
	QAStatusFailed     QAStatus = "failed"
	QAStatusPassed     QAStatus = "passed"
)

// IsFinal reports whether the status is a pass or fail verdict.
func (s QAStatus) IsFinal() bool {
	return s == QAStatusPassed || s == QAStatusFailed
}

// GateState is where a request sits in the test gate.
type GateState string

const (
	GateNotStarted GateState = "not_started"
	GateAwaiting   GateState = "awaiting_results"
	GatePassed     GateState = "passed"
	GateFailed     GateState = "failed"
)

// Verdict is the outcome of evaluating one request in one pass.
type Verdict struct {
	RequestID string
	State     GateState
	Status    QAStatus
	Message   string // Sent with the review change; empty when the review was left alone.
	Jobs      int
}
