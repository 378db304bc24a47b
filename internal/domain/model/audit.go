package model

import "time"

// VerdictRecord is an audit entry for a verdict reached in a pass.
type VerdictRecord struct {
	ID         int64
	PassID     string
	RequestID  string
	State      GateState
	Status     QAStatus
	Message    string
	RecordedAt time.Time
}

// BuildRecord is an audit entry for a fixed target's build in a pass.
type BuildRecord struct {
	ID         int64
	PassID     string
	Project    string
	Build      string
	Skipped    bool // True when a pending shared evaluation held the target.
	RecordedAt time.Time
}
