package model

// JobState is the lifecycle state of a test job.
type JobState string

const (
	JobStateScheduled JobState = "scheduled"
	JobStateRunning   JobState = "running"
	JobStateDone      JobState = "done"
	JobStateCancelled JobState = "cancelled"
)

// JobResult is the outcome of a test job. It is "none" until the job ends.
type JobResult string

const (
	JobResultNone       JobResult = "none"
	JobResultPassed     JobResult = "passed"
	JobResultSoftFailed JobResult = "softfailed"
	JobResultFailed     JobResult = "failed"
	JobResultIncomplete JobResult = "incomplete"
)

// JobModule is one test module executed by a job.
type JobModule struct {
	Name   string
	Result JobResult
}

// Job is a point-in-time snapshot of a test-execution-service job.
type Job struct {
	ID       int64
	Name     string
	Group    string
	GroupID  int64
	State    JobState
	Result   JobResult
	CloneID  int64 // Non-zero when the job was superseded by a clone.
	Settings Params
	Modules  []JobModule
}

// IsTerminal reports whether the job will not change state anymore.
func (j Job) IsTerminal() bool {
	return j.State == JobStateDone || j.State == JobStateCancelled
}

// IsPassing reports whether the result counts as a pass.
func (j Job) IsPassing() bool {
	return j.Result == JobResultPassed || j.Result == JobResultSoftFailed
}

// IsCloned reports whether another job has replaced this one.
func (j Job) IsCloned() bool {
	return j.CloneID != 0
}

// JobScope restricts a job listing.
type JobScope string

const (
	// ScopeRelevant excludes obsoleted jobs.
	ScopeRelevant JobScope = "relevant"
	// ScopeCurrent returns only the latest job per scenario.
	ScopeCurrent JobScope = "current"
)

// JobQuery selects jobs from the test-execution service. Empty fields are
// not sent.
type JobQuery struct {
	Distri  string
	Version string
	Arch    string
	Flavor  string
	Test    string
	Build   string
	Scope   JobScope
	Latest  bool
	Limit   int
}

// QueryFor builds a query matching the scenario identity of params.
func QueryFor(params Params) JobQuery {
	return JobQuery{
		Distri:  params["DISTRI"],
		Version: params["VERSION"],
		Arch:    params["ARCH"],
		Flavor:  params["FLAVOR"],
	}
}
