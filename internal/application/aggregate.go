package application

import (
	"sort"

	"github.com/ericfisherdev/qabot/internal/domain/model"
)

// latestJobs drops cloned jobs and keeps the highest job id per job name, so
// the last retry of a scenario defines its current result. The result is
// ordered by job id.
func latestJobs(jobs []model.Job) []model.Job {
	byName := make(map[string]model.Job, len(jobs))
	for _, j := range jobs {
		if j.IsCloned() {
			continue
		}
		if existing, ok := byName[j.Name]; ok && existing.ID > j.ID {
			continue
		}
		byName[j.Name] = j
	}

	out := make([]model.Job, 0, len(byName))
	for _, j := range byName {
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out
}

// AggregateStatus reduces a job snapshot to a single QA status.
// Priority: in progress > failed > passed; no usable job is unknown.
func AggregateStatus(jobs []model.Job) model.QAStatus {
	kept := latestJobs(jobs)
	if len(kept) == 0 {
		return model.QAStatusUnknown
	}

	var inProgress, hasFailed bool
	for _, j := range kept {
		if !j.IsTerminal() {
			inProgress = true
			continue
		}
		if !j.IsPassing() {
			hasFailed = true
		}
	}

	if inProgress {
		return model.QAStatusInProgress
	}
	if hasFailed {
		return model.QAStatusFailed
	}
	return model.QAStatusPassed
}
