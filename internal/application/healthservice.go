package application

import "time"

// Health states reported by HealthService.
const (
	HealthOK       = "ok"
	HealthStarting = "starting"
	HealthDegraded = "degraded"
)

// LastPassSource exposes the most recent pass, as kept by Scheduler.
type LastPassSource interface {
	Last() (PassSummary, bool)
}

// HealthSummary is the service health derived from the last pass.
type HealthSummary struct {
	Status   string
	Reason   string
	LastPass *PassSummary
}

// HealthService derives service health from pass outcomes. Per-item errors
// do not degrade health; they are retried on the next pass anyway.
type HealthService struct {
	passes LastPassSource
	maxAge time.Duration
	now    func() time.Time
}

// NewHealthService creates a HealthService. A last pass older than maxAge
// counts as degraded; zero disables the age check.
func NewHealthService(passes LastPassSource, maxAge time.Duration) *HealthService {
	return &HealthService{
		passes: passes,
		maxAge: maxAge,
		now:    time.Now,
	}
}

// Summary computes the current health.
func (s *HealthService) Summary() HealthSummary {
	last, ok := s.passes.Last()
	if !ok {
		return HealthSummary{Status: HealthStarting}
	}

	out := HealthSummary{Status: HealthOK, LastPass: &last}
	switch {
	case last.Err != "":
		out.Status = HealthDegraded
		out.Reason = "last pass aborted: " + last.Err
	case s.maxAge > 0 && s.now().Sub(last.FinishedAt) > s.maxAge:
		out.Status = HealthDegraded
		out.Reason = "no pass finished since " + last.FinishedAt.UTC().Format(time.RFC3339)
	}
	return out
}
