package httphandler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ericfisherdev/qabot/internal/application"
	"github.com/ericfisherdev/qabot/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is the JSON representation of the health check endpoint.
type HealthResponse struct {
	Status     string `json:"status"`
	Reason     string `json:"reason,omitempty"`
	Time       string `json:"time"`
	LastPassID string `json:"last_pass_id,omitempty"`
	LastPassAt string `json:"last_pass_at,omitempty"`
}

// PassResponse is the JSON representation of a pass summary.
type PassResponse struct {
	ID          string           `json:"id"`
	StartedAt   string           `json:"started_at"`
	FinishedAt  string           `json:"finished_at"`
	Requests    int              `json:"requests"`
	Awaiting    int              `json:"awaiting"`
	NewWaveHeld bool             `json:"new_wave_held"`
	Verdicts    []PassVerdict    `json:"verdicts"`
	Targets     []TargetResponse `json:"targets"`
	Errors      []string         `json:"errors"`
	Error       string           `json:"error,omitempty"`
	NextRunAt   string           `json:"next_run_at,omitempty"`
}

// PassVerdict is one request's outcome within a pass.
type PassVerdict struct {
	RequestID string `json:"request_id"`
	State     string `json:"state"`
	Status    string `json:"status"`
	Jobs      int    `json:"jobs"`
}

// TargetResponse is one fixed target's outcome within a pass.
type TargetResponse struct {
	Project string `json:"project"`
	Build   string `json:"build"`
	Held    bool   `json:"held"`
	Error   string `json:"error,omitempty"`
}

// VerdictResponse is the JSON representation of an audited verdict.
type VerdictResponse struct {
	ID         int64  `json:"id"`
	PassID     string `json:"pass_id"`
	RequestID  string `json:"request_id"`
	State      string `json:"state"`
	Status     string `json:"status"`
	Message    string `json:"message"`
	RecordedAt string `json:"recorded_at"`
}

// BuildResponse is the JSON representation of an audited target build.
type BuildResponse struct {
	PassID     string `json:"pass_id"`
	Project    string `json:"project"`
	Build      string `json:"build"`
	Skipped    bool   `json:"skipped"`
	RecordedAt string `json:"recorded_at"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func toPassResponse(s application.PassSummary) PassResponse {
	resp := PassResponse{
		ID:          s.ID,
		StartedAt:   formatTime(s.StartedAt),
		FinishedAt:  formatTime(s.FinishedAt),
		Requests:    s.Requests,
		Awaiting:    s.Awaiting(),
		NewWaveHeld: s.NewWaveHeld,
		Verdicts:    make([]PassVerdict, 0, len(s.Verdicts)),
		Targets:     make([]TargetResponse, 0, len(s.Targets)),
		Errors:      s.Errors,
		Error:       s.Err,
	}
	if resp.Errors == nil {
		resp.Errors = []string{}
	}
	for _, v := range s.Verdicts {
		resp.Verdicts = append(resp.Verdicts, PassVerdict{
			RequestID: v.RequestID,
			State:     string(v.State),
			Status:    string(v.Status),
			Jobs:      v.Jobs,
		})
	}
	for _, t := range s.Targets {
		resp.Targets = append(resp.Targets, TargetResponse{
			Project: t.Project,
			Build:   t.Build,
			Held:    t.Held,
			Error:   t.Err,
		})
	}
	return resp
}

func toVerdictResponse(rec model.VerdictRecord) VerdictResponse {
	return VerdictResponse{
		ID:         rec.ID,
		PassID:     rec.PassID,
		RequestID:  rec.RequestID,
		State:      string(rec.State),
		Status:     string(rec.Status),
		Message:    rec.Message,
		RecordedAt: formatTime(rec.RecordedAt),
	}
}

func toBuildResponse(rec model.BuildRecord) BuildResponse {
	return BuildResponse{
		PassID:     rec.PassID,
		Project:    rec.Project,
		Build:      rec.Build,
		Skipped:    rec.Skipped,
		RecordedAt: formatTime(rec.RecordedAt),
	}
}
