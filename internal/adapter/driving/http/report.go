package httphandler

import (
	"html/template"
	"net/http"
)

var reportPage = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Request {{.RequestID}}: {{.State}}</title>
</head>
<body>
<header>
<h1>Request {{.RequestID}}</h1>
<p>{{.State}} / {{.Status}}, recorded {{.RecordedAt}} in pass {{.PassID}}</p>
</header>
<main>
{{.Body}}
</main>
</body>
</html>
`))

type reportView struct {
	RequestID  string
	State      string
	Status     string
	PassID     string
	RecordedAt string
	Body       template.HTML
}

// Report renders the latest verdict message of a request as an HTML page.
func (h *Handler) Report(w http.ResponseWriter, r *http.Request) {
	if h.verdicts == nil {
		http.Error(w, "audit store disabled", http.StatusServiceUnavailable)
		return
	}

	id := r.PathValue("id")
	rec, err := h.verdicts.LatestVerdict(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get verdict", "request", id, "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if rec == nil {
		http.Error(w, "no report for request", http.StatusNotFound)
		return
	}

	view := reportView{
		RequestID:  rec.RequestID,
		State:      string(rec.State),
		Status:     string(rec.Status),
		PassID:     rec.PassID,
		RecordedAt: formatTime(rec.RecordedAt),
		Body:       template.HTML(RenderMarkdown(rec.Message)), //nolint:gosec // sanitized by RenderMarkdown
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := reportPage.Execute(w, view); err != nil {
		h.logger.Error("failed to render report", "request", id, "error", err)
	}
}
