package httphandler

import (
	"bytes"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// Reports use emphasis, links, lists and the occasional strikethrough. Each
// report line is its own line on the page. The only raw HTML they carry is
// the state marker comment, which the policy drops.
var (
	reportMarkdown = goldmark.New(
		goldmark.WithExtensions(extension.Strikethrough, extension.Linkify, extension.Table),
		goldmark.WithRendererOptions(html.WithHardWraps(), html.WithUnsafe()),
	)
	reportPolicy = newReportPolicy()
)

func newReportPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	// Job links open openQA next to the report.
	p.AddTargetBlankToFullyQualifiedLinks(true)
	return p
}

// RenderMarkdown converts a report to sanitized HTML.
// Returns empty string for empty input.
func RenderMarkdown(src string) string {
	if src == "" {
		return ""
	}

	var buf bytes.Buffer
	if err := reportMarkdown.Convert([]byte(src), &buf); err != nil {
		return reportPolicy.Sanitize(src)
	}
	return reportPolicy.Sanitize(buf.String())
}
