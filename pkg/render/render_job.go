package render

import (
	"html/template"
	"io"

	"go.uber.org/zap"

	"github.com/yumyai/edna/logger"
)

var jobPageTemplate *template.Template

// JobPageData describes the state of a background job for rendering.
type JobPageData struct {
	JobID                  string
	JobType                string
	Status                 string
	Progress               float64
	Message                string
	Result                 string
	ErrorMessage           string
	ShouldRefresh          bool
	RefreshIntervalSeconds int
}

// init initializes the templates used for rendering the HTML page.
func init() {
	mainTmpl := `
	<!DOCTYPE html>
	<html>
	<head>
	    <title>eDNA job {{ .JobID }}</title>
	    <style>
        pre {
            white-space: pre-wrap;
            word-wrap: break-word;
        }
   		</style>
		{{ if .ShouldRefresh }}
        <script>
	        setTimeout(function () { window.location.reload(); }, {{ mul .RefreshIntervalSeconds 1000 }});
        </script>
		{{ end }}
	</head>
	<body>
		<h1>eDNA analysis</h1>
		<p><strong>Job ID:</strong> {{ .JobID }}</p>
		<p><strong>Job type:</strong> {{ .JobType }}</p>
		<p><strong>Status:</strong> {{ .Status }} ({{ pct .Progress }}%)</p>
		{{ if .Message }}<p>{{ .Message }}</p>{{ end }}
		{{ if .ErrorMessage }}
			<p style="color: red;">{{ .ErrorMessage }}</p>
		{{ else if .Result }}
    		<pre>{{ .Result }}</pre>
		{{ else }}
			<p>The job is still running. This page refreshes every {{ .RefreshIntervalSeconds }} seconds.</p>
		{{ end }}
	</body>
	</html>`

	jobPageTemplate = template.New("job_page").Funcs(template.FuncMap{
		"mul": func(a, b int) int { return a * b },
		"pct": func(f float64) int { return int(f * 100) },
	})
	jobPageTemplate = template.Must(jobPageTemplate.Parse(mainTmpl))
}

// RenderJobPage writes a status page that reloads itself while the job runs.
func RenderJobPage(w io.Writer, data JobPageData) error {
	logger.Debug("Rendering job page", zap.String("job_id", data.JobID), zap.String("status", data.Status))
	return jobPageTemplate.Execute(w, data)
}
