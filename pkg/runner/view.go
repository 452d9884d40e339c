package runner

import (
	"html/template"
	"os"
	"path/filepath"
)

// viewTemplate renders the standalone run summary page.
var viewTemplate = template.Must(template.New("view").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>Run {{.Manifest.RunID}}</title>
  <style>
    body { font-family: system-ui, sans-serif; margin: 2rem auto; max-width: 60rem; color: #1f2937; }
    h1 { font-size: 1.4rem; }
    table { border-collapse: collapse; width: 100%; margin: 1rem 0; }
    th, td { border: 1px solid #d1d5db; padding: 0.5rem 0.75rem; text-align: left; }
    th { background: #f3f4f6; }
    .passed { color: #15803d; font-weight: 600; }
    .failed { color: #b91c1c; font-weight: 600; }
    dl { display: grid; grid-template-columns: 12rem 1fr; gap: 0.25rem 1rem; }
    dt { font-weight: 600; }
  </style>
</head>
<body>
  <h1>Run {{.Manifest.RunID}}</h1>
  <dl>
    <dt>Task</dt><dd>{{.Manifest.Task}}</dd>
    <dt>Result</dt><dd class="{{if .Manifest.FinalPassed}}passed{{else}}failed{{end}}">{{.Manifest.FinalScore}}/100 ({{.Manifest.StopReason}})</dd>
    <dt>Iterations</dt><dd>{{.Manifest.IterationCount}}</dd>
    <dt>Duration</dt><dd>{{printf "%.1f" .Manifest.DurationSeconds}}s</dd>
    <dt>Planner model</dt><dd>{{.Manifest.PlannerModel}}</dd>
    <dt>Evaluator model</dt><dd>{{.Manifest.EvaluatorModel}}</dd>
    <dt>Rubric</dt><dd>{{.Manifest.RubricID}}</dd>
    <dt>Preview</dt><dd><a href="{{.Manifest.PreviewURL}}">{{.Manifest.PreviewURL}}</a></dd>
    {{if .Manifest.ErrorMessage}}<dt>Error</dt><dd>{{.Manifest.ErrorMessage}}</dd>{{end}}
  </dl>

  <h2>Iterations</h2>
  <table>
    <tr><th>#</th><th>Score</th><th>Passed</th><th>Generation</th><th>Evaluation</th><th>Files touched</th></tr>
    {{range .Report.Iterations}}
    <tr>
      <td>{{.Index}}</td>
      <td>{{.Score}}</td>
      <td class="{{if .Passed}}passed{{else}}failed{{end}}">{{.Passed}}</td>
      <td>{{.GenerationDurationMs}}ms</td>
      <td>{{.EvaluationDurationMs}}ms</td>
      <td>{{len .FilesTouched}}</td>
    </tr>
    {{end}}
  </table>
</body>
</html>
`))

type viewData struct {
	Manifest *Manifest
	Report   *Report
}

// writeView renders view.html at the run root.
func (c *Controller) writeView(manifest *Manifest, report *Report) error {
	path := filepath.Join(c.paths.WorkspaceDir, "view.html")
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := viewTemplate.Execute(f, viewData{Manifest: manifest, Report: report}); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
