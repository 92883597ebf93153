package api

import (
	"html/template"
	"net/http"
	"time"

	"go.uber.org/zap"

	"androcompute/pkg/model"
)

var dashboardTmpl = template.Must(template.New("dashboard").Funcs(template.FuncMap{
	"ago": func(t time.Time) string {
		return time.Since(t).Round(time.Second).String()
	},
	"seconds": func(f float64) string {
		return (time.Duration(f * float64(time.Second))).Round(time.Millisecond).String()
	},
}).Parse(`<!DOCTYPE html>
<html>
<head>
  <title>AndroCompute Dashboard</title>
  <meta http-equiv="refresh" content="3">
  <style>
    body { font-family: sans-serif; margin: 20px; background: #f5f5f5; }
    .card { background: white; padding: 16px; margin: 12px 0; border-radius: 8px; }
    table { border-collapse: collapse; width: 100%; }
    th, td { text-align: left; padding: 4px 8px; border-bottom: 1px solid #eee; }
    .online { color: #2e7d32; } .stale { color: #c62828; }
    .completed { color: #2e7d32; } .failed { color: #c62828; }
    code { font-size: 12px; }
  </style>
</head>
<body>
  <h1>AndroCompute Dashboard</h1>

  <div class="card">
    <h2>Nodes ({{len .Nodes}})</h2>
    {{if .Nodes}}
    <table>
      <tr><th>Node</th><th>Status</th><th>Idle</th><th>Resources</th></tr>
      {{range .Nodes}}
      <tr>
        <td>{{.ID}}</td>
        <td class="{{.Status}}">{{.Status}}</td>
        <td>{{seconds .SecondsIdle}}</td>
        <td>{{range $k, $v := .Resources}}<code>{{$k}}={{$v}}</code> {{end}}</td>
      </tr>
      {{end}}
    </table>
    {{else}}<p>No nodes registered.</p>{{end}}
  </div>

  <div class="card">
    <h2>Jobs ({{len .Jobs}})</h2>
    {{if .Jobs}}
    <table>
      <tr><th>Job</th><th>Type</th><th>State</th><th>Node</th><th>Submitted</th></tr>
      {{range .Jobs}}
      <tr>
        <td>{{.ID}}</td><td>{{.Type}}</td>
        <td class="{{.State}}">{{.State}}</td>
        <td>{{.AssignedTo}}</td><td>{{ago .SubmittedAt}} ago</td>
      </tr>
      {{end}}
    </table>
    {{else}}<p>No jobs.</p>{{end}}
  </div>

  <div class="card">
    <h2>Recent results ({{len .Results}})</h2>
    {{if .Results}}
    <table>
      <tr><th>Job</th><th>Node</th><th>Outcome</th><th>Took</th></tr>
      {{range .Results}}
      <tr>
        <td>{{.JobID}}</td><td>{{.NodeID}}</td>
        <td class="{{.Status}}">{{if .Error}}{{.Error}}{{else}}<code>{{printf "%s" .Result}}</code>{{end}}</td>
        <td>{{seconds .ExecutionTime}}</td>
      </tr>
      {{end}}
    </table>
    {{else}}<p>No results yet.</p>{{end}}
  </div>

  <div class="card">
    <h2>Submit</h2>
    <p>Job types: {{range $i, $t := .Types}}{{if $i}}, {{end}}<code>{{$t}}</code>{{end}}</p>
    <p><code>curl -X POST {{.BaseURL}}/submit_job -H 'Content-Type: application/json' -d '{"type":"calculate_pi"}'</code></p>
  </div>
</body>
</html>
`))

type dashboardData struct {
	Nodes   []model.NodeView
	Jobs    []model.Job
	Results []model.Result
	Types   []string
	BaseURL string
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	data := dashboardData{
		Nodes:   s.coord.Nodes(),
		Jobs:    s.coord.Jobs(),
		Results: s.coord.Results(),
		Types:   s.coord.Catalog().Types(),
		BaseURL: scheme + "://" + r.Host,
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := dashboardTmpl.Execute(w, data); err != nil {
		s.logger.Warn("Dashboard render failed", zap.Error(err), zapRequestID(r))
	}
}
