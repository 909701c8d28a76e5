package web

import (
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
)

const indexTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Heading}}</title>
<style>
body { font-family: Helvetica, Arial, sans-serif; margin: 20px; }
pre { font-size: 12px; }
table.stats td, table.stats th { padding: 2px 10px; text-align: right; }
.grid { display: flex; flex-wrap: wrap; max-width: 900px; }
.cell { margin: 4px; text-align: center; font-size: 11px; }
.cell img { width: 64px; height: 64px; image-rendering: pixelated; }
.wrong { color: #c00; }
</style>
</head>
<body>
<h2>{{.Heading}}</h2>
<div>
<img src="/plot/accuracy.svg" alt="model accuracy">
<img src="/plot/loss.svg" alt="model loss">
</div>
<p>{{.RunTime}}</p>
<table class="stats">
<tr><th>epoch</th><th>loss</th><th>accuracy</th><th>val loss</th><th>val accuracy</th></tr>
{{range .LatestStats 10}}<tr><td>{{.Epoch}}</td><td>{{printf "%.4f" .Loss}}</td><td>{{printf "%.4f" .Accuracy}}</td><td>{{printf "%.4f" .ValLoss}}</td><td>{{printf "%.4f" .ValAccuracy}}</td></tr>
{{end}}</table>
{{with .Images}}<h3>test images</h3>
<div class="grid">
{{range .}}<div class="cell"><img src="/img/{{.ID}}" alt="{{.Label}}"><br><span{{if .Wrong}} class="wrong"{{end}}>{{.Text}}</span></div>
{{end}}</div>{{end}}
{{with .Summary}}<h3>network</h3>
<pre>{{.}}</pre>{{end}}
</body>
</html>
`

// Templates used by the viewer
type Templates struct {
	*template.Template
}

// Parse the page templates
func NewTemplates() (*Templates, error) {
	t, err := template.New("index").Parse(indexTemplate)
	if err != nil {
		return nil, err
	}
	return &Templates{Template: t}, nil
}

// Exec executes the named template, writing an error response on failure
func (t *Templates) Exec(w http.ResponseWriter, name string, data interface{}) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := t.ExecuteTemplate(w, name, data); err != nil {
		logError(w, err)
	}
}

func logError(w http.ResponseWriter, err error) {
	slog.Error("web handler", "error", err)
	http.Error(w, fmt.Sprint(err), http.StatusInternalServerError)
}
