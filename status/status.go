// Package status serves the metrics, health and status page of the collect
// command. The serve command mounts the same Page on the API listener
// instead of a separate one.
package status

import (
	"fmt"
	htmltemplate "html/template"
	"log"
	"net/http"
	"sort"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/wojas/go-healthz"

	"github.com/ALU-Schumacher/AUDITOR-sub000/config"
)

func StartHTTPServer(c config.Config) {
	if c.HTTP.Address == "" {
		logrus.Info("HTTP stats server disabled")
		return
	}
	logrus.WithField("address", c.HTTP.Address).Info("HTTP stats server enabled")
	http.Handle("/metrics", promhttp.Handler())
	http.Handle("/health_check", healthz.Handler())
	http.Handle("/", NewPage(c))
	go func() {
		err := http.ListenAndServe(c.HTTP.Address, nil)
		logrus.Fatalf("HTTP server error: %v", err)
	}()
}

type Page struct {
	c config.Config
}

func NewPage(c config.Config) *Page {
	return &Page{c: c}
}

const statusTemplateString = `<!DOCTYPE html>
<html>
<head>
	<meta charset="UTF-8">
	<title>Auditor Status</title>
	<style>
		body          { font-family: sans-serif; }
		table, td, th { border: 1px solid #ccc; border-collapse: collapse; }
		td, th        { padding: 5px; text-align: left; }
		a             { text-decoration: none; color: #3c6ac5; }
	</style>
</head>
<body>
	<h1>Auditor Status</h1>
	<p>
		<a href="/metrics">Prometheus metrics</a> |
		<a href="/health_check">Health</a>
	</p>

	{{ if .Collectors }}
	<h2>Collectors</h2>
	<table>
		<tr><th>Name</th><th>Source</th><th>Store</th></tr>
		{{ range .Collectors }}
		<tr><td>{{ .Name }}</td><td>{{ .Source }}</td><td>{{ .Store }}</td></tr>
		{{ end }}
	</table>
	{{ end }}

	<h2>Config</h2>
	<pre>{{ .Config.String }}</pre>

</body>
</html>`

var statusTemplate *htmltemplate.Template

func init() {
	var err error
	statusTemplate, err = htmltemplate.New("status").Parse(statusTemplateString)
	if err != nil {
		log.Fatalf("BUG: Error in status HTML template: %v", err)
	}
}

type collectorRow struct {
	Name   string
	Source string
	Store  string
}

func (p *Page) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	var rows []collectorRow
	for name, col := range p.c.Collectors {
		rows = append(rows, collectorRow{
			Name:   name,
			Source: col.Source.Type + " " + col.Source.Path,
			Store:  col.StoreURL,
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Name < rows[j].Name })

	data := struct {
		Config     config.Config
		Collectors []collectorRow
	}{
		Config:     p.c,
		Collectors: rows,
	}

	err := statusTemplate.Execute(w, data)
	if err != nil {
		w.WriteHeader(500)
		_, _ = w.Write([]byte(fmt.Sprintf("Template execution error: %v", err)))
	}
}
