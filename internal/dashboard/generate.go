// Package dashboard renders Grafana dashboards for the GreptimeDB step and
// response tables.
package dashboard

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
)

//go:embed templates/*.json.tmpl
var templates embed.FS

// Params fills the dashboard templates.
type Params struct {
	Title         string
	StepTable     string
	ResponseTable string
}

// DefaultParams matches the tables written by sim.GreptimeDBWriter.
func DefaultParams() Params {
	return Params{
		Title:         "markovsim",
		StepTable:     "markov_steps",
		ResponseTable: "markov_agent_responses",
	}
}

// Render executes every embedded template with p and writes the dashboards
// to outDir. Templates read datasource uids through the env function, which
// fails when the variable is unset.
func Render(outDir string, p Params) ([]string, error) {
	funcMap := template.FuncMap{
		"env": func(key string) (string, error) {
			v := os.Getenv(key)
			if v == "" {
				return "", fmt.Errorf("environment variable %s not set", key)
			}
			return v, nil
		},
	}
	t, err := template.New("dashboards").Funcs(funcMap).ParseFS(templates, "templates/*.json.tmpl")
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, err
	}

	var written []string
	for _, tpl := range t.Templates() {
		if !strings.HasSuffix(tpl.Name(), ".tmpl") {
			continue
		}
		outPath := filepath.Join(outDir, strings.TrimSuffix(tpl.Name(), ".tmpl"))
		f, err := os.Create(outPath)
		if err != nil {
			return written, err
		}
		if err := tpl.Execute(f, p); err != nil {
			f.Close()
			return written, err
		}
		if err := f.Close(); err != nil {
			return written, err
		}
		written = append(written, outPath)
	}
	return written, nil
}
