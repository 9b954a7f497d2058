package library

import (
	"strings"
	"text/template"
)

// Render applies src as a text/template against params, standing in for
// original_source's jinja2.Template(src).render(params). The {{ }}
// delimiters match Jinja2's, but a parameter is referenced as a field of
// the params map ({{.name}}); a Jinja2-style bare {{ name }} fails to
// parse. Filters and control structures beyond what Go's template
// language offers are out of scope (the spec calls the
// exact grammar opaque beyond "apply(template, params) -> string").
func Render(src string, params map[string]any) (string, error) {
	tmpl, err := template.New("instruction").Option("missingkey=zero").Parse(src)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	if err := tmpl.Execute(&b, params); err != nil {
		return "", err
	}
	return b.String(), nil
}
