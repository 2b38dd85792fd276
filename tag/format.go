package tag

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"github.com/osteele/liquid"

	"github.com/wolfeidau/linkpreview"
)

// Preview is what a Formatter renders: the resolved URL and its record.
type Preview struct {
	// Link is the URL the tag resolved to. It may be empty.
	Link string
	linkpreview.Record
}

// Formatter turns a preview into an HTML fragment.
type Formatter interface {
	Format(p Preview) (string, error)
}

// FormatterFunc adapts a function to the Formatter interface.
type FormatterFunc func(p Preview) (string, error)

// Format calls f(p).
func (f FormatterFunc) Format(p Preview) (string, error) {
	return f(p)
}

const defaultFragment = `{{if or .Record.Title .Record.Image .Record.Description .Record.Domain}}<div class="linkpreview-wrapper">
  <div class="linkpreview-content">
{{- with .Record.Image}}
    <div class="linkpreview-image"><a href="{{$.Href}}" target="_blank"><img src="{{.}}" /></a></div>
{{- end}}
    <div class="linkpreview-body">
{{- with .Record.Title}}
      <h2 class="linkpreview-title"><a href="{{$.Href}}" target="_blank">{{.}}</a></h2>
{{- end}}
{{- with .Record.Description}}
      <div class="linkpreview-description">{{.}}</div>
{{- end}}
    </div>
  </div>
{{- with .Record.Domain}}
  <div class="linkpreview-footer"><a href="//{{.}}" target="_blank">{{.}}</a></div>
{{- end}}
</div>
{{- else if .Href}}<div class="linkpreview-wrapper"><a href="{{.Href}}" target="_blank">{{.Href}}</a></div>
{{- end}}`

var htmlFragment = template.Must(template.New("linkpreview").Parse(defaultFragment))

type fragmentData struct {
	Href   string
	Record linkpreview.Record
}

// HTMLFormatter renders the built-in fragment. Absent fields are left out;
// an empty record renders a bare link to the resolved URL, or nothing when
// there is no URL either.
type HTMLFormatter struct{}

// Format renders p.
func (HTMLFormatter) Format(p Preview) (string, error) {
	href := linkpreview.Value(p.URL)
	if href == "" {
		href = p.Link
	}
	var buf bytes.Buffer
	if err := htmlFragment.Execute(&buf, fragmentData{Href: href, Record: p.Record}); err != nil {
		return "", fmt.Errorf("rendering fragment: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// LiquidFormatter renders a user supplied Liquid template. The template sees
// link, title, url, domain, image and description; absent fields are nil so
// {% if title %} works as expected.
type LiquidFormatter struct {
	tpl *liquid.Template
}

// NewLiquidFormatter compiles src.
func NewLiquidFormatter(src string) (*LiquidFormatter, error) {
	tpl, err := liquid.NewEngine().ParseString(src)
	if err != nil {
		return nil, fmt.Errorf("parsing preview template: %w", err)
	}
	return &LiquidFormatter{tpl: tpl}, nil
}

// Format renders p.
func (f *LiquidFormatter) Format(p Preview) (string, error) {
	out, err := f.tpl.RenderString(liquid.Bindings{
		"link":        p.Link,
		"title":       optional(p.Title),
		"url":         optional(p.URL),
		"domain":      optional(p.Domain),
		"image":       optional(p.Image),
		"description": optional(p.Description),
	})
	if err != nil {
		return "", fmt.Errorf("rendering preview template: %w", err)
	}
	return out, nil
}

func optional(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}
