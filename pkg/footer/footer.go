// Package footer renders the attribution footer appended to published landing pages.
package footer

import (
	"bytes"
	"html/template"
	"strings"
)

const (
	defaultElementID  = "pagepilot-footer"
	defaultBaseClass  = "pagepilot-footer"
	defaultPrefixText = "Built with"
	defaultBrandLabel = "PagePilot"
)

// Link describes an extra navigation entry shown after the brand.
type Link struct {
	Label string
	URL   string
}

// Config captures the markup hooks and content of the footer.
type Config struct {
	ElementID  string
	BaseClass  string
	PrefixText string
	BrandLabel string
	BrandURL   string
	Links      []Link
}

var (
	footerTemplate = template.Must(template.New("footer").Option("missingkey=error").Parse(`<footer id="{{.ElementID}}" class="{{.BaseClass}}">
  <span>{{.PrefixText}}</span>{{if .BrandURL}} <a href="{{.BrandURL}}" rel="noopener">{{.BrandLabel}}</a>{{else}} <span>{{.BrandLabel}}</span>{{end}}
  {{- if .Links}}
  <nav>{{range .Links}}<a href="{{.URL}}" target="_blank" rel="noopener noreferrer">{{.Label}}</a>{{end}}</nav>
  {{- end}}
</footer>`))
)

// PublishedPageConfig returns the footer shown on every published page,
// linking the brand to publicBaseURL when one is set.
func PublishedPageConfig(publicBaseURL string) Config {
	return Config{
		ElementID:  defaultElementID,
		BaseClass:  defaultBaseClass,
		PrefixText: defaultPrefixText,
		BrandLabel: defaultBrandLabel,
		BrandURL:   strings.TrimRight(strings.TrimSpace(publicBaseURL), "/"),
	}
}

// Render returns the footer HTML for the provided configuration.
func Render(config Config) (template.HTML, error) {
	var buffer bytes.Buffer
	if err := footerTemplate.Execute(&buffer, config); err != nil {
		return "", err
	}
	return template.HTML(buffer.String()), nil
}
