package server

import (
	_ "embed"
	"html/template"
)

//go:embed templates/consent.html
var consentPageTemplateHTML string

var consentPageTemplate = template.Must(template.New("consent").Parse(consentPageTemplateHTML))

// ConsentPageData is rendered by the consent page.
type ConsentPageData struct {
	ClientID    string
	ClientName  string
	RedirectURI string
	Scopes      []string
	SentryHost  string
	State       string
	CSRFToken   string
	FormAction  string
}
