package api

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"
)

//go:embed templates/*.html
var templateFS embed.FS

type page struct {
	tmpl       *template.Template
	title      string
	background template.CSS
	accent     template.CSS
}

type pageData struct {
	Title      string
	Background template.CSS
	Accent     template.CSS
	URL        string
}

var (
	pageSuccess        = mustPage("success.html", "Payment Success", "#f0fff4", "#28a745")
	pageCancel         = mustPage("cancel.html", "Payment Cancelled", "#fff0f0", "#dc3545")
	pageOnboardSuccess = mustPage("onboard_success.html", "Stripe Onboarding Success", "#f5f7fa", "#28a745")
	pageReauth         = mustPage("reauth.html", "Reauthentication Required", "#fff0f0", "#dc3545")
)

func mustPage(name, title string, background, accent template.CSS) page {
	tmpl := template.Must(template.ParseFS(templateFS, "templates/layout.html", "templates/"+name))
	return page{tmpl: tmpl, title: title, background: background, accent: accent}
}

func (s *Server) renderPage(w http.ResponseWriter, r *http.Request, p page, url string) {
	var buf bytes.Buffer
	err := p.tmpl.ExecuteTemplate(&buf, "layout", pageData{
		Title:      p.title,
		Background: p.background,
		Accent:     p.accent,
		URL:        url,
	})
	if err != nil {
		s.respondError(w, r, err, nil)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (s *Server) staticPage(p page) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.renderPage(w, r, p, "")
	}
}
