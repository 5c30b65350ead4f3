package notification

import (
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
)

type pageContext struct {
	Title    string
	LogoLink string

	// Error/success pages.
	Msg string

	// Preferences form.
	Form *preferencesForm
}

type preferencesForm struct {
	Enabled          bool
	PreferencesToken string
	AnonEmail        string
	AnonNpub         string
	Flags            []FormFlag
}

var pageTemplate = template.Must(template.New("page").Parse(`<!doctype html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{.Title}}</title>
</head>
<body style="margin:0; padding:0; background:#fefbf1; font-family:Geist, system-ui, sans-serif; color:#111111;">
    <div style="max-width:650px; margin:0 auto; padding:24px;">
        <img src="{{.LogoLink}}" alt="Bitcredit" width="120" height="24" style="display:block; height:auto;">
        <h1 style="font-size:24px; font-weight:500;">{{.Title}}</h1>
{{- if .Form}}
        <form method="post" action="/notifications/update_preferences">
            <input type="hidden" name="preferences_token" value="{{.Form.PreferencesToken}}">
            <p>Notifications for {{.Form.AnonNpub}} to {{.Form.AnonEmail}}</p>
            <label>
                <input type="checkbox" name="enabled"{{if .Form.Enabled}} checked{{end}}>
                Email notifications enabled
            </label>
            <fieldset style="border:none; padding:0; margin:16px 0;">
{{- range .Form.Flags}}
                <label style="display:block; padding:2px 0;">
                    <input type="checkbox" name="flags" value="{{.Value}}"{{if .Checked}} checked{{end}}>
                    {{.Name}}
                </label>
{{- end}}
            </fieldset>
            <button type="submit" style="background:#2b2118; color:#ffffff; border:none; padding:12px 24px; border-radius:.5rem;">Save</button>
        </form>
{{- else}}
        <p>{{.Msg}}</p>
{{- end}}
    </div>
</body>
</html>
`))

func (s *Service) renderPage(w http.ResponseWriter, status int, ctx pageContext) {
	ctx.LogoLink = logoLink(s.hostURL)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := pageTemplate.Execute(w, ctx); err != nil {
		slog.Error("render page failed", "error", err)
	}
}

func (s *Service) htmlError(w http.ResponseWriter, status int, msg string) {
	s.renderPage(w, status, pageContext{Title: "Error", Msg: msg})
}

func (s *Service) htmlSuccess(w http.ResponseWriter, msg string) {
	s.renderPage(w, http.StatusOK, pageContext{Title: "Success", Msg: msg})
}

func logoLink(hostURL *url.URL) string {
	logo, err := hostURL.Parse("/static/logo.png")
	if err != nil {
		return ""
	}
	return logo.String()
}
