package handler

import (
	"html/template"
	"net/http"
)

const requireEmailPage = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <title>Bind your email</title>
</head>
<body>
  <h1>Bind your email</h1>
  {{if .Picture}}<img src="{{.Picture}}" alt="avatar" width="64" height="64">{{end}}
  <p>The provider did not share an email address. Enter one to finish signing in.</p>
  {{if .Error}}<p class="error">{{.Error}}</p>{{end}}
  <form method="post" action="/oauth/requireemail/{{.OAuthID}}.html">
    <input type="hidden" name="oauthid" value="{{.OAuthID}}">
    <label for="email">Email</label>
    <input type="email" id="email" name="email" value="{{.Email}}" required>
    <button type="submit">Bind</button>
  </form>
</body>
</html>
`

const bindSuccessPage = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <title>{{.Title}}</title>
</head>
<body>
  <h1>{{.Title}}</h1>
  <p>{{.Content}}</p>
  <p><a href="/">Back to home</a></p>
</body>
</html>
`

var (
	requireEmailTmpl = template.Must(template.New("requireemail").Parse(requireEmailPage))
	bindSuccessTmpl  = template.Must(template.New("bindsuccess").Parse(bindSuccessPage))
)

type requireEmailData struct {
	OAuthID string
	Picture string
	Email   string
	Error   string
}

type bindSuccessData struct {
	Title   string
	Content string
}

func (h *Handlers) renderRequireEmail(w http.ResponseWriter, data requireEmailData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := requireEmailTmpl.Execute(w, data); err != nil {
		h.logger.Error("rendering email form", "error", err)
	}
}

func (h *Handlers) renderBindSuccess(w http.ResponseWriter, data bindSuccessData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := bindSuccessTmpl.Execute(w, data); err != nil {
		h.logger.Error("rendering bind page", "error", err)
	}
}
