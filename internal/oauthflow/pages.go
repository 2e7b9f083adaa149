package oauthflow

import (
	"bytes"
	"html/template"
	"net/http"
)

type pageData struct {
	AuthURL string
	Message string
}

var (
	startPage = template.Must(template.New("start").Parse(`<!doctype html>
<html><head><meta charset="utf-8"><title>hsexport authorization</title></head>
<body>
<h1>Connect hsexport to HubSpot</h1>
<p>hsexport needs read access to deals and their activities.</p>
<p><a href="{{.AuthURL}}">Authorize with HubSpot</a></p>
</body></html>
`))
	successPage = template.Must(template.New("success").Parse(`<!doctype html>
<html><head><meta charset="utf-8"><title>hsexport authorized</title></head>
<body>
<h1>Authorization complete</h1>
<p>Tokens were saved. You can close this window and run <code>hsexport export</code>.</p>
</body></html>
`))
	errorPage = template.Must(template.New("error").Parse(`<!doctype html>
<html><head><meta charset="utf-8"><title>hsexport authorization failed</title></head>
<body>
<h1>Authorization failed</h1>
<p>{{.Message}}</p>
<p><a href="/">Try again</a></p>
</body></html>
`))
)

func render(w http.ResponseWriter, status int, tmpl *template.Template, data pageData) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}
