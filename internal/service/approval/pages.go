package approval

import (
	"bytes"
	"html/template"
)

const layout = `<!DOCTYPE html>
<html lang="pt-BR">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}}</title>
<style>
body{font-family:system-ui,sans-serif;background:#f4f6f8;margin:0;padding:2rem}
.card{max-width:32rem;margin:0 auto;background:#fff;border-radius:8px;padding:2rem;box-shadow:0 1px 3px rgba(0,0,0,.1)}
.ok{color:#137333}.warn{color:#b06000}.err{color:#c5221f}
textarea{width:100%;min-height:6rem}button{margin-top:1rem;padding:.5rem 1.5rem}
</style>
</head>
<body><div class="card">{{template "body" .}}</div></body>
</html>`

var (
	resultPage = template.Must(template.Must(template.New("result").Parse(layout)).New("body").Parse(
		`<h2 class="{{.Class}}">{{.Title}}</h2><p>{{.Message}}</p>{{if .Notice}}<p><small>{{.Notice}}</small></p>{{end}}`))

	rejectForm = template.Must(template.Must(template.New("reject").Parse(layout)).New("body").Parse(
		`<h2>{{.Title}}</h2>
<p>Informe o motivo da rejeição da nota fiscal{{if .InvoiceNumber}} nº {{.InvoiceNumber}}{{end}}.</p>
{{if .Error}}<p class="err">{{.Error}}</p>{{end}}
<form method="POST" action="{{.Action}}">
<input type="hidden" name="token" value="{{.Token}}">
<textarea name="reason" required>{{.Reason}}</textarea>
<button type="submit">Rejeitar nota</button>
</form>`))
)

type resultData struct {
	Title   string
	Message string
	Class   string
	Notice  string
}

type formData struct {
	Title         string
	InvoiceNumber string
	Action        string
	Token         string
	Reason        string
	Error         string
}

func render(t *template.Template, data interface{}) string {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "<p>" + template.HTMLEscapeString(err.Error()) + "</p>"
	}
	return buf.String()
}

// ErrorPage renders a failure outcome for the approval routes.
func ErrorPage(title, message string) string {
	return render(resultPage, resultData{Title: title, Message: message, Class: "err"})
}
