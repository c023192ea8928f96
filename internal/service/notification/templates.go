package notification

import (
	"bytes"
	"html/template"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	newInvoiceEmail = template.Must(template.New("new_invoice").Parse(
		`<p>Uma nova nota fiscal de <strong>{{.Doctor}}</strong>{{if .Competence}} referente à competência {{.Competence}}{{end}} aguarda aprovação.</p>
{{if .Amount}}<p>Valor do pagamento: R$ {{.Amount}}</p>{{end}}
<p><a href="{{.ApproveURL}}">Aprovar</a> | <a href="{{.RejectURL}}">Rejeitar</a></p>`))

	paymentEmail = template.Must(template.New("payment").Parse(
		`<p>Olá {{.Doctor}},</p>
<p>O pagamento referente à competência {{.Competence}} no valor de R$ {{.Amount}} foi realizado.</p>`))
)

type invoiceEmailData struct {
	Doctor     string
	Competence string
	Amount     string
	ApproveURL string
	RejectURL  string
}

type paymentEmailData struct {
	Doctor     string
	Competence string
	Amount     string
}

func renderEmail(t *template.Template, data interface{}) string {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return ""
	}
	return buf.String()
}

func invoiceCaption(doctor, competence string, amount decimal.Decimal, approveURL, rejectURL string) string {
	var b strings.Builder
	b.WriteString("Nova nota fiscal de " + doctor)
	if competence != "" {
		b.WriteString(" (competência " + competence + ")")
	}
	b.WriteString(" aguardando aprovação.")
	if !amount.IsZero() {
		b.WriteString("\nValor: R$ " + FormatBRL(amount))
	}
	b.WriteString("\n\nAprovar: " + approveURL)
	b.WriteString("\nRejeitar: " + rejectURL)
	return b.String()
}

func paymentText(doctor, competence, amount string) string {
	return "Olá " + doctor + "! O pagamento referente à competência " + competence +
		" no valor de R$ " + amount + " foi realizado."
}

// FormatBRL renders an amount as 1.234,56.
func FormatBRL(d decimal.Decimal) string {
	s := d.StringFixed(2)
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	intPart, frac := s[:len(s)-3], s[len(s)-2:]

	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	return sign + b.String() + "," + frac
}
