package feedback

import (
	"html/template"
	"net/http"
	"strings"
)

// Page renders the browser-facing landing page the gateway redirects buyers
// to after checkout. It is informational only: transaction state is owned by
// the webhook path, never by the redirect.
type Page struct {
	tmpl *template.Template
}

type pageData struct {
	Title         string
	Message       string
	Color         string
	TransactionID string
}

var statusPages = map[string]pageData{
	"success": {
		Title:   "Payment approved",
		Message: "Your payment went through. The machine is dispensing your product.",
		Color:   "#2e7d32",
	},
	"failure": {
		Title:   "Payment failed",
		Message: "Your payment could not be completed. No charge was made.",
		Color:   "#c62828",
	},
	"pending": {
		Title:   "Payment pending",
		Message: "Your payment is being processed. The machine will dispense as soon as it is approved.",
		Color:   "#f9a825",
	},
}

const pageHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}}</title>
<style>
body { font-family: system-ui, sans-serif; display: flex; align-items: center; justify-content: center; min-height: 100vh; margin: 0; background: #fafafa; }
main { text-align: center; padding: 2rem; }
h1 { color: {{.Color}}; }
p.txn { color: #757575; font-size: 0.85rem; }
</style>
</head>
<body>
<main>
<h1>{{.Title}}</h1>
<p>{{.Message}}</p>
{{if .TransactionID}}<p class="txn">Transaction {{.TransactionID}}</p>{{end}}
</main>
</body>
</html>
`

// NewPage parses the feedback template.
func NewPage() *Page {
	return &Page{tmpl: template.Must(template.New("feedback").Parse(pageHTML))}
}

// Handle serves GET /payment-feedback?status=...&vending_txn_id=...
func (p *Page) Handle(w http.ResponseWriter, r *http.Request) {
	status := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("status")))
	data, ok := statusPages[status]
	if !ok {
		data = statusPages["pending"]
	}
	data.TransactionID = strings.TrimSpace(r.URL.Query().Get("vending_txn_id"))
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_ = p.tmpl.Execute(w, data)
}
