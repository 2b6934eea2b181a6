package templates

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"
)

//go:embed files/*.tmpl
var files embed.FS

// Kind имя шаблона уведомления
type Kind string

const (
	// OrderConfirmation письмо об успешной оплате
	OrderConfirmation Kind = "order_confirmation"
	// PaymentFailed письмо об отказе в оплате
	PaymentFailed Kind = "payment_failed"
)

// Data поля, доступные в шаблонах
type Data struct {
	OrderID       string
	UserEmail     string
	Amount        string
	TransactionID string
	Reason        string
}

// Rendered результат рендеринга
type Rendered struct {
	Subject string
	Body    string
}

var reasons = map[string]string{
	"insufficient_funds":  "insufficient funds",
	"invalid_amount":      "invalid order amount",
	"gateway_unavailable": "payment provider is temporarily unavailable",
}

func reasonText(code string) string {
	if text, ok := reasons[code]; ok {
		return text
	}
	if code == "" {
		return "unknown"
	}
	return strings.ReplaceAll(code, "_", " ")
}

// Renderer рендерит шаблоны для уведомлений
type Renderer struct {
	templates map[Kind]*template.Template
}

// NewRenderer загружает встроенные шаблоны
func NewRenderer() (*Renderer, error) {
	r := &Renderer{templates: make(map[Kind]*template.Template)}
	for _, kind := range []Kind{OrderConfirmation, PaymentFailed} {
		tmpl, err := template.New(string(kind)).
			Funcs(template.FuncMap{"reasonText": reasonText}).
			ParseFS(files, "files/"+string(kind)+".tmpl")
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s template: %w", kind, err)
		}
		r.templates[kind] = tmpl
	}
	return r, nil
}

// Render возвращает тему и текст уведомления
func (r *Renderer) Render(kind Kind, data Data) (Rendered, error) {
	tmpl, ok := r.templates[kind]
	if !ok {
		return Rendered{}, fmt.Errorf("unknown template %q", kind)
	}

	var subject, body bytes.Buffer
	if err := tmpl.ExecuteTemplate(&subject, "subject", data); err != nil {
		return Rendered{}, fmt.Errorf("failed to render %s subject: %w", kind, err)
	}
	if err := tmpl.ExecuteTemplate(&body, "body", data); err != nil {
		return Rendered{}, fmt.Errorf("failed to render %s body: %w", kind, err)
	}
	return Rendered{
		Subject: strings.TrimSpace(subject.String()),
		Body:    body.String(),
	}, nil
}
