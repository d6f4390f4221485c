package email

import (
	"bytes"
	"context"
	"errors"
	"html/template"
	"strings"

	"github.com/rs/zerolog/log"
)

var ErrNoRecipient = errors.New("email recipient is required")

// Sender delivers one message.
type Sender interface {
	Send(ctx context.Context, msg Message) (*Delivery, error)
}

// LogSender stands in when no provider is configured; messages are logged
// and dropped.
type LogSender struct{}

func (LogSender) Send(_ context.Context, msg Message) (*Delivery, error) {
	if msg.To == "" {
		return nil, ErrNoRecipient
	}
	log.Info().Str("to", msg.To).Str("subject", msg.Subject).Msg("email delivery disabled, message dropped")
	return &Delivery{}, nil
}

// Renderer turns named templates into HTML wrapped in the base layout.
type Renderer struct {
	base      *template.Template
	templates map[string]*template.Template
}

func NewRenderer() *Renderer {
	r := &Renderer{
		base:      template.Must(template.New("base").Parse(BaseTemplate)),
		templates: make(map[string]*template.Template),
	}
	for name, content := range map[string]string{
		TemplateAthleteUnlocked: AthleteUnlockedTemplate,
		TemplateOperatorUnlock:  OperatorUnlockTemplate,
	} {
		r.templates[name] = template.Must(template.New(name).Parse(content))
	}
	return r
}

// Render executes template name with data inside the base layout.
func (r *Renderer) Render(name string, data interface{}) (string, error) {
	tmpl, ok := r.templates[name]
	if !ok {
		return "", errors.New("template " + name + " not found")
	}

	var content bytes.Buffer
	if err := tmpl.Execute(&content, data); err != nil {
		return "", err
	}

	var page bytes.Buffer
	if err := r.base.Execute(&page, map[string]interface{}{
		"Content": template.HTML(content.String()),
	}); err != nil {
		return "", err
	}
	return strings.TrimSpace(page.String()), nil
}
