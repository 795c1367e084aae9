package automation

import (
	"bytes"
	"embed"
	"fmt"
	"text/template"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

var messageTemplates = []string{
	"created_preview",
	"reminder_preview",
	"canceled_text",
	"reply_confirm",
	"reply_reschedule",
	"reply_talk_to_jana",
}

// Renderer renders message bodies from templates: the free-text cancellation
// message, dry-run previews, and the inbound auto-replies.
type Renderer struct {
	templates map[string]*template.Template
}

// NewRenderer creates a renderer and parses all embedded templates.
func NewRenderer() (*Renderer, error) {
	r := &Renderer{templates: make(map[string]*template.Template)}

	for _, name := range messageTemplates {
		filename := fmt.Sprintf("templates/%s.tmpl", name)

		content, err := templatesFS.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("read template %s: %w", filename, err)
		}

		tmpl, err := template.New(name).Parse(string(content))
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, err)
		}

		r.templates[name] = tmpl
	}

	return r, nil
}

func (r *Renderer) render(name string, data any) (string, error) {
	tmpl, ok := r.templates[name]
	if !ok {
		return "", fmt.Errorf("template not found: %s", name)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render template %s: %w", name, err)
	}
	return buf.String(), nil
}

// Preview renders a human-readable dry-run preview for a lifecycle type.
func (r *Renderer) Preview(jobType JobType, tc *TemplateContext) (string, error) {
	switch jobType {
	case JobTypeCreated:
		return r.render("created_preview", tc)
	case JobTypeReminder:
		return r.render("reminder_preview", tc)
	case JobTypeCanceled:
		return r.render("canceled_text", tc)
	}
	return "", fmt.Errorf("no preview for job type %q", jobType)
}

// CanceledText renders the free-text cancellation message.
func (r *Renderer) CanceledText(tc *TemplateContext) (string, error) {
	return r.render("canceled_text", tc)
}

// AutoReply renders the reply for a recognized button action. voucherLink
// may be empty, templates guard against it.
func (r *Renderer) AutoReply(action Action, voucherLink string) (string, error) {
	data := struct{ VoucherLink string }{VoucherLink: voucherLink}
	switch action {
	case ActionConfirm:
		return r.render("reply_confirm", data)
	case ActionReschedule:
		return r.render("reply_reschedule", data)
	case ActionTalkToJana:
		return r.render("reply_talk_to_jana", data)
	}
	return "", fmt.Errorf("no auto-reply for action %q", action)
}
