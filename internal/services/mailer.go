package services

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	htmltemplate "html/template"
	"log/slog"
	"strings"
	texttemplate "text/template"

	pkglogger "github.com/BradenHooton/authemail/pkg/logger"
)

// TemplateID names an email template. Each id has a _subject.txt, .txt and .html file.
type TemplateID string

const (
	TemplateWelcome                   TemplateID = "welcome_email"
	TemplateSignup                    TemplateID = "signup_email"
	TemplatePasswordReset             TemplateID = "password_reset_email"
	TemplateEmailChangeNotifyPrevious TemplateID = "email_change_notify_previous_email"
	TemplateEmailChangeConfirmNew     TemplateID = "email_change_confirm_new_email"
)

// TemplateIDs lists every template the account flows send
var TemplateIDs = []TemplateID{
	TemplateWelcome,
	TemplateSignup,
	TemplatePasswordReset,
	TemplateEmailChangeNotifyPrevious,
	TemplateEmailChangeConfirmNew,
}

// Mailer delivers a templated email. Callers treat delivery as best effort.
type Mailer interface {
	Send(ctx context.Context, template TemplateID, data map[string]string, recipient string) error
}

// RenderedEmail is a fully rendered multi-part message
type RenderedEmail struct {
	Subject string
	Text    string
	HTML    string
}

//go:embed templates/*
var templateFS embed.FS

// TemplateRenderer renders the embedded templates. Every template also sees
// base_url, the prefix of links back to the API.
type TemplateRenderer struct {
	baseURL string
	text    *texttemplate.Template
	html    *htmltemplate.Template
}

func NewTemplateRenderer(baseURL string) (*TemplateRenderer, error) {
	text, err := texttemplate.New("mail").Option("missingkey=zero").ParseFS(templateFS, "templates/*.txt")
	if err != nil {
		return nil, fmt.Errorf("parse text templates: %w", err)
	}
	html, err := htmltemplate.New("mail").Option("missingkey=zero").ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse html templates: %w", err)
	}

	return &TemplateRenderer{
		baseURL: strings.TrimRight(baseURL, "/"),
		text:    text,
		html:    html,
	}, nil
}

func (r *TemplateRenderer) Render(id TemplateID, data map[string]string) (*RenderedEmail, error) {
	ctx := make(map[string]string, len(data)+1)
	for k, v := range data {
		ctx[k] = v
	}
	ctx["base_url"] = r.baseURL

	var subject, text, html bytes.Buffer
	if err := r.text.ExecuteTemplate(&subject, string(id)+"_subject.txt", ctx); err != nil {
		return nil, fmt.Errorf("render %s subject: %w", id, err)
	}
	if err := r.text.ExecuteTemplate(&text, string(id)+".txt", ctx); err != nil {
		return nil, fmt.Errorf("render %s text: %w", id, err)
	}
	if err := r.html.ExecuteTemplate(&html, string(id)+".html", ctx); err != nil {
		return nil, fmt.Errorf("render %s html: %w", id, err)
	}

	return &RenderedEmail{
		Subject: strings.TrimSpace(subject.String()),
		Text:    text.String(),
		HTML:    html.String(),
	}, nil
}

// LogMailer renders messages and logs them instead of sending. Used in development.
type LogMailer struct {
	renderer *TemplateRenderer
	logger   *slog.Logger
}

func NewLogMailer(renderer *TemplateRenderer, logger *slog.Logger) *LogMailer {
	return &LogMailer{renderer: renderer, logger: logger}
}

func (m *LogMailer) Send(ctx context.Context, template TemplateID, data map[string]string, recipient string) error {
	msg, err := m.renderer.Render(template, data)
	if err != nil {
		return err
	}
	m.logger.InfoContext(ctx, "email not sent (log mailer)",
		slog.String("template", string(template)),
		slog.String("to", pkglogger.SanitizedEmail(recipient)),
		slog.String("subject", msg.Subject),
		slog.String("body", msg.Text))
	return nil
}
