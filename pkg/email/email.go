package email

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/resend/resend-go/v2"
	"github.com/sirupsen/logrus"
)

const DefaultBaseURL = "https://api.resend.com"

type Config struct {
	APIKey  string
	From    string
	BaseURL string
	// AppURL is linked from every email, e.g. to the billing page.
	AppURL string
}

// Service sends transactional emails through Resend.
type Service struct {
	client    *resend.Client
	from      string
	appURL    string
	templates *template.Template
	log       logrus.FieldLogger
}

func NewService(cfg Config, log logrus.FieldLogger) (*Service, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("resend API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	// Request paths are resolved relative to the base, which needs the slash.
	baseURL, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("invalid resend base URL: %w", err)
	}
	client := resend.NewCustomClient(&http.Client{Timeout: 10 * time.Second}, cfg.APIKey)
	client.BaseURL = baseURL

	templates, err := loadTemplates()
	if err != nil {
		return nil, fmt.Errorf("error loading email templates: %w", err)
	}

	return &Service{
		client:    client,
		from:      cfg.From,
		appURL:    strings.TrimRight(cfg.AppURL, "/"),
		templates: templates,
		log:       log,
	}, nil
}

func (s *Service) sendTemplateEmail(ctx context.Context, to, subject, templateName string, data any) error {
	if to == "" {
		return fmt.Errorf("no recipient for %s", templateName)
	}

	var body bytes.Buffer
	if err := s.templates.ExecuteTemplate(&body, templateName, data); err != nil {
		return fmt.Errorf("template execution error: %w", err)
	}

	sent, err := s.client.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    s.from,
		To:      []string{to},
		Subject: subject,
		Html:    body.String(),
	})
	if err != nil {
		return fmt.Errorf("resend API error: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"template": templateName,
		"email_id": sent.Id,
	}).Debug("email sent")
	return nil
}
