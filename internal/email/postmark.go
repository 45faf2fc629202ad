// Package email delivers account links through the Postmark HTTP API.
package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/risto-app/risto/internal/model"
)

const postmarkEndpoint = "https://api.postmarkapp.com/email"

type Client struct {
	serverToken string
	fromEmail   string
	appURL      string
	endpoint    string
	httpClient  *http.Client
	logger      *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) {
		cl.logger = l
	}
}

func NewClient(serverToken, fromEmail, appURL string, opts ...Option) *Client {
	c := &Client{
		serverToken: serverToken,
		fromEmail:   fromEmail,
		appURL:      strings.TrimRight(appURL, "/"),
		endpoint:    postmarkEndpoint,
		httpClient:  http.DefaultClient,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "email")
	return c
}

// Configured returns true if the server token is set.
func (c *Client) Configured() bool {
	return c.serverToken != ""
}

type postmarkEmail struct {
	From     string `json:"From"`
	To       string `json:"To"`
	Subject  string `json:"Subject"`
	HtmlBody string `json:"HtmlBody"`
	TextBody string `json:"TextBody"`
}

type template struct {
	path    string
	subject string
	action  string
}

var templates = map[model.TokenType]template{
	model.TokenEmailVerification: {
		path:    "/verify/email-verification",
		subject: "Action required to verify your account",
		action:  "verify your email address",
	},
	model.TokenPasswordReset: {
		path:    "/verify/reset-password",
		subject: "Reset your password",
		action:  "reset your password",
	},
}

// Link builds the URL a recipient follows for token.
func (c *Client) Link(token string, kind model.TokenType) (string, error) {
	tmpl, ok := templates[kind]
	if !ok {
		return "", fmt.Errorf("no email template for %q", kind)
	}
	return c.appURL + tmpl.path + "?" + url.Values{"token": {token}}.Encode(), nil
}

// SendVerificationEmail mails the link for token. Without a server token the
// link is logged instead so local development still works.
func (c *Client) SendVerificationEmail(ctx context.Context, to, token string, kind model.TokenType) error {
	link, err := c.Link(token, kind)
	if err != nil {
		return err
	}
	tmpl := templates[kind]

	if !c.Configured() {
		c.logger.Info("email delivery not configured, logging link", "to", to, "kind", string(kind), "link", link)
		return nil
	}

	textBody := fmt.Sprintf("%s: %s\n\nThis link expires in 24 hours.", tmpl.subject, link)
	htmlBody := fmt.Sprintf(
		`<p>Click the link below to %s:</p><p><a href="%s">%s</a></p><p>This link expires in 24 hours.</p>`,
		tmpl.action, html.EscapeString(link), tmpl.action,
	)

	payload := postmarkEmail{
		From:     c.fromEmail,
		To:       to,
		Subject:  tmpl.subject,
		HtmlBody: htmlBody,
		TextBody: textBody,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Postmark-Server-Token", c.serverToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("postmark API error: status %d", resp.StatusCode)
	}

	c.logger.Debug("email sent", "to", to, "kind", string(kind))
	return nil
}
